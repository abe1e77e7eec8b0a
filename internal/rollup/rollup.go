// Package rollup buckets raw metric samples into the aggregated row shape
// the window store persists: one row per (metric, dimension tuple) per
// window, carrying sum, avg, min and max. The store never sees raw samples;
// this is the boundary where they disappear.
package rollup

import (
	"database/sql"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/storage"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
)

// Accumulator rolls samples up for a single window. It is safe for
// concurrent use; one accumulator lives for one window and is drained with
// Batches when the window closes.
type Accumulator struct {
	mu          sync.Mutex
	windowStart int64
	schemas     map[string]metricsdb.Schema
	rows        map[string]map[string]*running // metric -> tuple key -> row
	samples     int64
}

type running struct {
	dims  []sql.NullString
	count int64
	sum   float64
	min   float64
	max   float64
}

// New creates an accumulator for the window starting at windowStart.
func New(windowStart int64) *Accumulator {
	return &Accumulator{
		windowStart: windowStart,
		schemas:     make(map[string]metricsdb.Schema),
		rows:        make(map[string]map[string]*running),
	}
}

// WindowStart returns the window this accumulator rolls up into.
func (a *Accumulator) WindowStart() int64 {
	return a.windowStart
}

// DeclareMetric registers a metric's dimension schema. The schema is fixed
// for the accumulator's lifetime; redeclaring is a no-op.
func (a *Accumulator) DeclareMetric(metric string, schema metricsdb.Schema) error {
	if err := metricsdb.ValidIdent(metric); err != nil {
		return err
	}
	if len(schema.Dimensions) < 1 {
		return errors.Wrapf(errors.ErrInvalidDimension, "metric %s: no dimensions", metric)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.schemas[metric]; !ok {
		a.schemas[metric] = schema
		a.rows[metric] = make(map[string]*running)
	}
	return nil
}

// Add folds one sample into the metric's row for the given dimension tuple.
// The metric must have been declared first.
func (a *Accumulator) Add(metric string, dims []sql.NullString, value float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	schema, ok := a.schemas[metric]
	if !ok {
		return errors.Wrapf(errors.ErrTableNotFound, "metric %s not declared", metric)
	}
	if len(dims) != len(schema.Dimensions) {
		return errors.Wrapf(errors.ErrInvalidDimension,
			"metric %s: %d dimension values for %d columns",
			metric, len(dims), len(schema.Dimensions))
	}

	key := tupleKey(dims)
	row, ok := a.rows[metric][key]
	if !ok {
		row = &running{
			dims: append([]sql.NullString(nil), dims...),
			min:  math.MaxFloat64,
			max:  -math.MaxFloat64,
		}
		a.rows[metric][key] = row
	}
	row.count++
	row.sum += value
	if value < row.min {
		row.min = value
	}
	if value > row.max {
		row.max = value
	}
	a.samples++
	return nil
}

// Batches drains the accumulator into flush-ready batches, one per metric
// in name order. The accumulator is empty afterwards and can keep rolling
// up into the same window.
func (a *Accumulator) Batches() []storage.MetricBatch {
	a.mu.Lock()
	defer a.mu.Unlock()

	metrics := make([]string, 0, len(a.rows))
	for metric := range a.rows {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)

	batches := make([]storage.MetricBatch, 0, len(metrics))
	for _, metric := range metrics {
		rows := a.rows[metric]
		if len(rows) == 0 {
			continue
		}
		batch := storage.MetricBatch{
			Metric: metric,
			Schema: a.schemas[metric],
			Rows:   make([]storage.MetricRow, 0, len(rows)),
		}
		for _, row := range rows {
			batch.Rows = append(batch.Rows, storage.MetricRow{
				Dimensions: row.dims,
				Sum:        row.sum,
				Avg:        row.sum / float64(row.count),
				Min:        row.min,
				Max:        row.max,
			})
		}
		batches = append(batches, batch)
		a.rows[metric] = make(map[string]*running)
	}
	return batches
}

// Samples returns how many samples have been folded in so far.
func (a *Accumulator) Samples() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samples
}

// tupleKey encodes a dimension tuple, keeping the no-value marker distinct
// from any real value.
func tupleKey(dims []sql.NullString) string {
	var b strings.Builder
	for _, d := range dims {
		if d.Valid {
			b.WriteByte('v')
			b.WriteString(d.String)
		} else {
			b.WriteByte('n')
		}
		b.WriteByte(0)
	}
	return b.String()
}
