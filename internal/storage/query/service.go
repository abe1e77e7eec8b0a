// Package query implements the aggregation query engine over one window
// store. It builds per-metric aggregated sub-views and merges metrics with
// different dimension support into a single dimension-keyed result.
//
// getAggregatedSubselects produces relations like:
//
//	shard | index_name | cpu          shard | index_name | rss
//	0     | sonested   | 10           0     | sonested   | 54
//	1     | sonested   | 20           2     | sonested   | 47
//
// Each relation is padded with NULL columns for the other metrics and the
// relations are unioned:
//
//	shard | index_name | cpu  | rss
//	0     | sonested   | 10   | NULL
//	1     | sonested   | 20   | NULL
//	0     | sonested   | NULL | 54
//	2     | sonested   | NULL | 47
//
// A final group-by over the dimensions takes the non-null maximum of every
// metric column, collapsing tuples that appear in several relations:
//
//	shard | index_name | cpu  | rss
//	0     | sonested   | 10   | 54
//	1     | sonested   | 20   | NULL
//	2     | sonested   | NULL | 47
package query

import (
	"context"
	"database/sql"
	"strings"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
)

var log = logging.Component("query")

// Engine answers aggregation queries against one window store. It holds the
// window handle only by reference; the caller controls the handle's
// lifecycle and must keep it open for the duration of a call.
type Engine struct {
	db       *metricsdb.DB
	reporter stats.Reporter
}

// New creates an Engine over an open window store.
func New(db *metricsdb.DB, reporter stats.Reporter) *Engine {
	if reporter == nil {
		reporter = stats.Nop{}
	}
	return &Engine{db: db, reporter: reporter}
}

// WindowStart returns the start timestamp of the window under query.
func (e *Engine) WindowStart() int64 {
	return e.db.WindowStart()
}

// QueryMetrics merges N metrics into one result keyed by the shared
// dimensions, one value column per metric. Metrics whose table does not
// exist in this window contribute NULL columns; if no requested metric has a
// table the absent result (nil) is returned.
//
// Aggregation tokens are validated before any storage is touched.
func (e *Engine) QueryMetrics(ctx context.Context, metrics, aggregations, dimensions []string) (*Result, error) {
	if len(metrics) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidArgument, "no metrics requested")
	}
	if len(metrics) != len(aggregations) {
		return nil, errors.Wrapf(errors.ErrInvalidArgument,
			"%d metrics but %d aggregations", len(metrics), len(aggregations))
	}
	aggs, err := ParseAggregations(aggregations)
	if err != nil {
		return nil, err
	}
	if err := validateIdents(metrics, dimensions); err != nil {
		return nil, err
	}

	// Per-metric aggregated sub-views. A missing table is an explicit
	// missing marker, not an empty view.
	subs := make([]string, len(metrics))
	present := 0
	for i, metric := range metrics {
		if !e.db.MetricExists(metric) {
			log.Info("metric table does not exist, returning null for the metric",
				"window", e.db.WindowStart(),
				"metric", metric)
			continue
		}
		subs[i] = aggregatedSubselect(metric, aggs[i], dimensions)
		present++
	}
	if present == 0 {
		return nil, nil
	}

	// Pad each sub-view with NULL columns for every other metric and union.
	var union strings.Builder
	first := true
	for i := range metrics {
		if subs[i] == "" {
			continue
		}
		if !first {
			union.WriteString(" UNION ")
		}
		first = false
		union.WriteString(paddedProjection(metrics, i, dimensions, subs[i]))
	}

	// Collapse duplicate tuples: non-null maximum per metric column.
	var b strings.Builder
	b.WriteString("SELECT ")
	for _, dim := range dimensions {
		b.WriteString(metricsdb.QuoteIdent(dim))
		b.WriteString(", ")
	}
	for i, metric := range metrics {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("MAX(")
		b.WriteString(metricsdb.QuoteIdent(metric))
		b.WriteString(") AS ")
		b.WriteString(metricsdb.QuoteIdent(metric))
	}
	b.WriteString(" FROM (")
	b.WriteString(union.String())
	b.WriteString(")")
	writeGroupBy(&b, dimensions)

	return e.fetch(ctx, b.String(), dimensions, metrics)
}

// QueryMetricAll scans everything stored for one metric, dimensions and all
// four aggregate columns, with no grouping. A missing table yields the
// absent result.
func (e *Engine) QueryMetricAll(ctx context.Context, metric string) (*Result, error) {
	if err := metricsdb.ValidIdent(metric); err != nil {
		return nil, err
	}
	if !e.db.MetricExists(metric) {
		return nil, nil
	}

	rows, err := e.db.QueryContext(ctx, "SELECT * FROM "+metricsdb.QuoteIdent(metric))
	if err != nil {
		e.reporter.Record(errors.KindQueryError)
		return nil, errors.Wrapf(errors.ErrAccess, "scan %s: %v", metric, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		e.reporter.Record(errors.KindQueryError)
		return nil, errors.Wrapf(errors.ErrAccess, "scan %s: %v", metric, err)
	}
	// Table column order is dimensions then the four aggregates.
	split := len(cols) - len(metricsdb.AggColumns)
	return e.scan(rows, cols[:split], cols[split:])
}

// QueryMetric returns up to limit raw rows for one metric: the requested
// dimensions plus all four aggregate columns. A negative limit is an
// invalid-argument error; a missing table yields the absent result.
func (e *Engine) QueryMetric(ctx context.Context, metric string, dimensions []string, limit int) (*Result, error) {
	if limit < 0 {
		return nil, errors.Wrapf(errors.ErrInvalidLimit, "limit %d", limit)
	}
	if err := validateIdents([]string{metric}, dimensions); err != nil {
		return nil, err
	}
	if !e.db.MetricExists(metric) {
		return nil, nil
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for _, dim := range dimensions {
		b.WriteString(metricsdb.QuoteIdent(dim))
		b.WriteString(", ")
	}
	for i, agg := range metricsdb.AggColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(metricsdb.QuoteIdent(agg))
	}
	b.WriteString(" FROM ")
	b.WriteString(metricsdb.QuoteIdent(metric))
	b.WriteString(" LIMIT ?")

	return e.fetchArgs(ctx, b.String(), dimensions, metricsdb.AggColumns, limit)
}

// =============================================================================
// SQL construction
// =============================================================================

// aggregatedSubselect groups a metric's rows by the requested dimensions and
// applies the aggregation function over the matching fixed column, aliased
// to the metric name.
func aggregatedSubselect(metric string, agg Aggregation, dimensions []string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for _, dim := range dimensions {
		b.WriteString(metricsdb.QuoteIdent(dim))
		b.WriteString(", ")
	}
	b.WriteString(agg.Func())
	b.WriteString("(")
	b.WriteString(metricsdb.QuoteIdent(agg.Column()))
	b.WriteString(") AS ")
	b.WriteString(metricsdb.QuoteIdent(metric))
	b.WriteString(" FROM ")
	b.WriteString(metricsdb.QuoteIdent(metric))
	writeGroupBy(&b, dimensions)
	return b.String()
}

// paddedProjection selects the dimensions plus every metric column from one
// sub-view, padding the columns of the other metrics with typed NULLs so all
// projections union over the same column set.
func paddedProjection(metrics []string, idx int, dimensions []string, sub string) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	for _, dim := range dimensions {
		b.WriteString(metricsdb.QuoteIdent(dim))
		b.WriteString(", ")
	}
	for j, metric := range metrics {
		if j > 0 {
			b.WriteString(", ")
		}
		if j == idx {
			b.WriteString(metricsdb.QuoteIdent(metric))
		} else {
			b.WriteString("CAST(NULL AS DOUBLE) AS ")
			b.WriteString(metricsdb.QuoteIdent(metric))
		}
	}
	b.WriteString(" FROM (")
	b.WriteString(sub)
	b.WriteString(")")
	return b.String()
}

func writeGroupBy(b *strings.Builder, dimensions []string) {
	if len(dimensions) == 0 {
		return
	}
	b.WriteString(" GROUP BY ")
	for i, dim := range dimensions {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(metricsdb.QuoteIdent(dim))
	}
}

func validateIdents(metrics, dimensions []string) error {
	for _, metric := range metrics {
		if err := metricsdb.ValidIdent(metric); err != nil {
			return err
		}
	}
	for _, dim := range dimensions {
		if err := metricsdb.ValidIdent(dim); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// Row scanning
// =============================================================================

func (e *Engine) fetch(ctx context.Context, sqlText string, dimensions, metrics []string) (*Result, error) {
	return e.fetchArgs(ctx, sqlText, dimensions, metrics)
}

func (e *Engine) fetchArgs(ctx context.Context, sqlText string, dimensions, metrics []string, args ...any) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		e.reporter.Record(errors.KindQueryError)
		return nil, errors.Wrapf(errors.ErrAccess, "query window %d: %v", e.db.WindowStart(), err)
	}
	defer rows.Close()

	return e.scan(rows, dimensions, metrics)
}

func (e *Engine) scan(rows *sql.Rows, dimensions, metrics []string) (*Result, error) {
	result := &Result{
		Dimensions: append([]string(nil), dimensions...),
		Metrics:    append([]string(nil), metrics...),
		Rows:       []Row{},
	}

	dimVals := make([]sql.NullString, len(dimensions))
	metricVals := make([]sql.NullFloat64, len(metrics))
	dest := make([]any, 0, len(dimensions)+len(metrics))
	for i := range dimVals {
		dest = append(dest, &dimVals[i])
	}
	for i := range metricVals {
		dest = append(dest, &metricVals[i])
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			e.reporter.Record(errors.KindQueryError)
			return nil, errors.Wrapf(errors.ErrAccess, "scan row: %v", err)
		}

		row := Row{
			Dimensions: make(map[string]sql.NullString, len(dimensions)),
			Values:     make(map[string]sql.NullFloat64, len(metrics)),
		}
		for i, dim := range dimensions {
			row.Dimensions[dim] = dimVals[i]
		}
		for i, metric := range metrics {
			row.Values[metric] = metricVals[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		e.reporter.Record(errors.KindQueryError)
		return nil, errors.Wrapf(errors.ErrAccess, "scan rows: %v", err)
	}

	return result, nil
}
