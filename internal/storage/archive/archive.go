// Package archive exports expired window stores to parquet files before the
// retention manager deletes them. The dynamic per-metric tables are
// flattened to a fixed row shape (metric name, JSON-encoded dimension
// payload, the four aggregates) so one schema covers every window.
package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/config"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
	"github.com/xtxerr/pyrometer/internal/storage/query"
)

var log = logging.Component("archive")

// WindowRow is one aggregated metric row in parquet form. Dimensions are a
// JSON object mapping dimension name to value; unattributed dimensions are
// JSON null so the no-value marker survives the export.
type WindowRow struct {
	WindowStart int64   `parquet:"window_start"`
	Metric      string  `parquet:"metric"`
	Dimensions  string  `parquet:"dimensions,optional"`
	Sum         float64 `parquet:"sum"`
	Avg         float64 `parquet:"avg"`
	Min         float64 `parquet:"min"`
	Max         float64 `parquet:"max"`
}

// Service archives window stores.
type Service struct {
	cfg      *config.Config
	reporter stats.Reporter
}

// New creates an archive service.
func New(cfg *config.Config, reporter stats.Reporter) *Service {
	if reporter == nil {
		reporter = stats.Nop{}
	}
	return &Service{cfg: cfg, reporter: reporter}
}

// Path returns the archive file path for a window.
func (s *Service) Path(windowStart int64) string {
	return filepath.Join(s.cfg.Archive.Dir, fmt.Sprintf("window_%d.parquet", windowStart))
}

// ArchiveWindow flattens every metric table of the window into one parquet
// file. The window file itself is untouched; the retention manager deletes
// it afterwards.
func (s *Service) ArchiveWindow(windowStart int64) error {
	db, err := metricsdb.OpenExisting(s.cfg, s.reporter, windowStart)
	if err != nil {
		return err
	}
	defer db.Close()

	metrics, err := db.ListMetrics()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.cfg.Archive.Dir, 0755); err != nil {
		s.reporter.Record(errors.KindArchiveError)
		return errors.Wrapf(errors.ErrAccess, "create archive dir: %v", err)
	}

	path := s.Path(windowStart)
	f, err := os.Create(path)
	if err != nil {
		s.reporter.Record(errors.KindArchiveError)
		return errors.Wrapf(errors.ErrAccess, "create %s: %v", path, err)
	}

	writer := parquet.NewGenericWriter[WindowRow](f,
		parquet.Compression(codec(s.cfg.Archive.Compression)))

	engine := query.New(db, s.reporter)
	total := 0
	for _, metric := range metrics {
		rows, err := s.metricRows(engine, windowStart, metric)
		if err != nil {
			f.Close()
			os.Remove(path)
			return err
		}
		if len(rows) == 0 {
			continue
		}
		if _, err := writer.Write(rows); err != nil {
			f.Close()
			os.Remove(path)
			s.reporter.Record(errors.KindArchiveError)
			return errors.Wrapf(errors.ErrAccess, "write archive rows: %v", err)
		}
		total += len(rows)
	}

	if err := writer.Close(); err != nil {
		f.Close()
		os.Remove(path)
		s.reporter.Record(errors.KindArchiveError)
		return errors.Wrapf(errors.ErrAccess, "close archive writer: %v", err)
	}
	if err := f.Close(); err != nil {
		s.reporter.Record(errors.KindArchiveError)
		return errors.Wrapf(errors.ErrAccess, "close %s: %v", path, err)
	}

	log.Info("window archived",
		"window", windowStart,
		"metrics", len(metrics),
		"rows", total,
		"path", path)
	return nil
}

func (s *Service) metricRows(engine *query.Engine, windowStart int64, metric string) ([]WindowRow, error) {
	res, err := engine.QueryMetricAll(context.Background(), metric)
	if err != nil {
		return nil, err
	}
	if res.Missing() {
		return nil, nil
	}

	rows := make([]WindowRow, 0, res.Len())
	for _, row := range res.Rows {
		dims := make(map[string]*string, len(row.Dimensions))
		for name, value := range row.Dimensions {
			if value.Valid {
				v := value.String
				dims[name] = &v
			} else {
				dims[name] = nil
			}
		}
		payload, err := json.Marshal(dims)
		if err != nil {
			return nil, errors.Wrapf(errors.ErrAccess, "encode dimensions: %v", err)
		}

		rows = append(rows, WindowRow{
			WindowStart: windowStart,
			Metric:      metric,
			Dimensions:  string(payload),
			Sum:         row.Value(metricsdb.Sum).Float64,
			Avg:         row.Value(metricsdb.Avg).Float64,
			Min:         row.Value(metricsdb.Min).Float64,
			Max:         row.Value(metricsdb.Max).Float64,
		})
	}
	return rows, nil
}

// codec maps a compression name to the parquet-go codec.
func codec(name string) compress.Codec {
	switch name {
	case "snappy":
		return &parquet.Snappy
	case "zstd":
		return &parquet.Zstd
	case "lz4":
		return &parquet.Lz4Raw
	case "gzip":
		return &parquet.Gzip
	default:
		return &parquet.Uncompressed
	}
}
