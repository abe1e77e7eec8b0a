package storage

import (
	"database/sql"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/archive"
	"github.com/xtxerr/pyrometer/internal/storage/config"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
	"github.com/xtxerr/pyrometer/internal/storage/retention"
)

var log = logging.Component("storage")

// MetricRow is one pre-aggregated row for a flush cycle: dimension values
// in schema order plus the four fixed statistics.
type MetricRow struct {
	Dimensions []sql.NullString
	Sum        float64
	Avg        float64
	Min        float64
	Max        float64
}

// MetricBatch carries one metric's rows for one flush cycle. The schema is
// only consulted the first time the metric appears in a window.
type MetricBatch struct {
	Metric string
	Schema metricsdb.Schema
	Rows   []MetricRow
}

// Service owns the write side of the window store. Exactly one window is
// open for writing at a time; when a flush lands past the current window's
// end the window is committed, closed and published for readers, and a new
// one takes its place. A retention loop prunes expired window files
// independently of ingest and query activity.
//
// Service methods are safe for concurrent use, but the store expects a
// single logical writer: concurrent flushes serialize on an internal lock.
type Service struct {
	cfg       *config.Config
	collector *stats.Collector
	retention *retention.Manager
	archive   *archive.Service

	mu      sync.Mutex
	current *metricsdb.DB

	// latest is the newest committed-and-closed window start, 0 when no
	// window has been published yet.
	latest atomic.Int64

	running atomic.Bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// New creates the storage service. The configuration is validated here;
// nothing touches disk until the first flush.
func New(cfg *config.Config) (*Service, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	collector := stats.NewCollector()
	ret := retention.New(cfg, collector)

	s := &Service{
		cfg:       cfg,
		collector: collector,
		retention: ret,
		stop:      make(chan struct{}),
	}
	if cfg.Archive.Enabled {
		s.archive = archive.New(cfg, collector)
		ret.SetArchiver(s.archive)
	}
	return s, nil
}

// Start recovers the latest window from disk and launches the retention
// loop. The naming contract of window files makes recovery possible after
// a restart: every well-formed <prefix><timestamp> file is a window.
func (s *Service) Start() error {
	if !s.running.CompareAndSwap(false, true) {
		return fmt.Errorf("service already running")
	}

	if newest, ok := s.newestOnDisk(); ok {
		s.latest.Store(newest)
		log.Info("recovered windows from disk", "latest", newest)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.retention.Run(s.stop)
	}()

	log.Info("storage service started",
		"file_prefix", s.cfg.FilePrefix,
		"window_seconds", s.cfg.WindowSeconds)
	return nil
}

// Stop halts the retention loop and closes the write window. Rows staged
// since the last commit are discarded, matching crash semantics.
func (s *Service) Stop() error {
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}
	close(s.stop)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		if err := s.current.Close(); err != nil {
			log.Error("close window on shutdown", "error", err)
		}
		s.current = nil
	}
	log.Info("storage service stopped")
	return nil
}

// Flush persists one ingest cycle. The timestamp picks the owning window;
// crossing a window boundary rotates the store. A failure on one metric is
// logged and does not abort its siblings, but a commit failure is fatal for
// the whole window: the window is dropped unpublished and the error
// returned.
func (s *Service) Flush(timestampMs int64, batches []MetricBatch) error {
	if !s.running.Load() {
		return fmt.Errorf("service not running")
	}
	windowStart := s.cfg.WindowFor(timestampMs)

	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.windowFor(windowStart)
	if err != nil {
		return err
	}

	for _, batch := range batches {
		if err := s.writeBatch(db, batch); err != nil {
			log.Error("metric write failed",
				"window", windowStart,
				"metric", batch.Metric,
				"error", err)
		}
	}

	if err := db.Commit(); err != nil {
		// The window is inconsistent; drop it so readers never see it.
		db.Close()
		s.current = nil
		return err
	}
	return nil
}

// windowFor returns the write window owning windowStart, rotating the
// current one if the flush has moved past it. Caller holds s.mu.
func (s *Service) windowFor(windowStart int64) (*metricsdb.DB, error) {
	if s.current != nil && s.current.WindowStart() == windowStart {
		return s.current, nil
	}
	if s.current != nil {
		s.publishLocked()
	}

	db, err := metricsdb.Open(s.cfg, s.collector, windowStart)
	if err != nil {
		return nil, err
	}
	s.current = db
	return db, nil
}

// publishLocked closes the current window and makes it the latest readable
// one. Caller holds s.mu.
func (s *Service) publishLocked() {
	windowStart := s.current.WindowStart()
	if err := s.current.Close(); err != nil {
		log.Error("close window", "window", windowStart, "error", err)
	}
	s.current = nil
	s.latest.Store(windowStart)
	log.Debug("window published", "window", windowStart)
}

func (s *Service) writeBatch(db *metricsdb.DB, batch MetricBatch) error {
	if err := db.CreateMetric(batch.Metric, batch.Schema); err != nil {
		return err
	}
	if len(batch.Rows) == 0 {
		return nil
	}

	put, err := db.StartBatchPut(batch.Metric, len(batch.Schema.Dimensions))
	if err != nil {
		return err
	}
	for _, row := range batch.Rows {
		values := make([]any, 0, len(row.Dimensions)+4)
		for _, d := range row.Dimensions {
			values = append(values, d)
		}
		values = append(values, row.Sum, row.Avg, row.Min, row.Max)
		if err := put.Add(values...); err != nil {
			return err
		}
	}
	return put.Execute()
}

// Rotate force-publishes the current write window, if any. The ingest
// caller uses it at the end of a cycle instead of waiting for the next
// flush to cross the boundary.
func (s *Service) Rotate() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		s.publishLocked()
	}
}

// LatestWindow returns the newest committed window start, false when no
// window is readable yet.
func (s *Service) LatestWindow() (int64, bool) {
	w := s.latest.Load()
	return w, w != 0
}

// OpenLatest opens a read handle on the newest committed window. The
// caller owns the handle and must close it; handles must not be cached
// across evaluation ticks since old windows get pruned.
func (s *Service) OpenLatest() (*metricsdb.DB, error) {
	w, ok := s.LatestWindow()
	if !ok {
		return nil, errors.Wrap(errors.ErrWindowNotFound, "no committed window")
	}
	return metricsdb.OpenExisting(s.cfg, s.collector, w)
}

// OpenNewest opens a read handle on the newest window file on disk,
// regardless of whether this process wrote it. Used when another process
// produces the windows and this one only analyzes them.
func (s *Service) OpenNewest() (*metricsdb.DB, error) {
	if w, ok := s.LatestWindow(); ok {
		return metricsdb.OpenExisting(s.cfg, s.collector, w)
	}
	w, ok := s.newestOnDisk()
	if !ok {
		return nil, errors.Wrap(errors.ErrWindowNotFound, "no window on disk")
	}
	return metricsdb.OpenExisting(s.cfg, s.collector, w)
}

// OpenWindow opens a read handle on a specific committed window.
func (s *Service) OpenWindow(windowStart int64) (*metricsdb.DB, error) {
	return metricsdb.OpenExisting(s.cfg, s.collector, windowStart)
}

// ListWindows enumerates the window files on disk.
func (s *Service) ListWindows() map[int64]struct{} {
	return s.retention.ListWindows()
}

func (s *Service) newestOnDisk() (int64, bool) {
	var newest int64
	found := false
	for w := range s.retention.ListWindows() {
		if !found || w > newest {
			newest = w
			found = true
		}
	}
	return newest, found
}

// Stats returns the error-kind counters accumulated by every layer.
func (s *Service) Stats() map[string]int64 {
	return s.collector.Snapshot()
}

// Collector returns the shared statistics collector so other layers can
// report into the same sink.
func (s *Service) Collector() *stats.Collector {
	return s.collector
}

// Retention exposes the retention manager, mainly for manual pruning.
func (s *Service) Retention() *retention.Manager {
	return s.retention
}

// Config returns the service configuration.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// IsRunning reports whether Start has been called and Stop has not.
func (s *Service) IsRunning() bool {
	return s.running.Load()
}
