// Package metricsdb implements the on-disk store that holds one window of
// aggregated metrics. We create one table per metric. Every row contains the
// four fixed aggregations and any relevant dimensions.
//
// Eg: cpu table
//
//	index    | shard | role | sum | avg | min | max
//	sonested | 1     | NULL | 5   | 2.5 | 2   | 3
//
// rss table
//
//	index     | shard | role | sum | avg | min | max
//	nyc_taxis | 1     | NULL | 30  | 15  | 10  | 20
//
// Each window owns exactly one DuckDB file at a deterministic path derived
// from the configured prefix and the window start timestamp. The store is
// opened with writes staged in an explicit transaction: nothing becomes
// durable until Commit, and a crash before Commit loses only that window's
// staged rows.
package metricsdb

import (
	"context"
	"database/sql"
	"os"
	"sync"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/config"
)

var log = logging.Component("metricsdb")

// Fixed aggregate column names, in schema order.
const (
	Sum = "sum"
	Avg = "avg"
	Min = "min"
	Max = "max"
)

// AggColumns lists the four fixed aggregate columns in schema order.
// Every metric table ends with exactly these columns.
var AggColumns = []string{Sum, Avg, Min, Max}

// DB is a handle to one window's store file.
//
// A window has a single writer for its lifetime; concurrent readers are only
// safe against a committed window through their own OpenExisting handle.
// Close is a single-use terminal operation.
type DB struct {
	windowStart int64
	path        string
	cfg         *config.Config
	reporter    stats.Reporter

	mu     sync.Mutex
	db     *sql.DB
	tx     *sql.Tx
	closed bool
}

// Open creates the store file for a new window and returns a writable handle.
// The underlying resource failing to open surfaces as an access error after
// being counted in the statistics sink.
func Open(cfg *config.Config, reporter stats.Reporter, windowStart int64) (*DB, error) {
	return open(cfg, reporter, windowStart)
}

// OpenExisting attaches to a previously written window's file, typically for
// read-only querying. It never creates: a missing file is a hard not-found
// error surfaced to the caller.
func OpenExisting(cfg *config.Config, reporter stats.Reporter, windowStart int64) (*DB, error) {
	if reporter == nil {
		reporter = stats.Nop{}
	}
	path := cfg.WindowPath(windowStart)
	if _, err := os.Stat(path); err != nil {
		reporter.Record(errors.KindMetricsDBAccess)
		return nil, errors.Wrapf(errors.ErrWindowNotFound, "metricsdb file %s", path)
	}
	return open(cfg, reporter, windowStart)
}

func open(cfg *config.Config, reporter stats.Reporter, windowStart int64) (*DB, error) {
	if reporter == nil {
		reporter = stats.Nop{}
	}
	path := cfg.WindowPath(windowStart)

	db, err := sql.Open("duckdb", path)
	if err != nil {
		reporter.Record(errors.KindMetricsDBAccess)
		return nil, errors.Wrapf(errors.ErrAccess, "open %s: %v", path, err)
	}

	// One connection: the open transaction below must see every staged
	// write, and a window has a single writer anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		reporter.Record(errors.KindMetricsDBAccess)
		return nil, errors.Wrapf(errors.ErrAccess, "open %s: %v", path, err)
	}

	// Writes are staged until an explicit Commit.
	tx, err := db.Begin()
	if err != nil {
		db.Close()
		reporter.Record(errors.KindMetricsDBAccess)
		return nil, errors.Wrapf(errors.ErrAccess, "begin transaction on %s: %v", path, err)
	}

	return &DB{
		windowStart: windowStart,
		path:        path,
		cfg:         cfg,
		reporter:    reporter,
		db:          db,
		tx:          tx,
	}, nil
}

// WindowStart returns the window start timestamp this store belongs to.
func (d *DB) WindowStart() int64 {
	return d.windowStart
}

// Path returns the on-disk path of the store file.
func (d *DB) Path() string {
	return d.path
}

// Commit makes all staged writes durable atomically and starts a new staging
// transaction. A commit failure is fatal for the window: the window is
// inconsistent and should not be queried until recreated.
func (d *DB) Commit() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.tx == nil {
		return errors.Wrapf(errors.ErrWindowClosed, "commit window %d", d.windowStart)
	}

	if err := d.tx.Commit(); err != nil {
		d.tx = nil
		d.reporter.Record(errors.KindMetricsDBCommit)
		return errors.Wrapf(errors.ErrCommitFailed, "window %d: %v", d.windowStart, err)
	}

	tx, err := d.db.Begin()
	if err != nil {
		d.tx = nil
		d.reporter.Record(errors.KindMetricsDBAccess)
		return errors.Wrapf(errors.ErrAccess, "begin transaction on %s: %v", d.path, err)
	}
	d.tx = tx
	return nil
}

// Close releases the underlying resource. Staged, uncommitted writes are
// discarded. Close is not idempotent: a second call fails, callers treat it
// as a single-use terminal operation.
func (d *DB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.Wrapf(errors.ErrWindowClosed, "window %d already closed", d.windowStart)
	}
	d.closed = true

	if d.tx != nil {
		// Staged rows are discarded; the last committed state remains.
		_ = d.tx.Rollback()
		d.tx = nil
	}

	if err := d.db.Close(); err != nil {
		d.reporter.Record(errors.KindMetricsDBAccess)
		return errors.Wrapf(errors.ErrAccess, "close %s: %v", d.path, err)
	}
	return nil
}

// session returns the active transaction for statement execution.
func (d *DB) session() (*sql.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed || d.tx == nil {
		return nil, errors.Wrapf(errors.ErrWindowClosed, "window %d", d.windowStart)
	}
	return d.tx, nil
}

// Exec runs a statement through the staging transaction.
func (d *DB) Exec(query string, args ...any) (sql.Result, error) {
	tx, err := d.session()
	if err != nil {
		return nil, err
	}
	return tx.Exec(query, args...)
}

// Query runs a query through the staging transaction, so a window's own
// handle sees its staged rows. Readers holding a separate OpenExisting
// handle see only committed state.
func (d *DB) Query(query string, args ...any) (*sql.Rows, error) {
	return d.QueryContext(context.Background(), query, args...)
}

// QueryContext is Query with caller-controlled cancellation.
func (d *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	tx, err := d.session()
	if err != nil {
		return nil, err
	}
	return tx.QueryContext(ctx, query, args...)
}

// QueryRow runs a single-row query through the staging transaction.
func (d *DB) QueryRow(query string, args ...any) (*sql.Row, error) {
	tx, err := d.session()
	if err != nil {
		return nil, err
	}
	return tx.QueryRow(query, args...), nil
}

// DeleteOnDiskFile deletes the window's store file. Best effort: failures
// are logged and counted, never raised, since pruning must not abort the
// broader process. The handle must be closed first; deleting a window that
// is still being read is the caller's sequencing responsibility.
func (d *DB) DeleteOnDiskFile() {
	DeleteOnDiskFile(d.cfg, d.reporter, d.windowStart)
}

// DeleteOnDiskFile deletes the store file for the given window if present.
func DeleteOnDiskFile(cfg *config.Config, reporter stats.Reporter, windowStart int64) {
	if reporter == nil {
		reporter = stats.Nop{}
	}
	path := cfg.WindowPath(windowStart)
	if err := os.Remove(path); err != nil {
		log.Error("failed to delete window file",
			"path", path,
			"error", err)
		reporter.Record(errors.KindPruneError)
	}
}
