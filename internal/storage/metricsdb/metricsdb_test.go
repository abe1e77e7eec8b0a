package metricsdb

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FilePrefix = filepath.Join(t.TempDir(), "metricsdb_")
	return cfg
}

func ns(s string) sql.NullString {
	return sql.NullString{String: s, Valid: true}
}

func TestOpen_CreatesFile(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if db.WindowStart() != 1000 {
		t.Errorf("WindowStart = %d, want 1000", db.WindowStart())
	}
	if _, err := os.Stat(cfg.WindowPath(1000)); err != nil {
		t.Errorf("store file missing: %v", err)
	}
}

func TestOpenExisting_NotFound(t *testing.T) {
	cfg := testConfig(t)
	collector := stats.NewCollector()

	_, err := OpenExisting(cfg, collector, 42)
	if err == nil {
		t.Fatal("expected error for missing window file")
	}
	if !errors.IsNotFound(err) {
		t.Errorf("error %v is not a not-found error", err)
	}
	if collector.Count(errors.KindMetricsDBAccess) != 1 {
		t.Error("access error not reported to statistics sink")
	}
}

func TestCreateMetric_Idempotent(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	schema := NewSchema("shard", "index_name")
	if err := db.CreateMetric("cpu", schema); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	// Second creation is a no-op, not an error
	if err := db.CreateMetric("cpu", schema); err != nil {
		t.Fatalf("CreateMetric (again): %v", err)
	}

	if !db.MetricExists("cpu") {
		t.Error("cpu table should exist")
	}
	if db.MetricExists("rss") {
		t.Error("rss table should not exist")
	}

	// Schema unchanged: the original columns still accept a row
	if err := db.PutMetric("cpu", []sql.NullString{ns("1"), ns("sonested")}, 5, 2.5, 2, 3); err != nil {
		t.Fatalf("PutMetric after recreate: %v", err)
	}
}

func TestCreateMetric_InvalidName(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	tests := []string{`cpu"; DROP TABLE x; --`, "1cpu", "cpu-total", "", "cpu util"}
	for _, name := range tests {
		if err := db.CreateMetric(name, NewSchema("shard")); !errors.IsValidation(err) {
			t.Errorf("CreateMetric(%q) = %v, want validation error", name, err)
		}
	}
}

func TestBatchPut_RoundTrip(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.CreateMetric("cpu", NewSchema("shard", "index_name")); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}

	batch, err := db.StartBatchPut("cpu", 2)
	if err != nil {
		t.Fatalf("StartBatchPut: %v", err)
	}
	rows := [][]any{
		{ns("0"), ns("sonested"), 10.0, 5.0, 2.0, 8.0},
		{ns("1"), ns("sonested"), 20.0, 10.0, 4.0, 16.0},
		{sql.NullString{}, ns("nyc_taxis"), 30.0, 15.0, 10.0, 20.0},
	}
	for _, row := range rows {
		if err := batch.Add(row...); err != nil {
			t.Fatalf("Add: %v", err)
		}
	}
	if batch.Len() != 3 {
		t.Errorf("batch.Len = %d, want 3", batch.Len())
	}
	if err := batch.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// Reopen read-only and scan everything back
	reopened, err := OpenExisting(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer reopened.Close()

	got := scanAll(t, reopened, `SELECT "shard", "index_name", "sum", "avg", "min", "max" FROM "cpu"`)
	if len(got) != 3 {
		t.Fatalf("got %d rows, want 3", len(got))
	}

	// Order-independent compare keyed by shard
	byShard := make(map[string]scannedRow)
	for _, r := range got {
		key := "<null>"
		if r.shard.Valid {
			key = r.shard.String
		}
		byShard[key] = r
	}
	if r := byShard["0"]; r.sum != 10 || r.avg != 5 || r.min != 2 || r.max != 8 {
		t.Errorf("shard 0 row = %+v", r)
	}
	if r := byShard["1"]; r.sum != 20 {
		t.Errorf("shard 1 row = %+v", r)
	}
	r, ok := byShard["<null>"]
	if !ok {
		t.Fatal("unattributed row missing")
	}
	if r.index.String != "nyc_taxis" || r.sum != 30 {
		t.Errorf("unattributed row = %+v", r)
	}
}

type scannedRow struct {
	shard, index        sql.NullString
	sum, avg, min, max  float64
}

func scanAll(t *testing.T, db *DB, query string) []scannedRow {
	t.Helper()

	rows, err := db.Query(query)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()

	var out []scannedRow
	for rows.Next() {
		var r scannedRow
		if err := rows.Scan(&r.shard, &r.index, &r.sum, &r.avg, &r.min, &r.max); err != nil {
			t.Fatalf("Scan: %v", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		t.Fatalf("rows: %v", err)
	}
	return out
}

func TestStartBatchPut_InvalidArgs(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.CreateMetric("cpu", NewSchema("shard")); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}

	if _, err := db.StartBatchPut("cpu", 0); !errors.IsValidation(err) {
		t.Errorf("dimCount 0: err = %v, want validation error", err)
	}
	if _, err := db.StartBatchPut("cpu", -1); !errors.IsValidation(err) {
		t.Errorf("dimCount -1: err = %v, want validation error", err)
	}
	if _, err := db.StartBatchPut("rss", 1); !errors.IsValidation(err) {
		t.Errorf("missing table: err = %v, want validation error", err)
	}

	batch, err := db.StartBatchPut("cpu", 1)
	if err != nil {
		t.Fatalf("StartBatchPut: %v", err)
	}
	if err := batch.Add(ns("0"), 1.0); !errors.IsValidation(err) {
		t.Errorf("short row: err = %v, want validation error", err)
	}
}

func TestUncommittedWritesDiscardedOnClose(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg, nil, 2000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.CreateMetric("cpu", NewSchema("shard")); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	if err := db.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	// Stage a row but never commit it
	if err := db.PutMetric("cpu", []sql.NullString{ns("0")}, 1, 1, 1, 1); err != nil {
		t.Fatalf("PutMetric: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenExisting(cfg, nil, 2000)
	if err != nil {
		t.Fatalf("OpenExisting: %v", err)
	}
	defer reopened.Close()

	if !reopened.MetricExists("cpu") {
		t.Fatal("committed table should survive")
	}
	rows, err := reopened.Query(`SELECT count(*) FROM "cpu"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	var n int
	if !rows.Next() {
		t.Fatal("no count row")
	}
	if err := rows.Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 0 {
		t.Errorf("uncommitted row visible after reopen: count = %d", n)
	}
}

func TestStagedRowsVisibleToOwnHandle(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 3000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.CreateMetric("cpu", NewSchema("shard")); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	if err := db.PutMetric("cpu", []sql.NullString{ns("7")}, 4, 2, 1, 3); err != nil {
		t.Fatalf("PutMetric: %v", err)
	}

	rows, err := db.Query(`SELECT count(*) FROM "cpu"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	defer rows.Close()
	var n int
	if !rows.Next() {
		t.Fatal("no count row")
	}
	if err := rows.Scan(&n); err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if n != 1 {
		t.Errorf("staged row not visible to own handle: count = %d", n)
	}
}

func TestDeleteMetric(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := db.CreateMetric("cpu", NewSchema("shard")); err != nil {
		t.Fatalf("CreateMetric: %v", err)
	}
	if err := db.DeleteMetric("cpu"); err != nil {
		t.Fatalf("DeleteMetric: %v", err)
	}
	if db.MetricExists("cpu") {
		t.Error("cpu table should be gone")
	}
	// Dropping a missing table is a no-op
	if err := db.DeleteMetric("cpu"); err != nil {
		t.Fatalf("DeleteMetric (absent): %v", err)
	}
}

func TestClose_SingleUse(t *testing.T) {
	cfg := testConfig(t)
	db, err := Open(cfg, nil, 1000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := db.Close(); err == nil {
		t.Error("second Close should fail")
	}

	// Operations after close fail with the closed-window error
	if _, err := db.StartBatchPut("cpu", 1); !errors.IsAccess(err) {
		t.Errorf("err after close = %v, want access error", err)
	}
	if err := db.Commit(); !errors.IsAccess(err) {
		t.Errorf("commit after close = %v, want access error", err)
	}
}

func TestDeleteOnDiskFile(t *testing.T) {
	cfg := testConfig(t)

	db, err := Open(cfg, nil, 5000)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	db.DeleteOnDiskFile()
	if _, err := os.Stat(cfg.WindowPath(5000)); !os.IsNotExist(err) {
		t.Error("store file should be deleted")
	}

	// Deleting a missing file is swallowed, only counted
	collector := stats.NewCollector()
	DeleteOnDiskFile(cfg, collector, 5000)
	if collector.Count(errors.KindPruneError) != 1 {
		t.Error("prune failure not counted")
	}
}
