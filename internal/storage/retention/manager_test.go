package retention

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.FilePrefix = filepath.Join(t.TempDir(), "metricsdb_")
	return cfg
}

func touch(t *testing.T, path string) {
	t.Helper()
	if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestListWindows(t *testing.T) {
	cfg := testConfig(t)
	dir := cfg.WindowDir()

	touch(t, filepath.Join(dir, "metricsdb_123"))
	touch(t, filepath.Join(dir, "metricsdb_456789"))
	touch(t, filepath.Join(dir, "metricsdb_ABC"))     // malformed suffix
	touch(t, filepath.Join(dir, "metricsdb_12.bak"))  // malformed suffix
	touch(t, filepath.Join(dir, "unrelated.txt"))     // no prefix match
	if err := os.Mkdir(filepath.Join(dir, "metricsdb_999"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	m := New(cfg, nil)
	windows := m.ListWindows()

	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2: %v", len(windows), windows)
	}
	if _, ok := windows[123]; !ok {
		t.Error("window 123 missing")
	}
	if _, ok := windows[456789]; !ok {
		t.Error("window 456789 missing")
	}
	if m.Stats().Malformed != 2 {
		t.Errorf("malformed count = %d, want 2", m.Stats().Malformed)
	}
}

func TestListWindows_MissingDir(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.FilePrefix = filepath.Join(t.TempDir(), "gone", "metricsdb_")
	collector := stats.NewCollector()

	m := New(cfg, collector)
	windows := m.ListWindows()

	if len(windows) != 0 {
		t.Errorf("got %d windows, want 0", len(windows))
	}
	if collector.Total() == 0 {
		t.Error("directory access failure not counted")
	}
}

func TestDeleteWindow_BestEffort(t *testing.T) {
	cfg := testConfig(t)
	collector := stats.NewCollector()
	m := New(cfg, collector)

	touch(t, cfg.WindowPath(100))
	m.DeleteWindow(100)
	if _, err := os.Stat(cfg.WindowPath(100)); !os.IsNotExist(err) {
		t.Error("window file should be removed")
	}

	// Deleting an absent window is swallowed and counted, never raised
	m.DeleteWindow(100)
	if collector.Total() == 0 {
		t.Error("delete failure not counted")
	}
}

func TestPrune_ByAge(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.MaxAge = config.Duration(time.Minute)

	now := time.Now()
	old := now.Add(-5 * time.Minute).UnixMilli()
	fresh := now.Add(-5 * time.Second).UnixMilli()

	touch(t, cfg.WindowPath(old))
	touch(t, cfg.WindowPath(fresh))

	m := New(cfg, nil)
	result := m.Prune(now)

	if len(result.Deleted) != 1 || result.Deleted[0] != old {
		t.Errorf("deleted = %v, want [%d]", result.Deleted, old)
	}
	if result.Kept != 1 {
		t.Errorf("kept = %d, want 1", result.Kept)
	}
	if _, err := os.Stat(cfg.WindowPath(fresh)); err != nil {
		t.Error("fresh window should survive")
	}
}

func TestPrune_ByCount(t *testing.T) {
	cfg := testConfig(t)
	cfg.Retention.MaxAge = 0 // age rule off
	cfg.Retention.MaxWindows = 2

	now := time.Now()
	for i := int64(1); i <= 4; i++ {
		touch(t, cfg.WindowPath(i*1000))
	}

	m := New(cfg, nil)
	result := m.Prune(now)

	if len(result.Deleted) != 2 {
		t.Fatalf("deleted = %v, want the 2 oldest", result.Deleted)
	}
	// Oldest go first
	if result.Deleted[0] != 1000 || result.Deleted[1] != 2000 {
		t.Errorf("deleted = %v, want [1000 2000]", result.Deleted)
	}
	for _, w := range []int64{3000, 4000} {
		if _, err := os.Stat(cfg.WindowPath(w)); err != nil {
			t.Errorf("window %d should survive", w)
		}
	}
}

type fakeArchiver struct {
	archived []int64
	err      error
}

func (f *fakeArchiver) ArchiveWindow(windowStart int64) error {
	f.archived = append(f.archived, windowStart)
	return f.err
}

func TestDeleteWindow_ArchivesFirst(t *testing.T) {
	cfg := testConfig(t)
	m := New(cfg, nil)

	arch := &fakeArchiver{}
	m.SetArchiver(arch)

	touch(t, cfg.WindowPath(100))
	m.DeleteWindow(100)

	if len(arch.archived) != 1 || arch.archived[0] != 100 {
		t.Errorf("archived = %v, want [100]", arch.archived)
	}
	if _, err := os.Stat(cfg.WindowPath(100)); !os.IsNotExist(err) {
		t.Error("window file should be removed after archiving")
	}
}

func TestDeleteWindow_ArchiveFailureStillDeletes(t *testing.T) {
	cfg := testConfig(t)
	collector := stats.NewCollector()
	m := New(cfg, collector)

	m.SetArchiver(&fakeArchiver{err: os.ErrPermission})

	touch(t, cfg.WindowPath(200))
	m.DeleteWindow(200)

	if _, err := os.Stat(cfg.WindowPath(200)); !os.IsNotExist(err) {
		t.Error("deletion must proceed despite archive failure")
	}
	if collector.Total() == 0 {
		t.Error("archive failure not counted")
	}
}
