// Package retention enumerates and prunes on-disk window stores.
//
// Windows are independent units of consistency; pruning one never touches
// another, and pruning failures are logged and counted but never surfaced,
// since the live system must not depend on successful cleanup of old
// windows.
package retention

import (
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/stats"
	"github.com/xtxerr/pyrometer/internal/storage/config"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
)

var log = logging.Component("retention")

// Archiver exports a window's contents before its file is deleted.
// Archive failures never block deletion.
type Archiver interface {
	ArchiveWindow(windowStart int64) error
}

// Manager handles enumeration and cleanup of window store files.
type Manager struct {
	mu       sync.Mutex
	cfg      *config.Config
	reporter stats.Reporter
	archiver Archiver

	stats Stats
}

// Stats holds retention statistics.
type Stats struct {
	LastRunTime    time.Time
	WindowsDeleted int64
	WindowsKept    int64
	Malformed      int64
}

// PruneResult holds the result of one pruning pass.
type PruneResult struct {
	Deleted []int64
	Kept    int
}

// New creates a retention manager.
func New(cfg *config.Config, reporter stats.Reporter) *Manager {
	if reporter == nil {
		reporter = stats.Nop{}
	}
	return &Manager{cfg: cfg, reporter: reporter}
}

// SetArchiver installs an archiver consulted before every deletion.
func (m *Manager) SetArchiver(a Archiver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.archiver = a
}

// ListWindows scans the storage directory and returns the start timestamps
// of every well-formed window file. Files matching the prefix whose suffix
// is not a decimal timestamp are logged and skipped; unrelated files are
// ignored. Listing is best-effort: an unreadable directory yields an empty
// set after being counted.
func (m *Manager) ListWindows() map[int64]struct{} {
	found := make(map[int64]struct{})

	dir := m.cfg.WindowDir()
	base := m.cfg.WindowBase()

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Error("failed to access metricsdb directory",
			"dir", dir,
			"error", err)
		m.reporter.Record(errors.KindMetricsDBAccess)
		return found
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, base) {
			continue
		}
		suffix := name[len(base):]
		windowStart, err := parseWindowSuffix(suffix)
		if err != nil {
			log.Error("unexpected file in metricsdb directory", "file", name)
			m.mu.Lock()
			m.stats.Malformed++
			m.mu.Unlock()
			continue
		}
		found[windowStart] = struct{}{}
	}

	return found
}

// parseWindowSuffix parses the timestamp portion of a window file name.
// The whole suffix must be decimal digits: "123" is a window, "123.bak" and
// "ABC" are not.
func parseWindowSuffix(suffix string) (int64, error) {
	if suffix == "" {
		return 0, errors.Wrap(errors.ErrInvalidArgument, "empty window suffix")
	}
	for _, r := range suffix {
		if r < '0' || r > '9' {
			return 0, errors.Wrapf(errors.ErrInvalidArgument, "window suffix %q", suffix)
		}
	}
	return strconv.ParseInt(suffix, 10, 64)
}

// DeleteWindow removes a window's store file, archiving it first when an
// archiver is installed. Best effort: all failures are logged and counted,
// never returned, so pruning cannot abort the broader process. The caller
// is responsible for closing any open handle first.
func (m *Manager) DeleteWindow(windowStart int64) {
	m.mu.Lock()
	archiver := m.archiver
	m.mu.Unlock()

	if archiver != nil {
		if err := archiver.ArchiveWindow(windowStart); err != nil {
			log.Error("window archive failed, deleting anyway",
				"window", windowStart,
				"error", err)
			m.reporter.Record(errors.KindArchiveError)
		}
	}

	metricsdb.DeleteOnDiskFile(m.cfg, m.reporter, windowStart)

	m.mu.Lock()
	m.stats.WindowsDeleted++
	m.mu.Unlock()

	log.Debug("window pruned", "window", windowStart)
}

// Prune deletes every window older than the configured maximum age, then
// enforces the window-count cap oldest-first. Returns what was deleted and
// what remains.
func (m *Manager) Prune(now time.Time) PruneResult {
	m.mu.Lock()
	m.stats.LastRunTime = now
	maxAge := m.cfg.Retention.MaxAge.Duration()
	maxWindows := m.cfg.Retention.MaxWindows
	m.mu.Unlock()

	windows := m.ListWindows()

	sorted := make([]int64, 0, len(windows))
	for w := range windows {
		sorted = append(sorted, w)
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var result PruneResult
	cutoff := now.Add(-maxAge).UnixMilli()

	keep := sorted[:0]
	for _, w := range sorted {
		if maxAge > 0 && w < cutoff {
			m.DeleteWindow(w)
			result.Deleted = append(result.Deleted, w)
			continue
		}
		keep = append(keep, w)
	}

	// Count cap, oldest first
	if maxWindows > 0 && len(keep) > maxWindows {
		excess := len(keep) - maxWindows
		for _, w := range keep[:excess] {
			m.DeleteWindow(w)
			result.Deleted = append(result.Deleted, w)
		}
		keep = keep[excess:]
	}

	result.Kept = len(keep)

	m.mu.Lock()
	m.stats.WindowsKept = int64(result.Kept)
	m.mu.Unlock()

	if len(result.Deleted) > 0 {
		log.Info("pruning pass complete",
			"deleted", len(result.Deleted),
			"kept", result.Kept)
	}
	return result
}

// Run executes pruning passes at the configured interval until the stop
// channel closes. Deletion and listing are safe to run concurrently with
// reads and writes to other windows.
func (m *Manager) Run(stop <-chan struct{}) {
	interval := m.cfg.Retention.Interval.Duration()
	if interval <= 0 {
		interval = time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Prune(time.Now())
		case <-stop:
			return
		}
	}
}

// Stats returns current statistics.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
