// Package config provides configuration defaults and utilities
// for the pyrometer application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Window Store Defaults
// =============================================================================

const (
	// DefaultFilePrefix is the default path prefix for window store files.
	// A window with start timestamp T lives at <prefix><T>.
	// Override via config: file_prefix
	DefaultFilePrefix = "/tmp/metricsdb_"

	// DefaultWindowSeconds is the width of one metrics window. Raw samples
	// are rolled up into one row per metric per dimension tuple per window.
	// Override via config: window_seconds
	DefaultWindowSeconds = 5
)

// =============================================================================
// Retention Defaults
// =============================================================================

const (
	// DefaultRetentionMaxAge is how long window files are kept on disk.
	// Windows are independent units of consistency, so pruning one never
	// affects queries against another.
	// Override via config: retention.max_age
	DefaultRetentionMaxAge = time.Hour

	// DefaultRetentionInterval is how often the pruning pass runs.
	// Override via config: retention.interval
	DefaultRetentionInterval = time.Minute
)

// =============================================================================
// Analysis Graph Defaults
// =============================================================================

const (
	// DefaultGraphTickInterval is the scheduler tick that drives node
	// evaluation. Each node declares its own evaluation interval; the tick
	// only bounds how promptly a due node is noticed.
	// Override via config: graph.tick_interval
	DefaultGraphTickInterval = time.Second

	// DefaultNodeIntervalSec is the evaluation interval assigned to nodes
	// that do not declare one.
	DefaultNodeIntervalSec = 5

	// DefaultEvalTimeout bounds a single node evaluation. An evaluation
	// that exceeds this is abandoned and the node returns to idle.
	DefaultEvalTimeout = 30 * time.Second
)
