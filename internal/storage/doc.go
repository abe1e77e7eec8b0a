// Package storage ties the window store layers together.
//
// Architecture:
//
//	┌─────────────┐     ┌─────────────┐     ┌─────────────┐
//	│   Flush     │────▶│  MetricsDB  │────▶│   Query     │
//	│  (writer)   │     │ (per window)│     │   Engine    │
//	└─────────────┘     └─────────────┘     └─────────────┘
//	                           │
//	                           ▼
//	                    ┌─────────────┐     ┌─────────────┐
//	                    │  Retention  │────▶│   Parquet   │
//	                    │   Manager   │     │   Archive   │
//	                    └─────────────┘     └─────────────┘
//
// One DuckDB file holds one time window; each metric gets its own table of
// dimension columns plus the four fixed aggregate columns. The Service owns
// the single write window, rotates it as time advances, publishes the last
// committed window for readers, and prunes expired window files on a timer,
// optionally archiving them to parquet first.
package storage
