package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Graph.TickInterval.Duration() != DefaultGraphTickInterval {
		t.Errorf("TickInterval = %v", cfg.Graph.TickInterval.Duration())
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pyrometer.yaml")
	content := `
log_level: debug
storage:
  file_prefix: /data/metricsdb_
  window_seconds: 5
graph:
  tick_interval: 500ms
  nodes:
    - name: shard_heat
      metric: cpu_utilization
      aggregation: sum
      group_by: [shard]
      unattributed_dimension: shard
    - name: node_heat
      interval_sec: 10
      metric: cpu_utilization
      group_by: [node_role]
  edges:
    - from: shard_heat
      to: node_heat
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q", cfg.LogLevel)
	}
	if cfg.Storage.FilePrefix != "/data/metricsdb_" {
		t.Errorf("FilePrefix = %q", cfg.Storage.FilePrefix)
	}
	if cfg.Graph.TickInterval.Duration() != 500*time.Millisecond {
		t.Errorf("TickInterval = %v", cfg.Graph.TickInterval.Duration())
	}
	if len(cfg.Graph.Nodes) != 2 || len(cfg.Graph.Edges) != 1 {
		t.Fatalf("nodes/edges = %d/%d", len(cfg.Graph.Nodes), len(cfg.Graph.Edges))
	}
	if cfg.Graph.Nodes[0].UnattributedDimension != "shard" {
		t.Errorf("UnattributedDimension = %q", cfg.Graph.Nodes[0].UnattributedDimension)
	}
	// Unset storage fields keep their defaults.
	if cfg.Storage.Retention.MaxAge.Duration() != DefaultRetentionMaxAge {
		t.Errorf("MaxAge = %v", cfg.Storage.Retention.MaxAge.Duration())
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(c *Config) {}, false},
		{"bad log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"node without name", func(c *Config) {
			c.Graph.Nodes = []NodeConfig{{Metric: "cpu"}}
		}, true},
		{"node without metric", func(c *Config) {
			c.Graph.Nodes = []NodeConfig{{Name: "a"}}
		}, true},
		{"duplicate node", func(c *Config) {
			c.Graph.Nodes = []NodeConfig{
				{Name: "a", Metric: "cpu"},
				{Name: "a", Metric: "rss"},
			}
		}, true},
		{"edge to unknown node", func(c *Config) {
			c.Graph.Nodes = []NodeConfig{{Name: "a", Metric: "cpu"}}
			c.Graph.Edges = []EdgeConfig{{From: "a", To: "ghost"}}
		}, true},
		{"valid graph", func(c *Config) {
			c.Graph.Nodes = []NodeConfig{
				{Name: "a", Metric: "cpu"},
				{Name: "b", Metric: "cpu"},
			}
			c.Graph.Edges = []EdgeConfig{{From: "a", To: "b"}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if !os.IsNotExist(err) {
		t.Errorf("err = %v, want not-exist", err)
	}
}
