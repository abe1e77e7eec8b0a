package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	storagecfg "github.com/xtxerr/pyrometer/internal/storage/config"
)

// Config is the daemon configuration: the storage layer plus the analysis
// graph declaration.
type Config struct {
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogJSON switches log output to JSON.
	LogJSON bool `yaml:"log_json"`

	// Storage configures the window store, retention and archival.
	Storage storagecfg.Config `yaml:"storage"`

	// Graph declares the analysis nodes and their dependency edges.
	Graph GraphConfig `yaml:"graph"`
}

// GraphConfig declares an analysis graph.
type GraphConfig struct {
	// TickInterval is how often due nodes are checked.
	TickInterval storagecfg.Duration `yaml:"tick_interval"`

	// EvalTimeout bounds one tick's evaluations.
	EvalTimeout storagecfg.Duration `yaml:"eval_timeout"`

	Nodes []NodeConfig `yaml:"nodes"`
	Edges []EdgeConfig `yaml:"edges"`
}

// NodeConfig declares one analysis node.
type NodeConfig struct {
	Name        string   `yaml:"name"`
	IntervalSec int      `yaml:"interval_sec"`
	Metric      string   `yaml:"metric"`
	Aggregation string   `yaml:"aggregation"`
	GroupBy     []string `yaml:"group_by"`

	// UnattributedDimension, when set, turns the node into a temperature
	// calculator that accounts for rows where this dimension carries no
	// value.
	UnattributedDimension string `yaml:"unattributed_dimension"`
}

// EdgeConfig declares a dependency edge: From evaluates before To.
type EdgeConfig struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// DefaultConfig returns the daemon defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		Storage:  *storagecfg.DefaultConfig(),
		Graph: GraphConfig{
			TickInterval: storagecfg.Duration(DefaultGraphTickInterval),
			EvalTimeout:  storagecfg.Duration(DefaultEvalTimeout),
		},
	}
}

// Load reads the daemon configuration from a YAML file. Missing fields keep
// their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if err := c.Storage.Validate(); err != nil {
		return err
	}

	names := make(map[string]bool, len(c.Graph.Nodes))
	for i, n := range c.Graph.Nodes {
		if n.Name == "" {
			return fmt.Errorf("graph.nodes[%d]: name is required", i)
		}
		if names[n.Name] {
			return fmt.Errorf("graph.nodes[%d]: duplicate name %q", i, n.Name)
		}
		names[n.Name] = true
		if n.Metric == "" {
			return fmt.Errorf("graph node %s: metric is required", n.Name)
		}
	}
	for i, e := range c.Graph.Edges {
		if !names[e.From] || !names[e.To] {
			return fmt.Errorf("graph.edges[%d]: unknown node in %s -> %s", i, e.From, e.To)
		}
	}
	return nil
}
