package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete storage configuration.
//
// The configuration is an explicit value handed to every factory that needs
// it. There is no process-wide mutable settings singleton: two stores opened
// with different configs coexist without interfering.
type Config struct {
	// FilePrefix is the path prefix for window store files. A window with
	// start timestamp T lives at FilePrefix + strconv.FormatInt(T, 10).
	// The trailing component of the prefix may be a partial file name
	// ("/tmp/metricsdb_"), not only a directory.
	FilePrefix string `yaml:"file_prefix"`

	// WindowSeconds is the width of one time window. Samples are bucketed
	// into windows of this length and every window gets its own store file.
	WindowSeconds int `yaml:"window_seconds"`

	// Retention defines when window files become eligible for pruning.
	Retention RetentionConfig `yaml:"retention"`

	// Archive configures optional parquet export of expired windows.
	Archive ArchiveConfig `yaml:"archive"`

	// Query configures the query engine.
	Query QueryConfig `yaml:"query"`
}

// RetentionConfig defines how long window store files are kept on disk.
type RetentionConfig struct {
	// MaxAge is the maximum age of a window before it is pruned.
	MaxAge Duration `yaml:"max_age"`

	// MaxWindows caps the number of on-disk windows regardless of age.
	// Zero means no cap.
	MaxWindows int `yaml:"max_windows"`

	// Interval is how often the pruning pass runs.
	Interval Duration `yaml:"interval"`
}

// ArchiveConfig configures parquet export of expired windows.
type ArchiveConfig struct {
	// Enabled turns on archive-before-delete.
	Enabled bool `yaml:"enabled"`

	// Dir is the directory archived windows are written to.
	Dir string `yaml:"dir"`

	// Compression is the parquet compression algorithm: snappy, zstd, lz4, none.
	Compression string `yaml:"compression"`
}

// QueryConfig configures the query engine.
type QueryConfig struct {
	// Timeout is the per-query timeout.
	Timeout Duration `yaml:"timeout"`
}

// Duration is a time.Duration that can be unmarshaled from YAML, either as
// a duration string ("90s") or as a bare number of seconds.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		var i int
		if err := unmarshal(&i); err != nil {
			return err
		}
		*d = Duration(time.Duration(i) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// Duration returns the time.Duration value.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return config, nil
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		FilePrefix:    filepath.Join(os.TempDir(), "metricsdb_"),
		WindowSeconds: 5,
		Retention: RetentionConfig{
			MaxAge:   Duration(time.Hour),
			Interval: Duration(time.Minute),
		},
		Archive: ArchiveConfig{
			Enabled:     false,
			Compression: "zstd",
		},
		Query: QueryConfig{
			Timeout: Duration(30 * time.Second),
		},
	}
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.FilePrefix == "" {
		return fmt.Errorf("file_prefix must not be empty")
	}
	if c.WindowSeconds <= 0 {
		return fmt.Errorf("window_seconds must be positive")
	}
	if c.Retention.MaxAge < 0 {
		return fmt.Errorf("retention.max_age must not be negative")
	}
	if c.Retention.MaxWindows < 0 {
		return fmt.Errorf("retention.max_windows must not be negative")
	}
	if c.Archive.Enabled && c.Archive.Dir == "" {
		return fmt.Errorf("archive.dir is required when archive is enabled")
	}
	switch c.Archive.Compression {
	case "", "snappy", "zstd", "lz4", "gzip", "none":
	default:
		return fmt.Errorf("unknown archive.compression %q", c.Archive.Compression)
	}
	return nil
}

// WindowPath returns the on-disk path for a window store file.
func (c *Config) WindowPath(windowStart int64) string {
	return fmt.Sprintf("%s%d", c.FilePrefix, windowStart)
}

// WindowDir returns the directory containing window store files.
func (c *Config) WindowDir() string {
	return filepath.Dir(c.FilePrefix)
}

// WindowBase returns the file-name portion of the prefix ("" when the prefix
// ends in a path separator).
func (c *Config) WindowBase() string {
	if strings.HasSuffix(c.FilePrefix, string(filepath.Separator)) {
		return ""
	}
	return filepath.Base(c.FilePrefix)
}

// WindowFor buckets a unix-millisecond timestamp into its window start.
func (c *Config) WindowFor(timestampMs int64) int64 {
	windowMs := int64(c.WindowSeconds) * 1000
	return timestampMs - timestampMs%windowMs
}
