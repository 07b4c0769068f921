// Package config loads the rindex tool settings.
//
// Settings are per user and independent of any repository; the
// repository's own layout is configured in rindex.toml (see package repo).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/schaermu/rindex/internal/progress"
)

// DefaultPath is used when no settings file is given on the command line
const DefaultPath = "$HOME/.config/rindex/config.yaml"

// Config represents the complete rindex settings
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`
	Metrics MetricsConfig `yaml:"metrics"`
	Sync    SyncConfig    `yaml:"sync"`
	Watch   WatchConfig   `yaml:"watch"`
}

// LogConfig configures the logger when the flags are not given
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// CacheConfig configures the fast cache
type CacheConfig struct {
	Disabled bool `yaml:"disabled"`
	// Dir overrides <repo>/.rindex/fscache
	Dir string `yaml:"dir"`
}

// MetricsConfig configures the metrics textfile
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// SyncConfig configures sync behavior
type SyncConfig struct {
	Progress progress.Mode `yaml:"progress"`
}

// WatchConfig configures watch mode
type WatchConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// Default returns the settings used without a settings file
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

// Load reads and parses the settings file. A missing file is only an
// error when it was requested explicitly.
func Load(path string, explicit bool) (*Config, error) {
	path = os.ExpandEnv(path)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		return Default(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Cache.Dir = os.ExpandEnv(c.Cache.Dir)
	c.Metrics.Textfile = os.ExpandEnv(c.Metrics.Textfile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
	if c.Sync.Progress == "" {
		c.Sync.Progress = progress.ModeAuto
	}
	if c.Watch.Delay == 0 {
		c.Watch.Delay = 2 * time.Second
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log.level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}

	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log.format: %s (must be text or json)", c.Log.Format)
	}

	switch c.Sync.Progress {
	case progress.ModeAuto, progress.ModeAlways, progress.ModeNever:
	default:
		return fmt.Errorf("invalid sync.progress: %s (must be auto, always, or never)", c.Sync.Progress)
	}

	if c.Watch.Delay < 0 {
		return fmt.Errorf("watch.delay must not be negative: %s", c.Watch.Delay)
	}

	if c.Cache.Dir != "" && !filepath.IsAbs(c.Cache.Dir) {
		return fmt.Errorf("cache.dir must be an absolute path: %s", c.Cache.Dir)
	}
	if c.Metrics.Textfile != "" && !filepath.IsAbs(c.Metrics.Textfile) {
		return fmt.Errorf("metrics.textfile must be an absolute path: %s", c.Metrics.Textfile)
	}

	return nil
}

// CacheDir returns the fast cache directory for a repository state directory,
// or "" when the cache is disabled
func (c *Config) CacheDir(stateDir string) string {
	if c.Cache.Disabled {
		return ""
	}
	if c.Cache.Dir != "" {
		return c.Cache.Dir
	}
	return filepath.Join(stateDir, "fscache")
}
