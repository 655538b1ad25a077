package localstore

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Config is the local document database configuration.
type Config struct {
	// Path is the SQLite database file. Relative paths resolve against the data directory.
	Path         string        `yaml:"path"`
	BusyTimeout  time.Duration `yaml:"busy_timeout"`
	MaxOpenConns int           `yaml:"max_open_conns"`

	Logger *slog.Logger `yaml:"-" validate:"-"`
}

// DefaultConfig returns the default storage configuration.
func DefaultConfig() Config {
	return Config{
		Path:         "documents.db",
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Path == "" {
		c.Path = defaults.Path
	}
	if c.BusyTimeout == 0 {
		c.BusyTimeout = defaults.BusyTimeout
	}
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = defaults.MaxOpenConns
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSYNC_STORAGE_PATH"); val != "" {
		c.Path = val
	}
}

// ResolvePaths makes Path absolute relative to dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.Path != "" && !filepath.IsAbs(c.Path) {
		c.Path = filepath.Join(dataDir, c.Path)
	}
}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.BusyTimeout < 0 {
		return fmt.Errorf("storage.busy_timeout must be non-negative")
	}
	if c.MaxOpenConns < 0 {
		return fmt.Errorf("storage.max_open_conns must be non-negative")
	}
	return nil
}
