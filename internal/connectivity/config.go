package connectivity

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"
)

// Config configures the connectivity monitor.
type Config struct {
	// ProbeURL is requested to decide reachability. Empty disables probing
	// and the monitor reports the Assume state.
	ProbeURL string        `yaml:"probe_url" validate:"omitempty,url"`
	Interval time.Duration `yaml:"interval"`
	Timeout  time.Duration `yaml:"timeout"`
	// Assume is the state reported before the first probe completes.
	Assume bool `yaml:"assume_online"`

	Logger *slog.Logger `yaml:"-" validate:"-"`
}

// DefaultConfig returns the default connectivity configuration.
func DefaultConfig() Config {
	return Config{
		ProbeURL: "https://api.appcenter.ms",
		Interval: 15 * time.Second,
		Timeout:  5 * time.Second,
		Assume:   true,
	}
}

// ApplyDefaults fills zero-valued durations with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Interval == 0 {
		c.Interval = defaults.Interval
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSYNC_PROBE_URL"); val != "" {
		c.ProbeURL = val
	}
}

// ResolvePaths is a no-op; the monitor has no file paths.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.ProbeURL != "" {
		if _, err := url.ParseRequestURI(c.ProbeURL); err != nil {
			return fmt.Errorf("connectivity.probe_url is invalid: %w", err)
		}
	}
	if c.Interval <= 0 {
		return fmt.Errorf("connectivity.interval must be positive")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("connectivity.timeout must be positive")
	}
	return nil
}
