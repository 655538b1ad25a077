package tokens

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Config configures token exchange and the persisted token cache.
type Config struct {
	// ExchangeURL is the base URL of the token exchange service.
	ExchangeURL string        `yaml:"exchange_url" validate:"required,url"`
	Timeout     time.Duration `yaml:"timeout"`

	// CachePath is the Pebble directory holding encrypted tokens.
	CachePath      string `yaml:"cache_path"`
	BlockCacheSize int64  `yaml:"block_cache_size"`

	// MemoryEntries bounds the in-process front cache.
	MemoryEntries int `yaml:"memory_entries"`
}

// DefaultConfig returns the default token configuration.
func DefaultConfig() Config {
	return Config{
		ExchangeURL:    "https://api.appcenter.ms/v0.1",
		Timeout:        30 * time.Second,
		CachePath:      "tokens",
		BlockCacheSize: 8 << 20,
		MemoryEntries:  64,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.ExchangeURL == "" {
		c.ExchangeURL = defaults.ExchangeURL
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
	if c.CachePath == "" {
		c.CachePath = defaults.CachePath
	}
	if c.BlockCacheSize == 0 {
		c.BlockCacheSize = defaults.BlockCacheSize
	}
	if c.MemoryEntries == 0 {
		c.MemoryEntries = defaults.MemoryEntries
	}
}

// ApplyEnvOverrides applies DOCSYNC_TOKEN_EXCHANGE_URL.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DOCSYNC_TOKEN_EXCHANGE_URL"); v != "" {
		c.ExchangeURL = v
	}
}

// ResolvePaths places a relative cache path under dataDir.
func (c *Config) ResolvePaths(_, dataDir string) {
	if c.CachePath != "" && !filepath.IsAbs(c.CachePath) {
		c.CachePath = filepath.Join(dataDir, c.CachePath)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	u, err := url.Parse(c.ExchangeURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("token_exchange.exchange_url is invalid: %q", c.ExchangeURL)
	}
	if c.CachePath == "" {
		return fmt.Errorf("token_exchange.cache_path is required")
	}
	if c.MemoryEntries < 0 {
		return fmt.Errorf("token_exchange.memory_entries must not be negative")
	}
	return nil
}
