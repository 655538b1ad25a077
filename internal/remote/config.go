package remote

import (
	"fmt"
	"os"
	"strings"
	"time"
)

// Config configures the document store client.
type Config struct {
	// EndpointFormat builds the account endpoint; "%s" is replaced by the
	// token's database account. A value without "%s" is used as is, which
	// is how emulators and tests point the client at a fixed host.
	EndpointFormat string        `yaml:"endpoint_format" validate:"required"`
	APIVersion     string        `yaml:"api_version"`
	Timeout        time.Duration `yaml:"timeout"`
}

// DefaultConfig returns the default client configuration.
func DefaultConfig() Config {
	return Config{
		EndpointFormat: "https://%s.documents.azure.com",
		APIVersion:     "2018-06-18",
		Timeout:        30 * time.Second,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.EndpointFormat == "" {
		c.EndpointFormat = defaults.EndpointFormat
	}
	if c.APIVersion == "" {
		c.APIVersion = defaults.APIVersion
	}
	if c.Timeout == 0 {
		c.Timeout = defaults.Timeout
	}
}

// ApplyEnvOverrides applies DOCSYNC_REMOTE_ENDPOINT.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DOCSYNC_REMOTE_ENDPOINT"); v != "" {
		c.EndpointFormat = v
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.EndpointFormat == "" {
		return fmt.Errorf("remote.endpoint_format is required")
	}
	if strings.Count(c.EndpointFormat, "%s") > 1 {
		return fmt.Errorf("remote.endpoint_format must contain at most one %%s")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("remote.timeout must not be negative")
	}
	return nil
}
