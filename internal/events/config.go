package events

import (
	"context"
	"fmt"
	"os"
	"time"
)

const (
	ProviderMemory = "memory"
	ProviderNATS   = "nats"
	ProviderNone   = "none"

	StorageMemory = "memory"
	StorageFile   = "file"
)

// Config selects and configures the completion event publisher.
type Config struct {
	Provider       string        `yaml:"provider" validate:"oneof=memory nats none"`
	NATSURL        string        `yaml:"nats_url"`
	StreamName     string        `yaml:"stream_name"`
	SubjectPrefix  string        `yaml:"subject_prefix"`
	Storage        string        `yaml:"storage" validate:"oneof=memory file"`
	MaxAge         time.Duration `yaml:"max_age"`
	RetryAttempts  int           `yaml:"retry_attempts"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// DefaultConfig returns the default events configuration.
func DefaultConfig() Config {
	return Config{
		Provider:       ProviderMemory,
		NATSURL:        "nats://127.0.0.1:4222",
		StreamName:     "DOCSYNC",
		SubjectPrefix:  "docsync.operations",
		Storage:        StorageMemory,
		MaxAge:         24 * time.Hour,
		PublishTimeout: 5 * time.Second,
	}
}

// ApplyDefaults fills zero-valued fields with defaults.
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.NATSURL == "" {
		c.NATSURL = d.NATSURL
	}
	if c.StreamName == "" {
		c.StreamName = d.StreamName
	}
	if c.SubjectPrefix == "" {
		c.SubjectPrefix = d.SubjectPrefix
	}
	if c.Storage == "" {
		c.Storage = d.Storage
	}
	if c.PublishTimeout == 0 {
		c.PublishTimeout = d.PublishTimeout
	}
}

// ApplyEnvOverrides applies environment variable overrides.
func (c *Config) ApplyEnvOverrides() {
	if val := os.Getenv("DOCSYNC_EVENTS_PROVIDER"); val != "" {
		c.Provider = val
	}
	if val := os.Getenv("DOCSYNC_NATS_URL"); val != "" {
		c.NATSURL = val
	}
}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	switch c.Provider {
	case ProviderMemory, ProviderNone:
	case ProviderNATS:
		if c.NATSURL == "" {
			return fmt.Errorf("events.nats_url is required for the nats provider")
		}
	default:
		return fmt.Errorf("events.provider must be one of memory, nats, none, got %q", c.Provider)
	}
	if c.Storage != StorageMemory && c.Storage != StorageFile {
		return fmt.Errorf("events.storage must be memory or file, got %q", c.Storage)
	}
	if c.SubjectPrefix == "" {
		return fmt.Errorf("events.subject_prefix is required")
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("events.retry_attempts must be non-negative")
	}
	return nil
}

// NewPublisher builds the publisher selected by cfg.Provider.
func NewPublisher(ctx context.Context, cfg Config) (Publisher, error) {
	switch cfg.Provider {
	case ProviderNATS:
		return ConnectNATS(ctx, cfg)
	case ProviderNone:
		return nopPublisher{}, nil
	default:
		return NewMemoryPublisher(cfg.SubjectPrefix), nil
	}
}
