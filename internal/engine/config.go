package engine

import "fmt"

// Config tunes the synchronization engine.
type Config struct {
	// ReplayConcurrency bounds concurrent remote calls during a drain.
	ReplayConcurrency int `yaml:"replay_concurrency"`
	// DrainOnEnable starts a drain when the engine is enabled while online.
	DrainOnEnable bool `yaml:"drain_on_enable"`
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	return Config{
		ReplayConcurrency: 4,
		DrainOnEnable:     true,
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ReplayConcurrency == 0 {
		c.ReplayConcurrency = DefaultConfig().ReplayConcurrency
	}
}

// ApplyEnvOverrides is a no-op; the engine has no environment settings.
func (c *Config) ApplyEnvOverrides() {}

// ResolvePaths is a no-op.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.ReplayConcurrency < 1 {
		return fmt.Errorf("sync.replay_concurrency must be at least 1")
	}
	return nil
}
