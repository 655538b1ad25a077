package identity

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config configures how user tokens are interpreted.
type Config struct {
	// PublicKeyPath is an optional PEM RSA public key. When set, user tokens
	// must carry a valid RS256 signature; otherwise claims are read unverified
	// and the token exchange endpoint is trusted to reject forged tokens.
	PublicKeyPath string `yaml:"public_key_path"`

	// AccountClaim names the claim holding the account id.
	AccountClaim string `yaml:"account_claim"`
}

// DefaultConfig returns the default identity configuration.
func DefaultConfig() Config {
	return Config{AccountClaim: "sub"}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.AccountClaim == "" {
		c.AccountClaim = "sub"
	}
}

// ApplyEnvOverrides applies DOCSYNC_IDENTITY_PUBLIC_KEY.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DOCSYNC_IDENTITY_PUBLIC_KEY"); v != "" {
		c.PublicKeyPath = v
	}
}

// ResolvePaths makes the key path absolute relative to configDir.
func (c *Config) ResolvePaths(configDir, _ string) {
	if c.PublicKeyPath != "" && !filepath.IsAbs(c.PublicKeyPath) {
		c.PublicKeyPath = filepath.Join(configDir, c.PublicKeyPath)
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.AccountClaim == "" {
		return fmt.Errorf("identity.account_claim is required")
	}
	return nil
}
