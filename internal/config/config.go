// Package config loads the docsync configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/syntrixbase/docsync/internal/connectivity"
	"github.com/syntrixbase/docsync/internal/engine"
	"github.com/syntrixbase/docsync/internal/events"
	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/internal/remote"
	"github.com/syntrixbase/docsync/internal/tokens"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	// AppSecret identifies the application to the token exchange service.
	AppSecret string `yaml:"app_secret" validate:"required"`
	// DataDir holds the document database, the token cache and logs.
	DataDir string `yaml:"data_dir"`

	Logging      LoggingConfig       `yaml:"logging"`
	Identity     identity.Config     `yaml:"identity"`
	Tokens       tokens.Config       `yaml:"token_exchange"`
	Remote       remote.Config       `yaml:"remote"`
	Storage      localstore.Config   `yaml:"storage"`
	Sync         engine.Config       `yaml:"sync"`
	Connectivity connectivity.Config `yaml:"connectivity"`
	Events       events.Config       `yaml:"events"`
	Metrics      metrics.Config      `yaml:"metrics"`
}

// Default returns the configuration used before any file is read.
func Default() *Config {
	return &Config{
		DataDir:      defaultDataDir(),
		Logging:      DefaultLoggingConfig(),
		Identity:     identity.DefaultConfig(),
		Tokens:       tokens.DefaultConfig(),
		Remote:       remote.DefaultConfig(),
		Storage:      localstore.DefaultConfig(),
		Sync:         engine.DefaultConfig(),
		Connectivity: connectivity.DefaultConfig(),
		Events:       events.DefaultConfig(),
		Metrics:      metrics.DefaultConfig(),
	}
}

func defaultDataDir() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "docsync")
	}
	return ".docsync"
}

// LoadConfig loads configuration from configDir and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	// Defaults first so YAML can override them, including bool fields
	cfg := Default()

	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	if v := os.Getenv("DOCSYNC_APP_SECRET"); v != "" {
		cfg.AppSecret = v
	}
	if v := os.Getenv("DOCSYNC_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir()
	}
	if !filepath.IsAbs(cfg.DataDir) {
		cfg.DataDir = filepath.Clean(filepath.Join(configDir, cfg.DataDir))
	}

	if err := ApplyServiceConfigs(configDir, cfg.DataDir,
		&cfg.Logging,
		&cfg.Identity,
		&cfg.Tokens,
		&cfg.Remote,
		&cfg.Storage,
		&cfg.Sync,
		&cfg.Connectivity,
		&cfg.Events,
		&cfg.Metrics,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}

// validate is the singleton validator; field names are reported by their
// YAML keys.
var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidationError lists every struct-tag violation of a configuration.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid configuration: " + strings.Join(e.Fields, "; ")
}

// Validate runs the struct-tag rules over the whole configuration.
func Validate(cfg *Config) error {
	err := validate.Struct(cfg)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &ValidationError{}
	for _, fe := range ve {
		out.Fields = append(out.Fields, fmt.Sprintf("%s: %s", fieldPath(fe), translate(fe)))
	}
	return out
}

// fieldPath drops the root type name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func translate(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_if":
		return "This field is required"
	case "url":
		return "Must be a valid URL"
	case "oneof":
		return fmt.Sprintf("Must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("Failed validation: %s", fe.Tag())
	}
}
