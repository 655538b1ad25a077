package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures the metrics endpoint.
type Config struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr" validate:"required_if=Enabled true"`
	Path       string `yaml:"path"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		ListenAddr: "127.0.0.1:9464",
		Path:       "/metrics",
	}
}

// ApplyDefaults fills zero values.
func (c *Config) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = "127.0.0.1:9464"
	}
	if c.Path == "" {
		c.Path = "/metrics"
	}
}

// ApplyEnvOverrides applies DOCSYNC_METRICS_ADDR.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("DOCSYNC_METRICS_ADDR"); v != "" {
		c.ListenAddr = v
	}
}

// ResolvePaths is a no-op; the metrics endpoint has no paths on disk.
func (c *Config) ResolvePaths(_, _ string) {}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.ListenAddr); err != nil {
		return fmt.Errorf("metrics.listen_addr is invalid: %w", err)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("metrics.path must start with '/'")
	}
	return nil
}

// Server exposes the default registry over HTTP.
type Server struct {
	srv    *http.Server
	logger *slog.Logger
	addr   net.Addr
}

// NewServer creates a metrics server for the given registry gatherer.
func NewServer(cfg Config, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return &Server{
		srv: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger.With("component", "metrics"),
	}
}

// Start listens in the background. Listen errors are returned synchronously.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.srv.Addr, err)
	}
	s.addr = ln.Addr()
	s.logger.Info("Metrics endpoint listening", "addr", s.addr.String())
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server stopped", "error", err)
		}
	}()
	return nil
}

// Addr returns the bound address once Start succeeded.
func (s *Server) Addr() string {
	if s.addr == nil {
		return s.srv.Addr
	}
	return s.addr.String()
}

// Shutdown stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
