// Package services wires the docsync components from configuration and runs
// their lifecycle.
package services

import (
	"log/slog"

	"github.com/syntrixbase/docsync/internal/config"
	"github.com/syntrixbase/docsync/internal/connectivity"
	"github.com/syntrixbase/docsync/internal/engine"
	"github.com/syntrixbase/docsync/internal/events"
	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/internal/remote"
	"github.com/syntrixbase/docsync/internal/tokens"
)

type Options struct {
	// Offline pins the engine offline and disables connectivity probing.
	Offline bool
	// ServeMetrics exposes the metrics endpoint when metrics are enabled.
	ServeMetrics bool
	// Listener additionally receives every replay outcome.
	Listener engine.Listener
	// Doer replaces the HTTP client of the exchange and document calls.
	Doer remote.Doer
}

type Manager struct {
	cfg    *config.Config
	opts   Options
	logger *slog.Logger

	store     *localstore.Store
	tokens    *tokens.Manager
	remote    *remote.Client
	identity  *identity.Context
	monitor   *connectivity.Monitor
	network   connectivity.Observer
	publisher events.Publisher
	metrics   *metrics.Server
	engine    *engine.Engine
}

func NewManager(cfg *config.Config, opts Options) *Manager {
	return &Manager{
		cfg:    cfg,
		opts:   opts,
		logger: slog.Default().With("component", "services"),
	}
}

// Engine returns the data facade. It is nil before Init.
func (m *Manager) Engine() *engine.Engine {
	return m.engine
}

// Identity returns the signed-in user context.
func (m *Manager) Identity() *identity.Context {
	return m.identity
}

// Publisher returns the completion event publisher.
func (m *Manager) Publisher() events.Publisher {
	return m.publisher
}

// Network returns the connectivity observer the engine follows.
func (m *Manager) Network() connectivity.Observer {
	return m.network
}
