package services

import (
	"context"
	"fmt"

	"github.com/syntrixbase/docsync/internal/connectivity"
	"github.com/syntrixbase/docsync/internal/engine"
	"github.com/syntrixbase/docsync/internal/events"
	"github.com/syntrixbase/docsync/internal/identity"
	"github.com/syntrixbase/docsync/internal/localstore"
	"github.com/syntrixbase/docsync/internal/metrics"
	"github.com/syntrixbase/docsync/internal/remote"
	"github.com/syntrixbase/docsync/internal/tokens"
	"github.com/syntrixbase/docsync/pkg/model"
)

var publisherFactory = events.NewPublisher

var storeOpener = localstore.Open

// Init opens the stores and builds every component. On failure, anything
// already opened is closed again.
func (m *Manager) Init(ctx context.Context) (err error) {
	defer func() {
		if err != nil {
			m.closeResources()
		}
	}()

	if err := m.initStorage(); err != nil {
		return err
	}
	if err := m.initTokens(); err != nil {
		return err
	}
	m.remote = remote.New(m.cfg.Remote, m.opts.Doer, nil)
	if err := m.initIdentity(); err != nil {
		return err
	}
	m.initNetwork()
	if err := m.initEvents(ctx); err != nil {
		return err
	}
	if m.opts.ServeMetrics && m.cfg.Metrics.Enabled {
		m.metrics = metrics.NewServer(m.cfg.Metrics, nil, nil)
	}
	return m.initEngine()
}

func (m *Manager) initStorage() error {
	store, err := storeOpener(m.cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to open document store: %w", err)
	}
	m.store = store
	return nil
}

func (m *Manager) initTokens() error {
	cipher, err := tokens.NewCipher(m.cfg.AppSecret)
	if err != nil {
		return fmt.Errorf("failed to create token cipher: %w", err)
	}
	store, err := tokens.NewPebbleStore(tokens.PebbleConfig{
		Path:           m.cfg.Tokens.CachePath,
		BlockCacheSize: m.cfg.Tokens.BlockCacheSize,
	})
	if err != nil {
		return err
	}
	exchanger := tokens.NewHTTPExchanger(m.cfg.Tokens.ExchangeURL, m.cfg.AppSecret, m.cfg.Tokens.Timeout, m.opts.Doer, nil)
	m.tokens = tokens.NewManager(store, cipher, exchanger, m.cfg.Tokens.MemoryEntries, nil)
	return nil
}

func (m *Manager) initIdentity() error {
	ctx, err := identity.NewContext(m.cfg.Identity, nil)
	if err != nil {
		return err
	}
	m.identity = ctx
	return nil
}

func (m *Manager) initNetwork() {
	if m.opts.Offline {
		m.network = connectivity.NewSwitch(false)
		return
	}
	m.monitor = connectivity.NewMonitor(m.cfg.Connectivity, nil)
	m.network = m.monitor
}

func (m *Manager) initEvents(ctx context.Context) error {
	pub, err := publisherFactory(ctx, m.cfg.Events)
	if err != nil {
		return fmt.Errorf("failed to create event publisher: %w", err)
	}
	m.publisher = pub
	return nil
}

func (m *Manager) initEngine() error {
	forwarder := events.NewForwarder(m.publisher, m.cfg.Events.PublishTimeout, nil)
	var listener engine.Listener = forwarder
	if extra := m.opts.Listener; extra != nil {
		listener = engine.ListenerFunc(func(result model.OperationResult) {
			forwarder.OnOperationResult(result)
			extra.OnOperationResult(result)
		})
	}

	e, err := engine.New(m.cfg.Sync, engine.Deps{
		Store:    m.store,
		Tokens:   m.tokens,
		Remote:   m.remote,
		Network:  m.network,
		Identity: m.identity,
		Listener: listener,
		Logger:   m.logger,
	})
	if err != nil {
		return err
	}
	m.engine = e
	return nil
}
