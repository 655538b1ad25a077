package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Prober reports whether the network is reachable.
type Prober interface {
	Probe(ctx context.Context) bool
}

// ProberFunc adapts a function to Prober.
type ProberFunc func(ctx context.Context) bool

func (f ProberFunc) Probe(ctx context.Context) bool { return f(ctx) }

// HTTPProber treats any HTTP response from URL as reachable; only transport
// failures count as offline.
type HTTPProber struct {
	URL    string
	Client *http.Client
}

func (p *HTTPProber) Probe(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Monitor periodically probes reachability and notifies on transitions.
type Monitor struct {
	cfg    Config
	prober Prober
	logger *slog.Logger
	subs   subscribers

	mu      sync.RWMutex
	online  bool
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	trigger chan struct{}
}

// NewMonitor creates a monitor. A nil prober probes cfg.ProbeURL over HTTP,
// or never probes when the URL is empty.
func NewMonitor(cfg Config, prober Prober) *Monitor {
	cfg.ApplyDefaults()
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil && cfg.ProbeURL != "" {
		prober = &HTTPProber{URL: cfg.ProbeURL, Client: &http.Client{Timeout: cfg.Timeout}}
	}
	return &Monitor{
		cfg:     cfg,
		prober:  prober,
		logger:  logger.With("component", "connectivity"),
		online:  cfg.Assume,
		trigger: make(chan struct{}, 1),
	}
}

func (m *Monitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

func (m *Monitor) Subscribe(fn func(bool)) func() {
	return m.subs.add(fn)
}

// Start probes once synchronously, then keeps probing every interval.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return fmt.Errorf("connectivity monitor already running")
	}
	if m.prober == nil {
		m.mu.Unlock()
		m.logger.Info("Connectivity probing disabled", "online", m.Online())
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	m.Check(runCtx)

	m.wg.Add(1)
	go m.loop(runCtx)
	m.logger.Info("Connectivity monitor started", "interval", m.cfg.Interval)
	return nil
}

// Stop stops probing and waits for the loop to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.cancel()
	m.running = false
	m.mu.Unlock()
	m.wg.Wait()
	m.logger.Info("Connectivity monitor stopped")
}

// Recheck asks the loop for an immediate probe.
func (m *Monitor) Recheck() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// Check probes now and applies the result.
func (m *Monitor) Check(ctx context.Context) bool {
	if m.prober == nil {
		return m.Online()
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	online := m.prober.Probe(probeCtx)
	cancel()
	if ctx.Err() != nil {
		return m.Online()
	}
	m.set(online)
	return online
}

func (m *Monitor) set(online bool) {
	m.mu.Lock()
	changed := m.online != online
	m.online = online
	m.mu.Unlock()
	if !changed {
		return
	}
	m.logger.Info("Connectivity changed", "online", online)
	m.subs.notify(online)
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.trigger:
		}
		m.Check(ctx)
	}
}
