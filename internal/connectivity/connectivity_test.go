package connectivity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []bool
}

func (r *recorder) record(online bool) {
	r.mu.Lock()
	r.events = append(r.events, online)
	r.mu.Unlock()
}

func (r *recorder) get() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.events...)
}

func TestSwitch(t *testing.T) {
	s := NewSwitch(false)
	rec := &recorder{}
	cancel := s.Subscribe(rec.record)

	s.Set(false)
	s.Set(true)
	s.Set(true)
	s.Set(false)
	assert.Equal(t, []bool{true, false}, rec.get())
	assert.False(t, s.Online())

	cancel()
	cancel()
	s.Set(true)
	assert.Equal(t, []bool{true, false}, rec.get())
	assert.True(t, s.Online())
}

func TestMonitor_NotifiesOnTransitions(t *testing.T) {
	var reachable atomic.Bool
	prober := ProberFunc(func(ctx context.Context) bool { return reachable.Load() })
	m := NewMonitor(Config{Interval: time.Hour, Timeout: time.Second, Assume: true}, prober)
	rec := &recorder{}
	m.Subscribe(rec.record)

	require.NoError(t, m.Start(context.Background()))
	defer m.Stop()
	assert.False(t, m.Online())

	reachable.Store(true)
	m.Recheck()
	assert.Eventually(t, m.Online, time.Second, 5*time.Millisecond)

	m.Check(context.Background())
	assert.Equal(t, []bool{false, true}, rec.get())

	assert.Error(t, m.Start(context.Background()))
}

func TestMonitor_Loop(t *testing.T) {
	var calls atomic.Int32
	prober := ProberFunc(func(ctx context.Context) bool {
		return calls.Add(1)%2 == 0
	})
	m := NewMonitor(Config{Interval: 5 * time.Millisecond, Timeout: time.Second}, prober)
	require.NoError(t, m.Start(context.Background()))
	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, time.Millisecond)
	m.Stop()
	m.Stop()

	n := calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, calls.Load())
}

func TestMonitor_NoProber(t *testing.T) {
	m := NewMonitor(Config{Assume: false}, nil)
	require.NoError(t, m.Start(context.Background()))
	assert.False(t, m.Check(context.Background()))
	m.Stop()
}

func TestHTTPProber(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	p := &HTTPProber{URL: server.URL}
	assert.True(t, p.Probe(context.Background()), "any response means reachable")

	server.Close()
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, (&HTTPProber{URL: "::bad"}).Probe(context.Background()))
}

func TestMonitor_ProbesConfiguredURL(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	m := NewMonitor(Config{ProbeURL: server.URL, Interval: time.Hour}, nil)
	assert.True(t, m.Check(context.Background()))
	assert.Equal(t, int32(1), hits.Load())
}

func TestConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	t.Setenv("DOCSYNC_PROBE_URL", "http://127.0.0.1:9/health")
	cfg.ApplyEnvOverrides()
	assert.Equal(t, "http://127.0.0.1:9/health", cfg.ProbeURL)

	cfg.ProbeURL = "not a url"
	assert.Error(t, cfg.Validate())

	cfg = Config{}
	cfg.ApplyDefaults()
	assert.NoError(t, cfg.Validate())
	cfg.Interval = -time.Second
	assert.Error(t, cfg.Validate())
}
