package metrics

import (
	"context"
	"io"
	"net/http"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())

	cfg.Path = "metrics"
	assert.Error(t, cfg.Validate())

	cfg = Config{}
	cfg.ApplyDefaults()
	assert.Equal(t, "/metrics", cfg.Path)
	assert.NotEmpty(t, cfg.ListenAddr)
}

func TestServer_ServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "docsync_test_total",
		Help: "test counter",
	})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := NewServer(Config{Enabled: true, ListenAddr: "127.0.0.1:0", Path: "/metrics"}, reg, nil)
	require.NoError(t, srv.Start())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	resp, err := http.Get("http://" + srv.Addr() + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "docsync_test_total 3")
}

func TestServer_StartFailsOnBadAddr(t *testing.T) {
	srv := NewServer(Config{ListenAddr: "256.0.0.1:bad", Path: "/metrics"}, nil, nil)
	assert.Error(t, srv.Start())
	assert.Equal(t, "256.0.0.1:bad", srv.Addr())
}
