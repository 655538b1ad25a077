package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Label values shared by the collectors.
const (
	ModeOnline  = "online"
	ModeOffline = "offline"

	ResultSuccess = "success"
	ResultError   = "error"

	OutcomeConfirmed = "confirmed"
	OutcomeAbandoned = "abandoned"
	OutcomeRetained  = "retained"
	OutcomeSkipped   = "skipped"
	OutcomeStale     = "stale"

	LookupHit     = "hit"
	LookupMiss    = "miss"
	LookupCorrupt = "corrupt"
)

var (
	// Public data operations
	OperationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_operations_total",
		Help: "The total number of data operations by mode and result",
	}, []string{"operation", "mode", "result"})

	// Replay
	ReplayTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_replay_total",
		Help: "The total number of replayed pending operations by outcome",
	}, []string{"operation", "outcome"})

	DrainDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "docsync_drain_duration_seconds",
		Help: "The duration of pending operation drain passes",
	})

	// Tokens
	TokenCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "docsync_token_cache_lookups_total",
		Help: "The total number of token cache lookups by result",
	}, []string{"result"})

	TokenExchangeLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: "docsync_token_exchange_seconds",
		Help: "The latency of token exchange calls",
	})

	// Remote calls
	RemoteCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name: "docsync_remote_call_seconds",
		Help: "The latency of remote document calls",
	}, []string{"method"})

	InflightCalls = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "docsync_inflight_calls",
		Help: "The number of remote calls the engine can currently cancel",
	})
)

func init() {
	prometheus.MustRegister(OperationsTotal)
	prometheus.MustRegister(ReplayTotal)
	prometheus.MustRegister(DrainDuration)
	prometheus.MustRegister(TokenCacheLookups)
	prometheus.MustRegister(TokenExchangeLatency)
	prometheus.MustRegister(RemoteCallLatency)
	prometheus.MustRegister(InflightCalls)
}
