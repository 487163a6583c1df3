// Package metrics registers the Prometheus metrics exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors for the candle backend.
type Metrics struct {
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	RateLimited    *prometheus.CounterVec // labels: provider
	UpstreamErrors *prometheus.CounterVec // labels: provider
	FetchDuration  *prometheus.HistogramVec

	PollCycles       prometheus.Counter
	CandlesPublished prometheus.Counter
	SymbolsPolled    prometheus.Gauge
	SymbolsDropped   prometheus.Counter

	WSClients      prometheus.Gauge
	BroadcastDrops prometheus.Counter
}

// New registers all collectors on reg and returns them. Tests pass a fresh
// prometheus.NewRegistry(); the server passes the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trademind_cache_hits_total",
			Help: "Historical query cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trademind_cache_misses_total",
			Help: "Historical query cache misses",
		}),
		RateLimited: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trademind_rate_limited_total",
			Help: "Requests rejected by the sliding-window rate limiter",
		}, []string{"provider"}),
		UpstreamErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "trademind_upstream_errors_total",
			Help: "Upstream provider failures",
		}, []string{"provider"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trademind_fetch_duration_seconds",
			Help:    "Upstream candle fetch latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"provider"}),
		PollCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trademind_poll_cycles_total",
			Help: "Completed live poll cycles",
		}),
		CandlesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trademind_candles_published_total",
			Help: "Live candles published to the broadcast stream",
		}),
		SymbolsPolled: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trademind_symbols_polled",
			Help: "Symbols currently in the live polling set",
		}),
		SymbolsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trademind_symbols_dropped_total",
			Help: "Symbols removed from polling after fetch failures",
		}),
		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "trademind_ws_clients",
			Help: "Connected WebSocket clients",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "trademind_broadcast_drops_total",
			Help: "Messages dropped for slow broadcast subscribers",
		}),
	}

	reg.MustRegister(
		m.CacheHits, m.CacheMisses,
		m.RateLimited, m.UpstreamErrors, m.FetchDuration,
		m.PollCycles, m.CandlesPublished, m.SymbolsPolled, m.SymbolsDropped,
		m.WSClients, m.BroadcastDrops,
	)
	return m
}
