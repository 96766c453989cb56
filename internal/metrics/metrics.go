// Package metrics exposes Prometheus collectors for the job engine and the
// upstream call orchestrator.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all collectors for the service.
type Metrics struct {
	Registry *prometheus.Registry

	JobsEnqueued  *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	LeasesExpired prometheus.Counter
	CycleDuration prometheus.Histogram

	UpstreamCalls    *prometheus.CounterVec
	UpstreamDuration *prometheus.HistogramVec
	CacheHits        *prometheus.CounterVec
	CacheMisses      *prometheus.CounterVec
	Cooldowns        *prometheus.CounterVec
}

// New creates the collectors on a fresh registry.
func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	labels := prometheus.Labels{"service": serviceName}

	factory := promauto.With(prometheus.WrapRegistererWith(labels, reg))

	return &Metrics{
		Registry: reg,

		JobsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "descgen_jobs_enqueued_total",
			Help: "Jobs enqueued, by request kind.",
		}, []string{"request_kind"}),

		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "descgen_jobs_completed_total",
			Help: "Jobs resolved to a final or retry-pending status.",
		}, []string{"status"}),

		LeasesExpired: factory.NewCounter(prometheus.CounterOpts{
			Name: "descgen_leases_expired_total",
			Help: "Jobs swept on lease expiry, requeued or resolved.",
		}),

		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "descgen_cycle_duration_seconds",
			Help:    "Duration of one worker processing cycle.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),

		UpstreamCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "descgen_upstream_calls_total",
			Help: "Outbound upstream calls, by service and result status.",
		}, []string{"upstream", "status"}),

		UpstreamDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "descgen_upstream_call_duration_seconds",
			Help:    "Duration of executed upstream calls.",
			Buckets: prometheus.DefBuckets,
		}, []string{"upstream"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "descgen_upstream_cache_hits_total",
			Help: "Upstream call results served from the runtime KV cache.",
		}, []string{"upstream"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "descgen_upstream_cache_misses_total",
			Help: "Upstream cache lookups that missed or had expired.",
		}, []string{"upstream"}),

		Cooldowns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "descgen_upstream_cooldowns_total",
			Help: "Cooldown windows opened after retry exhaustion.",
		}, []string{"upstream"}),
	}
}

// NewNop returns metrics bound to a throwaway registry. Intended for tests.
func NewNop() *Metrics {
	return New("test")
}
