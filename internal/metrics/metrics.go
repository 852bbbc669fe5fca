package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_requests_total",
			Help: "Total number of engine operations by name",
		},
		[]string{"operation"},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recommend_errors_total",
			Help: "Total number of failed engine operations by name and error kind",
		},
		[]string{"operation", "kind"},
	)

	Duration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "recommend_duration_seconds",
			Help:    "Duration of engine operations in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_hits_total",
			Help: "Total number of profile cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "profile_cache_misses_total",
			Help: "Total number of profile cache misses (absent or expired)",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "profile_cache_entries",
			Help: "Current number of cached user profiles",
		},
	)

	FallbackItems = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommend_fallback_items_total",
			Help: "Total number of popularity fallback items served",
		},
	)

	CandidatesSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "recommend_candidates_skipped_total",
			Help: "Total number of malformed candidates skipped during scoring",
		},
	)

	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "collaborator_breaker_open",
			Help: "1 when the collaborator circuit breaker is open",
		},
		[]string{"name"},
	)
)

// ObserveOperation records one engine operation. Pass the returned func's
// result through defer with the operation error.
func ObserveOperation(operation string) func(err error, kind string) {
	start := time.Now()
	RequestsTotal.WithLabelValues(operation).Inc()
	return func(err error, kind string) {
		Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
		if err != nil {
			ErrorsTotal.WithLabelValues(operation, kind).Inc()
		}
	}
}
