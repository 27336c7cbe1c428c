package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	requests        *prometheus.CounterVec
	computeDuration prometheus.Histogram
	lockWait        prometheus.Histogram
	lockFallbacks   prometheus.Counter
	corruptEntries  prometheus.Counter
	invalidatedKeys prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)
	return &metrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "geocached_requests_total",
			Help: "Cache requests by outcome (hit, miss, bypass).",
		}, []string{"result"}),
		computeDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "geocached_compute_duration_seconds",
			Help:    "Duration of compute functions run on cache misses.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
		lockWait: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "geocached_lock_wait_seconds",
			Help:    "Time spent waiting for another caller's computation.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		lockFallbacks: factory.NewCounter(prometheus.CounterOpts{
			Name: "geocached_lock_fallbacks_total",
			Help: "Contention waits that elapsed and fell back to duplicate computation.",
		}),
		corruptEntries: factory.NewCounter(prometheus.CounterOpts{
			Name: "geocached_corrupt_entries_total",
			Help: "Stored entries that failed to decode and were treated as misses.",
		}),
		invalidatedKeys: factory.NewCounter(prometheus.CounterOpts{
			Name: "geocached_invalidated_keys_total",
			Help: "Keys removed by invalidation and flush operations.",
		}),
	}
}
