package syncer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_sync_total",
		Help: "Total partition refreshes by mode and outcome",
	}, []string{"mode", "outcome"})

	syncFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stackcache_sync_failures_total",
		Help: "Total partition refreshes that returned an error",
	}, []string{"mode"})

	syncDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "stackcache_sync_duration_seconds",
		Help:    "Duration of partition refreshes",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	}, []string{"mode"})

	syncItems = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stackcache_sync_items",
		Help:    "Items delivered per partition refresh",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	cacheWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stackcache_sync_cache_write_failures_total",
		Help: "Total successful fetches whose cache replace failed",
	})
)
