package cache

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheOperations tracks store operations by backend, operation and result
	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackcache_cache_operations_total",
			Help: "Total number of cache store operations",
		},
		[]string{"backend", "op", "result"}, // result: "ok", "miss", "error"
	)

	// CacheOperationDuration tracks store operation latency
	CacheOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stackcache_cache_operation_duration_seconds",
			Help:    "Duration of cache store operations",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		},
		[]string{"backend", "op"},
	)

	// CacheItemsWritten tracks items written by Replace
	CacheItemsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackcache_cache_items_written_total",
			Help: "Total number of items written into partitions",
		},
		[]string{"backend"},
	)

	// CacheBytesWritten tracks raw item bytes written by Replace
	CacheBytesWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackcache_cache_bytes_written_total",
			Help: "Total item bytes written into partitions",
		},
		[]string{"backend"},
	)

	// CacheIncompatible tracks partitions skipped for an unreadable schema
	CacheIncompatible = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stackcache_cache_incompatible_partitions_total",
			Help: "Total number of partition reads that hit an incompatible schema version",
		},
		[]string{"backend"},
	)
)

// observe records the outcome of one operation started at start.
func observe(backend, op string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CacheOperations.WithLabelValues(backend, op, result).Inc()
	CacheOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}

// observeMiss records a read that found no readable partition.
func observeMiss(backend, op string, start time.Time) {
	CacheOperations.WithLabelValues(backend, op, "miss").Inc()
	CacheOperationDuration.WithLabelValues(backend, op).Observe(time.Since(start).Seconds())
}
