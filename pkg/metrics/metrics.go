// Package metrics exposes the Prometheus registry shared by the stackcache
// packages. Every series is defined next to the code that records it
// (transport, ratelimit, pagination, cache, syncer) and registered through
// promauto on the default registry.
package metrics

import (
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Namespace prefixes every stackcache series.
const Namespace = "stackcache"

// Registry is the registerer all stackcache metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics served at /metrics.
var Gatherer = prometheus.DefaultGatherer

// Handler serves Gatherer in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Families returns the sorted names of the stackcache series that currently
// have samples. Labelled series show up after their first observation.
func Families() ([]string, error) {
	mfs, err := Gatherer.Gather()
	if err != nil {
		return nil, err
	}
	var names []string
	for _, mf := range mfs {
		if strings.HasPrefix(mf.GetName(), Namespace+"_") {
			names = append(names, mf.GetName())
		}
	}
	sort.Strings(names)
	return names, nil
}

// Metrics Documentation
//
// Transport (pkg/transport):
//   - stackcache_requests_total{resource, status} (Counter): API requests by resource and HTTP status
//   - stackcache_request_duration_seconds{resource} (Histogram): request duration
//   - stackcache_errors_total{class} (Counter): errors by class (client, server, rate_limit, network)
//   - stackcache_retries_total{error_class} (Counter): retry attempts
//   - stackcache_retry_backoff_seconds{error_class} (Histogram): retry backoff
//   - stackcache_retry_exhausted_total{error_class} (Counter): pages that exhausted their retries
//
// Throttle and quota (pkg/ratelimit):
//   - stackcache_dispatched_requests_total{mode} (Counter): requests sent through a limiter
//   - stackcache_throttled_requests_total{mode} (Counter): requests that had to wait for their slot
//   - stackcache_throttle_wait_seconds{mode} (Histogram): time spent waiting for the slot
//   - stackcache_quota_remaining (Gauge): last quota_remaining reported by the API
//   - stackcache_quota_blocks_total (Counter): requests refused while the quota is exhausted
//   - stackcache_backoff_waits_total (Counter): requests delayed by a server backoff
//
// Paging (pkg/pagination):
//   - stackcache_pages_fetched_total{resource} (Counter)
//   - stackcache_items_fetched_total{resource} (Counter)
//   - stackcache_parse_errors_total{resource} (Counter): bodies that were not a valid envelope
//
// Cache (pkg/cache):
//   - stackcache_cache_operations_total{backend, op, result} (Counter): result is ok, miss or error
//   - stackcache_cache_operation_duration_seconds{backend, op} (Histogram)
//   - stackcache_cache_items_written_total{backend} (Counter)
//   - stackcache_cache_bytes_written_total{backend} (Counter)
//   - stackcache_cache_incompatible_partitions_total{backend} (Counter): reads skipped for a schema mismatch
//
// Sync (pkg/syncer):
//   - stackcache_sync_total{mode, outcome} (Counter): refreshes by outcome (fresh, cached, degraded, no_cached_data)
//   - stackcache_sync_failures_total{mode} (Counter)
//   - stackcache_sync_duration_seconds{mode} (Histogram)
//   - stackcache_sync_items (Histogram): items delivered per refresh
//   - stackcache_sync_cache_write_failures_total (Counter): fresh data that could not be cached
//
// Example Prometheus Queries:
//
//   # Share of refreshes served from the cache after a failed fetch
//   sum(rate(stackcache_sync_total{outcome="degraded"}[5m])) / sum(rate(stackcache_sync_total[5m]))
//
//   # Quota running low
//   stackcache_quota_remaining < 50
//
//   # P95 throttle wait
//   histogram_quantile(0.95, rate(stackcache_throttle_wait_seconds_bucket[5m]))
