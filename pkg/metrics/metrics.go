// Package metrics exposes the Prometheus registry of the import service.
// All metrics are defined in their respective packages (importer, ratelimit,
// source, cache, jobstore, directory) to maintain modularity and avoid
// circular dependencies.
//
// This package provides the HTTP handler and documentation for all available metrics.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by the import service.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Handler returns the /metrics handler for the default gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})
}

// Metrics Documentation
//
// Engine Metrics (pkg/importer):
//   - import_batches_total{result} (Counter): DriveBatch calls by result (running, paused, completed, error, noop, failed)
//   - import_items_total{outcome} (Counter): Processed items by outcome (imported, merged, skipped, error)
//   - import_transitions_total{to} (Counter): Job status transitions by target status
//   - import_batch_duration_seconds (Histogram): Wall time of one DriveBatch call
//
// Rate Limit Metrics (pkg/ratelimit):
//   - import_rate_limit_remaining{scope, resource} (Gauge): Calls left in the last observed window of each quota
//   - import_rate_limit_denials_total{stage} (Counter): Batches refused by the quota gate
//
// Upstream Metrics (pkg/source):
//   - import_upstream_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - import_upstream_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - import_upstream_retries_total{error_class} (Counter): Retry attempts by error class
//   - import_upstream_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - import_upstream_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Cache Metrics (pkg/cache):
//   - import_cache_hits_total (Counter): Profile cache hits
//   - import_cache_misses_total (Counter): Profile cache misses
//   - import_cache_not_modified_total (Counter): 304 Not Modified responses answered from cache
//   - import_cache_errors_total{operation} (Counter): Cache operation errors
//
// Storage Metrics (pkg/jobstore, pkg/directory):
//   - import_store_errors_total{operation} (Counter): Job store failures
//   - import_directory_upserts_total{result} (Counter): Directory upserts by result
//
// Example Prometheus Queries:
//
//   # Item error rate
//   sum(rate(import_items_total{outcome="error"}[5m])) / sum(rate(import_items_total[5m]))
//
//   # Quota running low
//   import_rate_limit_remaining{resource="core"} < 20
//
//   # Conditional request savings
//   rate(import_cache_not_modified_total[5m]) / rate(import_upstream_requests_total{endpoint="profile"}[5m])
//
//   # P95 upstream latency
//   histogram_quantile(0.95, rate(import_upstream_request_duration_seconds_bucket[5m]))
