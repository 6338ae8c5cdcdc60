// Package metrics exposes the Prometheus registry of the proxy.
// All metrics are defined in their respective packages (cache, strategy,
// router, fetch, outbox, connectivity) via promauto and registered with the
// default registerer; this package documents them and serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the registerer every package metric is registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// buildInfo is registered lazily by SetBuildInfo.
var buildInfo = prometheus.NewGaugeVec(prometheus.GaugeOpts{
	Name: "sw_build_info",
	Help: "Build information of the running proxy (value is always 1)",
}, []string{"version", "cache_version"})

// SetBuildInfo registers sw_build_info with the given labels.
// Repeated calls replace the labels.
func SetBuildInfo(version, cacheVersion string) {
	if err := Registry.Register(buildInfo); err != nil {
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			return
		}
	}
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, cacheVersion).Set(1)
}

// Handler serves all registered metrics in the Prometheus exposition format.
func Handler() http.Handler {
	return promhttp.InstrumentMetricHandler(Registry, promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{}))
}

// Metrics Documentation
//
// Cache Metrics (pkg/cache):
//   - sw_cache_hits_total{partition} (Counter): Match found a stored response
//   - sw_cache_misses_total{partition} (Counter): Match found nothing
//   - sw_cache_writes_total{partition} (Counter): Responses stored
//   - sw_cache_errors_total{operation} (Counter): Storage errors (open, get, set, prune)
//   - sw_cache_partitions_pruned_total (Counter): Partitions deleted on activation
//   - sw_cache_not_modified_total (Counter): 304 answers to conditional refreshes
//   - sw_cache_seed_failures_total (Counter): Manifest entries that failed to seed
//
// Strategy Metrics (pkg/strategy):
//   - sw_strategy_responses_total{strategy, source} (Counter): Responses by strategy and source (network, cache, offline)
//   - sw_strategy_failures_total{strategy} (Counter): Requests that failed with no fallback
//   - sw_strategy_refreshes_total{outcome} (Counter): Background refreshes by outcome
//   - sw_strategy_refreshes_in_flight (Gauge): Background refreshes currently running
//
// Router Metrics (pkg/router):
//   - sw_router_requests_total{category} (Counter): Requests by route category
//
// Network Metrics (pkg/fetch):
//   - sw_fetch_requests_total{host, status} (Counter): Network requests by host and status
//   - sw_fetch_request_duration_seconds{host} (Histogram): Network request duration
//   - sw_fetch_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//   - sw_fetch_retries_total{error_class} (Counter): Retry attempts
//   - sw_fetch_retry_backoff_seconds{error_class} (Histogram): Backoff before a retry
//   - sw_fetch_retry_exhausted_total{error_class} (Counter): Requests that exhausted their attempts
//
// Outbox Metrics (pkg/outbox):
//   - sw_outbox_enqueued_total{tag} (Counter): Deferred writes queued
//   - sw_outbox_replayed_total{tag, outcome} (Counter): Replays (sent, rejected, deferred)
//
// Connectivity Metrics (pkg/connectivity):
//   - sw_online (Gauge): 1 while the origin is reachable
//   - sw_connectivity_transitions_total{to} (Counter): Online/offline transitions
//
// Example Prometheus Queries:
//
//   # Share of responses served without the network
//   sum(rate(sw_strategy_responses_total{source!="network"}[5m])) /
//   sum(rate(sw_strategy_responses_total[5m]))
//
//   # Cache Hit Rate per partition
//   sum by (partition) (rate(sw_cache_hits_total[5m])) /
//   (sum by (partition) (rate(sw_cache_hits_total[5m])) + sum by (partition) (rate(sw_cache_misses_total[5m])))
//
//   # Offline right now
//   sw_online == 0
//
//   # Writes waiting for sync
//   sum(increase(sw_outbox_enqueued_total[1h])) - sum(increase(sw_outbox_replayed_total{outcome!="deferred"}[1h]))
//
//   # P95 origin latency
//   histogram_quantile(0.95, rate(sw_fetch_request_duration_seconds_bucket[5m]))
