package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheHits tracks cache hits by partition
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"partition"},
	)

	// CacheMisses tracks cache misses by partition
	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"partition"},
	)

	// CacheWrites tracks stored response snapshots
	CacheWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_writes_total",
			Help: "Total number of response snapshots written to cache",
		},
		[]string{"partition"},
	)

	// CacheErrors tracks storage operation errors
	CacheErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sw_cache_errors_total",
			Help: "Total number of cache operation errors",
		},
		[]string{"operation"}, // "open", "get", "set", "prune"
	)

	// PartitionsPruned tracks partitions deleted on activation
	PartitionsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sw_cache_partitions_pruned_total",
			Help: "Total number of outdated cache partitions deleted",
		},
	)

	// NotModified tracks 304 answers to conditional background revalidation
	NotModified = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sw_cache_not_modified_total",
			Help: "Total number of 304 Not Modified revalidation responses",
		},
	)

	// SeedFailures tracks manifest URLs that could not be pre-cached
	SeedFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sw_cache_seed_failures_total",
			Help: "Total number of manifest URLs that failed to seed",
		},
	)
)
