// Package cache provides named, versioned response cache partitions.
//
// A partition holds request -> response snapshots keyed by method and full
// URL. Only GET requests with 2xx responses are ever stored, so the presence
// of an entry means it was seeded from the install manifest or written by a
// prior successful fetch.
//
// # Basic Usage
//
//	// Create Redis-backed store
//	redisClient := redis.NewClient(&redis.Options{
//		Addr: "localhost:6379",
//	})
//	manager := cache.NewManager(cache.NewRedisStore(redisClient), logger)
//
//	parts := cache.NewPartitions("movietracker-web", "v1")
//
//	// Store a successful response (body remains readable)
//	if err := manager.Put(ctx, parts.Dynamic, req, resp); err != nil {
//		// logged; callers ignore storage failures
//	}
//
//	// Look it up later
//	if cached, ok := manager.Match(ctx, parts.Dynamic, req); ok {
//		return cached, nil
//	}
//
// # Lifecycle
//
//	// Install: pre-cache the manifest, failures are per URL
//	report := manager.Seed(ctx, parts.Static, manifestURLs, httpClient)
//
//	// Activate: drop partitions from older versions
//	deleted, err := manager.Prune(ctx, parts.Current())
//
// # Storage
//
// RedisStore keeps the set of partition names in "sw:partitions" and each
// partition in a hash "sw:partition:<name>" mapping "METHOD url" to a JSON
// snapshot. MemoryStore offers the same semantics in process memory.
//
// There is no per-entry eviction: entries disappear only when their whole
// partition is pruned.
//
// # Metrics
//
//   - sw_cache_hits_total{partition} - Cache hits
//   - sw_cache_misses_total{partition} - Cache misses
//   - sw_cache_writes_total{partition} - Snapshots written
//   - sw_cache_errors_total{operation} - Storage errors
//   - sw_cache_partitions_pruned_total - Partitions deleted on activation
//   - sw_cache_seed_failures_total - Manifest URLs that failed to seed
//   - sw_cache_not_modified_total - 304 answers to background revalidation
package cache
