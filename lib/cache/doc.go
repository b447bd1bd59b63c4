// Package cache provides a process-local key/value store with per-entry
// TTL expiry, used by integration clients to memoize read operations and
// to invalidate results after mutations.
//
// The cache holds values of any type, guarded by one cache-scoped lock.
// Reads never fail: an absent or expired key is reported as a miss and
// the caller recomputes. TTLs may be fractional seconds; a TTL <= 0
// means "do not cache".
//
// # Basic Usage
//
//	c := cache.New(cache.DefaultConfig())
//
//	c.Set("issue-123", payload, 5*time.Minute)
//	if v, ok := c.Get("issue-123"); ok {
//	    // use cached payload
//	}
//
//	// After a mutating operation:
//	c.Delete("issue-123")
//
// # Memoization
//
// Memoize wraps an operation so that results are cached per derived key:
//
//	getIssue := cache.Memoize(c, 5*time.Minute,
//	    func(id string) string { return "issue-" + id },
//	    func(ctx context.Context, id string) (*Issue, error) {
//	        return fetchIssue(ctx, id)
//	    })
//
// Errors are never cached. Concurrent misses for the same key each run
// the operation; MemoizeShared collapses them into a single flight.
//
// # Metrics
//
// Cache utilization is reported through the metrics package, labeled by
// the cache name:
//   - reservoir_cache_entries: current entries
//   - reservoir_cache_hits_total: reads served from the cache
//   - reservoir_cache_misses_total: reads that fell through
//   - reservoir_cache_expired_total: entries removed on expiry
package cache
