// Package cache stores upstream detail responses in Redis so later imports can
// revalidate them with conditional requests.
//
// Unlike a freshness cache, entries here are never served without asking the
// upstream first. Their value is the validator: a request carrying
// If-None-Match that comes back 304 Not Modified does not count against the
// upstream quota, and the stored body stands in for the response.
//
// # Basic Usage
//
//	manager := cache.NewManager(redisClient, cache.DefaultRetention)
//
//	key := cache.Key{Resource: "profile", ID: "583231"}
//
//	entry, err := manager.Get(ctx, key)
//	if err == nil && cache.CanRevalidate(entry) {
//		cache.AddConditionalHeaders(req, entry)
//	}
//
//	// After a 200
//	entry, err = cache.ResponseToEntry(resp, time.Now())
//	_ = manager.Set(ctx, key, entry)
//
//	// After a 304
//	_ = manager.Touch(ctx, key)
//
// # Metrics
//
//   - import_cache_hits_total - entries found
//   - import_cache_misses_total - entries missing
//   - import_cache_not_modified_total - 304 responses served from an entry
//   - import_cache_errors_total{operation} - Redis or decode failures
package cache
