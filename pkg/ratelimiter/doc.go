// Package ratelimiter throttles HTTP endpoints with a token bucket.
//
// A Limiter holds Capacity tokens and adds RefillRate tokens every
// RefillInterval. MemoryStore keeps buckets per process; RedisStore keeps
// them in Redis so that all replicas share one budget.
//
//	store := ratelimiter.NewMemoryStore()
//	defer store.Close()
//
//	limiter, err := ratelimiter.New(store, ratelimiter.Config{
//		Capacity:       5,
//		RefillRate:     1,
//		RefillInterval: 10 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//
//	r.With(ratelimiter.Middleware(limiter,
//		ratelimiter.Composite(ratelimiter.ByRoute, ratelimiter.ByRemoteIP),
//	)).Post("/process-emails", handler)
//
// Allowed responses carry X-RateLimit-Limit, X-RateLimit-Remaining and
// X-RateLimit-Reset headers; denied ones also carry Retry-After.
package ratelimiter
