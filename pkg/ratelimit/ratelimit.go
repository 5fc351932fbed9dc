// Package ratelimit implements a token-bucket rate limiter: per logical
// key, a bucket holding {capacity, refill_rate, tokens, last_refill_ts},
// refilled lazily on each consume call rather than by a background
// ticker. This throttles outbound calls to upstream indexers,
// independent of any HTTP-layer rate limiting.
//
// MemoryLimiter keeps buckets in process memory for single-instance
// deployments; RedisLimiter runs the same refill/deduct arithmetic
// atomically server-side so multiple gateway instances can share one
// budget.
package ratelimit

import "context"

// Limiter is the consume operation common to both the in-memory and
// Redis-backed implementations.
type Limiter interface {
	// Consume atomically refills key's bucket to
	// min(capacity, tokens + elapsed*refill_rate), deducts min(granted, n)
	// from it, and returns the number of tokens actually granted.
	Consume(ctx context.Context, key string, n uint64) (granted uint64, err error)
}

// Config is a bucket's shape, set once per key at first use.
type Config struct {
	Capacity   uint64
	RefillRate float64 // tokens per second
}
