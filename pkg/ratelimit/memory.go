package ratelimit

import (
	"context"
	"sync"
	"time"
)

// bucket holds a token count and the timestamp it was last refilled
// against.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// MemoryLimiter is an in-process Limiter, for single-instance
// deployments or tests. Not safe to share across processes — use
// RedisLimiter when multiple gateway instances must share one budget.
type MemoryLimiter struct {
	mu      sync.Mutex
	cfg     Config
	buckets map[string]*bucket
	now     func() time.Time
}

func NewMemoryLimiter(cfg Config) *MemoryLimiter {
	return &MemoryLimiter{
		cfg:     cfg,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Consume implements Limiter.
func (l *MemoryLimiter) Consume(ctx context.Context, key string, n uint64) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{tokens: float64(l.cfg.Capacity), lastRefill: now}
		l.buckets[key] = b
	}

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * l.cfg.RefillRate
		if b.tokens > float64(l.cfg.Capacity) {
			b.tokens = float64(l.cfg.Capacity)
		}
		b.lastRefill = now
	}

	granted := n
	if b.tokens < float64(n) {
		granted = uint64(b.tokens)
	}
	b.tokens -= float64(granted)
	return granted, nil
}

// Reset clears a key's bucket, returning it to full capacity on next use.
func (l *MemoryLimiter) Reset(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
}
