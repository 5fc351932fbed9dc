package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

func nowUnixWallClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// consumeScript performs the refill/deduct/expire sequence atomically
// server-side, so concurrent callers across gateway instances never
// race on the same bucket. KEYS[1] is the bucket's hash key; ARGV is
// capacity, refill_rate, requested tokens, now (unix seconds as a
// float), and a TTL in seconds used to let idle buckets expire instead
// of accumulating forever.
var consumeScript = redis.NewScript(`
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refillRate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])
local ttl = tonumber(ARGV[5])

local tokens = capacity
local lastRefill = now

local existing = redis.call("HMGET", key, "tokens", "last_refill")
if existing[1] and existing[2] then
  tokens = tonumber(existing[1])
  lastRefill = tonumber(existing[2])
  local elapsed = now - lastRefill
  if elapsed > 0 then
    tokens = math.min(capacity, tokens + elapsed * refillRate)
  end
end

local granted = requested
if tokens < requested then
  granted = math.floor(tokens)
end
tokens = tokens - granted

redis.call("HMSET", key, "tokens", tokens, "last_refill", now)
redis.call("EXPIRE", key, ttl)

return math.floor(granted)
`)

// Clock abstracts "now" for deterministic tests; production callers
// leave it nil and get time.Now via nowUnix's default.
type Clock func() float64

// RedisLimiter is a Limiter shared across gateway instances, backed by
// a Redis hash per key and an atomic Lua script for the refill/deduct
// sequence.
type RedisLimiter struct {
	client     redis.Scripter
	cfg        Config
	keyPrefix  string
	idleTTLSec int64
	clock      Clock
}

type RedisConfig struct {
	Client     redis.Scripter
	Bucket     Config
	KeyPrefix  string // defaults to "ratelimit:"
	IdleTTLSec int64  // defaults to 3600; buckets idle this long expire
	Clock      Clock  // overridable for tests; defaults to wall-clock seconds
}

func NewRedisLimiter(cfg RedisConfig) *RedisLimiter {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "ratelimit:"
	}
	ttl := cfg.IdleTTLSec
	if ttl <= 0 {
		ttl = 3600
	}
	return &RedisLimiter{
		client:     cfg.Client,
		cfg:        cfg.Bucket,
		keyPrefix:  prefix,
		idleTTLSec: ttl,
		clock:      cfg.Clock,
	}
}

// Consume implements Limiter by invoking consumeScript atomically.
func (l *RedisLimiter) Consume(ctx context.Context, key string, n uint64) (uint64, error) {
	now := l.nowUnix()
	res, err := consumeScript.Run(ctx, l.client,
		[]string{l.keyPrefix + key},
		l.cfg.Capacity, l.cfg.RefillRate, n, now, l.idleTTLSec,
	).Result()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: consume script: %w", err)
	}
	granted, ok := res.(int64)
	if !ok {
		return 0, fmt.Errorf("ratelimit: unexpected script result type %T", res)
	}
	return uint64(granted), nil
}

func (l *RedisLimiter) nowUnix() float64 {
	if l.clock != nil {
		return l.clock()
	}
	return nowUnixWallClock()
}
