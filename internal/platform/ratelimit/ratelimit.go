// Package ratelimit bounds the aggregate request rate issued to the
// upstream API across horizontally-scaled worker processes, via a Redis
// Lua token bucket. This is an ambient scaling concern (spec.md §5 permits
// horizontal scaling of each role) rather than a core pipeline invariant:
// the HTTP client still functions if no limiter is configured.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter decides whether a caller may spend cost tokens under key right now.
type Limiter interface {
	// Allow reports whether the request may proceed, and if not, how long
	// to wait before retrying.
	Allow(ctx context.Context, key string, cost int64) (allowed bool, retryAfter time.Duration, err error)
}

// BucketConfig describes one token bucket's capacity and refill rate.
type BucketConfig struct {
	Capacity   int64
	RefillRate float64 // tokens per second
}

// NewBucketConfigFromPerMinute derives a bucket sized for a per-minute rate.
func NewBucketConfigFromPerMinute(perMinute int) BucketConfig {
	if perMinute <= 0 {
		return BucketConfig{}
	}
	return BucketConfig{Capacity: int64(perMinute), RefillRate: float64(perMinute) / 60.0}
}

// RedisLimiter implements Limiter with a single shared Lua token-bucket
// script, so every worker process observes the same bucket state.
type RedisLimiter struct {
	redis  *redis.Client
	bucket BucketConfig
	script *redis.Script
}

// New constructs a RedisLimiter bound to a single named bucket (the
// upstream host); rdb may be nil, in which case Allow always permits the
// request (fail-open when Redis is not configured).
func New(rdb *redis.Client, bucket BucketConfig) *RedisLimiter {
	return &RedisLimiter{redis: rdb, bucket: bucket, script: redis.NewScript(luaTokenBucketScript)}
}

const luaTokenBucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local cost = tonumber(ARGV[4])

local tokens = capacity
local last_refill = now

local data = redis.call("HMGET", key, "tokens", "last_refill")
if data[1] ~= false and data[1] ~= nil then
  tokens = tonumber(data[1])
end
if data[2] ~= false and data[2] ~= nil then
  last_refill = tonumber(data[2])
end

local delta = now - last_refill
if delta < 0 then delta = 0 end

tokens = math.min(capacity, tokens + delta * refill_rate)
last_refill = now

local allowed = 0
local retry_after = 0

if tokens >= cost then
  tokens = tokens - cost
  allowed = 1
else
  local shortage = cost - tokens
  if refill_rate > 0 then
    retry_after = shortage / refill_rate
  end
end

redis.call("HMSET", key, "tokens", tokens, "last_refill", last_refill)
redis.call("EXPIRE", key, 3600)

return { allowed, tostring(retry_after) }
`

// Allow reports whether key may spend cost tokens now.
func (l *RedisLimiter) Allow(ctx context.Context, key string, cost int64) (bool, time.Duration, error) {
	if l == nil || l.redis == nil || l.bucket.Capacity <= 0 {
		return true, 0, nil
	}
	if cost <= 0 {
		cost = 1
	}
	nowSec := float64(time.Now().UnixNano()) / 1e9
	res, err := l.script.Run(ctx, l.redis, []string{"rate:" + key}, l.bucket.Capacity, l.bucket.RefillRate, nowSec, cost).Result()
	if err != nil {
		slog.Error("rate limiter script error", slog.String("key", key), slog.Any("error", err))
		return true, 0, err // fail open
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) < 2 {
		return true, 0, nil
	}
	allowed := toInt64(vals[0]) == 1
	retryAfterSec := toFloat64(vals[1])
	return allowed, time.Duration(retryAfterSec * float64(time.Second)), nil
}

func toInt64(v interface{}) int64 {
	switch x := v.(type) {
	case int64:
		return x
	case string:
		var n int64
		_, _ = fmt.Sscan(x, &n)
		return n
	default:
		return 0
	}
}

func toFloat64(v interface{}) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case string:
		var f float64
		_, _ = fmt.Sscan(x, &f)
		return f
	default:
		return 0
	}
}
