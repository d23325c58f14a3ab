package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllowFailsOpenWithNilLimiter(t *testing.T) {
	var l *RedisLimiter
	allowed, retryAfter, err := l.Allow(context.Background(), "upstream", 1)
	assert.True(t, allowed)
	assert.Zero(t, retryAfter)
	assert.NoError(t, err)
}

func TestAllowFailsOpenWithZeroCapacityBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, BucketConfig{})

	allowed, _, err := l.Allow(context.Background(), "upstream", 1)
	assert.True(t, allowed)
	assert.NoError(t, err)
}

func TestAllowPermitsWithinCapacityThenDenies(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, BucketConfig{Capacity: 2, RefillRate: 0})

	allowed1, _, err := l.Allow(context.Background(), "upstream", 1)
	require.NoError(t, err)
	assert.True(t, allowed1)

	allowed2, _, err := l.Allow(context.Background(), "upstream", 1)
	require.NoError(t, err)
	assert.True(t, allowed2)

	allowed3, retryAfter, err := l.Allow(context.Background(), "upstream", 1)
	require.NoError(t, err)
	assert.False(t, allowed3)
	assert.Zero(t, retryAfter)
}

func TestAllowRefillsOverTime(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	l := New(rdb, BucketConfig{Capacity: 1, RefillRate: 1e9})

	allowed1, _, err := l.Allow(context.Background(), "upstream", 1)
	require.NoError(t, err)
	assert.True(t, allowed1)

	time.Sleep(time.Millisecond)

	allowed2, _, err := l.Allow(context.Background(), "upstream", 1)
	require.NoError(t, err)
	assert.True(t, allowed2)
}

func TestNewBucketConfigFromPerMinute(t *testing.T) {
	cfg := NewBucketConfigFromPerMinute(120)
	assert.Equal(t, int64(120), cfg.Capacity)
	assert.InDelta(t, 2.0, cfg.RefillRate, 0.001)

	zero := NewBucketConfigFromPerMinute(0)
	assert.Equal(t, BucketConfig{}, zero)
}
