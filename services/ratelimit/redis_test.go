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

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(s.Close)
	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return s, rdb
}

func TestRedisLimiter_Allow(t *testing.T) {
	s, rdb := newMiniRedis(t)
	limiter := NewRedisLimiter(rdb)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		ok, err := limiter.Allow(ctx, "login:bob", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "hit %d", i)
	}
	ok, err := limiter.Allow(ctx, "login:bob", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// other keys have their own window
	ok, err = limiter.Allow(ctx, "login:ann", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	// later hits do not extend the window
	ttl := s.TTL(keyPrefix + "login:bob")
	assert.True(t, ttl > 0 && ttl <= time.Minute)

	s.FastForward(time.Minute + time.Second)
	ok, err = limiter.Allow(ctx, "login:bob", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "new window")
}

func TestRedisLimiter_Reset(t *testing.T) {
	_, rdb := newMiniRedis(t)
	limiter := NewRedisLimiter(rdb)
	ctx := context.Background()

	_, _ = limiter.Allow(ctx, "otp:1", 1, time.Minute)
	ok, _ := limiter.Allow(ctx, "otp:1", 1, time.Minute)
	assert.False(t, ok)

	require.NoError(t, limiter.Reset(ctx, "otp:1"))
	ok, err := limiter.Allow(ctx, "otp:1", 1, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisLimiter_Disabled(t *testing.T) {
	ctx := context.Background()
	for _, limiter := range []*RedisLimiter{nil, NewRedisLimiter(nil)} {
		for i := 0; i < 10; i++ {
			ok, err := limiter.Allow(ctx, "k", 1, time.Minute)
			require.NoError(t, err)
			assert.True(t, ok)
		}
		assert.NoError(t, limiter.Reset(ctx, "k"))
	}

	_, rdb := newMiniRedis(t)
	ok, err := NewRedisLimiter(rdb).Allow(ctx, "k", 0, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "no limit")
}
