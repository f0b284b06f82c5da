package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/trezcool/kazi/core"
)

const keyPrefix = "kazi:ratelimit:"

// RedisLimiter is a fixed window counter: the first hit on a key starts a window of `window`,
// every hit within it increments the counter. A nil client allows everything.
type RedisLimiter struct {
	rdb *redis.Client
}

var _ core.Limiter = (*RedisLimiter)(nil)

func NewRedisLimiter(rdb *redis.Client) *RedisLimiter {
	return &RedisLimiter{rdb: rdb}
}

// NewRedisClient connects to the configured redis server. Returns nil when no address is configured.
func NewRedisClient(ctx context.Context, conf *core.Config) (*redis.Client, error) {
	if conf.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Redis.Addr,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, errors.Wrap(err, "pinging redis")
	}
	return rdb, nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	if l == nil || l.rdb == nil || limit <= 0 || window <= 0 {
		return true, nil
	}

	k := keyPrefix + key
	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		// NX: only the first hit of a window sets its expiry
		pipe.ExpireNX(ctx, k, window)
		return nil
	})
	if err != nil {
		return false, errors.Wrap(err, "counting hits")
	}
	return incr.Val() <= int64(limit), nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if l == nil || l.rdb == nil {
		return nil
	}
	if err := l.rdb.Del(ctx, keyPrefix+key).Err(); err != nil {
		return errors.Wrap(err, "resetting hits")
	}
	return nil
}
