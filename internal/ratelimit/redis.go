package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/oops"
)

const defaultRedisPrefix = "studiodesk:ratelimit:"

// Redis is a fixed-window counter shared by every replica using the same
// Redis database.
type Redis struct {
	client redis.UniversalClient
	limit  int
	window time.Duration
	prefix string
}

// NewRedis allows limit requests per window for each key.
func NewRedis(client redis.UniversalClient, limit int, window time.Duration) *Redis {
	return &Redis{client: client, limit: limit, window: window, prefix: defaultRedisPrefix}
}

// Allow implements Limiter.
func (l *Redis) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.prefix + key
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return Decision{}, unavailable(err)
	}
	// Fixed window: the TTL is set by the first hit only.
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return Decision{}, unavailable(err)
		}
	}

	if count <= int64(l.limit) {
		return Decision{Allowed: true, Remaining: l.limit - int(count)}, nil
	}

	ttl, err := l.client.TTL(ctx, k).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Decision{}, unavailable(err)
	}
	if ttl <= 0 {
		ttl = l.window
	}
	return Decision{Allowed: false, RetryAfter: ttl}, nil
}

func unavailable(err error) error {
	return oops.Code("RATE_LIMIT_UNAVAILABLE").Wrap(errors.Join(ErrUnavailable, err))
}
