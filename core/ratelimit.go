package core

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginLimiter decides whether another login attempt from key is allowed.
type LoginLimiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RedisLoginLimiter counts attempts per key in fixed windows shared by all API instances.
// Every attempt counts, successful or not, so the limit reveals nothing about
// which usernames exist.
type RedisLoginLimiter struct {
	client redis.Cmdable
	limit  int64
	window time.Duration
	prefix string
}

func NewRedisLoginLimiter(client redis.Cmdable, limit int, window time.Duration) *RedisLoginLimiter {
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLoginLimiter{
		client: client,
		limit:  int64(limit),
		window: window,
		prefix: "ratelimit:login",
	}
}

// Allow increments the counter for key. On Redis errors it fails open and
// returns the error for logging.
func (l *RedisLoginLimiter) Allow(ctx context.Context, key string) (bool, error) {
	redisKey := fmt.Sprintf("%s:%s", l.prefix, key)
	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return true, fmt.Errorf("redis incr: %w", err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, fmt.Errorf("redis expire: %w", err)
		}
	}
	return count <= l.limit, nil
}

// Reset clears the counter for key.
func (l *RedisLoginLimiter) Reset(ctx context.Context, key string) error {
	return l.client.Del(ctx, fmt.Sprintf("%s:%s", l.prefix, key)).Err()
}
