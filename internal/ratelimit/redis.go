package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "storefront:ratelimit:"

// redisCounter is the part of *redis.Client the limiter uses.
type redisCounter interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
}

var _ Limiter = (*RedisLimiter)(nil)

// RedisLimiter is a fixed-window limiter shared by every instance that
// points at the same Redis.
type RedisLimiter struct {
	client redisCounter
	limit  int
	window time.Duration
	now    func() time.Time
}

// NewRedisLimiter allows limit requests per window. Non-positive values fall
// back to DefaultLimit and DefaultWindow.
func NewRedisLimiter(client redisCounter, limit int, window time.Duration) *RedisLimiter {
	limit, window = normalize(limit, window)
	return &RedisLimiter{client: client, limit: limit, window: window, now: time.Now}
}

// Connect builds a client from a redis:// URL or a bare host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

func (l *RedisLimiter) Allow(ctx context.Context, key string) (bool, error) {
	bucket := l.now().UnixNano() / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", redisKeyPrefix, key, bucket)

	count, err := l.client.Incr(ctx, redisKey).Result()
	if err != nil {
		return false, fmt.Errorf("redis: incr %s: %w", redisKey, err)
	}
	if count == 1 {
		if err := l.client.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return false, fmt.Errorf("redis: expire %s: %w", redisKey, err)
		}
	}
	return count <= int64(l.limit), nil
}
