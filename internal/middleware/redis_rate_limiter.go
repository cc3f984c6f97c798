package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidstream/backend/internal/config"
	"github.com/vidstream/backend/internal/logging"
)

const redisRateLimitPrefix = "vidstream:ratelimit:"

// RedisRateLimiter is a fixed-window limiter whose counters live in Redis, so the limit holds
// across every replica sharing the server.
type RedisRateLimiter struct {
	client redis.UniversalClient
	budget int64
	window time.Duration
	now    func() time.Time
}

// NewRedisRateLimiter allows cfg.Requests plus cfg.Burst events per key in each window, the
// most a token bucket with the same settings admits within one window.
func NewRedisRateLimiter(client redis.UniversalClient, cfg config.RateLimitConfig) *RedisRateLimiter {
	cfg = normalizeLimits(cfg)
	return &RedisRateLimiter{
		client: client,
		budget: int64(cfg.Requests + cfg.Burst),
		window: cfg.Window,
		now:    time.Now,
	}
}

// Allow counts the event against the current window. Redis failures let the request through.
func (l *RedisRateLimiter) Allow(ctx context.Context, key string) Decision {
	if key == "" {
		key = "unknown"
	}

	now := l.now().UnixNano()
	index := now / int64(l.window)
	redisKey := fmt.Sprintf("%s%s:%d", redisRateLimitPrefix, key, index)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, redisKey)
		pipe.Expire(ctx, redisKey, l.window)
		return nil
	})
	if err != nil {
		logging.FromContext(ctx).Warn("rate limiter unavailable, allowing request", "error", err)
		return Decision{Allowed: true}
	}

	if incr.Val() <= l.budget {
		return Decision{Allowed: true}
	}
	windowEnd := (index + 1) * int64(l.window)
	return Decision{RetryAfter: time.Duration(windowEnd - now)}
}

// WithNowFunc allows tests to override the time source.
func (l *RedisRateLimiter) WithNowFunc(now func() time.Time) {
	l.now = now
}
