package middleware

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/vidstream/backend/internal/config"
)

func TestTokenBucketLimiterBurstAndRefill(t *testing.T) {
	ctx := context.Background()
	limiter := NewTokenBucketLimiter(config.RateLimitConfig{Requests: 1, Window: time.Second, Burst: 2, IdleTTL: time.Minute})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow(ctx, "1.2.3.4").Allowed || !limiter.Allow(ctx, "1.2.3.4").Allowed {
		t.Fatal("expected burst of two to be allowed")
	}

	denied := limiter.Allow(ctx, "1.2.3.4")
	if denied.Allowed {
		t.Fatal("expected third request to be limited")
	}
	if denied.RetryAfter != time.Second {
		t.Fatalf("expected retry after one second, got %v", denied.RetryAfter)
	}
	if !limiter.Allow(ctx, "5.6.7.8").Allowed {
		t.Fatal("expected other keys to be unaffected")
	}

	now = now.Add(500 * time.Millisecond)
	if d := limiter.Allow(ctx, "1.2.3.4"); d.Allowed || d.RetryAfter != 500*time.Millisecond {
		t.Fatalf("expected rejected attempts not to consume tokens, got %+v", d)
	}

	now = now.Add(500 * time.Millisecond)
	if !limiter.Allow(ctx, "1.2.3.4").Allowed {
		t.Fatal("expected token to refill after the window")
	}
}

func TestTokenBucketLimiterExpiresIdleBuckets(t *testing.T) {
	ctx := context.Background()
	limiter := NewTokenBucketLimiter(config.RateLimitConfig{Requests: 1, Window: time.Second, Burst: 1, IdleTTL: time.Minute})

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	limiter.Allow(ctx, "idle")
	now = now.Add(2 * time.Minute)
	limiter.Allow(ctx, "active")

	limiter.mu.Lock()
	_, exists := limiter.buckets["idle"]
	limiter.mu.Unlock()
	if exists {
		t.Fatal("expected idle bucket to be collected")
	}
}

func newTestRedisLimiter(t *testing.T, cfg config.RateLimitConfig) (*RedisRateLimiter, *miniredis.Miniredis) {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisRateLimiter(client, cfg), server
}

func TestRedisRateLimiterFixedWindow(t *testing.T) {
	ctx := context.Background()
	limiter, server := newTestRedisLimiter(t, config.RateLimitConfig{Requests: 1, Window: time.Minute, Burst: 1})

	now := time.Date(2024, 1, 1, 0, 0, 15, 0, time.UTC)
	limiter.WithNowFunc(func() time.Time { return now })

	if !limiter.Allow(ctx, "login:1.2.3.4").Allowed || !limiter.Allow(ctx, "login:1.2.3.4").Allowed {
		t.Fatal("expected requests plus burst to be allowed")
	}

	denied := limiter.Allow(ctx, "login:1.2.3.4")
	if denied.Allowed {
		t.Fatal("expected third request in the window to be limited")
	}
	if denied.RetryAfter != 45*time.Second {
		t.Fatalf("expected retry at the end of the window, got %v", denied.RetryAfter)
	}
	if !limiter.Allow(ctx, "login:5.6.7.8").Allowed {
		t.Fatal("expected other keys to be unaffected")
	}

	keys := server.Keys()
	if len(keys) != 2 {
		t.Fatalf("expected two counters, got %v", keys)
	}
	if ttl := server.TTL(keys[0]); ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected counter to expire within the window, got %v", ttl)
	}

	now = now.Add(time.Minute)
	if !limiter.Allow(ctx, "login:1.2.3.4").Allowed {
		t.Fatal("expected a new window to reset the budget")
	}
}

func TestRedisRateLimiterFailsOpen(t *testing.T) {
	limiter, server := newTestRedisLimiter(t, config.RateLimitConfig{Requests: 1, Window: time.Minute})
	server.Close()

	for i := 0; i < 3; i++ {
		if !limiter.Allow(context.Background(), "key").Allowed {
			t.Fatal("expected requests to pass while redis is unavailable")
		}
	}
}
