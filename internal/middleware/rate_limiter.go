package middleware

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vidstream/backend/internal/config"
)

// Decision is the result of charging one request against a key's budget.
type Decision struct {
	Allowed bool
	// RetryAfter is how long a rejected caller should wait before its next attempt.
	RetryAfter time.Duration
}

// RateLimiter charges requests against per-key budgets.
type RateLimiter interface {
	Allow(ctx context.Context, key string) Decision
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// TokenBucketLimiter keeps one token bucket per key in process memory. Buckets idle for longer
// than the configured TTL are dropped.
type TokenBucketLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	now     func() time.Time
}

// NewTokenBucketLimiter refills cfg.Requests tokens per cfg.Window and holds at most cfg.Burst
// tokens per key.
func NewTokenBucketLimiter(cfg config.RateLimitConfig) *TokenBucketLimiter {
	cfg = normalizeLimits(cfg)
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	ttl := cfg.IdleTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &TokenBucketLimiter{
		buckets: make(map[string]*bucket),
		limit:   rate.Every(cfg.Window / time.Duration(cfg.Requests)),
		burst:   burst,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Allow takes a token from key's bucket. A rejected request does not consume a token.
func (l *TokenBucketLimiter) Allow(_ context.Context, key string) Decision {
	if key == "" {
		key = "unknown"
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b := l.bucketLocked(key, now)
	l.collectLocked(now)

	reservation := b.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return Decision{RetryAfter: time.Duration(float64(time.Second) / float64(l.limit))}
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return Decision{RetryAfter: delay}
	}
	return Decision{Allowed: true}
}

func (l *TokenBucketLimiter) bucketLocked(key string, now time.Time) *bucket {
	if b, ok := l.buckets[key]; ok {
		b.lastSeen = now
		return b
	}
	b := &bucket{limiter: rate.NewLimiter(l.limit, l.burst), lastSeen: now}
	l.buckets[key] = b
	return b
}

func (l *TokenBucketLimiter) collectLocked(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.lastSeen) > l.ttl {
			delete(l.buckets, key)
		}
	}
}

// WithNowFunc allows tests to override the time source.
func (l *TokenBucketLimiter) WithNowFunc(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

func normalizeLimits(cfg config.RateLimitConfig) config.RateLimitConfig {
	if cfg.Requests <= 0 {
		cfg.Requests = 1
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.Burst < 0 {
		cfg.Burst = 0
	}
	return cfg
}
