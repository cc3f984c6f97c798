package handlers

import (
	"context"
	"fmt"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/vidstream/backend/internal/apperror"
	"github.com/vidstream/backend/internal/middleware"
)

// RateLimiter is the minimal interface required to guard sensitive endpoints.
type RateLimiter interface {
	Allow(ctx context.Context, key string) middleware.Decision
}

// rateLimited rejects requests once the caller exhausts its budget for scope. Rejections carry
// a Retry-After header and the same wait in the envelope's errors.
func rateLimited(limiter RateLimiter, scope string, next handlerFunc) handlerFunc {
	return func(w http.ResponseWriter, r *http.Request) error {
		if limiter == nil {
			return next(w, r)
		}

		decision := limiter.Allow(r.Context(), rateLimitKey(r, scope))
		if !decision.Allowed {
			seconds := retryAfterSeconds(decision)
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			return apperror.New(apperror.TooManyRequests, "too many requests, please try again later").
				WithErrors(fmt.Sprintf("retry after %d seconds", seconds))
		}
		return next(w, r)
	}
}

func retryAfterSeconds(d middleware.Decision) int {
	seconds := int(math.Ceil(d.RetryAfter.Seconds()))
	if seconds < 1 {
		return 1
	}
	return seconds
}

func rateLimitKey(r *http.Request, scope string) string {
	ip := clientIP(r)
	if scope == "" {
		return ip
	}
	return fmt.Sprintf("%s:%s", scope, ip)
}

func clientIP(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			return strings.TrimSpace(parts[0])
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	return strings.TrimSpace(r.RemoteAddr)
}
