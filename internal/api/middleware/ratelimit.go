package middleware

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// RateLimit caps requests per client in a fixed window.
type RateLimit struct {
	Requests int
	Window   time.Duration
}

// DefaultLimits guards the endpoints that start pipeline work.
func DefaultLimits() map[string]RateLimit {
	return map[string]RateLimit{
		"POST /stories": {Requests: 10, Window: time.Minute},
		"POST /send":    {Requests: 120, Window: time.Minute},
	}
}

// RateLimiter counts requests in Redis so limits hold across replicas.
type RateLimiter struct {
	client *redis.Client
	limits map[string]RateLimit
	logger zerolog.Logger
}

// NewRateLimiter creates a limiter. A nil client disables limiting.
func NewRateLimiter(client *redis.Client, limits map[string]RateLimit, logger zerolog.Logger) *RateLimiter {
	if limits == nil {
		limits = DefaultLimits()
	}
	return &RateLimiter{client: client, limits: limits, logger: logger}
}

// ClientIP is the peer address of the connection. Forwarding headers are
// ignored so clients cannot choose their own rate limit key.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// CheckAndIncrement counts one request against key.
// Returns (allowed, remaining, resetAt).
func (rl *RateLimiter) CheckAndIncrement(ctx context.Context, key string, limit RateLimit) (bool, int, time.Time) {
	now := time.Now()
	bucket := now.Unix() / int64(limit.Window.Seconds())
	windowKey := fmt.Sprintf("%s:%d", key, bucket)
	resetAt := time.Unix((bucket+1)*int64(limit.Window.Seconds()), 0)

	pipe := rl.client.TxPipeline()
	incr := pipe.Incr(ctx, windowKey)
	pipe.Expire(ctx, windowKey, limit.Window*2)
	if _, err := pipe.Exec(ctx); err != nil {
		// Fail open.
		rl.logger.Warn().Err(err).Msg("rate limit check failed")
		return true, limit.Requests, resetAt
	}

	count := int(incr.Val())
	remaining := limit.Requests - count
	if remaining < 0 {
		remaining = 0
	}
	return count <= limit.Requests, remaining, resetAt
}

// Middleware returns the rate limiting middleware.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if rl.client == nil {
			next.ServeHTTP(w, r)
			return
		}
		limit, ok := rl.limits[r.Method+" "+r.URL.Path]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ip := ClientIP(r)
		key := "ratelimit:" + r.URL.Path + ":" + ip
		allowed, remaining, resetAt := rl.CheckAndIncrement(r.Context(), key, limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit.Requests))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

		if !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(time.Until(resetAt).Seconds())+1))
			rl.logger.Warn().
				Str("ip", ip).
				Str("endpoint", r.URL.Path).
				Msg("rate limit exceeded")

			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusTooManyRequests)
			w.Write([]byte(`{"error":"rate limit exceeded"}`))
			return
		}

		next.ServeHTTP(w, r)
	})
}
