// Package ratelimit throttles the unauthenticated auth endpoints per client
// address with a fixed window counter shared through Redis.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/ovaphlow/salon/service-core-go/internal/metrics"
	"github.com/ovaphlow/salon/service-core-go/internal/response"
	"github.com/ovaphlow/salon/service-core-go/pkg/utilities"
)

// Limiter counts requests per key in windows of a fixed length.
type Limiter struct {
	rdb    *redis.Client
	limit  int
	window time.Duration
	prefix string
	logger *zap.SugaredLogger
}

// New returns a limiter allowing limit requests per window.
func New(rdb *redis.Client, limit int, window time.Duration, logger *zap.SugaredLogger) *Limiter {
	return &Limiter{rdb: rdb, limit: limit, window: window, prefix: "ratelimit", logger: logger}
}

// Connect parses a redis:// URL and pings the server.
func Connect(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return rdb, nil
}

// Allow increments the counter for key. The window starts with the first hit
// and is not extended by later ones. The returned duration is the time left
// in the window.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, time.Duration, error) {
	redisKey := l.prefix + ":" + key

	pipe := l.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return true, 0, fmt.Errorf("redis: %w", err)
	}

	left := ttl.Val()
	if left < 0 {
		if err := l.rdb.Expire(ctx, redisKey, l.window).Err(); err != nil {
			return true, 0, fmt.Errorf("redis: %w", err)
		}
		left = l.window
	}
	return incr.Val() <= int64(l.limit), left, nil
}

// Middleware limits next per client address under the given route name.
// A nil limiter or an unreachable Redis lets every request through.
func (l *Limiter) Middleware(route string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			allowed, left, err := l.Allow(r.Context(), route+":"+utilities.ClientIP(r))
			if err != nil {
				l.logger.Warnw("rate limiter unavailable, allowing request", "route", route, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if !allowed {
				metrics.RateLimited.WithLabelValues(route).Inc()
				secs := int((left + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				response.Fail(w, http.StatusTooManyRequests, response.CodeRateLimited,
					"too many requests, try again later", map[string]any{"retryAfter": secs})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
