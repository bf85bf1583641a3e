package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"agentdesk/internal/apperr"

	"github.com/redis/go-redis/v9"
)

var fixedWindowScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl < 0 then
  ttl = tonumber(ARGV[1])
end
return {current, ttl}
`)

// Limiter counts one hit for subject and reports the running count in the
// current window and the seconds until it resets.
type Limiter interface {
	Consume(ctx context.Context, subject string) (count int, retryAfter int, err error)
}

// RedisLimiter is a fixed-window counter shared by every API instance.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	window time.Duration
}

func NewRedisLimiter(client redis.UniversalClient, prefix string, window time.Duration) *RedisLimiter {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = "agentdesk:rate_limit"
	}
	if window < time.Second {
		window = time.Second
	}
	return &RedisLimiter{client: client, prefix: prefix, window: window}
}

func (l *RedisLimiter) Consume(ctx context.Context, subject string) (int, int, error) {
	if l == nil || l.client == nil || subject == "" {
		return 0, 0, nil
	}
	windowMs := l.window.Milliseconds()
	raw, err := fixedWindowScript.Run(ctx, l.client, []string{l.prefix + ":" + subject}, windowMs).Result()
	if err != nil {
		return 0, 0, err
	}
	values, ok := raw.([]interface{})
	if !ok || len(values) != 2 {
		return 0, 0, fmt.Errorf("unexpected limiter response shape: %T", raw)
	}
	count, ok := values[0].(int64)
	if !ok {
		return 0, 0, fmt.Errorf("unexpected limiter count type: %T", values[0])
	}
	ttlMs, ok := values[1].(int64)
	if !ok || ttlMs < 0 {
		ttlMs = windowMs
	}
	return int(count), max(int(math.Ceil(float64(ttlMs)/1000.0)), 1), nil
}

// RateLimit allows limit hits per user per window. Limiter errors let the
// request through.
func RateLimit(limiter Limiter, limit int, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		if limiter == nil || limit <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, ok := UserIDFromContext(r.Context())
			if !ok {
				next.ServeHTTP(w, r)
				return
			}
			count, retryAfter, err := limiter.Consume(r.Context(), userID)
			if err != nil {
				logger.Warn("rate limiter unavailable", "user_id", userID, "error", err)
				next.ServeHTTP(w, r)
				return
			}
			if count > limit {
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				writeError(w, http.StatusTooManyRequests, apperr.RateLimited.Code(), "too many requests, retry later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
