package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/train-seat-booking/internal/config"
)

// takeToken refills the bucket stored at KEYS[1] for the whole intervals
// elapsed since its last refill, then spends one token if it can.
// It returns {allowed, tokens left, ms until the next refill}.
var takeToken = redis.NewScript(`
local now, cap, per, every, ttl = tonumber(ARGV[1]), tonumber(ARGV[2]), tonumber(ARGV[3]), tonumber(ARGV[4]), tonumber(ARGV[5])
local b = redis.call('HMGET', KEYS[1], 'tokens', 'refilled_at')
local tokens, at = tonumber(b[1]), tonumber(b[2])
if not tokens or not at then
	tokens, at = cap, now
end
if every > 0 and per > 0 and now > at then
	local n = math.floor((now - at) / every)
	if n > 0 then
		tokens = math.min(cap, tokens + n * per)
		at = at + n * every
	end
end
local ok, wait = 0, 0
if tokens > 0 then
	ok, tokens = 1, tokens - 1
else
	wait = math.max(0, every - (now - at))
end
redis.call('HSET', KEYS[1], 'tokens', tokens, 'refilled_at', at)
redis.call('EXPIRE', KEYS[1], ttl)
return {ok, tokens, wait}
`)

// decision is the outcome of one takeToken call.
type decision struct {
	allowed   bool
	remaining int64
	wait      time.Duration
}

type tokenBucket struct {
	cfg config.RateLimitConfig
	rdb *redis.Client
}

func (b *tokenBucket) take(ctx context.Context, key string, now time.Time) (decision, error) {
	res, err := takeToken.Run(ctx, b.rdb, []string{key},
		now.UnixMilli(),
		b.cfg.Capacity,
		b.cfg.RefillTokens,
		b.cfg.RefillInterval.Milliseconds(),
		int64(b.cfg.TTL/time.Second),
	).Int64Slice()
	if err != nil {
		return decision{}, err
	}
	if len(res) != 3 {
		return decision{}, fmt.Errorf("rate limit script returned %d values", len(res))
	}
	return decision{
		allowed:   res[0] == 1,
		remaining: res[1],
		wait:      time.Duration(res[2]) * time.Millisecond,
	}, nil
}

// NewTokenBucket limits one route group with a Redis token bucket.
// When Redis is unavailable requests pass through.
func NewTokenBucket(cfg config.RateLimitConfig, rdb *redis.Client) echo.MiddlewareFunc {
	if !cfg.Enabled || rdb == nil {
		return passThrough
	}
	b := &tokenBucket{cfg: cfg, rdb: rdb}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := rateKey(cfg, c)
			d, err := b.take(c.Request().Context(), key, time.Now())
			if err != nil {
				c.Logger().Warnf("[ratelimit] scope=%s key=%s: %v", cfg.Scope, key, err)
				return next(c)
			}

			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(cfg.Capacity))
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(d.remaining, 10))
			if cfg.Debug {
				h.Set("X-RateLimit-Key", key)
			}
			if d.allowed {
				return next(c)
			}

			retry := int((d.wait + time.Second - 1) / time.Second)
			h.Set("Retry-After", strconv.Itoa(retry))
			return c.JSON(http.StatusTooManyRequests, echo.Map{
				"error":      "TOO_MANY_REQUESTS",
				"message":    "too many requests, slow down",
				"retryAfter": retry,
			})
		}
	}
}

func passThrough(next echo.HandlerFunc) echo.HandlerFunc { return next }

// rateKey scopes the bucket according to cfg.KeyStrategy, an underscore
// separated combination of ip, user and route.  Unknown strategies use
// all three.
func rateKey(cfg config.RateLimitConfig, c echo.Context) string {
	strategy := strings.ToLower(cfg.KeyStrategy)
	parts := strings.Split(strategy, "_")
	if strategy == "" || !validStrategy(parts) {
		parts = []string{"ip", "user", "route"}
	}

	key := []string{cfg.Prefix}
	if cfg.Scope != "" {
		key = append(key, cfg.Scope)
	}
	for _, p := range parts {
		switch p {
		case "ip":
			key = append(key, "ip", orDefault(c.RealIP(), "unknown"))
		case "user":
			key = append(key, "user", orDefault(UserID(c), "anon"))
		case "route":
			key = append(key, "route", c.Request().Method+" "+c.Path())
		}
	}
	return strings.Join(key, ":")
}

func validStrategy(parts []string) bool {
	for _, p := range parts {
		if p != "ip" && p != "user" && p != "route" {
			return false
		}
	}
	return true
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
