package config

import (
	"strings"
	"time"
)

// RateLimitConfig drives one Redis token bucket.
type RateLimitConfig struct {
	Scope          string // route group, e.g. "verify"; part of every key
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	KeyStrategy    string // underscore separated: ip, user, route
	Prefix         string
	Debug          bool
}

// RateLimits holds one bucket per limited route group.
type RateLimits struct {
	// Bookings guards customer mutations (create, extend, retry).  They
	// run behind JWTAuth, so callers are keyed by user.
	Bookings RateLimitConfig
	// Verify guards the unauthenticated payment callback, keyed by IP.
	// The gateway may retry a callback several times in a burst.
	Verify RateLimitConfig
}

// LoadRateLimits reads RATE_LIMIT_ENABLED, RATE_LIMIT_PREFIX and
// RATE_LIMIT_DEBUG for every bucket, then the per group overrides
// RATE_LIMIT_<GROUP>_{CAPACITY,REFILL_TOKENS,REFILL_INTERVAL,TTL,KEY_STRATEGY}
// with GROUP one of BOOKINGS or VERIFY.
func LoadRateLimits() RateLimits {
	return RateLimits{
		Bookings: loadBucket("bookings", RateLimitConfig{
			Capacity:       10,
			RefillTokens:   1,
			RefillInterval: 6 * time.Second,
			KeyStrategy:    "user_route",
		}),
		Verify: loadBucket("verify", RateLimitConfig{
			Capacity:       30,
			RefillTokens:   5,
			RefillInterval: time.Second,
			KeyStrategy:    "ip",
		}),
	}
}

func loadBucket(scope string, def RateLimitConfig) RateLimitConfig {
	env := "RATE_LIMIT_" + strings.ToUpper(scope) + "_"
	c := RateLimitConfig{
		Scope:          scope,
		Enabled:        envBool("RATE_LIMIT_ENABLED", true) && envBool(env+"ENABLED", true),
		Capacity:       envInt(env+"CAPACITY", def.Capacity),
		RefillTokens:   envInt(env+"REFILL_TOKENS", def.RefillTokens),
		RefillInterval: envDur(env+"REFILL_INTERVAL", def.RefillInterval),
		TTL:            envDur(env+"TTL", 10*time.Minute),
		KeyStrategy:    envStr(env+"KEY_STRATEGY", def.KeyStrategy),
		Prefix:         envStr("RATE_LIMIT_PREFIX", "rl"),
		Debug:          envBool("RATE_LIMIT_DEBUG", false),
	}
	c.Capacity = max(c.Capacity, 1)
	c.RefillTokens = max(c.RefillTokens, 1)
	if c.RefillInterval <= 0 {
		c.RefillInterval = def.RefillInterval
	}
	// A bucket must outlive the time it takes to refill completely.
	full := time.Duration((c.Capacity+c.RefillTokens-1)/c.RefillTokens) * c.RefillInterval
	c.TTL = max(c.TTL, full)
	return c
}
