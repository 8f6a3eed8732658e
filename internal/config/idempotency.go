package config

import "time"

// IdempotencyConfig controls replay of POST responses keyed by the
// Idempotency-Key header.  Replay is disabled when Enabled is false or
// no Redis client is available.
type IdempotencyConfig struct {
	Enabled      bool
	TTL          time.Duration // how long a stored response is replayed
	LockTTL      time.Duration // how long an in-flight key blocks duplicates
	Prefix       string
	MaxBodyBytes int
}

func LoadIdempotencyConfig() IdempotencyConfig {
	c := IdempotencyConfig{
		Enabled:      envBool("IDEMPOTENCY_ENABLED", true),
		TTL:          envDur("IDEMPOTENCY_TTL", 24*time.Hour),
		LockTTL:      envDur("IDEMPOTENCY_LOCK_TTL", 30*time.Second),
		Prefix:       envStr("IDEMPOTENCY_PREFIX", "idem"),
		MaxBodyBytes: envInt("IDEMPOTENCY_MAX_BODY_BYTES", 1<<20),
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	return c
}
