package config

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig locates the Redis server shared by rate limiting,
// idempotent POST replay and the payment verification ledger.
type RedisConfig struct {
	Disabled bool
	Addr     string
	Password string
	DB       int
	TLS      bool
}

// LoadRedisConfig reads REDIS_HOST/REDIS_PORT (or REDIS_ADDR),
// REDIS_PASSWORD, REDIS_DB, REDIS_TLS and REDIS_DISABLED.  Host and port
// win over REDIS_ADDR when both are set.
func LoadRedisConfig() RedisConfig {
	c := RedisConfig{
		Disabled: envBool("REDIS_DISABLED", false),
		Addr:     envStr("REDIS_ADDR", "localhost:6379"),
		Password: envStr("REDIS_PASSWORD", ""),
		DB:       envInt("REDIS_DB", 0),
		TLS:      envBool("REDIS_TLS", false),
	}
	host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", "")
	if host != "" && port != "" {
		c.Addr = host + ":" + port
	}
	c.Addr = strings.TrimSpace(c.Addr)
	return c
}

// NewRedisClient connects and pings within timeout.  A disabled config
// yields a nil client and no error; callers fall back to in-process
// stores whenever the client is nil.
func NewRedisClient(ctx context.Context, c RedisConfig, timeout time.Duration) (*redis.Client, error) {
	if c.Disabled {
		return nil, nil
	}
	opts := &redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB}
	if c.TLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", c.Addr, err)
	}
	return client, nil
}
