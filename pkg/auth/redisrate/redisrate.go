// Package redisrate provides a Redis-backed rate limiter so request
// counts are shared across API replicas. Each client key gets a counter
// per one-minute window; the counters expire on their own, so idle
// clients leave no state behind.
package redisrate

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/automateiq/platform/pkg/auth"
)

// DefaultKeyPrefix namespaces the counter keys in Redis.
const DefaultKeyPrefix = "automateiq:ratelimit"

// Config holds the Redis connection and limit settings.
type Config struct {
	// Addr is the Redis host:port. Required.
	Addr string

	// Password authenticates against Redis. Optional.
	Password string

	// DB selects the Redis logical database.
	DB int

	// RequestsPerMinute is the per-key limit. A non-positive limit
	// disables limiting.
	RequestsPerMinute int

	// KeyPrefix namespaces the counter keys. Default: DefaultKeyPrefix.
	KeyPrefix string
}

func (c *Config) applyDefaults() {
	if c.KeyPrefix == "" {
		c.KeyPrefix = DefaultKeyPrefix
	}
}

// Limiter counts requests in fixed one-minute windows stored in Redis.
type Limiter struct {
	client *redis.Client
	rpm    int
	prefix string
}

var _ auth.RateLimiter = (*Limiter)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Limiter, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redisrate: addr is required")
	}
	cfg.applyDefaults()

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Limiter{
		client: client,
		rpm:    cfg.RequestsPerMinute,
		prefix: cfg.KeyPrefix,
	}, nil
}

// Allow increments the caller's counter for the current window and
// compares it against the limit. Errors reach the caller, which fails
// open; an unreachable Redis must not take the API down with it.
func (l *Limiter) Allow(ctx context.Context, key string) (bool, error) {
	if l.rpm <= 0 {
		return true, nil
	}

	window := time.Now().Unix() / 60
	bucket := l.prefix + ":" + key + ":" + strconv.FormatInt(window, 10)

	// INCR and EXPIRE travel together so a counter can never be created
	// without its TTL.
	pipe := l.client.TxPipeline()
	count := pipe.Incr(ctx, bucket)
	pipe.Expire(ctx, bucket, 2*time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("counting requests: %w", err)
	}

	return count.Val() <= int64(l.rpm), nil
}

// Close releases the Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}
