// Package cache wraps the Redis client used for conversation history caching.
// All operations run through a circuit breaker: a Redis outage degrades
// history reads to the database instead of stalling every request.
package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"spotlight/backend/pkg/config"
	"spotlight/backend/pkg/logger"
	"spotlight/backend/pkg/resilience"
)

// Client is a thin wrapper around go-redis
type Client struct {
	rdb     *redis.Client
	breaker *resilience.CircuitBreaker
}

// New creates a Redis client from configuration
func New(log *logger.Logger) *Client {
	cfg := config.Get()
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	return NewWithClient(rdb, log)
}

// NewWithClient wraps an existing Redis client (used by tests)
func NewWithClient(rdb *redis.Client, log *logger.Logger) *Client {
	return &Client{
		rdb:     rdb,
		breaker: resilience.NewCircuitBreaker(resilience.DefaultConfig("redis_cache"), log),
	}
}

// Set stores a value with an expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.breaker.Execute(func() error {
		return c.rdb.Set(ctx, key, value, expiration).Err()
	})
}

// Get retrieves a value; returns redis.Nil error when the key is absent.
// A miss is a healthy response and does not count against the breaker.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	var val string
	var miss bool
	err := c.breaker.Execute(func() error {
		v, err := c.rdb.Get(ctx, key).Result()
		if err == redis.Nil {
			miss = true
			return nil
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		return "", err
	}
	if miss {
		return "", redis.Nil
	}
	return val, nil
}

// Del removes keys
func (c *Client) Del(ctx context.Context, keys ...string) error {
	return c.breaker.Execute(func() error {
		return c.rdb.Del(ctx, keys...).Err()
	})
}

// Ping checks connectivity. Used by the health checker, so it bypasses the
// breaker and reports Redis as it actually is.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// IsMiss reports whether an error from Get means the key was absent
func IsMiss(err error) bool {
	return err == redis.Nil
}
