// Package kv wraps the shared key/value store every instance coordinates
// through. All cross-instance state (job state, meta, events, reasoner
// handles) lives behind this client under a single key prefix.
package kv

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/proteinops/foldy/pkg/config"
)

// Client wraps the Redis connection shared by every store component.
//
// Transient I/O failures are retried inside go-redis with exponential
// backoff between attempts; callers only see an error once retries are
// exhausted.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// NewClient connects to the shared store and verifies the connection.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,

		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,

		MaxRetries:      3,
		MinRetryBackoff: 50 * time.Millisecond,
		MaxRetryBackoff: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, cfg.DialTimeout)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping key/value store at %s: %w", cfg.Addr, err)
	}

	return &Client{rdb: rdb, prefix: cfg.KeyPrefix}, nil
}

// NewClientFromRedis wraps an existing Redis client (useful for testing).
func NewClientFromRedis(rdb *redis.Client, prefix string) *Client {
	return &Client{rdb: rdb, prefix: prefix}
}

// Redis returns the underlying client for store components.
func (c *Client) Redis() *redis.Client {
	return c.rdb
}

// Prefix returns the application key prefix.
func (c *Client) Prefix() string {
	return c.prefix
}

// Ping checks store connectivity (health endpoint).
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}
