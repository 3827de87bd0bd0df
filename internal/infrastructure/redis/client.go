package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Option adjusts the client options parsed from REDIS_URL.
type Option func(*redis.Options)

// WithDialTimeout bounds connection setup. Zero keeps the URL's value.
func WithDialTimeout(d time.Duration) Option {
	return func(o *redis.Options) {
		if d > 0 {
			o.DialTimeout = d
		}
	}
}

// WithPoolSize sets the connection pool size. Zero keeps the URL's value.
func WithPoolSize(n int) Option {
	return func(o *redis.Options) {
		if n > 0 {
			o.PoolSize = n
		}
	}
}

// NewClient connects the client shared by the idempotency store and the
// redis event sink. It fails unless the server answers a PING.
func NewClient(ctx context.Context, redisURL string, opts ...Option) (*redis.Client, error) {
	o, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	for _, opt := range opts {
		opt(o)
	}

	client := redis.NewClient(o)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis at %s: %w", o.Addr, err)
	}
	return client, nil
}
