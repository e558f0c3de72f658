// Package cache provides a Redis-backed [tools.Cache] so tool results, most
// usefully web searches, survive across runs and files.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/MrWong99/scribefix/internal/tools"
)

// Redis stores tool summaries as plain string values with a TTL.
type Redis struct {
	rdb *goredis.Client
}

// Option configures [New].
type Option func(*goredis.Options)

// WithPassword sets the Redis password.
func WithPassword(pw string) Option {
	return func(o *goredis.Options) { o.Password = pw }
}

// WithDB selects the Redis database number.
func WithDB(db int) Option {
	return func(o *goredis.Options) { o.DB = db }
}

// New connects to the Redis server at addr and verifies the connection with
// a PING.
func New(ctx context.Context, addr string, opts ...Option) (*Redis, error) {
	if addr == "" {
		return nil, errors.New("cache: redis address must not be empty")
	}
	o := &goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}
	rdb := goredis.NewClient(o)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("cache: redis ping: %w", err)
	}
	return &Redis{rdb: rdb}, nil
}

// NewFromClient wraps an existing client.
func NewFromClient(rdb *goredis.Client) *Redis {
	return &Redis{rdb: rdb}
}

// Get implements [tools.Cache].
func (r *Redis) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("cache: get %s: %w", key, err)
	}
	return v, true, nil
}

// Set implements [tools.Cache].
func (r *Redis) Set(ctx context.Context, key, summary string, ttl time.Duration) error {
	if err := r.rdb.Set(ctx, key, summary, ttl).Err(); err != nil {
		return fmt.Errorf("cache: set %s: %w", key, err)
	}
	return nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.rdb.Close()
}

var _ tools.Cache = (*Redis)(nil)
