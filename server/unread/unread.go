// Package unread reads per-user unread counts from Redis for badge
// values. The counts are written by the message backend; this process
// only consumes them.
package unread

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "unread:"

// Counter implements push.UnreadCounter over Redis.
type Counter struct {
	rdb *redis.Client
}

// Config is the Redis connection config.
type Config struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// NewCounter connects to Redis and verifies the connection.
func NewCounter(ctx context.Context, conf Config) (*Counter, error) {
	if conf.Addr == "" {
		return nil, errors.New("unread: redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.Addr,
		Password: conf.Password,
		DB:       conf.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Counter{rdb: rdb}, nil
}

// Unread returns the user's current unread count. A missing key counts
// as zero.
func (c *Counter) Unread(ctx context.Context, userID string) (int, error) {
	n, err := c.rdb.Get(ctx, keyPrefix+userID).Int()
	if err == redis.Nil {
		return 0, nil
	}
	return n, err
}

// Close releases the underlying connection pool.
func (c *Counter) Close() error {
	return c.rdb.Close()
}
