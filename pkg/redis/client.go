// Package redis holds the shared redis connection used for organization
// locks and progress keys.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/redis/go-redis/v9"
)

const defaultConnectTimeout = 5 * time.Second

type Config struct {
	Host           string
	Port           int
	Password       string
	DB             int
	ConnectTimeout time.Duration
}

func (c Config) addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type Client struct {
	rdb    *redis.Client
	logger ectologger.Logger
}

// NewClient connects and pings once; an unreachable server is an error.
func NewClient(cfg Config, logger ectologger.Logger) (*Client, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.addr(),
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: timeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", cfg.addr(), err)
	}

	logger.WithField("addr", cfg.addr()).Info("Connected to Redis")
	return &Client{rdb: rdb, logger: logger}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// SetFloat stores value under key; a zero ttl keeps the key forever.
func (c *Client) SetFloat(ctx context.Context, key string, value float64, ttl time.Duration) error {
	return c.rdb.Set(ctx, key, strconv.FormatFloat(value, 'f', -1, 64), ttl).Err()
}

// GetFloat reports false for a missing key.
func (c *Client) GetFloat(ctx context.Context, key string) (float64, bool, error) {
	value, err := c.rdb.Get(ctx, key).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return value, true, nil
}
