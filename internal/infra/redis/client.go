package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps the Redis operations the minter coordinates through.
type Client struct {
	rdb    *redis.Client
	prefix string
}

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"        env:"REDIS_URL"`
	Password  string `yaml:"password"   env:"REDIS_PASSWORD"`
	KeyPrefix string `yaml:"key_prefix"`
}

// NewClient creates a new Redis client and checks the connection.
func NewClient(cfg Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "minter"
	}
	return &Client{rdb: rdb, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Key helpers
func leaseKey(prefix, name string) string {
	return fmt.Sprintf("%s:lease:%s", prefix, name)
}

func nullifierKey(prefix, nullifier string) string {
	return fmt.Sprintf("%s:nullifier:%s", prefix, nullifier)
}

// Owner-checked scripts. KEYS[1] is the key, ARGV[1] the expected owner.
const (
	renewScript = `
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('PEXPIRE', KEYS[1], ARGV[2])
		else
			return 0
		end`

	releaseScript = `
		if redis.call('GET', KEYS[1]) == ARGV[1] then
			return redis.call('DEL', KEYS[1])
		else
			return 0
		end`
)

func (c *Client) evalOwned(ctx context.Context, script, key string, args ...any) (bool, error) {
	cmd := c.rdb.Eval(ctx, script, []string{key}, args...)
	if err := cmd.Err(); err != nil {
		return false, err
	}
	n, _ := cmd.Int()
	return n == 1, nil
}
