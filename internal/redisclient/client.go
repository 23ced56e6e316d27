package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// GetProviderToken retrieves a cached provider bearer token for a mode.
// Returns "" when no token is cached.
func (c *Client) GetProviderToken(ctx context.Context, mode string) (string, error) {
	token, err := c.rdb.Get(ctx, fmt.Sprintf("provider:token:%s", mode)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// SetProviderToken caches a provider bearer token until shortly before it expires.
func (c *Client) SetProviderToken(ctx context.Context, mode, token string, ttl time.Duration) error {
	return c.rdb.Set(ctx, fmt.Sprintf("provider:token:%s", mode), token, ttl).Err()
}

// GetPaymentStatus retrieves a cached payment-status projection.
// Returns nil when no projection is cached.
func (c *Client) GetPaymentStatus(ctx context.Context, userID int64, courseCode string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, statusKey(userID, courseCode)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// SetPaymentStatus caches a payment-status projection with a short TTL.
func (c *Client) SetPaymentStatus(ctx context.Context, userID int64, courseCode string, data []byte, ttl time.Duration) error {
	return c.rdb.Set(ctx, statusKey(userID, courseCode), data, ttl).Err()
}

// InvalidatePaymentStatus drops the cached projection after a commit.
func (c *Client) InvalidatePaymentStatus(ctx context.Context, userID int64, courseCode string) error {
	return c.rdb.Del(ctx, statusKey(userID, courseCode)).Err()
}

func statusKey(userID int64, courseCode string) string {
	return fmt.Sprintf("paystatus:%d:%s", userID, courseCode)
}
