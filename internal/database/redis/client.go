// Package redis provides the pool's hot-state cache: rolling hashrate
// samples, connection counters, and the latest job snapshot.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps Redis operations for the mining pool
type Client struct {
	rdb *redis.Client
}

// Config holds Redis connection configuration
type Config struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	MaxRetries   int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewClient creates a new Redis client
func NewClient(cfg *Config) (*Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MinIdleConns = cfg.MinIdleConns
	opts.MaxRetries = cfg.MaxRetries
	opts.DialTimeout = cfg.DialTimeout
	opts.ReadTimeout = cfg.ReadTimeout
	opts.WriteTimeout = cfg.WriteTimeout

	rdb := redis.NewClient(opts)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Health checks Redis connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Job snapshot

// SetCurrentJob stores the latest broadcast job so restarts and sibling
// processes can serve it immediately.
func (c *Client) SetCurrentJob(ctx context.Context, jobData any) error {
	jsonData, err := json.Marshal(jobData)
	if err != nil {
		return fmt.Errorf("failed to marshal job data: %w", err)
	}

	if err := c.rdb.Set(ctx, "current_job", jsonData, 0).Err(); err != nil {
		return fmt.Errorf("failed to set current job: %w", err)
	}
	return nil
}

// GetCurrentJob retrieves the latest broadcast job snapshot.
func (c *Client) GetCurrentJob(ctx context.Context, dest any) error {
	jsonData, err := c.rdb.Get(ctx, "current_job").Result()
	if err != nil {
		if err == redis.Nil {
			return fmt.Errorf("no current job")
		}
		return fmt.Errorf("failed to get current job: %w", err)
	}

	if err := json.Unmarshal([]byte(jsonData), dest); err != nil {
		return fmt.Errorf("failed to unmarshal job data: %w", err)
	}
	return nil
}

// Connection counters

// IncrActiveConnections bumps the live connection gauge.
func (c *Client) IncrActiveConnections(ctx context.Context) (int64, error) {
	val, err := c.rdb.Incr(ctx, "active_connections").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment connections: %w", err)
	}
	return val, nil
}

// DecrActiveConnections drops the live connection gauge.
func (c *Client) DecrActiveConnections(ctx context.Context) (int64, error) {
	val, err := c.rdb.Decr(ctx, "active_connections").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to decrement connections: %w", err)
	}
	return val, nil
}

// GetCounter retrieves a counter value
func (c *Client) GetCounter(ctx context.Context, key string) (int64, error) {
	val, err := c.rdb.Get(ctx, key).Int64()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get counter: %w", err)
	}
	return val, nil
}

// Hashrate tracking

// SetHashrate appends a hashrate sample for an address/worker pair. Samples
// older than the window are trimmed on every write.
func (c *Client) SetHashrate(ctx context.Context, address, worker string, hashrate float64, window time.Duration) error {
	key := fmt.Sprintf("hashrate:%s:%s", address, worker)
	timestamp := time.Now().Unix()

	member := &redis.Z{
		Score:  float64(timestamp),
		Member: hashrate,
	}

	pipe := c.rdb.Pipeline()
	pipe.ZAdd(ctx, key, *member)
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", timestamp-int64(window.Seconds())))
	pipe.Expire(ctx, key, window*2)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to set hashrate: %w", err)
	}
	return nil
}

// GetAverageHashrate calculates average hashrate over a time window
func (c *Client) GetAverageHashrate(ctx context.Context, address, worker string, window time.Duration) (float64, error) {
	key := fmt.Sprintf("hashrate:%s:%s", address, worker)
	minScore := time.Now().Add(-window).Unix()

	values, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", minScore),
		Max: "+inf",
	}).Result()

	if err != nil {
		return 0, fmt.Errorf("failed to get hashrate values: %w", err)
	}

	if len(values) == 0 {
		return 0, nil
	}

	var total float64
	for _, val := range values {
		if hashrate, err := strconv.ParseFloat(val, 64); err == nil {
			total += hashrate
		}
	}
	return total / float64(len(values)), nil
}

// Rate limiting

// CheckRateLimit checks if an action is rate limited
func (c *Client) CheckRateLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error) {
	pipe := c.rdb.Pipeline()
	incrCmd := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, window)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("failed to check rate limit: %w", err)
	}

	return incrCmd.Val() <= limit, nil
}
