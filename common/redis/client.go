package redis

import (
	"context"
	"fmt"
	"time"

	"incarceration-bot/common/config"

	"github.com/go-redis/redis/v8"
)

// NewRedisClient creates a client for the configured server with short
// timeouts; the event stream is best effort.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

// Connect creates a client and verifies the server answers
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// Close closes client; nil is a no-op
func Close(client *redis.Client) error {
	if client == nil {
		return nil
	}
	return client.Close()
}
