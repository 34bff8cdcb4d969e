package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"instawork/internal/domain"

	"github.com/redis/go-redis/v9"
)

// CheckpointCache stores scan checkpoints as plain string keys with a TTL, so
// abandoned checkpoints age out on their own.
type CheckpointCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

var _ domain.CheckpointCache = (*CheckpointCache)(nil)

// NewCheckpointCache constructs a Redis-backed checkpoint cache.
// prefix defaults to "instawork:".
func NewCheckpointCache(client *redis.Client, prefix string, ttl time.Duration) *CheckpointCache {
	if prefix == "" {
		prefix = "instawork:"
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &CheckpointCache{client: client, prefix: prefix + "checkpoint:", ttl: ttl}
}

func (c *CheckpointCache) Get(ctx context.Context, key string) (string, bool, error) {
	token, err := c.client.Get(ctx, c.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read checkpoint %s: %w", key, err)
	}
	return token, true, nil
}

func (c *CheckpointCache) Set(ctx context.Context, key, token string) error {
	if err := c.client.Set(ctx, c.prefix+key, token, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write checkpoint %s: %w", key, err)
	}
	return nil
}

func (c *CheckpointCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.prefix+key).Err(); err != nil {
		return fmt.Errorf("failed to delete checkpoint %s: %w", key, err)
	}
	return nil
}
