package memory

import (
	"context"
	"sync"

	"instawork/internal/domain"
)

// CheckpointCache is a map-backed domain.CheckpointCache. Evict simulates the
// silent eviction a real cache is allowed to perform.
type CheckpointCache struct {
	mu     sync.Mutex
	tokens map[string]string
}

func NewCheckpointCache() *CheckpointCache {
	return &CheckpointCache{tokens: make(map[string]string)}
}

var _ domain.CheckpointCache = (*CheckpointCache)(nil)

func (c *CheckpointCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	token, ok := c.tokens[key]
	return token, ok, nil
}

func (c *CheckpointCache) Set(_ context.Context, key, token string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens[key] = token
	return nil
}

func (c *CheckpointCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tokens, key)
	return nil
}

// Evict drops every checkpoint.
func (c *CheckpointCache) Evict() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens = make(map[string]string)
}
