package memory

import (
	"context"
	"errors"
	"slices"
	"sync"

	"instawork/internal/domain"
)

// ErrSendFailed is returned by Channel.Send for workers marked with FailSends.
var ErrSendFailed = errors.New("memory channel: send failed")

// Channel is an in-process presence and messaging channel. It records every
// presence check and every delivered message.
type Channel struct {
	mu       sync.Mutex
	present  map[string]bool
	failing  map[string]bool
	checks   map[string]int
	messages map[string][]domain.Message
}

func NewChannel() *Channel {
	return &Channel{
		present:  make(map[string]bool),
		failing:  make(map[string]bool),
		checks:   make(map[string]int),
		messages: make(map[string][]domain.Message),
	}
}

var (
	_ domain.Presence  = (*Channel)(nil)
	_ domain.Messenger = (*Channel)(nil)
)

// SetPresent marks a worker reachable or not.
func (c *Channel) SetPresent(workerID string, present bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.present[workerID] = present
}

// FailSends makes every Send to workerID fail.
func (c *Channel) FailSends(workerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failing[workerID] = true
}

func (c *Channel) Present(_ context.Context, workerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[workerID]++
	return c.present[workerID]
}

func (c *Channel) Send(_ context.Context, workerID string, msg domain.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failing[workerID] {
		return ErrSendFailed
	}
	c.messages[workerID] = append(c.messages[workerID], msg)
	return nil
}

// Checks returns how many times presence was asked for workerID.
func (c *Channel) Checks(workerID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checks[workerID]
}

// Messages returns the messages delivered to workerID.
func (c *Channel) Messages(workerID string) []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.messages[workerID])
}
