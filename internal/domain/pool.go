package domain

import (
	"fmt"
	"strings"
	"time"
)

// Pool is a named group restricting which workers may be offered a task.
// Pools are immutable; workers join them, the pool itself never changes.
type Pool struct {
	Name      string    `json:"name"`
	CreatorID string    `json:"creator_id"`
	CreatedAt time.Time `json:"created_at"`
}

func (p *Pool) Validate() error {
	if p.Name == "" {
		return fmt.Errorf("%w: pool name cannot be empty", ErrInvalid)
	}
	if strings.ContainsAny(p.Name, "/ \t\n") {
		return fmt.Errorf("%w: pool name %q may not contain slashes or spaces", ErrInvalid, p.Name)
	}
	if p.CreatorID == "" {
		return fmt.Errorf("%w: pool creator cannot be empty", ErrInvalid)
	}
	return nil
}
