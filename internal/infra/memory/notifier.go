package memory

import (
	"context"
	"slices"
	"sync"

	"instawork/internal/domain"
)

// Notification is one recorded webhook call.
type Notification struct {
	URL    string
	TaskID string
	Event  domain.TaskEvent
}

// Notifier records notifications instead of delivering them.
type Notifier struct {
	mu   sync.Mutex
	sent []Notification
}

var _ domain.Notifier = (*Notifier)(nil)

func (n *Notifier) Notify(_ context.Context, url, taskID string, event domain.TaskEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, Notification{URL: url, TaskID: taskID, Event: event})
}

// Sent returns the recorded notifications in call order.
func (n *Notifier) Sent() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return slices.Clone(n.sent)
}
