// internal/domain/collaborators.go
package domain

import (
	"context"
	"time"
)

// CheckpointCache is a best-effort key/token store. A miss is never an error;
// implementations may evict at any time.
type CheckpointCache interface {
	Get(ctx context.Context, key string) (token string, ok bool, err error)
	Set(ctx context.Context, key, token string) error
	Delete(ctx context.Context, key string) error
}

// QueueItem is one unit of delayed work.
type QueueItem struct {
	ID      string            `json:"id"`
	Route   string            `json:"route"`
	Payload map[string]string `json:"payload"`
	DueAt   time.Time         `json:"due_at"`
}

// DelayedQueue delivers items at least once after their delay has elapsed.
// There is no ordering guarantee across different delays.
type DelayedQueue interface {
	Enqueue(ctx context.Context, route string, payload map[string]string, delay time.Duration) error
	// PopDue claims up to limit items due at or before now. A claimed item is
	// returned to one caller and stays leased until Ack; once the lease runs
	// out without an Ack the item is due again.
	PopDue(ctx context.Context, now time.Time, limit int) ([]QueueItem, error)
	// Ack drops a claimed item for good.
	Ack(ctx context.Context, item QueueItem) error
}

// Presence answers whether a worker is reachable right now. Failures count as absent.
type Presence interface {
	Present(ctx context.Context, workerID string) bool
}

// MessageKind distinguishes payloads sent over the messaging channel.
type MessageKind string

const (
	MessageOffer  MessageKind = "offer"
	MessageNotice MessageKind = "notice"
)

// Message is what the messaging channel carries to a worker.
type Message struct {
	ID        string      `json:"id"`
	Kind      MessageKind `json:"kind"`
	TaskID    string      `json:"task_id,omitempty"`
	Title     string      `json:"title,omitempty"`
	Body      string      `json:"body"`
	AcceptURL string      `json:"accept_url,omitempty"`
	SentAt    time.Time   `json:"sent_at"`
}

// Messenger sends a message to a worker identity.
type Messenger interface {
	Send(ctx context.Context, workerID string, msg Message) error
}

// TaskEvent names the webhook events emitted for a task.
type TaskEvent string

const (
	TaskEventAccepted  TaskEvent = "accepted"
	TaskEventCompleted TaskEvent = "completed"
)

// Notifier delivers task events to a requester webhook. Delivery is best-effort:
// Notify never blocks on the network and never reports delivery failures.
type Notifier interface {
	Notify(ctx context.Context, url, taskID string, event TaskEvent)
}
