// internal/domain/task.go
package domain

import (
	"fmt"
	"net/url"
	"time"
)

// Task is a short unit of work posted by a requester and held for exactly one worker.
// AssignedTo and CompletedAt are each written once; see TaskRepository.Update.
type Task struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	URL         string     `json:"url"`                  // Where the assignee submits the work
	NotifyURL   string     `json:"notify_url,omitempty"` // Optional webhook for accepted/completed events
	Pool        string     `json:"pool,omitempty"`       // Optional pool restricting eligible workers
	CreatorID   string     `json:"creator_id"`
	CreatedAt   time.Time  `json:"created_at"`
	AssignedTo  string     `json:"assigned_to,omitempty"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// TaskState is derived from the assignment fields, never stored.
type TaskState string

const (
	TaskStateOpen      TaskState = "open"
	TaskStateAssigned  TaskState = "assigned"
	TaskStateCompleted TaskState = "completed"
)

// State reports where the task sits in open -> assigned -> completed.
func (t *Task) State() TaskState {
	switch {
	case t.CompletedAt != nil:
		return TaskStateCompleted
	case t.AssignedTo != "":
		return TaskStateAssigned
	default:
		return TaskStateOpen
	}
}

// IsAssigned reports whether some worker holds the task.
func (t *Task) IsAssigned() bool {
	return t.AssignedTo != ""
}

// Validate checks the fields supplied at creation time.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id cannot be empty", ErrInvalid)
	}
	if t.Title == "" {
		return fmt.Errorf("%w: task title cannot be empty", ErrInvalid)
	}
	if t.URL == "" {
		return fmt.Errorf("%w: task url cannot be empty", ErrInvalid)
	}
	if t.CreatorID == "" {
		return fmt.Errorf("%w: task creator cannot be empty", ErrInvalid)
	}
	if t.CompletedAt != nil && t.AssignedTo == "" {
		return fmt.Errorf("%w: task %s is completed but was never assigned", ErrInvalid, t.ID)
	}
	return nil
}

// SubmissionURL returns the task URL with a submitURL query parameter that
// points the assignee back at the completion endpoint.
func (t *Task) SubmissionURL(doneURL string) (string, error) {
	u, err := url.Parse(t.URL)
	if err != nil {
		return "", fmt.Errorf("failed to parse task url %q: %w", t.URL, err)
	}
	q := u.Query()
	q.Set("submitURL", doneURL)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
