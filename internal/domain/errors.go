// internal/domain/errors.go
package domain

import "errors"

var (
	// Not found.
	ErrTaskNotFound   = errors.New("task not found")
	ErrWorkerNotFound = errors.New("worker not found")
	ErrPoolNotFound   = errors.New("pool not found")

	// Conflict: expected race outcomes, surfaced to callers as a false result.
	ErrTaskTaken     = errors.New("task already assigned")
	ErrTaskCompleted = errors.New("task already completed")
	ErrNotAssignee   = errors.New("worker is not the task assignee")
	ErrWorkerBusy    = errors.New("worker already holds a task")

	// Already exists.
	ErrWorkerExists = errors.New("worker already exists")
	ErrPoolExists   = errors.New("pool already exists")
	ErrTaskExists   = errors.New("task already exists")

	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid")

	// ErrUnauthorized is returned when an api key does not resolve to a worker.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConcurrentUpdate is returned when a compare-and-set kept losing to other writers.
	ErrConcurrentUpdate = errors.New("concurrent update, retries exhausted")
)

// IsConflict reports whether err is one of the expected claim/complete race outcomes.
func IsConflict(err error) bool {
	return errors.Is(err, ErrTaskTaken) ||
		errors.Is(err, ErrTaskCompleted) ||
		errors.Is(err, ErrNotAssignee) ||
		errors.Is(err, ErrWorkerBusy)
}
