// internal/domain/repository.go
package domain

import "context"

// TaskRepository persists tasks. Update is the only write path after Create and
// runs as a single atomic read-modify-write scoped to one task.
type TaskRepository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)
	// Update loads the task, applies mutate and stores the result atomically.
	// If mutate returns an error nothing is written and that error is returned.
	Update(ctx context.Context, id string, mutate func(*Task) error) (*Task, error)
	ListByCreator(ctx context.Context, creatorID string) ([]*Task, error)
}

// IdleQuery selects idle workers in ascending NextContactAt order.
type IdleQuery struct {
	Pool  string // Empty means any worker
	After string // Opaque cursor from a previous IdleEntry; empty starts at the beginning
	Limit int
}

// IdleEntry is one row of an idle-worker scan. Cursor resumes the scan right after it.
type IdleEntry struct {
	Worker *Worker
	Cursor string
}

// WorkerRepository persists workers and serves the sorted idle-worker scan.
type WorkerRepository interface {
	Create(ctx context.Context, worker *Worker) error
	Get(ctx context.Context, id string) (*Worker, error)
	GetByAPIKey(ctx context.Context, apiKey string) (*Worker, error)
	// Update has the same contract as TaskRepository.Update, scoped to one worker.
	Update(ctx context.Context, id string, mutate func(*Worker) error) (*Worker, error)
	// ListIdle returns at most q.Limit idle workers ordered by NextContactAt, then id.
	ListIdle(ctx context.Context, q IdleQuery) ([]IdleEntry, error)
}

// PoolRepository persists pools.
type PoolRepository interface {
	Create(ctx context.Context, pool *Pool) error
	Get(ctx context.Context, name string) (*Pool, error)
}
