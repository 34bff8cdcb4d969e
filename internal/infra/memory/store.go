// Package memory provides goroutine-safe, in-process implementations of the
// domain repositories and collaborators. They back the package tests.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"instawork/internal/domain"
)

// Store implements the task, worker and pool repositories backed by maps.
// Every Update runs under the store mutex, which makes it atomic per entity.
type Store struct {
	mu      sync.RWMutex
	tasks   map[string]*domain.Task
	workers map[string]*domain.Worker
	apiKeys map[string]string
	pools   map[string]*domain.Pool
}

// NewStore creates an empty Store.
func NewStore() *Store {
	return &Store{
		tasks:   make(map[string]*domain.Task),
		workers: make(map[string]*domain.Worker),
		apiKeys: make(map[string]string),
		pools:   make(map[string]*domain.Pool),
	}
}

// Tasks returns the store as a TaskRepository.
func (s *Store) Tasks() domain.TaskRepository { return taskRepo{s} }

// Workers returns the store as a WorkerRepository.
func (s *Store) Workers() domain.WorkerRepository { return workerRepo{s} }

// Pools returns the store as a PoolRepository.
func (s *Store) Pools() domain.PoolRepository { return poolRepo{s} }

type taskRepo struct{ s *Store }

func (r taskRepo) Create(_ context.Context, task *domain.Task) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.tasks[task.ID]; ok {
		return domain.ErrTaskExists
	}
	r.s.tasks[task.ID] = cloneTask(task)
	return nil
}

func (r taskRepo) Get(_ context.Context, id string) (*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	t, ok := r.s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return cloneTask(t), nil
}

func (r taskRepo) Update(_ context.Context, id string, mutate func(*domain.Task) error) (*domain.Task, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	next := cloneTask(current)
	if err := mutate(next); err != nil {
		return nil, err
	}
	r.s.tasks[id] = next
	return cloneTask(next), nil
}

func (r taskRepo) ListByCreator(_ context.Context, creatorID string) ([]*domain.Task, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var result []*domain.Task
	for _, t := range r.s.tasks {
		if t.CreatorID == creatorID {
			result = append(result, cloneTask(t))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

type workerRepo struct{ s *Store }

func (r workerRepo) Create(_ context.Context, w *domain.Worker) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.workers[w.ID]; ok {
		return domain.ErrWorkerExists
	}
	r.s.workers[w.ID] = cloneWorker(w)
	r.s.apiKeys[w.APIKey] = w.ID
	return nil
}

func (r workerRepo) Get(_ context.Context, id string) (*domain.Worker, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	w, ok := r.s.workers[id]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return cloneWorker(w), nil
}

func (r workerRepo) GetByAPIKey(_ context.Context, apiKey string) (*domain.Worker, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	id, ok := r.s.apiKeys[apiKey]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return cloneWorker(r.s.workers[id]), nil
}

func (r workerRepo) Update(_ context.Context, id string, mutate func(*domain.Worker) error) (*domain.Worker, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.workers[id]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	next := cloneWorker(current)
	if err := mutate(next); err != nil {
		return nil, err
	}
	r.s.workers[id] = next
	return cloneWorker(next), nil
}

func (r workerRepo) ListIdle(_ context.Context, q domain.IdleQuery) ([]domain.IdleEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	type row struct {
		key string
		w   *domain.Worker
	}
	var rows []row
	for _, w := range r.s.workers {
		if !w.IsIdle() {
			continue
		}
		if q.Pool != "" && !w.InPool(q.Pool) {
			continue
		}
		key := idleKey(w)
		if q.After != "" && strings.Compare(key, q.After) <= 0 {
			continue
		}
		rows = append(rows, row{key: key, w: w})
	}
	slices.SortFunc(rows, func(a, b row) int { return strings.Compare(a.key, b.key) })

	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	entries := make([]domain.IdleEntry, 0, len(rows))
	for _, rw := range rows {
		entries = append(entries, domain.IdleEntry{Worker: cloneWorker(rw.w), Cursor: rw.key})
	}
	return entries, nil
}

type poolRepo struct{ s *Store }

func (r poolRepo) Create(_ context.Context, p *domain.Pool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.pools[p.Name]; ok {
		return domain.ErrPoolExists
	}
	cp := *p
	r.s.pools[p.Name] = &cp
	return nil
}

func (r poolRepo) Get(_ context.Context, name string) (*domain.Pool, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	p, ok := r.s.pools[name]
	if !ok {
		return nil, domain.ErrPoolNotFound
	}
	cp := *p
	return &cp, nil
}

// idleKey orders workers by NextContactAt, then id. Zero-padded nanoseconds
// keep the lexical and chronological orders identical.
func idleKey(w *domain.Worker) string {
	return fmt.Sprintf("%020d/%s", w.ContactOrder(), w.ID)
}

func cloneTask(t *domain.Task) *domain.Task {
	cp := *t
	if t.AssignedAt != nil {
		at := *t.AssignedAt
		cp.AssignedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		cp.CompletedAt = &at
	}
	return &cp
}

func cloneWorker(w *domain.Worker) *domain.Worker {
	cp := *w
	cp.Pools = slices.Clone(w.Pools)
	return &cp
}
