package memory

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"instawork/internal/domain"

	"github.com/google/uuid"
)

// DefaultVisibilityTimeout is how long a claimed item stays leased.
const DefaultVisibilityTimeout = 2 * time.Minute

type lease struct {
	item     domain.QueueItem
	deadline time.Time
}

// DelayedQueue keeps pending items in a slice ordered by due time and claimed
// items in a lease table until they are acked. It is safe for concurrent use.
type DelayedQueue struct {
	mu         sync.Mutex
	now        func() time.Time
	visibility time.Duration
	items      []domain.QueueItem
	leased     map[string]lease
}

// NewDelayedQueue creates a queue. now defaults to time.Now.
func NewDelayedQueue(now func() time.Time) *DelayedQueue {
	if now == nil {
		now = time.Now
	}
	return &DelayedQueue{
		now:        now,
		visibility: DefaultVisibilityTimeout,
		leased:     make(map[string]lease),
	}
}

var _ domain.DelayedQueue = (*DelayedQueue)(nil)

// SetVisibilityTimeout changes the lease length of later claims.
func (q *DelayedQueue) SetVisibilityTimeout(d time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.visibility = d
}

func (q *DelayedQueue) Enqueue(_ context.Context, route string, payload map[string]string, delay time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.insert(domain.QueueItem{
		ID:      uuid.NewString(),
		Route:   route,
		Payload: maps.Clone(payload),
		DueAt:   q.now().Add(delay),
	})
	return nil
}

// insert keeps items with equal due times in insertion order.
func (q *DelayedQueue) insert(item domain.QueueItem) {
	idx := slices.IndexFunc(q.items, func(it domain.QueueItem) bool { return it.DueAt.After(item.DueAt) })
	if idx < 0 {
		idx = len(q.items)
	}
	q.items = slices.Insert(q.items, idx, item)
}

func (q *DelayedQueue) PopDue(_ context.Context, now time.Time, limit int) ([]domain.QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for id, l := range q.leased {
		if !l.deadline.After(now) {
			delete(q.leased, id)
			q.insert(l.item)
		}
	}

	n := 0
	for n < len(q.items) && !q.items[n].DueAt.After(now) && (limit <= 0 || n < limit) {
		n++
	}
	due := slices.Clone(q.items[:n])
	q.items = slices.Delete(q.items, 0, n)
	for _, item := range due {
		q.leased[item.ID] = lease{item: item, deadline: now.Add(q.visibility)}
	}
	return due, nil
}

func (q *DelayedQueue) Ack(_ context.Context, item domain.QueueItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.leased, item.ID)
	return nil
}

// Pending returns a snapshot of every unclaimed item, due or not.
func (q *DelayedQueue) Pending() []domain.QueueItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	return slices.Clone(q.items)
}

// InFlight returns the ids of claimed items not yet acked.
func (q *DelayedQueue) InFlight() []string {
	q.mu.Lock()
	defer q.mu.Unlock()
	ids := slices.Collect(maps.Keys(q.leased))
	slices.Sort(ids)
	return ids
}
