package master

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"instawork/internal/domain"
	"instawork/internal/infra/memory"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// harness wires a dispatcher to in-memory collaborators sharing one clock.
type harness struct {
	now         time.Time
	store       *memory.Store
	checkpoints *memory.CheckpointCache
	queue       *memory.DelayedQueue
	channel     *memory.Channel
	cursor      *FreeWorkerCursor
	retry       *RetryScheduler
	dispatcher  *Dispatcher
}

func newHarness(t *testing.T, pageSize int) *harness {
	t.Helper()
	h := &harness{
		now:         t0,
		store:       memory.NewStore(),
		checkpoints: memory.NewCheckpointCache(),
		channel:     memory.NewChannel(),
	}
	clock := func() time.Time { return h.now }
	h.queue = memory.NewDelayedQueue(clock)
	h.cursor = NewFreeWorkerCursor(h.store.Workers(), h.checkpoints, pageSize, discardLogger())
	h.cursor.now = clock
	h.retry = NewRetryScheduler(h.queue, DefaultRetryPolicy(), discardLogger())
	h.dispatcher = NewDispatcher(
		h.store.Tasks(), h.store.Workers(), h.cursor, h.channel, h.channel, h.retry,
		DispatcherConfig{ContactCooldown: 5 * time.Minute, PublicBaseURL: "https://work.example.com/"},
		discardLogger(),
	)
	h.dispatcher.now = clock
	return h
}

func (h *harness) addWorker(t *testing.T, id string, nextContact time.Time, pools ...string) {
	t.Helper()
	w := &domain.Worker{ID: id, APIKey: "key-" + id, JoinedAt: t0, NextContactAt: nextContact}
	for _, p := range pools {
		w.JoinPool(p)
	}
	require.NoError(t, h.store.Workers().Create(context.Background(), w))
}

func (h *harness) addTask(t *testing.T, id, creator, pool string) *domain.Task {
	t.Helper()
	task := &domain.Task{
		ID:        id,
		Title:     "Task " + id,
		URL:       "https://example.com/" + id,
		Pool:      pool,
		CreatorID: creator,
		CreatedAt: h.now,
	}
	require.NoError(t, h.store.Tasks().Create(context.Background(), task))
	return task
}

func (h *harness) worker(t *testing.T, id string) *domain.Worker {
	t.Helper()
	w, err := h.store.Workers().Get(context.Background(), id)
	require.NoError(t, err)
	return w
}

// collect drains the candidate sequence, stopping after max yields when max > 0.
func collect(t *testing.T, c *FreeWorkerCursor, task *domain.Task, max int) []string {
	t.Helper()
	var ids []string
	for w, err := range c.Candidates(context.Background(), task) {
		require.NoError(t, err)
		ids = append(ids, w.ID)
		if max > 0 && len(ids) == max {
			break
		}
	}
	return ids
}
