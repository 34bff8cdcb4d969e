package usecase

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"instawork/internal/domain"
	"instawork/internal/infra/memory"
	"instawork/internal/master"

	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	now      time.Time
	store    *memory.Store
	queue    *memory.DelayedQueue
	channel  *memory.Channel
	notifier *memory.Notifier
	tasks    *TaskService
	workers  *WorkerService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		now:      t0,
		store:    memory.NewStore(),
		channel:  memory.NewChannel(),
		notifier: &memory.Notifier{},
	}
	clock := func() time.Time { return h.now }
	h.queue = memory.NewDelayedQueue(clock)
	retry := master.NewRetryScheduler(h.queue, master.DefaultRetryPolicy(), discardLogger())

	h.tasks = NewTaskService(h.store.Tasks(), h.store.Workers(), h.store.Pools(), retry, h.channel, h.notifier, time.Second, discardLogger())
	h.tasks.now = clock
	h.workers = NewWorkerService(h.store.Workers(), h.store.Pools(), discardLogger())
	h.workers.now = clock
	return h
}

func (h *harness) signup(t *testing.T, id string) *domain.Worker {
	t.Helper()
	w, err := h.workers.Signup(context.Background(), id)
	require.NoError(t, err)
	return w
}

func (h *harness) setNextContact(t *testing.T, id string, at time.Time) {
	t.Helper()
	_, err := h.store.Workers().Update(context.Background(), id, func(w *domain.Worker) error {
		w.NextContactAt = at
		return nil
	})
	require.NoError(t, err)
}

func (h *harness) createTask(t *testing.T, creator, pool string) *domain.Task {
	t.Helper()
	task, err := h.tasks.Create(context.Background(), NewTask{
		Title:     "Proofread",
		URL:       "https://example.com/doc",
		NotifyURL: "https://hooks.example.com/t",
		Pool:      pool,
	}, creator)
	require.NoError(t, err)
	return task
}

func (h *harness) worker(t *testing.T, id string) *domain.Worker {
	t.Helper()
	w, err := h.store.Workers().Get(context.Background(), id)
	require.NoError(t, err)
	return w
}
