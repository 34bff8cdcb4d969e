package master

import (
	"context"
	"testing"
	"time"

	"instawork/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecruit_NobodyPresentReschedulesAfterNoCandidateDelay(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-3*time.Second))
	h.addWorker(t, "w2", t0.Add(-2*time.Second))
	h.addWorker(t, "w3", t0.Add(-1*time.Second))
	h.addTask(t, "t1", "creator", "")

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidate, outcome)

	for i, id := range []string{"w1", "w2", "w3"} {
		assert.Equal(t, 1, h.channel.Checks(id), "presence checked once for %s", id)
		assert.Empty(t, h.channel.Messages(id))
		assert.Equal(t, t0.Add(time.Duration(i-3)*time.Second), h.worker(t, id).NextContactAt, "absent workers keep their place")
	}

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, RouteRecruit, pending[0].Route)
	assert.Equal(t, "t1", pending[0].Payload["task"])
	assert.Equal(t, t0.Add(15*time.Second), pending[0].DueAt)
}

func TestRecruit_OffersToFirstPresentWorkerOnly(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-3*time.Second))
	h.addWorker(t, "w2", t0.Add(-2*time.Second))
	h.addWorker(t, "w3", t0.Add(-1*time.Second))
	h.channel.SetPresent("w2", true)
	h.channel.SetPresent("w3", true)
	h.addTask(t, "t1", "creator", "")

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)

	assert.Equal(t, 1, h.channel.Checks("w1"))
	assert.Equal(t, 1, h.channel.Checks("w2"))
	assert.Zero(t, h.channel.Checks("w3"), "scan stops after the first offer")

	msgs := h.channel.Messages("w2")
	require.Len(t, msgs, 1)
	assert.Equal(t, domain.MessageOffer, msgs[0].Kind)
	assert.Equal(t, "t1", msgs[0].TaskID)
	assert.Equal(t, "https://work.example.com/go/t1", msgs[0].AcceptURL)
	assert.Contains(t, msgs[0].Body, msgs[0].AcceptURL)
	assert.Empty(t, h.channel.Messages("w3"))

	assert.Equal(t, t0.Add(5*time.Minute), h.worker(t, "w2").NextContactAt)
	assert.Equal(t, t0.Add(-3*time.Second), h.worker(t, "w1").NextContactAt, "absent workers are not marked contacted")

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, t0.Add(30*time.Second), pending[0].DueAt)
}

func TestRecruit_MissingTaskIsNotRescheduled(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)

	outcome, err := h.dispatcher.Recruit(context.Background(), "nope")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMissing, outcome)
	assert.Empty(t, h.queue.Pending())
	assert.Zero(t, h.channel.Checks("w1"))
}

func TestRecruit_AssignedTaskIsANoOp(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)
	h.addTask(t, "t1", "creator", "")
	_, err := h.store.Tasks().Update(context.Background(), "t1", func(task *domain.Task) error {
		task.AssignedTo = "someone"
		at := t0
		task.AssignedAt = &at
		return nil
	})
	require.NoError(t, err)

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAssigned, outcome)
	assert.Empty(t, h.queue.Pending())
	assert.Zero(t, h.channel.Checks("w1"))
	assert.Empty(t, h.channel.Messages("w1"))
}

func TestRecruit_SendFailureStillCountsAsOffer(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)
	h.channel.FailSends("w1")
	h.addTask(t, "t1", "creator", "")

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)

	// The contact was recorded before the send failed and is not rolled back.
	assert.Equal(t, t0.Add(5*time.Minute), h.worker(t, "w1").NextContactAt)
	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, t0.Add(30*time.Second), pending[0].DueAt)
}

func TestRecruit_NeverOffersToCreator(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "creator", t0.Add(-time.Second))
	h.channel.SetPresent("creator", true)
	h.addTask(t, "t1", "creator", "")

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidate, outcome)
	assert.Zero(t, h.channel.Checks("creator"))
	assert.Empty(t, h.channel.Messages("creator"))
}

func TestRecruit_RespectsPool(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "outsider", t0.Add(-2*time.Second))
	h.addWorker(t, "member", t0.Add(-1*time.Second), "translators")
	h.channel.SetPresent("outsider", true)
	h.channel.SetPresent("member", true)
	h.addTask(t, "t1", "creator", "translators")

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)
	assert.Zero(t, h.channel.Checks("outsider"))
	assert.Len(t, h.channel.Messages("member"), 1)
}

func TestRecruit_SuccessivePassesOfferDifferentWorkers(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-2*time.Second))
	h.addWorker(t, "w2", t0.Add(-1*time.Second))
	h.channel.SetPresent("w1", true)
	h.channel.SetPresent("w2", true)
	h.addTask(t, "t1", "creator", "")

	_, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	h.now = h.now.Add(30 * time.Second)
	_, err = h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)

	assert.Len(t, h.channel.Messages("w1"), 1)
	assert.Len(t, h.channel.Messages("w2"), 1)
}

func TestRecruit_CooldownExcludesRecentlyContacted(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)
	h.addTask(t, "t1", "creator", "")
	h.addTask(t, "t2", "creator", "")

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)

	h.now = h.now.Add(time.Minute)
	outcome, err = h.dispatcher.Recruit(context.Background(), "t2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNoCandidate, outcome)
	assert.Len(t, h.channel.Messages("w1"), 1)
}

func TestHandleQueueItem(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)
	h.addTask(t, "t1", "creator", "")

	err := h.dispatcher.HandleQueueItem(context.Background(), domain.QueueItem{ID: "i1", Route: RouteRecruit, Payload: RecruitPayload("t1")})
	require.NoError(t, err)
	assert.Len(t, h.channel.Messages("w1"), 1)

	err = h.dispatcher.HandleQueueItem(context.Background(), domain.QueueItem{ID: "i2", Route: RouteRecruit})
	assert.NoError(t, err, "malformed items are dropped, not retried")
}

func TestURLs(t *testing.T) {
	assert.Equal(t, "https://x.test/go/t1", AcceptURL("https://x.test/", "t1"))
	assert.Equal(t, "https://x.test/done/t1", DoneURL("https://x.test", "t1"))
}

// failingUpdates fails Update for the listed workers.
type failingUpdates struct {
	domain.WorkerRepository
	errs map[string]error
}

func (r failingUpdates) Update(ctx context.Context, id string, mutate func(*domain.Worker) error) (*domain.Worker, error) {
	if err, ok := r.errs[id]; ok {
		return nil, err
	}
	return r.WorkerRepository.Update(ctx, id, mutate)
}

func TestRecruit_VanishedWorkerIsSkipped(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-2*time.Second))
	h.addWorker(t, "w2", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)
	h.channel.SetPresent("w2", true)
	h.addTask(t, "t1", "creator", "")
	h.dispatcher.workers = failingUpdates{h.store.Workers(), map[string]error{"w1": domain.ErrWorkerNotFound}}

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)
	assert.Empty(t, h.channel.Messages("w1"))
	assert.Len(t, h.channel.Messages("w2"), 1)
	assert.Equal(t, t0.Add(5*time.Minute), h.worker(t, "w2").NextContactAt)
}

func TestRecruit_OffersEvenWhenContactCannotBeRecorded(t *testing.T) {
	h := newHarness(t, 20)
	h.addWorker(t, "w1", t0.Add(-time.Second))
	h.channel.SetPresent("w1", true)
	h.addTask(t, "t1", "creator", "")
	h.dispatcher.workers = failingUpdates{h.store.Workers(), map[string]error{"w1": domain.ErrConcurrentUpdate}}

	outcome, err := h.dispatcher.Recruit(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeOffered, outcome)
	assert.Len(t, h.channel.Messages("w1"), 1)
	assert.Equal(t, t0.Add(-time.Second), h.worker(t, "w1").NextContactAt, "no cooldown was recorded")

	pending := h.queue.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, t0.Add(30*time.Second), pending[0].DueAt)
}
