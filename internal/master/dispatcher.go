// internal/master/dispatcher.go
package master

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"instawork/internal/domain"
	"instawork/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Outcome describes how a recruitment pass ended.
type Outcome string

const (
	OutcomeOffered     Outcome = "offered"
	OutcomeNoCandidate Outcome = "no_candidate"
	OutcomeAssigned    Outcome = "assigned"
	OutcomeMissing     Outcome = "missing"
	OutcomeError       Outcome = "error"
)

// DispatcherConfig carries the recruitment settings that are not part of the retry policy.
type DispatcherConfig struct {
	// ContactCooldown is how long a contacted worker is left alone.
	ContactCooldown time.Duration
	// PublicBaseURL prefixes the acceptance link placed in offers.
	PublicBaseURL string
}

// Dispatcher runs recruitment passes: it walks the free-worker cursor, checks
// presence and sends at most one offer per pass.
//
// Marking a worker contacted and sending the offer are two separate side
// effects. If the send fails after the contact was recorded, the worker is
// skipped for one cooldown with nothing to compensate. If recording the
// contact fails for any reason other than the worker being busy or gone, the
// offer is still sent and the worker stays eligible for the next pass.
type Dispatcher struct {
	tasks     domain.TaskRepository
	workers   domain.WorkerRepository
	cursor    *FreeWorkerCursor
	presence  domain.Presence
	messenger domain.Messenger
	retry     *RetryScheduler
	cfg       DispatcherConfig
	now       func() time.Time
	logger    *slog.Logger
	tracer    trace.Tracer
}

// NewDispatcher creates a recruitment dispatcher.
func NewDispatcher(
	tasks domain.TaskRepository,
	workers domain.WorkerRepository,
	cursor *FreeWorkerCursor,
	presence domain.Presence,
	messenger domain.Messenger,
	retry *RetryScheduler,
	cfg DispatcherConfig,
	logger *slog.Logger,
) *Dispatcher {
	if cfg.ContactCooldown <= 0 {
		cfg.ContactCooldown = 5 * time.Minute
	}
	return &Dispatcher{
		tasks:     tasks,
		workers:   workers,
		cursor:    cursor,
		presence:  presence,
		messenger: messenger,
		retry:     retry,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger.With("component", "dispatcher"),
		tracer:    otel.Tracer("instawork-master"),
	}
}

// HandleQueueItem adapts Recruit to the delayed-queue runner.
func (d *Dispatcher) HandleQueueItem(ctx context.Context, item domain.QueueItem) error {
	taskID, err := TaskIDFromPayload(item.Payload)
	if err != nil {
		d.logger.Warn("dropping malformed recruit item", "item_id", item.ID, "error", err)
		return nil
	}
	_, err = d.Recruit(ctx, taskID)
	return err
}

// Recruit performs one recruitment pass for taskID.
//
// A missing task is logged and not rescheduled. An assigned task ends the pass
// with no reschedule, so duplicate passes become no-ops once someone accepts.
func (d *Dispatcher) Recruit(ctx context.Context, taskID string) (outcome Outcome, err error) {
	ctx, span := d.tracer.Start(ctx, "dispatcher.Recruit", trace.WithAttributes(attribute.String("task.id", taskID)))
	defer func() {
		metrics.RecruitmentPassesTotal.WithLabelValues(string(outcome)).Inc()
		span.SetAttributes(attribute.String("recruit.outcome", string(outcome)))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "recruitment pass failed")
		}
		span.End()
	}()

	task, err := d.tasks.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			d.logger.Warn("recruitment aborted for missing task", "task_id", taskID)
			return OutcomeMissing, nil
		}
		return OutcomeError, fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	if task.IsAssigned() {
		return OutcomeAssigned, nil
	}

	for worker, scanErr := range d.cursor.Candidates(ctx, task) {
		if scanErr != nil {
			d.logger.Error("free worker scan failed", "task_id", taskID, "error", scanErr)
			if err := d.retry.NoCandidate(ctx, taskID); err != nil {
				return OutcomeError, errors.Join(scanErr, err)
			}
			return OutcomeError, nil
		}

		if !d.presence.Present(ctx, worker.ID) {
			continue
		}

		if err := d.markContacted(ctx, worker.ID); err != nil {
			switch {
			case errors.Is(err, domain.ErrWorkerBusy):
				// Picked up another task since the scan read it.
				continue
			case errors.Is(err, domain.ErrWorkerNotFound):
				d.logger.Warn("candidate vanished before contact", "worker_id", worker.ID, "task_id", taskID)
				continue
			default:
				d.logger.Warn("failed to record contact, offering anyway", "worker_id", worker.ID, "task_id", taskID, "error", err)
			}
		}

		d.logger.Info("offering task", "worker_id", worker.ID, "task_id", taskID)
		if err := d.messenger.Send(ctx, worker.ID, d.offerFor(task)); err != nil {
			d.logger.Warn("failed to send offer", "worker_id", worker.ID, "task_id", taskID, "error", err)
		} else {
			metrics.OffersSentTotal.Inc()
		}
		span.SetAttributes(attribute.String("worker.id", worker.ID))

		if err := d.retry.OfferSent(ctx, taskID); err != nil {
			return OutcomeOffered, err
		}
		return OutcomeOffered, nil
	}

	d.logger.Warn("no free workers for task", "task_id", taskID)
	if err := d.retry.NoCandidate(ctx, taskID); err != nil {
		return OutcomeNoCandidate, err
	}
	return OutcomeNoCandidate, nil
}

// markContacted pushes the worker's next contact time out by the cooldown.
func (d *Dispatcher) markContacted(ctx context.Context, workerID string) error {
	now := d.now()
	_, err := d.workers.Update(ctx, workerID, func(w *domain.Worker) error {
		if !w.IsIdle() {
			return domain.ErrWorkerBusy
		}
		w.Contacted(now, d.cfg.ContactCooldown)
		return nil
	})
	return err
}

// offerFor builds the offer message with the acceptance link for task.
func (d *Dispatcher) offerFor(task *domain.Task) domain.Message {
	acceptURL := AcceptURL(d.cfg.PublicBaseURL, task.ID)
	return domain.Message{
		ID:        uuid.NewString(),
		Kind:      domain.MessageOffer,
		TaskID:    task.ID,
		Title:     task.Title,
		Body:      fmt.Sprintf("%s\n\n%s\n\nAccept: %s", task.Title, task.Description, acceptURL),
		AcceptURL: acceptURL,
		SentAt:    d.now(),
	}
}

// AcceptURL is the link a worker follows to claim a task.
func AcceptURL(baseURL, taskID string) string {
	return strings.TrimRight(baseURL, "/") + "/go/" + taskID
}

// DoneURL is the link an assignee posts to when the task is finished.
func DoneURL(baseURL, taskID string) string {
	return strings.TrimRight(baseURL, "/") + "/done/" + taskID
}
