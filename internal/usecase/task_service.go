package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"instawork/internal/domain"
	"instawork/internal/master"
	"instawork/internal/metrics"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// errUnchanged aborts a repository Update without writing.
var errUnchanged = errors.New("unchanged")

// NewTask carries the fields a requester supplies when posting a task.
type NewTask struct {
	Title       string
	Description string
	URL         string
	NotifyURL   string
	Pool        string
}

// AcceptResult tells the caller of Accept what happened.
type AcceptResult string

const (
	AcceptAssigned AcceptResult = "assigned"
	AcceptTaken    AcceptResult = "taken"
	AcceptBusy     AcceptResult = "busy"
)

// JobView is what a worker sees when looking at a task.
type JobView string

const (
	JobPreview JobView = "preview" // nobody holds it yet
	JobTaken   JobView = "taken"   // someone else holds it
	JobBusy    JobView = "busy"    // the caller holds it and it is still open
	JobReview  JobView = "review"  // the caller held it and completed it
)

// TaskService holds the task lifecycle: creation, claim and completion.
type TaskService struct {
	tasks        domain.TaskRepository
	workers      domain.WorkerRepository
	pools        domain.PoolRepository
	retry        *master.RetryScheduler
	messenger    domain.Messenger
	notifier     domain.Notifier
	releaseDelay time.Duration
	now          func() time.Time
	logger       *slog.Logger
	tracer       trace.Tracer
}

// NewTaskService creates a new TaskService instance. releaseDelay is how soon a
// worker becomes contactable again after completing a task.
func NewTaskService(
	tasks domain.TaskRepository,
	workers domain.WorkerRepository,
	pools domain.PoolRepository,
	retry *master.RetryScheduler,
	messenger domain.Messenger,
	notifier domain.Notifier,
	releaseDelay time.Duration,
	logger *slog.Logger,
) *TaskService {
	if releaseDelay <= 0 {
		releaseDelay = time.Second
	}
	return &TaskService{
		tasks:        tasks,
		workers:      workers,
		pools:        pools,
		retry:        retry,
		messenger:    messenger,
		notifier:     notifier,
		releaseDelay: releaseDelay,
		now:          time.Now,
		logger:       logger.With("component", "task-service"),
		tracer:       otel.Tracer("instawork-usecase"),
	}
}

// Create stores a new open task and queues its first recruitment pass.
func (s *TaskService) Create(ctx context.Context, req NewTask, creatorID string) (*domain.Task, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreateTask")
	defer span.End()

	if req.Pool != "" {
		if _, err := s.pools.Get(ctx, req.Pool); err != nil {
			span.RecordError(err)
			return nil, err
		}
	}

	task := &domain.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: req.Description,
		URL:         req.URL,
		NotifyURL:   req.NotifyURL,
		Pool:        req.Pool,
		CreatorID:   creatorID,
		CreatedAt:   s.now().UTC(),
	}
	if err := task.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("task.id", task.ID), attribute.String("task.pool", task.Pool))

	if err := s.tasks.Create(ctx, task); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save task to repository")
		return nil, err
	}

	if err := s.retry.TaskCreated(ctx, task.ID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to queue recruitment")
		s.logger.Error("task stored but recruitment not queued", "task_id", task.ID, "error", err)
		return task, err
	}

	s.logger.Info("task created", "task_id", task.ID, "creator_id", creatorID, "pool", task.Pool)
	return task, nil
}

// Get returns a task by id.
func (s *TaskService) Get(ctx context.Context, id string) (*domain.Task, error) {
	ctx, span := s.tracer.Start(ctx, "service.GetTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get task from repository")
	}
	return task, err
}

// Assign claims taskID for worker. Exactly one of any number of concurrent
// callers gets true; the rest get false with a nil error. The caller must have
// checked that the worker holds no task.
func (s *TaskService) Assign(ctx context.Context, taskID string, worker *domain.Worker) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "service.AssignTask", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("worker.id", worker.ID),
	))
	defer span.End()

	now := s.now().UTC()
	task, err := s.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		if t.IsAssigned() {
			return domain.ErrTaskTaken
		}
		t.AssignedTo = worker.ID
		t.AssignedAt = &now
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrTaskTaken) {
			metrics.TaskClaimsTotal.WithLabelValues("lost").Inc()
			span.SetAttributes(attribute.Bool("claim.won", false))
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim transaction failed")
		return false, err
	}
	metrics.TaskClaimsTotal.WithLabelValues("won").Inc()
	span.SetAttributes(attribute.Bool("claim.won", true))

	if _, err := s.workers.Update(ctx, worker.ID, func(w *domain.Worker) error {
		w.CurrentTask = taskID
		return nil
	}); err != nil {
		span.RecordError(err)
		s.logger.Error("task claimed but worker not updated", "task_id", taskID, "worker_id", worker.ID, "error", err)
	}

	s.logger.Info("task assigned", "task_id", taskID, "worker_id", worker.ID)
	if task.NotifyURL != "" {
		s.notifier.Notify(ctx, task.NotifyURL, taskID, domain.TaskEventAccepted)
	}
	return true, nil
}

// Accept is the worker-facing claim: a worker already holding a task is turned
// away before the claim is attempted.
func (s *TaskService) Accept(ctx context.Context, taskID, workerID string) (AcceptResult, *domain.Task, error) {
	ctx, span := s.tracer.Start(ctx, "service.AcceptTask")
	defer span.End()

	worker, err := s.workers.Get(ctx, workerID)
	if err != nil {
		span.RecordError(err)
		return "", nil, err
	}
	if !worker.IsIdle() {
		task, err := s.tasks.Get(ctx, taskID)
		return AcceptBusy, task, err
	}

	won, err := s.Assign(ctx, taskID, worker)
	if err != nil {
		return "", nil, err
	}
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return "", nil, err
	}
	if !won {
		return AcceptTaken, task, nil
	}
	return AcceptAssigned, task, nil
}

// Complete marks taskID completed on behalf of workerID and releases the
// worker. It returns false without mutating anything when the task is already
// completed or workerID is not the assignee.
func (s *TaskService) Complete(ctx context.Context, taskID, workerID string) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "service.CompleteTask", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("worker.id", workerID),
	))
	defer span.End()

	now := s.now().UTC()
	task, err := s.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		if t.CompletedAt != nil {
			return domain.ErrTaskCompleted
		}
		if t.AssignedTo != workerID {
			return domain.ErrNotAssignee
		}
		t.CompletedAt = &now
		return nil
	})
	if err != nil {
		if domain.IsConflict(err) {
			metrics.TaskCompletionsTotal.WithLabelValues("rejected").Inc()
			s.logger.Info("completion rejected", "task_id", taskID, "worker_id", workerID, "reason", err)
			return false, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion transaction failed")
		return false, err
	}
	metrics.TaskCompletionsTotal.WithLabelValues("completed").Inc()

	_, err = s.workers.Update(ctx, workerID, func(w *domain.Worker) error {
		if !w.Release(taskID, now, s.releaseDelay) {
			return errUnchanged
		}
		return nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		span.RecordError(err)
		s.logger.Error("task completed but worker not released", "task_id", taskID, "worker_id", workerID, "error", err)
	}

	s.logger.Info("task completed", "task_id", taskID, "worker_id", workerID)
	if task.NotifyURL != "" {
		s.notifier.Notify(ctx, task.NotifyURL, taskID, domain.TaskEventCompleted)
	}
	notice := domain.Message{
		ID:     uuid.NewString(),
		Kind:   domain.MessageNotice,
		TaskID: taskID,
		Title:  task.Title,
		Body:   fmt.Sprintf("Your job was completed: %s", task.Title),
		SentAt: now,
	}
	if err := s.messenger.Send(ctx, task.CreatorID, notice); err != nil {
		s.logger.Warn("failed to notify task creator", "task_id", taskID, "creator_id", task.CreatorID, "error", err)
	}
	return true, nil
}

// View resolves what workerID should see for taskID.
func (s *TaskService) View(ctx context.Context, taskID, workerID string) (JobView, *domain.Task, error) {
	task, err := s.Get(ctx, taskID)
	if err != nil {
		return "", nil, err
	}
	switch {
	case !task.IsAssigned():
		return JobPreview, task, nil
	case task.AssignedTo != workerID:
		return JobTaken, task, nil
	case task.CompletedAt != nil:
		return JobReview, task, nil
	default:
		return JobBusy, task, nil
	}
}

// Status lists the tasks created by creatorID, split into open and done.
func (s *TaskService) Status(ctx context.Context, creatorID string) (open, done []*domain.Task, err error) {
	ctx, span := s.tracer.Start(ctx, "service.Status")
	defer span.End()

	tasks, err := s.tasks.ListByCreator(ctx, creatorID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list tasks from repository")
		return nil, nil, err
	}
	for _, t := range tasks {
		if t.CompletedAt != nil {
			done = append(done, t)
		} else {
			open = append(open, t)
		}
	}
	return open, done, nil
}
