package master

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"instawork/internal/domain"
)

// RouteRecruit is the delayed-queue route that runs one recruitment pass.
const RouteRecruit = "recruit"

// payloadTaskKey is the payload field carrying the task id.
const payloadTaskKey = "task"

// RetryPolicy holds the three delays between recruitment passes.
type RetryPolicy struct {
	Immediate        time.Duration // first pass, right after the task is created
	NoCandidate      time.Duration // after a pass that found nobody present
	OfferOutstanding time.Duration // after a pass that sent an offer
}

// DefaultRetryPolicy returns 0s / 15s / 30s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Immediate:        0,
		NoCandidate:      15 * time.Second,
		OfferOutstanding: 30 * time.Second,
	}
}

// RetryScheduler submits the next recruitment pass to the delayed queue.
type RetryScheduler struct {
	queue  domain.DelayedQueue
	policy RetryPolicy
	logger *slog.Logger
}

func NewRetryScheduler(queue domain.DelayedQueue, policy RetryPolicy, logger *slog.Logger) *RetryScheduler {
	return &RetryScheduler{
		queue:  queue,
		policy: policy,
		logger: logger.With("component", "retry-scheduler"),
	}
}

// Policy returns the configured delays.
func (s *RetryScheduler) Policy() RetryPolicy {
	return s.policy
}

// TaskCreated queues the first pass for a new task.
func (s *RetryScheduler) TaskCreated(ctx context.Context, taskID string) error {
	return s.schedule(ctx, taskID, s.policy.Immediate)
}

// NoCandidate queues the pass following one that found no present worker.
func (s *RetryScheduler) NoCandidate(ctx context.Context, taskID string) error {
	return s.schedule(ctx, taskID, s.policy.NoCandidate)
}

// OfferSent queues the pass following one that sent an offer.
func (s *RetryScheduler) OfferSent(ctx context.Context, taskID string) error {
	return s.schedule(ctx, taskID, s.policy.OfferOutstanding)
}

func (s *RetryScheduler) schedule(ctx context.Context, taskID string, delay time.Duration) error {
	if err := s.queue.Enqueue(ctx, RouteRecruit, RecruitPayload(taskID), delay); err != nil {
		return fmt.Errorf("failed to queue recruitment for task %s: %w", taskID, err)
	}
	s.logger.Debug("queued recruitment pass", "task_id", taskID, "delay", delay)
	return nil
}

// RecruitPayload builds the queue payload for a recruitment pass.
func RecruitPayload(taskID string) map[string]string {
	return map[string]string{payloadTaskKey: taskID}
}

// TaskIDFromPayload extracts the task id from a recruitment payload.
func TaskIDFromPayload(payload map[string]string) (string, error) {
	id := payload[payloadTaskKey]
	if id == "" {
		return "", fmt.Errorf("recruit payload has no %q field", payloadTaskKey)
	}
	return id, nil
}
