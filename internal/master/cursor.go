// internal/master/cursor.go
package master

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"instawork/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const defaultScanPageSize = 20

// FreeWorkerCursor yields idle workers for a task in ascending NextContactAt order.
//
// The ordering is a cutoff line: the scan stops at the first worker whose
// NextContactAt is still in the future, even if later rows would be eligible.
// The scan position is checkpointed per task so the next pass resumes where
// the previous one stopped. A lost checkpoint restarts the scan from the top.
type FreeWorkerCursor struct {
	workers     domain.WorkerRepository
	checkpoints domain.CheckpointCache
	pageSize    int
	now         func() time.Time
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewFreeWorkerCursor creates a cursor reading pageSize workers per store query.
func NewFreeWorkerCursor(workers domain.WorkerRepository, checkpoints domain.CheckpointCache, pageSize int, logger *slog.Logger) *FreeWorkerCursor {
	if pageSize <= 0 {
		pageSize = defaultScanPageSize
	}
	return &FreeWorkerCursor{
		workers:     workers,
		checkpoints: checkpoints,
		pageSize:    pageSize,
		now:         time.Now,
		logger:      logger.With("component", "free-worker-cursor"),
		tracer:      otel.Tracer("instawork-master"),
	}
}

// checkpointKey names the cache entry holding the scan position for a task.
func checkpointKey(taskID string) string {
	return "free_cursor_" + taskID
}

// Candidates returns the lazy candidate sequence for task. The task creator is
// skipped without ending the scan. A store error is yielded once and ends the sequence.
// Breaking out of the loop early leaves the checkpoint in place.
func (c *FreeWorkerCursor) Candidates(ctx context.Context, task *domain.Task) iter.Seq2[*domain.Worker, error] {
	return func(yield func(*domain.Worker, error) bool) {
		ctx, span := c.tracer.Start(ctx, "cursor.Candidates", trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.pool", task.Pool),
		))
		defer span.End()

		key := checkpointKey(task.ID)
		after, resumed, err := c.checkpoints.Get(ctx, key)
		if err != nil {
			c.logger.Warn("checkpoint unavailable, scanning from the beginning", "task_id", task.ID, "error", err)
			after, resumed = "", false
		}
		span.SetAttributes(attribute.Bool("cursor.resumed", resumed))

		now := c.now()
		yielded := 0
		for {
			page, err := c.workers.ListIdle(ctx, domain.IdleQuery{Pool: task.Pool, After: after, Limit: c.pageSize})
			if err != nil {
				span.RecordError(err)
				yield(nil, fmt.Errorf("failed to list idle workers for task %s: %w", task.ID, err))
				return
			}

			for _, entry := range page {
				w := entry.Worker
				if w.NextContactAt.After(now) {
					c.logger.Info("cannot contact worker yet", "worker_id", w.ID, "task_id", task.ID, "next_contact_at", w.NextContactAt)
					c.clear(ctx, key)
					span.SetAttributes(attribute.Int("cursor.yielded", yielded), attribute.String("cursor.end", "cutoff"))
					return
				}

				after = entry.Cursor
				c.save(ctx, key, after)

				if w.ID == task.CreatorID {
					continue
				}
				yielded++
				if !yield(w, nil) {
					span.SetAttributes(attribute.Int("cursor.yielded", yielded), attribute.String("cursor.end", "stopped"))
					return
				}
			}

			if len(page) < c.pageSize {
				c.clear(ctx, key)
				span.SetAttributes(attribute.Int("cursor.yielded", yielded), attribute.String("cursor.end", "exhausted"))
				return
			}
		}
	}
}

func (c *FreeWorkerCursor) save(ctx context.Context, key, token string) {
	if err := c.checkpoints.Set(ctx, key, token); err != nil {
		c.logger.Warn("failed to save scan checkpoint", "key", key, "error", err)
	}
}

func (c *FreeWorkerCursor) clear(ctx context.Context, key string) {
	if err := c.checkpoints.Delete(ctx, key); err != nil {
		c.logger.Warn("failed to clear scan checkpoint", "key", key, "error", err)
	}
}
