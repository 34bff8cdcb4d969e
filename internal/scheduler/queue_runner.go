// internal/scheduler/queue_runner.go
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"instawork/internal/domain"
	"instawork/internal/metrics"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Handler processes one delayed-queue item for a route.
type Handler interface {
	HandleQueueItem(ctx context.Context, item domain.QueueItem) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, item domain.QueueItem) error

func (f HandlerFunc) HandleQueueItem(ctx context.Context, item domain.QueueItem) error {
	return f(ctx, item)
}

// QueueRunner drains due items from the delayed queue on a cron tick and hands
// them to the handler registered for their route. Items of one batch run in parallel.
// An item is acked once its handler returns; a failed item is queued again
// after errorDelay before the ack.
type QueueRunner struct {
	queue      domain.DelayedQueue
	spec       string
	batchSize  int
	errorDelay time.Duration
	handlers   map[string]Handler
	mu         sync.RWMutex
	now        func() time.Time
	logger     *slog.Logger
	tracer     trace.Tracer
}

// NewQueueRunner creates a runner that polls on the cron spec (e.g. "@every 1s").
func NewQueueRunner(queue domain.DelayedQueue, spec string, batchSize int, errorDelay time.Duration, logger *slog.Logger) *QueueRunner {
	if spec == "" {
		spec = "@every 1s"
	}
	if batchSize <= 0 {
		batchSize = 50
	}
	return &QueueRunner{
		queue:      queue,
		spec:       spec,
		batchSize:  batchSize,
		errorDelay: errorDelay,
		handlers:   make(map[string]Handler),
		now:        time.Now,
		logger:     logger.With("component", "queue-runner"),
		tracer:     otel.Tracer("instawork-scheduler"),
	}
}

// Handle registers h for route, replacing any earlier handler.
func (r *QueueRunner) Handle(route string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[route] = h
}

// Start runs the drain loop until ctx is cancelled. Overlapping ticks are skipped.
func (r *QueueRunner) Start(ctx context.Context) error {
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	if _, err := c.AddFunc(r.spec, func() {
		if _, err := r.Drain(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("failed to drain delayed queue", "error", err)
		}
	}); err != nil {
		r.logger.Error("invalid queue poll spec", "spec", r.spec, "error", err)
		return err
	}

	r.logger.Info("queue runner started", "spec", r.spec)
	c.Start()
	<-ctx.Done()
	r.logger.Info("queue runner stopping...")
	stopCtx := c.Stop()
	<-stopCtx.Done()
	r.logger.Info("queue runner stopped")
	return ctx.Err()
}

// Drain pops one batch of due items and processes it. It returns the number of items popped.
func (r *QueueRunner) Drain(ctx context.Context) (int, error) {
	items, err := r.queue.PopDue(ctx, r.now(), r.batchSize)
	if err != nil {
		return 0, err
	}

	var wg sync.WaitGroup
	for _, item := range items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.process(ctx, item)
		}()
	}
	wg.Wait()
	return len(items), nil
}

func (r *QueueRunner) process(ctx context.Context, item domain.QueueItem) {
	ctx, span := r.tracer.Start(ctx, "scheduler.ProcessItem", trace.WithAttributes(
		attribute.String("queue.item_id", item.ID),
		attribute.String("queue.route", item.Route),
	))
	defer span.End()

	logger := r.logger.With("item_id", item.ID, "route", item.Route)

	r.mu.RLock()
	h, ok := r.handlers[item.Route]
	r.mu.RUnlock()
	if !ok {
		logger.Warn("dropping item for unknown route")
		metrics.QueueItemsProcessedTotal.WithLabelValues(item.Route, "dropped").Inc()
		r.ack(ctx, item, logger)
		return
	}

	if err := h.HandleQueueItem(ctx, item); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "queue item handler failed")
		logger.Error("queue item handler failed, requeueing", "error", err, "delay", r.errorDelay)
		metrics.QueueItemsProcessedTotal.WithLabelValues(item.Route, "failed").Inc()
		// The runner's context is cancelled on shutdown and on leadership loss.
		if err := r.queue.Enqueue(context.WithoutCancel(ctx), item.Route, item.Payload, r.errorDelay); err != nil {
			logger.Error("failed to requeue item, leaving it leased", "error", err)
			return
		}
		r.ack(ctx, item, logger)
		return
	}
	metrics.QueueItemsProcessedTotal.WithLabelValues(item.Route, "success").Inc()
	r.ack(ctx, item, logger)
}

// ack drops a finished item. An item that cannot be acked comes back when its lease runs out.
func (r *QueueRunner) ack(ctx context.Context, item domain.QueueItem, logger *slog.Logger) {
	if err := r.queue.Ack(context.WithoutCancel(ctx), item); err != nil {
		logger.Warn("failed to ack queue item", "error", err)
	}
}
