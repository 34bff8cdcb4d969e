package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"instawork/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WebhookPayload is the JSON body posted to a task's notify URL.
type WebhookPayload struct {
	TaskID string           `json:"task_id"`
	Event  domain.TaskEvent `json:"event"`
	SentAt time.Time        `json:"sent_at"`
}

// webhookNotifier posts task events to requester webhooks. Every delivery runs
// in its own goroutine and is attempted exactly once.
type webhookNotifier struct {
	client *http.Client
	logger *slog.Logger
	tracer trace.Tracer
	done   func() // test hook, called after each delivery attempt
}

// NewWebhookNotifier creates a notifier whose requests give up after timeout.
func NewWebhookNotifier(timeout time.Duration, logger *slog.Logger) domain.Notifier {
	return newWebhookNotifier(timeout, logger, nil)
}

func newWebhookNotifier(timeout time.Duration, logger *slog.Logger, done func()) *webhookNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &webhookNotifier{
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "webhook-notifier"),
		tracer: otel.Tracer("instawork-webhook"),
		done:   done,
	}
}

// Notify returns immediately; the POST happens in the background, detached
// from ctx cancellation but keeping its trace.
func (n *webhookNotifier) Notify(ctx context.Context, url, taskID string, event domain.TaskEvent) {
	if url == "" {
		return
	}
	bg := trace.ContextWithSpanContext(context.Background(), trace.SpanContextFromContext(ctx))
	go func() {
		if n.done != nil {
			defer n.done()
		}
		if err := n.deliver(bg, url, taskID, event); err != nil {
			n.logger.Warn("webhook delivery failed", "task_id", taskID, "event", event, "url", url, "error", err)
			return
		}
		n.logger.Info("webhook delivered", "task_id", taskID, "event", event)
	}()
}

// deliver performs a single HTTP request.
func (n *webhookNotifier) deliver(ctx context.Context, url, taskID string, event domain.TaskEvent) error {
	ctx, span := n.tracer.Start(ctx, "webhook.Deliver", trace.WithAttributes(
		attribute.String("task.id", taskID),
		attribute.String("webhook.event", string(event)),
	))
	defer span.End()

	body, err := json.Marshal(WebhookPayload{TaskID: taskID, Event: event, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "webhook request failed")
		return fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if resp.StatusCode >= 500 {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("webhook returned 5xx server error: %s", resp.Status)
	}
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, resp.Status)
		return fmt.Errorf("webhook returned 4xx client error: %s", resp.Status)
	}
	return nil
}
