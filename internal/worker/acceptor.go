package worker

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"instawork/internal/domain"
)

// Acceptor claims offered tasks on the worker's behalf by posting to the
// offer's acceptance link with the worker's api key.
type Acceptor struct {
	apiKey string
	client *http.Client
	logger *slog.Logger
}

func NewAcceptor(apiKey string, timeout time.Duration, logger *slog.Logger) *Acceptor {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Acceptor{
		apiKey: apiKey,
		client: &http.Client{Timeout: timeout},
		logger: logger.With("component", "acceptor"),
	}
}

// Accept posts to the acceptance link. A 409 means the task went to someone
// else or the worker is busy and is reported as (false, nil).
func (a *Acceptor) Accept(ctx context.Context, msg domain.Message) (bool, error) {
	if msg.Kind != domain.MessageOffer || msg.AcceptURL == "" {
		return false, fmt.Errorf("message %s is not an offer", msg.ID)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, msg.AcceptURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create accept request: %w", err)
	}
	req.Header.Set("X-API-Key", a.apiKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("accept request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusConflict:
		return false, nil
	case resp.StatusCode >= 400:
		return false, fmt.Errorf("accept returned %s", resp.Status)
	}
	return true, nil
}

// Handle logs every message and, for offers, tries to accept them.
func (a *Acceptor) Handle(ctx context.Context, msg domain.Message) {
	a.logger.Info("message received", "kind", msg.Kind, "task_id", msg.TaskID, "title", msg.Title)
	if msg.Kind != domain.MessageOffer {
		return
	}
	ok, err := a.Accept(ctx, msg)
	switch {
	case err != nil:
		a.logger.Warn("failed to accept offer", "task_id", msg.TaskID, "error", err)
	case !ok:
		a.logger.Info("offer no longer available", "task_id", msg.TaskID)
	default:
		a.logger.Info("offer accepted", "task_id", msg.TaskID)
	}
}

// LogHandler only logs messages, leaving acceptance to the human behind the agent.
func LogHandler(logger *slog.Logger) MessageHandler {
	return func(ctx context.Context, msg domain.Message) {
		logger.Info("message received", "kind", msg.Kind, "task_id", msg.TaskID, "title", msg.Title, "accept_url", msg.AcceptURL, "body", msg.Body)
	}
}
