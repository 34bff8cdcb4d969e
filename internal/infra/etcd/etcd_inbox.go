// internal/infra/etcd/etcd_inbox.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"instawork/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// InboxPrefix returns the key prefix a worker agent watches for its messages.
func InboxPrefix(workerID string) string {
	return inboxPrefix(workerID)
}

// etcdInbox delivers messages by writing them under the recipient's inbox
// prefix. Each message is bound to its own lease so unread offers expire.
type etcdInbox struct {
	client *clientv3.Client
	ttl    time.Duration
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdInbox creates a Messenger backed by etcd inbox keys living for ttl.
func NewEtcdInbox(client *clientv3.Client, ttl time.Duration, logger *slog.Logger) domain.Messenger {
	if ttl < time.Second {
		ttl = 10 * time.Minute
	}
	return &etcdInbox{
		client: client,
		ttl:    ttl,
		logger: logger.With("component", "etcd-inbox"),
		tracer: otel.Tracer("instawork-etcd-inbox"),
	}
}

func (m *etcdInbox) Send(ctx context.Context, workerID string, msg domain.Message) error {
	ctx, span := m.tracer.Start(ctx, "inbox.etcd.Send", trace.WithAttributes(
		attribute.String("worker.id", workerID),
		attribute.String("message.kind", string(msg.Kind)),
	))
	defer span.End()

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message to JSON: %w", err)
	}

	lease, err := m.client.Grant(ctx, int64(m.ttl.Seconds()))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to grant inbox lease")
		return fmt.Errorf("failed to grant inbox lease: %w", err)
	}

	key := inboxPrefix(workerID) + msg.ID
	if _, err := m.client.Put(ctx, key, string(data), clientv3.WithLease(lease.ID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to write inbox message")
		return fmt.Errorf("failed to deliver message to %s: %w", workerID, err)
	}
	m.logger.Debug("message delivered", "worker_id", workerID, "message_id", msg.ID, "kind", msg.Kind)
	return nil
}
