// internal/worker/inbox.go
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"instawork/internal/domain"
	"instawork/internal/infra/etcd"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// MessageHandler receives each message delivered to the agent's inbox.
type MessageHandler func(ctx context.Context, msg domain.Message)

// Inbox follows a worker's inbox keys and hands every message to a handler.
// A message key is deleted once handled, so each message is seen once per agent.
type Inbox struct {
	client   *clientv3.Client
	workerID string
	handler  MessageHandler
	logger   *slog.Logger
	tracer   trace.Tracer
}

func NewInbox(client *clientv3.Client, workerID string, handler MessageHandler, logger *slog.Logger) *Inbox {
	return &Inbox{
		client:   client,
		workerID: workerID,
		handler:  handler,
		logger:   logger.With("component", "inbox", "worker_id", workerID),
		tracer:   otel.Tracer("instawork-worker"),
	}
}

// Watch delivers messages already waiting and then follows new ones until ctx
// is cancelled. This is a blocking call and should be run in a goroutine.
func (i *Inbox) Watch(ctx context.Context) {
	prefix := etcd.InboxPrefix(i.workerID)
	i.logger.Info("watching inbox", "prefix", prefix)

	getCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	resp, err := i.client.Get(getCtx, prefix, clientv3.WithPrefix())
	cancel()

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if err != nil {
		i.logger.Error("failed to load pending messages", "error", err)
	} else {
		for _, kv := range resp.Kvs {
			i.deliver(ctx, string(kv.Key), kv.Value)
		}
		opts = append(opts, clientv3.WithRev(resp.Header.Revision+1))
	}

	for watchResp := range i.client.Watch(ctx, prefix, opts...) {
		if err := watchResp.Err(); err != nil {
			i.logger.Warn("inbox watch error", "error", err)
			continue
		}
		for _, event := range watchResp.Events {
			if event.Type == clientv3.EventTypePut {
				i.deliver(ctx, string(event.Kv.Key), event.Kv.Value)
			}
		}
	}
	i.logger.Info("stopped watching inbox")
}

func (i *Inbox) deliver(ctx context.Context, key string, value []byte) {
	ctx, span := i.tracer.Start(ctx, "worker.Inbox.Deliver", trace.WithAttributes(attribute.String("etcd.key", key)))
	defer span.End()

	var msg domain.Message
	if err := json.Unmarshal(value, &msg); err != nil {
		i.logger.Warn("discarding undecodable message", "key", key, "error", err)
	} else {
		span.SetAttributes(attribute.String("message.kind", string(msg.Kind)), attribute.String("task.id", msg.TaskID))
		i.handler(ctx, msg)
	}

	if _, err := i.client.Delete(ctx, key); err != nil {
		i.logger.Warn("failed to delete handled message", "key", key, "error", err)
	}
}
