// internal/infra/etcd/etcd_worker_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"instawork/internal/domain"

	"go.etcd.io/etcd/api/v3/mvccpb"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// etcdWorkerRepository keeps, next to each worker document, one idle index key
// per scope (all workers, and each pool the worker belongs to). The index keys
// change in the same transaction as the document, so a range read over an
// index prefix is the sorted idle-worker query.
type etcdWorkerRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdWorkerRepository creates a new repository for workers backed by etcd.
func NewEtcdWorkerRepository(client *clientv3.Client, logger *slog.Logger) domain.WorkerRepository {
	return &etcdWorkerRepository{
		client: client,
		logger: logger.With("component", "etcd-worker-repo"),
		tracer: otel.Tracer("instawork-etcd-worker-repo"),
	}
}

// idleIndexKeys lists the index keys w should have. Busy workers have none.
func idleIndexKeys(w *domain.Worker) []string {
	if !w.IsIdle() {
		return nil
	}
	nanos := w.ContactOrder()
	keys := []string{idleIndexKey("", nanos, w.ID)}
	for _, pool := range w.Pools {
		keys = append(keys, idleIndexKey(pool, nanos, w.ID))
	}
	return keys
}

// indexOps moves the idle index from before to after. Keys present in both are
// left alone, since a transaction may not touch the same key twice.
func indexOps(before, after *domain.Worker) []clientv3.Op {
	oldKeys := make(map[string]bool)
	if before != nil {
		for _, k := range idleIndexKeys(before) {
			oldKeys[k] = true
		}
	}
	var ops []clientv3.Op
	for _, k := range idleIndexKeys(after) {
		if oldKeys[k] {
			delete(oldKeys, k)
			continue
		}
		ops = append(ops, clientv3.OpPut(k, after.ID))
	}
	for k := range oldKeys {
		ops = append(ops, clientv3.OpDelete(k))
	}
	return ops
}

// Create stores a new worker with its api key mapping and idle index entries.
func (r *etcdWorkerRepository) Create(ctx context.Context, w *domain.Worker) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.CreateWorker")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", w.ID))

	extra := append([]clientv3.Op{clientv3.OpPut(apiKeyKey(w.APIKey), w.ID)}, indexOps(nil, w)...)
	if err := createOnce(ctx, r.client, workerKey(w.ID), w, domain.ErrWorkerExists, extra...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create worker in etcd")
		return err
	}
	return nil
}

// Get retrieves a worker from etcd.
func (r *etcdWorkerRepository) Get(ctx context.Context, id string) (*domain.Worker, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetWorker")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", id))

	w, err := getJSON[domain.Worker](ctx, r.client, workerKey(id), domain.ErrWorkerNotFound)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return w, nil
}

// GetByAPIKey resolves an api key through its mapping key.
func (r *etcdWorkerRepository) GetByAPIKey(ctx context.Context, apiKey string) (*domain.Worker, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetWorkerByAPIKey")
	defer span.End()

	resp, err := r.client.Get(ctx, apiKeyKey(apiKey))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get api key from etcd")
		return nil, fmt.Errorf("failed to resolve api key from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return nil, domain.ErrWorkerNotFound
	}
	return r.Get(ctx, string(resp.Kvs[0].Value))
}

// Update runs mutate inside a compare-and-set on the worker key and moves the
// idle index entries in the same transaction.
func (r *etcdWorkerRepository) Update(ctx context.Context, id string, mutate func(*domain.Worker) error) (*domain.Worker, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.UpdateWorker")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", id))

	w, err := casUpdate(ctx, r.client, workerKey(id), domain.ErrWorkerNotFound, mutate, indexOps)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return w, nil
}

// ListIdle reads the idle index for q.Pool in key order and loads the
// referenced workers. Index rows whose worker went busy between the two reads
// are skipped and the range is read further, so a short page still means the
// index is exhausted. The cursor of each entry is its index key.
func (r *etcdWorkerRepository) ListIdle(ctx context.Context, q domain.IdleQuery) ([]domain.IdleEntry, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListIdleWorkers")
	defer span.End()
	span.SetAttributes(
		attribute.String("pool", q.Pool),
		attribute.Int("limit", q.Limit),
		attribute.Bool("resumed", q.After != ""),
	)

	prefix := idlePrefix(q.Pool)
	start := prefix
	if q.After != "" {
		if !strings.HasPrefix(q.After, prefix) {
			r.logger.Warn("ignoring cursor from another scope", "cursor", q.After, "prefix", prefix)
		} else {
			start = q.After + "\x00"
		}
	}

	var entries []domain.IdleEntry
	for {
		opts := []clientv3.OpOption{clientv3.WithRange(clientv3.GetPrefixRangeEnd(prefix))}
		if q.Limit > 0 {
			opts = append(opts, clientv3.WithLimit(int64(q.Limit-len(entries))))
		}
		resp, err := r.client.Get(ctx, start, opts...)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "failed to range idle index in etcd")
			return nil, fmt.Errorf("failed to list idle workers from etcd: %w", err)
		}
		if len(resp.Kvs) == 0 {
			break
		}

		page, err := r.loadIdle(ctx, resp.Kvs)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		entries = append(entries, page...)

		if !resp.More || q.Limit <= 0 || len(entries) >= q.Limit {
			break
		}
		start = string(resp.Kvs[len(resp.Kvs)-1].Key) + "\x00"
	}

	span.SetAttributes(attribute.Int("workers_returned", len(entries)))
	return entries, nil
}

func (r *etcdWorkerRepository) loadIdle(ctx context.Context, index []*mvccpb.KeyValue) ([]domain.IdleEntry, error) {
	keys := make([]string, 0, len(index))
	for _, kv := range index {
		keys = append(keys, workerKey(string(kv.Value)))
	}
	values, err := getMany(ctx, r.client, keys)
	if err != nil {
		return nil, err
	}

	entries := make([]domain.IdleEntry, 0, len(values))
	for i, v := range values {
		cursor := string(index[i].Key)
		if v == nil {
			r.logger.Warn("idle index points at a missing worker", "key", cursor)
			continue
		}
		var w domain.Worker
		if err := json.Unmarshal(v, &w); err != nil {
			r.logger.Warn("failed to unmarshal worker from etcd", "key", keys[i], "error", err)
			continue
		}
		if !w.IsIdle() {
			continue
		}
		entries = append(entries, domain.IdleEntry{Worker: &w, Cursor: cursor})
	}
	return entries, nil
}
