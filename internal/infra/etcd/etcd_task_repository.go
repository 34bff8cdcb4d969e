// internal/infra/etcd/etcd_task_repository.go
package etcd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"sort"

	"instawork/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type etcdTaskRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdTaskRepository creates a new repository for tasks backed by etcd.
func NewEtcdTaskRepository(client *clientv3.Client, logger *slog.Logger) domain.TaskRepository {
	return &etcdTaskRepository{
		client: client,
		logger: logger.With("component", "etcd-task-repo"),
		tracer: otel.Tracer("instawork-etcd-task-repo"),
	}
}

// Create stores a new task and its creator index entry.
func (r *etcdTaskRepository) Create(ctx context.Context, task *domain.Task) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.CreateTask")
	defer span.End()

	key := taskKey(task.ID)
	span.SetAttributes(attribute.String("task.id", task.ID), attribute.String("etcd.key", key))

	indexKey := path.Join(creatorIndexPrefix(task.CreatorID), task.ID)
	if err := createOnce(ctx, r.client, key, task, domain.ErrTaskExists, clientv3.OpPut(indexKey, task.ID)); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create task in etcd")
		return err
	}
	return nil
}

// Get retrieves a task from etcd.
func (r *etcdTaskRepository) Get(ctx context.Context, id string) (*domain.Task, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	task, err := getJSON[domain.Task](ctx, r.client, taskKey(id), domain.ErrTaskNotFound)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to get task from etcd")
		return nil, err
	}
	return task, nil
}

// Update runs mutate inside a compare-and-set on the task key.
func (r *etcdTaskRepository) Update(ctx context.Context, id string, mutate func(*domain.Task) error) (*domain.Task, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.UpdateTask")
	defer span.End()
	span.SetAttributes(attribute.String("task.id", id))

	task, err := casUpdate(ctx, r.client, taskKey(id), domain.ErrTaskNotFound, mutate, nil)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	return task, nil
}

// ListByCreator retrieves every task created by creatorID, oldest first.
func (r *etcdTaskRepository) ListByCreator(ctx context.Context, creatorID string) ([]*domain.Task, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.ListTasksByCreator")
	defer span.End()
	span.SetAttributes(attribute.String("creator.id", creatorID))

	resp, err := r.client.Get(ctx, creatorIndexPrefix(creatorID), clientv3.WithPrefix())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to list creator index from etcd")
		return nil, fmt.Errorf("failed to list tasks for creator %s from etcd: %w", creatorID, err)
	}

	keys := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		keys = append(keys, taskKey(string(kv.Value)))
	}
	values, err := getMany(ctx, r.client, keys)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	tasks := make([]*domain.Task, 0, len(values))
	for i, v := range values {
		if v == nil {
			continue
		}
		var task domain.Task
		if err := json.Unmarshal(v, &task); err != nil {
			r.logger.Warn("failed to unmarshal task from etcd", "key", keys[i], "error", err)
			continue
		}
		tasks = append(tasks, &task)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	span.SetAttributes(attribute.Int("tasks_returned", len(tasks)))
	return tasks, nil
}
