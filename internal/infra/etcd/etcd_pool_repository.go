package etcd

import (
	"context"
	"log/slog"

	"instawork/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type etcdPoolRepository struct {
	client *clientv3.Client
	logger *slog.Logger
	tracer trace.Tracer
}

// NewEtcdPoolRepository creates a new repository for pools backed by etcd.
func NewEtcdPoolRepository(client *clientv3.Client, logger *slog.Logger) domain.PoolRepository {
	return &etcdPoolRepository{
		client: client,
		logger: logger,
		tracer: otel.Tracer("instawork-etcd-pool-repo"),
	}
}

func (r *etcdPoolRepository) Create(ctx context.Context, pool *domain.Pool) error {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.CreatePool")
	defer span.End()
	span.SetAttributes(attribute.String("pool.name", pool.Name))

	if err := createOnce(ctx, r.client, poolKey(pool.Name), pool, domain.ErrPoolExists); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to create pool in etcd")
		return err
	}
	return nil
}

func (r *etcdPoolRepository) Get(ctx context.Context, name string) (*domain.Pool, error) {
	ctx, span := r.tracer.Start(ctx, "repo.etcd.GetPool")
	defer span.End()
	span.SetAttributes(attribute.String("pool.name", name))

	return getJSON[domain.Pool](ctx, r.client, poolKey(name), domain.ErrPoolNotFound)
}
