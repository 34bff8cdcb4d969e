package usecase

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"instawork/internal/domain"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// WorkerService handles worker signup, pools and api-key resolution.
type WorkerService struct {
	workers domain.WorkerRepository
	pools   domain.PoolRepository
	now     func() time.Time
	logger  *slog.Logger
	tracer  trace.Tracer
}

func NewWorkerService(workers domain.WorkerRepository, pools domain.PoolRepository, logger *slog.Logger) *WorkerService {
	return &WorkerService{
		workers: workers,
		pools:   pools,
		now:     time.Now,
		logger:  logger.With("component", "worker-service"),
		tracer:  otel.Tracer("instawork-usecase"),
	}
}

// Signup creates a worker for an identity that the identity layer already
// verified. The worker is contactable immediately.
func (s *WorkerService) Signup(ctx context.Context, workerID string) (*domain.Worker, error) {
	ctx, span := s.tracer.Start(ctx, "service.Signup")
	defer span.End()
	span.SetAttributes(attribute.String("worker.id", workerID))

	now := s.now().UTC()
	worker := &domain.Worker{
		ID:            workerID,
		APIKey:        uuid.NewString(),
		JoinedAt:      now,
		NextContactAt: now,
	}
	if err := worker.Validate(); err != nil {
		return nil, err
	}
	if err := s.workers.Create(ctx, worker); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to save worker to repository")
		return nil, err
	}
	s.logger.Info("worker signed up", "worker_id", workerID)
	return worker, nil
}

// Authenticate resolves an api key to its worker.
func (s *WorkerService) Authenticate(ctx context.Context, apiKey string) (*domain.Worker, error) {
	if apiKey == "" {
		return nil, domain.ErrUnauthorized
	}
	worker, err := s.workers.GetByAPIKey(ctx, apiKey)
	if err != nil {
		if errors.Is(err, domain.ErrWorkerNotFound) {
			return nil, domain.ErrUnauthorized
		}
		return nil, err
	}
	return worker, nil
}

// CreatePool registers a new pool owned by creatorID.
func (s *WorkerService) CreatePool(ctx context.Context, name, creatorID string) (*domain.Pool, error) {
	ctx, span := s.tracer.Start(ctx, "service.CreatePool")
	defer span.End()
	span.SetAttributes(attribute.String("pool.name", name))

	pool := &domain.Pool{Name: name, CreatorID: creatorID, CreatedAt: s.now().UTC()}
	if err := pool.Validate(); err != nil {
		return nil, err
	}
	if err := s.pools.Create(ctx, pool); err != nil {
		span.RecordError(err)
		return nil, err
	}
	return pool, nil
}

// JoinPool adds workerID to an existing pool.
func (s *WorkerService) JoinPool(ctx context.Context, workerID, poolName string) (*domain.Worker, error) {
	ctx, span := s.tracer.Start(ctx, "service.JoinPool")
	defer span.End()

	if _, err := s.pools.Get(ctx, poolName); err != nil {
		span.RecordError(err)
		return nil, err
	}
	worker, err := s.workers.Update(ctx, workerID, func(w *domain.Worker) error {
		if !w.JoinPool(poolName) {
			return errUnchanged
		}
		return nil
	})
	if errors.Is(err, errUnchanged) {
		return s.workers.Get(ctx, workerID)
	}
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	s.logger.Info("worker joined pool", "worker_id", workerID, "pool", poolName)
	return worker, nil
}
