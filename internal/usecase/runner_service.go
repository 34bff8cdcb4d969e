package usecase

import (
	"context"
	"log/slog"
	"time"

	"instawork/internal/domain"
	"instawork/internal/metrics"
)

// Runner is a blocking loop that stops when its context is cancelled.
type Runner interface {
	Start(ctx context.Context) error
}

// RunnerService keeps the delayed-queue runner alive on whichever node holds leadership.
type RunnerService struct {
	leaderManager domain.LeaderElectionManager
	runner        Runner
	nodeID        string
	retryInterval time.Duration
	logger        *slog.Logger
}

func NewRunnerService(leaderManager domain.LeaderElectionManager, runner Runner, nodeID string, logger *slog.Logger) *RunnerService {
	return &RunnerService{
		leaderManager: leaderManager,
		runner:        runner,
		nodeID:        nodeID,
		retryInterval: 5 * time.Second,
		logger:        logger.With("component", "runner-service", "node_id", nodeID),
	}
}

// Start campaigns for leadership and runs the runner while leader. It returns
// when ctx is cancelled.
func (s *RunnerService) Start(ctx context.Context) error {
	s.logger.Info("runner service starting")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Info("campaigning for leadership")
		lostLeadershipCh, err := s.leaderManager.Campaign(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.logger.Warn("leadership campaign failed, retrying", "error", err, "retry_in", s.retryInterval)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryInterval):
			}
			continue
		}

		s.logger.Info("became leader, starting queue runner")
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(1)
		runnerExited := s.runWhileLeader(ctx, lostLeadershipCh)
		metrics.IsLeader.WithLabelValues(s.nodeID).Set(0)

		if ctx.Err() != nil {
			s.resign(ctx)
			s.logger.Info("runner service shutting down")
			return ctx.Err()
		}
		s.resign(ctx)
		if !runnerExited {
			s.logger.Warn("leadership lost, campaigning again")
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.retryInterval):
		}
	}
}

// runWhileLeader reports whether the runner stopped on its own.
func (s *RunnerService) runWhileLeader(ctx context.Context, lost <-chan struct{}) bool {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := s.runner.Start(runCtx); err != nil && runCtx.Err() == nil {
			s.logger.Error("queue runner exited", "error", err)
		}
	}()

	exited := false
	select {
	case <-lost:
	case <-ctx.Done():
	case <-done:
		exited = true
	}
	cancel()
	<-done
	return exited
}

// resign gives up leadership, or clears local state after the session was lost.
func (s *RunnerService) resign(ctx context.Context) {
	resignCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := s.leaderManager.Resign(resignCtx); err != nil {
		s.logger.Warn("failed to resign leadership", "error", err)
	}
}
