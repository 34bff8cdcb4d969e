package domain

import "context"

// LeaderElectionManager elects the single master node that drains the delayed queue.
// Campaign blocks until leadership is won; the returned channel closes when it is lost.
type LeaderElectionManager interface {
	Campaign(ctx context.Context) (<-chan struct{}, error)
	Resign(ctx context.Context) error
	IsLeader() bool
}
