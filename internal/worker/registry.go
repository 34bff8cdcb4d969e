// internal/worker/registry.go
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"instawork/internal/master"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// Registry announces a worker's presence in etcd. The presence key is bound to
// a lease that is kept alive for as long as the agent runs.
type Registry struct {
	client  *clientv3.Client
	logger  *slog.Logger
	leaseID clientv3.LeaseID
	key     string
	value   string
}

// NewRegistry creates a new presence registry.
func NewRegistry(client *clientv3.Client, logger *slog.Logger) *Registry {
	return &Registry{
		client: client,
		logger: logger.With("component", "presence-registry"),
	}
}

// Register publishes workerID as present, reachable for health probes at
// agentAddr. The lease is refreshed until ctx is cancelled or Deregister is called.
func (r *Registry) Register(ctx context.Context, workerID, agentAddr string, ttl int64) error {
	r.key = master.PresencePrefix + workerID
	r.value = agentAddr

	leaseResp, err := r.client.Grant(ctx, ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}
	r.leaseID = leaseResp.ID

	_, err = r.client.Put(ctx, r.key, r.value, clientv3.WithLease(r.leaseID))
	if err != nil {
		return fmt.Errorf("failed to put presence key: %w", err)
	}

	keepAliveCh, err := r.client.KeepAlive(context.WithoutCancel(ctx), r.leaseID)
	if err != nil {
		return fmt.Errorf("failed to start keep-alive: %w", err)
	}

	go func() {
		for {
			// Closed when the lease is revoked or expires.
			ka, ok := <-keepAliveCh
			if !ok {
				r.logger.Warn("keep-alive channel closed, presence may have expired")
				return
			}
			r.logger.Debug("lease keep-alive refreshed", "lease_id", ka.ID, "ttl", ka.TTL)
		}
	}()

	r.logger.Info("worker presence registered", "key", r.key, "addr", r.value)
	return nil
}

// Deregister revokes the lease, which removes the presence key immediately.
func (r *Registry) Deregister(ctx context.Context) error {
	r.logger.Info("deregistering worker presence", "key", r.key)
	if _, err := r.client.Revoke(ctx, r.leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}
	return nil
}
