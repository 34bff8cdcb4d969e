// internal/master/discovery.go
package master

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"instawork/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const (
	// PresencePrefix is the etcd prefix where worker agents announce themselves.
	// Keys are bound to a lease, so they vanish when an agent stops refreshing it.
	PresencePrefix = "/instawork/presence/"
)

// Prober checks that a worker agent answering at addr is actually serving.
type Prober interface {
	Probe(ctx context.Context, addr string) error
}

// WorkerDiscovery tracks which workers currently hold a presence lease and
// answers presence checks from that view.
type WorkerDiscovery struct {
	client  *clientv3.Client
	prober  Prober // optional
	timeout time.Duration
	logger  *slog.Logger
	workers map[string]string // map of workerID -> agent address
	mu      sync.RWMutex
}

var _ domain.Presence = (*WorkerDiscovery)(nil)

// NewWorkerDiscovery creates a discovery service. prober may be nil, in which
// case holding a presence lease is enough to count as present.
func NewWorkerDiscovery(client *clientv3.Client, prober Prober, timeout time.Duration, logger *slog.Logger) *WorkerDiscovery {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &WorkerDiscovery{
		client:  client,
		prober:  prober,
		timeout: timeout,
		logger:  logger.With("component", "worker-discovery"),
		workers: make(map[string]string),
	}
}

// WatchWorkers loads the current presence keys and then follows changes.
// This is a blocking call and should be run in a goroutine.
func (d *WorkerDiscovery) WatchWorkers(ctx context.Context) {
	d.logger.Info("starting to watch worker presence")

	rev, err := d.loadInitialWorkers(ctx)
	if err != nil {
		d.logger.Error("failed to perform initial presence load", "error", err)
	}

	opts := []clientv3.OpOption{clientv3.WithPrefix()}
	if rev > 0 {
		opts = append(opts, clientv3.WithRev(rev+1))
	}
	watchChan := d.client.Watch(ctx, PresencePrefix, opts...)

	for watchResp := range watchChan {
		if err := watchResp.Err(); err != nil {
			d.logger.Warn("presence watch error", "error", err)
			continue
		}
		for _, event := range watchResp.Events {
			workerID := strings.TrimPrefix(string(event.Kv.Key), PresencePrefix)
			switch event.Type {
			case clientv3.EventTypePut:
				d.put(workerID, string(event.Kv.Value))
			case clientv3.EventTypeDelete:
				d.remove(workerID)
			}
		}
	}
	d.logger.Info("stopped watching worker presence")
}

func (d *WorkerDiscovery) loadInitialWorkers(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	resp, err := d.client.Get(ctx, PresencePrefix, clientv3.WithPrefix())
	if err != nil {
		return 0, err
	}

	for _, kv := range resp.Kvs {
		d.put(strings.TrimPrefix(string(kv.Key), PresencePrefix), string(kv.Value))
	}
	return resp.Header.Revision, nil
}

func (d *WorkerDiscovery) put(workerID, addr string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.workers[workerID]; !ok {
		d.logger.Info("worker came online", "worker_id", workerID, "addr", addr)
	}
	d.workers[workerID] = addr
}

func (d *WorkerDiscovery) remove(workerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logger.Info("worker went offline", "worker_id", workerID, "addr", d.workers[workerID])
	delete(d.workers, workerID)
}

// Present reports whether workerID holds a presence lease and, when a prober
// is configured, answers a health probe in time. Probe failures count as absent.
func (d *WorkerDiscovery) Present(ctx context.Context, workerID string) bool {
	d.mu.RLock()
	addr, ok := d.workers[workerID]
	d.mu.RUnlock()
	if !ok {
		return false
	}
	if d.prober == nil || addr == "" {
		return true
	}

	probeCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	if err := d.prober.Probe(probeCtx, addr); err != nil {
		d.logger.Warn("presence probe failed", "worker_id", workerID, "addr", addr, "error", err)
		return false
	}
	return true
}

// Online returns a snapshot of the workers currently holding a presence lease.
func (d *WorkerDiscovery) Online() map[string]string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snapshot := make(map[string]string, len(d.workers))
	for id, addr := range d.workers {
		snapshot[id] = addr
	}
	return snapshot
}
