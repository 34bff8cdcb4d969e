package master

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthProber probes worker agents through the standard gRPC health service.
type HealthProber struct {
	mu      sync.Mutex
	clients map[string]healthpb.HealthClient // A cache for gRPC clients
	conns   []*grpc.ClientConn
	logger  *slog.Logger
}

var _ Prober = (*HealthProber)(nil)

func NewHealthProber(logger *slog.Logger) *HealthProber {
	return &HealthProber{
		clients: make(map[string]healthpb.HealthClient),
		logger:  logger.With("component", "health-prober"),
	}
}

// Probe returns nil when the agent at addr reports SERVING.
func (p *HealthProber) Probe(ctx context.Context, addr string) error {
	client, err := p.getOrCreateClient(addr)
	if err != nil {
		return err
	}

	resp, err := client.Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return fmt.Errorf("health check against %s failed: %w", addr, err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("worker agent at %s is %s", addr, resp.GetStatus())
	}
	return nil
}

func (p *HealthProber) getOrCreateClient(addr string) (healthpb.HealthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if client, ok := p.clients[addr]; ok {
		return client, nil
	}

	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to worker agent at %s: %w", addr, err)
	}

	client := healthpb.NewHealthClient(conn)
	p.clients[addr] = client
	p.conns = append(p.conns, conn)
	p.logger.Info("created new gRPC health client for worker agent", "addr", addr)

	return client, nil
}

// Close tears down every cached connection.
func (p *HealthProber) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var firstErr error
	for _, conn := range p.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	p.conns = nil
	p.clients = make(map[string]healthpb.HealthClient)
	return firstErr
}
