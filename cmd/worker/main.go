// cmd/worker/main.go
package main

import (
	"context"
	"log"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"instawork/internal/config"
	"instawork/internal/infra/etcd"
	"instawork/internal/tracing"
	"instawork/internal/worker"
)

func main() {
	// 1. Init logger, config, tracer
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.WorkerID == "" {
		log.Fatalf("worker_id must be set for the worker agent")
	}

	tracerShutdown, err := tracing.InitTracer("instawork-worker", os.Stderr, cfg.TraceSampleRatio)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() { _ = tracerShutdown(context.Background()) }()

	logger = logger.With("worker_id", cfg.WorkerID)
	logger.Info("starting worker agent", "grpc_addr", cfg.WorkerGrpcAddr)

	// 2. Root context and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. etcd client
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()

	// 4. gRPC health endpoint probed by the master
	lis, err := net.Listen("tcp", cfg.WorkerGrpcAddr)
	if err != nil {
		log.Fatalf("Failed to listen for gRPC: %v", err)
	}
	healthServer := worker.NewHealthServer(logger)
	go func() {
		if err := healthServer.Serve(lis); err != nil {
			logger.Error("gRPC server failed", "error", err)
			cancel()
		}
	}()

	// 5. Inbox
	handler := worker.LogHandler(logger)
	if cfg.WorkerAutoAccept {
		if cfg.WorkerAPIKey == "" {
			log.Fatalf("worker_api_key is required when worker_auto_accept is set")
		}
		handler = worker.NewAcceptor(cfg.WorkerAPIKey, cfg.WebhookTimeout, logger).Handle
	}
	inbox := worker.NewInbox(etcdClient, cfg.WorkerID, handler, logger)
	go inbox.Watch(rootCtx)

	// 6. Announce presence last, once the agent can answer probes and read offers
	registry := worker.NewRegistry(etcdClient, logger)
	regCtx, regCancel := context.WithTimeout(rootCtx, 5*time.Second)
	err = registry.Register(regCtx, cfg.WorkerID, advertiseAddr(lis), int64(cfg.LeaderElectionTTL.Seconds()))
	regCancel()
	if err != nil {
		log.Fatalf("Failed to register worker presence: %v", err)
	}

	// 7. Block until shutdown signal
	<-rootCtx.Done()
	logger.Info("shutting down worker agent gracefully")

	deregCtx, deregCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer deregCancel()
	if err := registry.Deregister(deregCtx); err != nil {
		logger.Error("failed to deregister worker", "error", err)
	}
	healthServer.Stop()
	logger.Info("worker agent shut down")
}

// advertiseAddr turns a wildcard listen address into one the master can dial.
func advertiseAddr(lis net.Listener) string {
	addr, ok := lis.Addr().(*net.TCPAddr)
	if !ok {
		return lis.Addr().String()
	}
	host := addr.IP.String()
	if addr.IP.IsUnspecified() {
		if h, err := os.Hostname(); err == nil {
			host = h
		} else {
			host = "127.0.0.1"
		}
	}
	return net.JoinHostPort(host, strconv.Itoa(addr.Port))
}

func setupGracefulShutdown(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		slog.Info("received signal, initiating graceful shutdown", "signal", sig.String())
		cancel()
	}()
}
