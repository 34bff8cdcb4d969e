// cmd/master/main.go
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	http_api "instawork/internal/api/http"
	"instawork/internal/config"
	"instawork/internal/infra/etcd"
	http_infra "instawork/internal/infra/http"
	redis_infra "instawork/internal/infra/redis"
	"instawork/internal/master"
	"instawork/internal/scheduler"
	"instawork/internal/tracing"
	"instawork/internal/usecase"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// corsMiddleware wraps an http.Handler with CORS headers for local development.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, "+http_api.APIKeyHeader)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	// 1. Initialize logger and configuration
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	tracerShutdown, err := tracing.InitTracer("instawork-master", os.Stderr, cfg.TraceSampleRatio)
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tracerShutdown(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", "error", err)
		}
	}()

	nodeID := uuid.New().String()
	logger.Info("starting instawork master node", "node_id", nodeID)

	// 2. Root context and graceful shutdown
	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	setupGracefulShutdown(cancel)

	// 3. Backing stores
	etcdClient, err := etcd.NewClient(cfg.EtcdEndpoints, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create etcd client: %v", err)
	}
	defer etcdClient.Close()
	logger.Info("connected to etcd", "endpoints", cfg.EtcdEndpoints)

	redisClient, err := redis_infra.NewClient(rootCtx, cfg.RedisAddr, cfg.EtcdTimeout)
	if err != nil {
		log.Fatalf("Failed to create redis client: %v", err)
	}
	defer redisClient.Close()
	logger.Info("connected to redis", "addr", cfg.RedisAddr)

	// 4. Infrastructure
	taskRepo := etcd.NewEtcdTaskRepository(etcdClient, logger)
	workerRepo := etcd.NewEtcdWorkerRepository(etcdClient, logger)
	poolRepo := etcd.NewEtcdPoolRepository(etcdClient, logger)
	inbox := etcd.NewEtcdInbox(etcdClient, cfg.OfferTTL, logger)
	checkpoints := redis_infra.NewCheckpointCache(redisClient, cfg.RedisPrefix, cfg.CheckpointTTL)
	queue := redis_infra.NewDelayedQueue(redisClient, cfg.RedisPrefix, cfg.QueueVisibility, logger)
	notifier := http_infra.NewWebhookNotifier(cfg.WebhookTimeout, logger)

	var prober master.Prober
	if cfg.PresenceProbe {
		healthProber := master.NewHealthProber(logger)
		defer healthProber.Close()
		prober = healthProber
	}
	discovery := master.NewWorkerDiscovery(etcdClient, prober, cfg.PresenceTimeout, logger)
	go discovery.WatchWorkers(rootCtx)

	// 5. Recruitment engine
	retry := master.NewRetryScheduler(queue, master.RetryPolicy{
		Immediate:        cfg.RetryImmediate,
		NoCandidate:      cfg.RetryNoCandidate,
		OfferOutstanding: cfg.RetryOfferOutstanding,
	}, logger)
	cursor := master.NewFreeWorkerCursor(workerRepo, checkpoints, cfg.ScanPageSize, logger)
	dispatcher := master.NewDispatcher(taskRepo, workerRepo, cursor, discovery, inbox, retry, master.DispatcherConfig{
		ContactCooldown: cfg.ContactCooldown,
		PublicBaseURL:   cfg.PublicBaseURL,
	}, logger)

	queueRunner := scheduler.NewQueueRunner(queue, cfg.QueuePollSpec, cfg.QueueBatchSize, cfg.QueueErrorDelay, logger)
	queueRunner.Handle(master.RouteRecruit, scheduler.HandlerFunc(dispatcher.HandleQueueItem))

	leaderManager := etcd.NewEtcdLeaderElectionManager(etcdClient, nodeID, cfg.LeaderElectionTTL, logger)
	runnerService := usecase.NewRunnerService(leaderManager, queueRunner, nodeID, logger)

	// 6. Services and HTTP API
	taskService := usecase.NewTaskService(taskRepo, workerRepo, poolRepo, retry, inbox, notifier, cfg.ReleaseDelay, logger)
	workerService := usecase.NewWorkerService(workerRepo, poolRepo, logger)
	handler := http_api.NewHandler(taskService, workerService, cfg.PublicBaseURL, logger)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler.RegisterRoutes(mux)

	// 7. Queue runner, gated on leadership
	runnerDone := make(chan struct{})
	go func() {
		defer close(runnerDone)
		superviseRunner(rootCtx, runnerService, logger, cancel)
	}()

	// 8. HTTP server
	logger.Info("starting HTTP API server", "addr", cfg.HttpListenAddr)
	server := &http.Server{
		Addr:              cfg.HttpListenAddr,
		Handler:           corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %v", err)
		}
	}()

	// 9. Block until shutdown
	<-rootCtx.Done()
	logger.Info("shutting down master node gracefully")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", "error", err)
	}
	select {
	case <-runnerDone:
	case <-shutdownCtx.Done():
		logger.Warn("queue runner did not stop in time, leased items will be redelivered")
	}
	logger.Info("master node shut down")
}

// superviseRunner runs r until ctx ends. Any exit other than cancellation is
// logged and reported through onFailure.
func superviseRunner(ctx context.Context, r usecase.Runner, logger *slog.Logger, onFailure func()) {
	if err := r.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("runner service stopped with error", "error", err)
		onFailure()
	}
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
