// Package testutil starts throwaway backing services for integration tests.
// Tests are skipped when no container runtime is available.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	redisOnce sync.Once
	redisAddr string
	redisErr  error

	etcdOnce     sync.Once
	etcdEndpoint string
	etcdErr      error
)

// GetRedisAddress returns host:port of a shared Redis container.
func GetRedisAddress(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	redisOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		redisC, err := testcontainers.Run(
			ctx, "redis:7",
			testcontainers.WithExposedPorts("6379/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("6379/tcp"),
				wait.ForLog("Ready to accept connections"),
			),
		)
		if err != nil {
			redisErr = err
			return
		}
		redisAddr, redisErr = redisC.Endpoint(ctx, "")
	})

	if redisErr != nil {
		t.Skipf("redis container unavailable: %v", redisErr)
	}
	return redisAddr
}

// GetEtcdEndpoint returns host:port of a shared single-node etcd container.
func GetEtcdEndpoint(t *testing.T) string {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	etcdOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		etcdC, err := testcontainers.Run(
			ctx, "quay.io/coreos/etcd:v3.6.6",
			testcontainers.WithExposedPorts("2379/tcp"),
			testcontainers.WithCmd(
				"etcd",
				"--listen-client-urls=http://0.0.0.0:2379",
				"--advertise-client-urls=http://0.0.0.0:2379",
			),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("2379/tcp"),
				wait.ForLog("ready to serve client requests"),
			),
		)
		if err != nil {
			etcdErr = err
			return
		}
		etcdEndpoint, etcdErr = etcdC.Endpoint(ctx, "")
	})

	if etcdErr != nil {
		t.Skipf("etcd container unavailable: %v", etcdErr)
	}
	return etcdEndpoint
}
