package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"instawork/internal/domain"
	"instawork/internal/infra/etcd"
	"instawork/internal/master"
	"instawork/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clientv3 "go.etcd.io/etcd/client/v3"
)

func newEtcdClient(t *testing.T) *clientv3.Client {
	t.Helper()
	client, err := etcd.NewClient([]string{testutil.GetEtcdEndpoint(t)}, 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestInbox_DeliversPendingAndNewMessages(t *testing.T) {
	client := newEtcdClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	messenger := etcd.NewEtcdInbox(client, time.Minute, discardLogger())
	require.NoError(t, messenger.Send(ctx, "inbox-w1", domain.Message{ID: "m1", Kind: domain.MessageOffer, TaskID: "t1"}))

	var (
		mu  sync.Mutex
		got []string
	)
	inbox := NewInbox(client, "inbox-w1", func(_ context.Context, msg domain.Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, msg.ID)
	}, discardLogger())
	go inbox.Watch(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, messenger.Send(ctx, "inbox-w1", domain.Message{ID: "m2", Kind: domain.MessageNotice}))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 20*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{"m1", "m2"}, got)
	mu.Unlock()

	// Handled messages are removed.
	require.Eventually(t, func() bool {
		resp, err := client.Get(ctx, etcd.InboxPrefix("inbox-w1"), clientv3.WithPrefix(), clientv3.WithCountOnly())
		return err == nil && resp.Count == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestRegistry_PresenceSeenByDiscovery(t *testing.T) {
	client := newEtcdClient(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	discovery := master.NewWorkerDiscovery(client, nil, time.Second, discardLogger())
	go discovery.WatchWorkers(ctx)

	registry := NewRegistry(client, discardLogger())
	require.NoError(t, registry.Register(ctx, "presence-w1", "127.0.0.1:50052", 5))

	require.Eventually(t, func() bool {
		return discovery.Present(ctx, "presence-w1")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, registry.Deregister(ctx))
	require.Eventually(t, func() bool {
		return !discovery.Present(ctx, "presence-w1")
	}, 5*time.Second, 20*time.Millisecond)
}
