package redis

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"instawork/internal/testutil"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisTestSuite struct {
	suite.Suite
	client *redis.Client
	cache  *CheckpointCache
	queue  *DelayedQueue
	clock  time.Time
}

func TestRedisSuite(t *testing.T) {
	addr := testutil.GetRedisAddress(t)

	client, err := NewClient(context.Background(), addr, 5*time.Second)
	if err != nil {
		t.Fatalf("redis connect failed: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })

	suite.Run(t, &RedisTestSuite{client: client})
}

func (s *RedisTestSuite) SetupTest() {
	s.Require().NoError(s.client.FlushDB(context.Background()).Err())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s.clock = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.cache = NewCheckpointCache(s.client, "instawork:test:", time.Minute)
	s.queue = NewDelayedQueue(s.client, "instawork:test:", time.Minute, logger)
	s.queue.now = func() time.Time { return s.clock }
}

func (s *RedisTestSuite) TestCheckpointMissIsNotAnError() {
	token, ok, err := s.cache.Get(context.Background(), "free_cursor_t1")
	s.NoError(err)
	s.False(ok)
	s.Empty(token)
}

func (s *RedisTestSuite) TestCheckpointSetGetDelete() {
	ctx := context.Background()
	s.Require().NoError(s.cache.Set(ctx, "free_cursor_t1", "tok-1"))
	s.Require().NoError(s.cache.Set(ctx, "free_cursor_t1", "tok-2"))

	token, ok, err := s.cache.Get(ctx, "free_cursor_t1")
	s.NoError(err)
	s.True(ok)
	s.Equal("tok-2", token)

	ttl, err := s.client.TTL(ctx, "instawork:test:checkpoint:free_cursor_t1").Result()
	s.NoError(err)
	s.Greater(ttl, time.Duration(0))

	s.Require().NoError(s.cache.Delete(ctx, "free_cursor_t1"))
	_, ok, err = s.cache.Get(ctx, "free_cursor_t1")
	s.NoError(err)
	s.False(ok)
}

func (s *RedisTestSuite) TestPopDueReturnsOnlyDueItems() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "now"}, 0))
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "later"}, 30*time.Second))

	items, err := s.queue.PopDue(ctx, s.clock, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal("recruit", items[0].Route)
	s.Equal("now", items[0].Payload["task"])

	items, err = s.queue.PopDue(ctx, s.clock.Add(29*time.Second), 10)
	s.NoError(err)
	s.Empty(items)

	items, err = s.queue.PopDue(ctx, s.clock.Add(30*time.Second), 10)
	s.NoError(err)
	s.Require().Len(items, 1)
	s.Equal("later", items[0].Payload["task"])

	n, err := s.queue.Len(ctx)
	s.NoError(err)
	s.Zero(n)
}

func (s *RedisTestSuite) TestPopDueRespectsLimitAndDueOrder() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "b"}, 2*time.Second))
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "a"}, time.Second))
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "c"}, 3*time.Second))

	items, err := s.queue.PopDue(ctx, s.clock.Add(time.Minute), 2)
	s.Require().NoError(err)
	s.Require().Len(items, 2)
	s.Equal("a", items[0].Payload["task"])
	s.Equal("b", items[1].Payload["task"])
}

func (s *RedisTestSuite) TestConcurrentPopDueDeliversEachItemOnce() {
	ctx := context.Background()
	const total = 40
	for i := 0; i < total; i++ {
		s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "t"}, 0))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				items, err := s.queue.PopDue(ctx, s.clock, 5)
				if err != nil || len(items) == 0 {
					return
				}
				mu.Lock()
				for _, it := range items {
					seen[it.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	s.Len(seen, total)
	for id, n := range seen {
		s.Equalf(1, n, "item %s delivered %d times", id, n)
	}
}

func (s *RedisTestSuite) TestEnqueueStoresDueTime() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "x"}, 15*time.Second))

	items, err := s.queue.PopDue(ctx, s.clock.Add(time.Hour), 1)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.True(s.clock.Add(15*time.Second).Equal(items[0].DueAt), "due at %s", items[0].DueAt)
	s.Equal("x", items[0].Payload["task"])
}

func (s *RedisTestSuite) TestUnackedItemIsRedeliveredAfterLease() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "t1"}, 0))

	items, err := s.queue.PopDue(ctx, s.clock, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	claimed := items[0]

	inFlight, err := s.queue.InFlight(ctx)
	s.NoError(err)
	s.Equal(int64(1), inFlight)

	items, err = s.queue.PopDue(ctx, s.clock.Add(59*time.Second), 10)
	s.NoError(err)
	s.Empty(items, "still leased")

	items, err = s.queue.PopDue(ctx, s.clock.Add(time.Minute), 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Equal(claimed.ID, items[0].ID)
	s.Equal("t1", items[0].Payload["task"])
}

func (s *RedisTestSuite) TestAckedItemIsGone() {
	ctx := context.Background()
	s.Require().NoError(s.queue.Enqueue(ctx, "recruit", map[string]string{"task": "t1"}, 0))

	items, err := s.queue.PopDue(ctx, s.clock, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)
	s.Require().NoError(s.queue.Ack(ctx, items[0]))

	inFlight, err := s.queue.InFlight(ctx)
	s.NoError(err)
	s.Zero(inFlight)
	stored, err := s.client.HLen(ctx, "instawork:test:items").Result()
	s.NoError(err)
	s.Zero(stored)

	items, err = s.queue.PopDue(ctx, s.clock.Add(time.Hour), 10)
	s.NoError(err)
	s.Empty(items)
}
