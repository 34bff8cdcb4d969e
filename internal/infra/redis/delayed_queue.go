package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"instawork/internal/domain"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultVisibilityTimeout = 2 * time.Minute

// DelayedQueue keeps items under three keys:
//
//	<prefix>delayed     => ZSET of item ids scored by due time (unix ms)
//	<prefix>processing  => ZSET of claimed item ids scored by lease deadline (unix ms)
//	<prefix>items       => HASH of item id -> JSON-encoded QueueItem
//
// PopDue moves due ids into the processing set; Ack deletes them. A claimed
// item that is never acked becomes due again once its lease deadline passes.
type DelayedQueue struct {
	client     *redis.Client
	delayedKey string
	processKey string
	itemsKey   string
	visibility time.Duration
	now        func() time.Time
	logger     *slog.Logger
}

var _ domain.DelayedQueue = (*DelayedQueue)(nil)

// NewDelayedQueue constructs a Redis-backed delayed queue.
// prefix defaults to "instawork:", visibility to two minutes.
func NewDelayedQueue(client *redis.Client, prefix string, visibility time.Duration, logger *slog.Logger) *DelayedQueue {
	if prefix == "" {
		prefix = "instawork:"
	}
	if visibility <= 0 {
		visibility = defaultVisibilityTimeout
	}
	return &DelayedQueue{
		client:     client,
		delayedKey: prefix + "delayed",
		processKey: prefix + "processing",
		itemsKey:   prefix + "items",
		visibility: visibility,
		now:        time.Now,
		logger:     logger.With("component", "redis-delayed-queue"),
	}
}

var (
	// Returns expired leases to the delayed set, then moves up to ARGV[3] due
	// ids into the processing set and returns their payloads.
	redisClaimDueLua = `
local delayed = KEYS[1]
local processing = KEYS[2]
local items = KEYS[3]
local now = ARGV[1]
local deadline = ARGV[2]
local limit = tonumber(ARGV[3])

local expired = redis.call('ZRANGEBYSCORE', processing, '-inf', now)
for _, id in ipairs(expired) do
	redis.call('ZREM', processing, id)
	redis.call('ZADD', delayed, now, id)
end

local due = redis.call('ZRANGEBYSCORE', delayed, '-inf', now, 'LIMIT', 0, limit)
local out = {}
for _, id in ipairs(due) do
	redis.call('ZREM', delayed, id)
	local data = redis.call('HGET', items, id)
	if data then
		redis.call('ZADD', processing, deadline, id)
		table.insert(out, data)
	end
end
return out
`
)

// Enqueue adds an item due after delay. Negative delays count as zero.
func (q *DelayedQueue) Enqueue(ctx context.Context, route string, payload map[string]string, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}
	item := domain.QueueItem{
		ID:      uuid.NewString(),
		Route:   route,
		Payload: payload,
		DueAt:   q.now().Add(delay).UTC(),
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item: %w", err)
	}

	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.itemsKey, item.ID, data)
	pipe.ZAdd(ctx, q.delayedKey, redis.Z{Score: float64(item.DueAt.UnixMilli()), Member: item.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to enqueue %s item: %w", route, err)
	}
	return nil
}

// PopDue claims up to limit items due at or before now. Each claim holds a
// lease until now plus the visibility timeout.
func (q *DelayedQueue) PopDue(ctx context.Context, now time.Time, limit int) ([]domain.QueueItem, error) {
	if limit <= 0 {
		return nil, nil
	}
	deadline := now.Add(q.visibility)
	members, err := q.client.Eval(ctx, redisClaimDueLua,
		[]string{q.delayedKey, q.processKey, q.itemsKey},
		now.UnixMilli(), deadline.UnixMilli(), limit,
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("failed to claim due items: %w", err)
	}

	items := make([]domain.QueueItem, 0, len(members))
	for _, member := range members {
		var item domain.QueueItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			q.logger.Error("dropping undecodable queue item", "member", member, "error", err)
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// Ack removes a claimed item for good.
func (q *DelayedQueue) Ack(ctx context.Context, item domain.QueueItem) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, q.processKey, item.ID)
	pipe.HDel(ctx, q.itemsKey, item.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to ack queue item %s: %w", item.ID, err)
	}
	return nil
}

// Len returns the number of items waiting to be claimed, due or not.
func (q *DelayedQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.delayedKey).Result()
}

// InFlight returns the number of claimed items not yet acked.
func (q *DelayedQueue) InFlight(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.processKey).Result()
}
