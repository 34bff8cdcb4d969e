package etcd

import (
	"context"
	"encoding/json"
	"fmt"

	"instawork/internal/domain"

	clientv3 "go.etcd.io/etcd/client/v3"
)

// maxCASAttempts bounds how often a compare-and-set is retried after losing a race.
const maxCASAttempts = 16

// casUpdate applies mutate to the JSON document at key and writes it back only
// if nobody else wrote the key in between, retrying from a fresh read when
// that happens. A mutate error aborts without writing. sideOps may add writes
// that commit in the same transaction, derived from the before and after values.
func casUpdate[T any](
	ctx context.Context,
	kv clientv3.KV,
	key string,
	notFound error,
	mutate func(*T) error,
	sideOps func(before, after *T) []clientv3.Op,
) (*T, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		resp, err := kv.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s from etcd: %w", key, err)
		}
		if len(resp.Kvs) == 0 {
			return nil, notFound
		}
		current := resp.Kvs[0]

		var before, after T
		if err := json.Unmarshal(current.Value, &before); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s from JSON: %w", key, err)
		}
		if err := json.Unmarshal(current.Value, &after); err != nil {
			return nil, fmt.Errorf("failed to unmarshal %s from JSON: %w", key, err)
		}

		if err := mutate(&after); err != nil {
			return nil, err
		}

		data, err := json.Marshal(&after)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s to JSON: %w", key, err)
		}

		ops := []clientv3.Op{clientv3.OpPut(key, string(data))}
		if sideOps != nil {
			ops = append(ops, sideOps(&before, &after)...)
		}

		txn, err := kv.Txn(ctx).
			If(clientv3.Compare(clientv3.ModRevision(key), "=", current.ModRevision)).
			Then(ops...).
			Commit()
		if err != nil {
			return nil, fmt.Errorf("failed to commit %s to etcd: %w", key, err)
		}
		if txn.Succeeded {
			return &after, nil
		}
	}
	return nil, fmt.Errorf("%s: %w", key, domain.ErrConcurrentUpdate)
}

// createOnce writes key only if it does not exist yet, together with extra ops.
func createOnce(ctx context.Context, kv clientv3.KV, key string, value any, exists error, extra ...clientv3.Op) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s to JSON: %w", key, err)
	}

	ops := append([]clientv3.Op{clientv3.OpPut(key, string(data))}, extra...)
	txn, err := kv.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(ops...).
		Commit()
	if err != nil {
		return fmt.Errorf("failed to create %s in etcd: %w", key, err)
	}
	if !txn.Succeeded {
		return exists
	}
	return nil
}

// getJSON reads and decodes a single document.
func getJSON[T any](ctx context.Context, kv clientv3.KV, key string, notFound error) (*T, error) {
	resp, err := kv.Get(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s from etcd: %w", key, err)
	}
	if len(resp.Kvs) == 0 {
		return nil, notFound
	}
	var v T
	if err := json.Unmarshal(resp.Kvs[0].Value, &v); err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s from JSON: %w", key, err)
	}
	return &v, nil
}

// getMany reads several keys in one round trip. Missing keys yield nil entries.
func getMany(ctx context.Context, kv clientv3.KV, keys []string) ([][]byte, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	ops := make([]clientv3.Op, 0, len(keys))
	for _, k := range keys {
		ops = append(ops, clientv3.OpGet(k))
	}
	resp, err := kv.Txn(ctx).Then(ops...).Commit()
	if err != nil {
		return nil, fmt.Errorf("failed to batch get from etcd: %w", err)
	}
	values := make([][]byte, len(keys))
	for i, r := range resp.Responses {
		rr := r.GetResponseRange()
		if rr != nil && len(rr.Kvs) > 0 {
			values[i] = rr.Kvs[0].Value
		}
	}
	return values, nil
}
