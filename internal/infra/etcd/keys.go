package etcd

import (
	"fmt"
	"path"
)

// Key layout. Every key lives under keyPrefix.
//
//	/instawork/tasks/{id}                         task JSON
//	/instawork/tasks_by_creator/{creator}/{id}    id
//	/instawork/workers/{id}                       worker JSON
//	/instawork/apikeys/{key}                      worker id
//	/instawork/idle/{scope}/{nanos}/{id}          worker id, present only while idle
//	/instawork/pools/{name}                       pool JSON
//	/instawork/inbox/{worker}/{message}           message JSON, lease-bound
const keyPrefix = "/instawork/"

// allWorkersScope indexes every idle worker regardless of pools.
const allWorkersScope = "*"

func taskKey(id string) string { return path.Join(keyPrefix, "tasks", id) }

func creatorIndexPrefix(creatorID string) string {
	return path.Join(keyPrefix, "tasks_by_creator", creatorID) + "/"
}

func workerKey(id string) string { return path.Join(keyPrefix, "workers", id) }

func apiKeyKey(apiKey string) string { return path.Join(keyPrefix, "apikeys", apiKey) }

func poolKey(name string) string { return path.Join(keyPrefix, "pools", name) }

func inboxPrefix(workerID string) string { return path.Join(keyPrefix, "inbox", workerID) + "/" }

// idlePrefix is the index range scanned for a task. pool "" scans every idle worker.
func idlePrefix(pool string) string {
	scope := allWorkersScope
	if pool != "" {
		scope = "pool:" + pool
	}
	return keyPrefix + "idle/" + scope + "/"
}

// idleIndexKey orders entries by next contact time and then worker id. The
// zero-padded nanoseconds make lexical order equal chronological order.
func idleIndexKey(pool string, nextContactNanos int64, workerID string) string {
	return fmt.Sprintf("%s%020d/%s", idlePrefix(pool), nextContactNanos, workerID)
}
