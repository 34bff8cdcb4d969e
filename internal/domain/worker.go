// internal/domain/worker.go
package domain

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Worker is an identity eligible to accept tasks. It is idle when CurrentTask is empty.
type Worker struct {
	ID            string    `json:"id"`
	APIKey        string    `json:"api_key"`
	JoinedAt      time.Time `json:"joined_at"`
	Pools         []string  `json:"pools,omitempty"`
	CurrentTask   string    `json:"current_task,omitempty"`
	NextContactAt time.Time `json:"next_contact_at"`
}

// IsIdle reports whether the worker holds no task.
func (w *Worker) IsIdle() bool {
	return w.CurrentTask == ""
}

// InPool reports membership of the named pool.
func (w *Worker) InPool(pool string) bool {
	return slices.Contains(w.Pools, pool)
}

// JoinPool adds the pool to the membership set. It reports whether anything changed.
func (w *Worker) JoinPool(pool string) bool {
	if w.InPool(pool) {
		return false
	}
	w.Pools = append(w.Pools, pool)
	slices.Sort(w.Pools)
	return true
}

// Contacted pushes NextContactAt out to now+cooldown. The timestamp only moves forward.
func (w *Worker) Contacted(now time.Time, cooldown time.Duration) {
	next := now.Add(cooldown)
	if next.After(w.NextContactAt) {
		w.NextContactAt = next
	}
}

// Release clears CurrentTask if it still points at taskID and makes the worker
// contactable again after delay. It reports whether the worker was released.
func (w *Worker) Release(taskID string, now time.Time, delay time.Duration) bool {
	if w.CurrentTask != taskID {
		return false
	}
	w.CurrentTask = ""
	w.NextContactAt = now.Add(delay)
	return true
}

// ContactOrder is NextContactAt in unix nanoseconds, the sort key of the idle
// index. Times before the unix epoch, the zero time included, sort as the epoch.
func (w *Worker) ContactOrder() int64 {
	if w.NextContactAt.Before(unixEpoch) {
		return 0
	}
	return w.NextContactAt.UnixNano()
}

var unixEpoch = time.Unix(0, 0)

// Validate checks the worker record before it is first stored.
func (w *Worker) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("%w: worker id cannot be empty", ErrInvalid)
	}
	if strings.Contains(w.ID, "/") {
		return fmt.Errorf("%w: worker id %q may not contain slashes", ErrInvalid, w.ID)
	}
	if w.APIKey == "" {
		return fmt.Errorf("%w: worker api key cannot be empty", ErrInvalid)
	}
	if w.NextContactAt.Before(unixEpoch) {
		return fmt.Errorf("%w: worker next contact time %s is before the unix epoch", ErrInvalid, w.NextContactAt)
	}
	return nil
}
