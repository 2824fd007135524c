// Package lock provides the advisory lock table that serialises indexing
// passes within one partition.
//
// The table is in-process only. Two processes indexing the same partition do
// not see each other's locks; horizontal scaling requires a distributed lock
// or single-writer partitioning by process.
package lock

import (
	"context"
	"math/rand/v2"
	"sort"
	"sync"
	"time"

	"github.com/coachpo/yieldcache/internal/domain/resource"
)

// Key names a lock within a partition.
type Key string

const defaultReleaseDelay = time.Second

// Option configures a Table.
type Option func(*Table)

// WithReleaseDelay overrides how long released keys stay held after a body returns.
// Zero releases immediately.
func WithReleaseDelay(delay time.Duration) Option {
	return func(t *Table) {
		if delay >= 0 {
			t.releaseDelay = delay
		}
	}
}

// WithJitter toggles randomisation of the release delay within [delay/2, delay].
func WithJitter(enabled bool) Option {
	return func(t *Table) {
		t.jitter = enabled
	}
}

// Table holds the set of lock names currently held in one partition. A name is
// either absent or held exactly once; there is no reentrancy or counting.
type Table struct {
	partition    resource.Partition
	mu           sync.Mutex
	held         map[Key]struct{}
	releaseDelay time.Duration
	jitter       bool
}

// NewTable constructs an empty lock table for the partition.
func NewTable(partition resource.Partition, opts ...Option) *Table {
	t := &Table{
		partition:    partition,
		mu:           sync.Mutex{},
		held:         make(map[Key]struct{}),
		releaseDelay: defaultReleaseDelay,
		jitter:       true,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(t)
		}
	}
	return t
}

// Partition returns the partition the table guards.
func (t *Table) Partition() resource.Partition {
	return t.partition
}

// IsLocked reports whether key is currently held.
func (t *Table) IsLocked(key Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.held[key]
	return ok
}

// Held returns the currently held keys in sorted order.
func (t *Table) Held() []Key {
	t.mu.Lock()
	keys := make([]Key, 0, len(t.held))
	for k := range t.held {
		keys = append(keys, k)
	}
	t.mu.Unlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// WithLocks runs body unless any blocked key is held.
//
// When a blocked key is held the call returns (false, nil) at once without
// acquiring anything or running body. Otherwise every acquire key is marked
// held (already-held keys are left as they are), body runs, and after it
// returns, successfully or not, every release key is freed once the release
// delay has elapsed. The call itself returns as soon as body does; the keys
// stay held in the background. The check and the acquisition happen under
// one critical section, so two callers listing the same key in blocked and
// acquire never run their bodies concurrently.
func (t *Table) WithLocks(ctx context.Context, blocked, acquire, release []Key, body func(context.Context) error) (bool, error) {
	if !t.tryAcquire(blocked, acquire) {
		return false, nil
	}
	defer t.releaseAfterDelay(release)

	if body == nil {
		return true, nil
	}
	return true, body(ctx)
}

func (t *Table) tryAcquire(blocked, acquire []Key) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, k := range blocked {
		if _, ok := t.held[k]; ok {
			return false
		}
	}
	for _, k := range acquire {
		t.held[k] = struct{}{}
	}
	return true
}

func (t *Table) releaseAfterDelay(release []Key) {
	delay := t.delay()
	if delay <= 0 {
		t.free(release)
		return
	}
	keys := append([]Key(nil), release...)
	time.AfterFunc(delay, func() { t.free(keys) })
}

func (t *Table) free(keys []Key) {
	t.mu.Lock()
	for _, k := range keys {
		delete(t.held, k)
	}
	t.mu.Unlock()
}

func (t *Table) delay() time.Duration {
	if t.releaseDelay <= 0 || !t.jitter {
		return t.releaseDelay
	}
	half := t.releaseDelay / 2
	return half + rand.N(t.releaseDelay-half+1)
}
