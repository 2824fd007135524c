package durable

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const defaultSweepInterval = 30 * time.Second

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

// Memory is a process-local Backend. Entries with a ttl are dropped by a
// background sweep once expired; reads never return them.
type Memory struct {
	mu       sync.RWMutex
	records  map[string]memoryEntry
	now      func() time.Time
	shutdown chan struct{}
	once     sync.Once
}

// NewMemory creates a memory backend sweeping expired entries every interval.
// A non-positive interval uses the default.
func NewMemory(interval time.Duration) *Memory {
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	m := &Memory{
		mu:       sync.RWMutex{},
		records:  make(map[string]memoryEntry),
		now:      time.Now,
		shutdown: make(chan struct{}),
		once:     sync.Once{},
	}
	go m.sweepExpired(interval)
	return m
}

// Get implements Backend.
func (m *Memory) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("memory get: %w", err)
	}
	m.mu.RLock()
	e, ok := m.records[key]
	m.mu.RUnlock()
	if !ok || m.expired(e) {
		return nil, ErrNotFound
	}
	return append([]byte(nil), e.value...), nil
}

// Put implements Backend.
func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("memory put: %w", err)
	}
	e := memoryEntry{value: append([]byte(nil), value...), expiresAt: time.Time{}}
	if ttl > 0 {
		e.expiresAt = m.now().Add(ttl)
	}
	m.mu.Lock()
	m.records[key] = e
	m.mu.Unlock()
	return nil
}

// Purge drops expired entries and reports how many were removed.
func (m *Memory) Purge(_ context.Context) (int64, error) {
	var n int64
	m.mu.Lock()
	for key, e := range m.records {
		if m.expired(e) {
			delete(m.records, key)
			n++
		}
	}
	m.mu.Unlock()
	return n, nil
}

// Close stops the sweeper.
func (m *Memory) Close() error {
	m.once.Do(func() { close(m.shutdown) })
	return nil
}

func (m *Memory) expired(e memoryEntry) bool {
	return !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt)
}

func (m *Memory) sweepExpired(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.shutdown:
			return
		case <-ticker.C:
			_, _ = m.Purge(context.Background())
		}
	}
}
