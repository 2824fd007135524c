package durable

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/internal/domain/resource"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts ...Option) (*Store, *fakeClock) {
	t.Helper()
	backend, err := OpenBadger(BadgerConfig{InMemory: true, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	base := []Option{WithClock(clock.Now), WithLogger(log.New(io.Discard, "", 0))}
	store, err := New("mainnet", backend, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, clock
}

func TestGetOrFetchInvokesActionOnce(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	key := resource.NewKey("vault-metadata", "mainnet", "0xvault")

	calls := 0
	action := func(context.Context) (string, error) {
		calls++
		return "v1", nil
	}

	first, err := GetOrFetch(ctx, store, key, 0, action)
	require.NoError(t, err)
	second, err := GetOrFetch(ctx, store, key, 0, func(context.Context) (string, error) {
		calls++
		return "v2", nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, "v1", first)
	require.Equal(t, "v1", second)
}

func TestRecordExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	key := resource.NewKey("pool-detail", "mainnet", "0xpool")

	require.NoError(t, Set(ctx, store, key, 42, 10*time.Millisecond))
	got, ok, err := Fetch[int](ctx, store, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 42, got)

	clock.Advance(15 * time.Millisecond)
	_, ok, err = Fetch[int](ctx, store, key)
	require.NoError(t, err)
	require.False(t, ok)

	calls := 0
	v, err := GetOrFetch(ctx, store, key, 10*time.Millisecond, func(context.Context) (int, error) {
		calls++
		return 43, nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
	require.Equal(t, 43, v)
}

func TestRecordExpiresWithRealClock(t *testing.T) {
	ctx := context.Background()
	backend, err := OpenBadger(BadgerConfig{InMemory: true, Logger: log.New(io.Discard, "", 0)})
	require.NoError(t, err)
	store, err := New("mainnet", backend, WithLogger(log.New(io.Discard, "", 0)))
	require.NoError(t, err)
	defer store.Close()

	key := resource.NewKey("pool-detail", "mainnet", "0xpool")
	require.NoError(t, Set(ctx, store, key, "x", 10*time.Millisecond))
	time.Sleep(15 * time.Millisecond)
	_, ok, err := Fetch[string](ctx, store, key)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestFetchMissingKey(t *testing.T) {
	store, _ := newTestStore(t)
	_, ok, err := Fetch[string](context.Background(), store, resource.NewKey("pool-batch", "mainnet", "A", "B"))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestSetOverwritesAndClearsExpiry(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	key := resource.NewKey("pool-batch", "mainnet", "USDC", "WETH")

	require.NoError(t, Set(ctx, store, key, resource.Lines{{ID: "a"}}, time.Second))
	require.NoError(t, Set(ctx, store, key, resource.Lines{{ID: "b"}}, 0))
	clock.Advance(time.Hour)

	rec, ok, err := FetchRecord[resource.Lines](ctx, store, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, rec.ExpiresAt)
	require.Equal(t, "b", rec.Value[0].ID)
}

func TestGetOrFetchPropagatesActionError(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	key := resource.NewKey("pool-batch", "mainnet", "USDC", "WETH")
	boom := errors.New("remote down")

	_, err := GetOrFetch(ctx, store, key, 0, func(context.Context) (resource.Lines, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)
	_, ok, err := Fetch[resource.Lines](ctx, store, key)
	require.NoError(t, err)
	require.False(t, ok, "failed action must not persist anything")
}

func TestGetOrFetchTTLUsesActionTTL(t *testing.T) {
	ctx := context.Background()
	store, clock := newTestStore(t)
	key := resource.NewKey("pool-detail", "mainnet", "0xpool")

	_, err := GetOrFetchTTL(ctx, store, key, func(context.Context) (string, time.Duration, error) {
		return "stale", 5 * time.Second, nil
	})
	require.NoError(t, err)
	rec, ok, err := FetchRecord[string](ctx, store, key)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 5*time.Second, rec.TTL(clock.Now()))
}

func TestCorruptRecordIsReplaced(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	key := resource.NewKey("pool-detail", "mainnet", "0xpool")
	require.NoError(t, store.backend.Put(ctx, key.String(), []byte(`{"value":{"lineId":""}}`), 0))

	_, _, err := Fetch[resource.Detail](ctx, store, key)
	require.ErrorIs(t, err, ErrCorrupt)

	got, err := GetOrFetch(ctx, store, key, 0, func(context.Context) (resource.Detail, error) {
		return resource.Detail{LineID: "0xpool"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, "0xpool", got.LineID)
}

func TestStoreRejectsForeignPartition(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	err := Set(ctx, store, resource.NewKey("pool-detail", "testnet", "0xpool"), 1, 0)
	require.Error(t, err)
	_, _, err = Fetch[int](ctx, store, resource.Key("bad"))
	require.Error(t, err)
}

func TestNewValidatesArguments(t *testing.T) {
	_, err := New("", &Postgres{})
	require.Error(t, err)
	_, err = New("mainnet", nil)
	require.Error(t, err)
}

func TestMaintainInMemoryBadger(t *testing.T) {
	store, _ := newTestStore(t)
	require.NoError(t, store.Maintain(context.Background()))
}

func TestPostgresNilPool(t *testing.T) {
	ctx := context.Background()
	backend := NewPostgres(nil, "mainnet")
	if _, err := backend.Get(ctx, "k"); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if err := backend.Put(ctx, "k", []byte(`{}`), 0); err == nil {
		t.Fatalf("expected error when pool nil")
	}
	if _, err := backend.Purge(ctx); err == nil {
		t.Fatalf("expected error when pool nil")
	}
}
