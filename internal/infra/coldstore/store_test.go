package coldstore

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/internal/domain/resource"
)

var vaultsKey = resource.NewKey("vault-list", "mainnet", "all")

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	base := []Option{WithLogger(log.New(io.Discard, "", 0))}
	s, err := New(t.TempDir(), append(base, opts...)...)
	require.NoError(t, err)
	return s
}

func TestFallbackChain(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, WithTTL(time.Nanosecond))
	remoteDown := errors.New("remote down")
	failing := func(context.Context) ([]string, error) { return nil, remoteDown }

	_, err := TryActionOrFallback(ctx, s, vaultsKey, failing)
	require.ErrorIs(t, err, remoteDown)

	got, err := TryActionOrFallback(ctx, s, vaultsKey, func(context.Context) ([]string, error) {
		return []string{"0xa", "0xb"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"0xa", "0xb"}, got)

	time.Sleep(time.Millisecond)
	got, outcome, err := Resolve(ctx, s, vaultsKey, failing)
	require.NoError(t, err)
	require.Equal(t, Stale, outcome)
	require.Equal(t, []string{"0xa", "0xb"}, got)
}

func TestFreshSnapshotSkipsAction(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, WithTTL(time.Hour))
	require.NoError(t, Save(ctx, s, vaultsKey, []string{"0xa"}))

	got, outcome, err := Resolve(ctx, s, vaultsKey, func(context.Context) ([]string, error) {
		t.Fatalf("action must not run for a fresh snapshot")
		return nil, nil
	})
	require.NoError(t, err)
	require.Equal(t, Fresh, outcome)
	require.Equal(t, []string{"0xa"}, got)
}

func TestExpiredSnapshotIsRefreshed(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	s := newStore(t, WithTTL(time.Minute), WithClock(func() time.Time { return now }))
	require.NoError(t, Save(ctx, s, vaultsKey, []string{"old"}))

	now = now.Add(2 * time.Minute)
	_, meta, err := Load[[]string](s, vaultsKey)
	require.NoError(t, err)
	require.True(t, meta.Expired)

	got, outcome, err := Resolve(ctx, s, vaultsKey, func(context.Context) ([]string, error) {
		return []string{"new"}, nil
	})
	require.NoError(t, err)
	require.Equal(t, Refreshed, outcome)
	require.Equal(t, []string{"new"}, got)

	loaded, meta, err := Load[[]string](s, vaultsKey)
	require.NoError(t, err)
	require.False(t, meta.Expired)
	require.Equal(t, []string{"new"}, loaded)
}

func TestLoadMissing(t *testing.T) {
	s := newStore(t)
	_, _, err := Load[int](s, vaultsKey)
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestCorruptSnapshotActsAsMissing(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), FileName(vaultsKey)), []byte("{not json"), 0o644))

	boom := errors.New("boom")
	_, err := TryActionOrFallback(ctx, s, vaultsKey, func(context.Context) (int, error) { return 0, boom })
	require.ErrorIs(t, err, boom)

	got, err := TryActionOrFallback(ctx, s, vaultsKey, func(context.Context) (int, error) { return 3, nil })
	require.NoError(t, err)
	require.Equal(t, 3, got)
}

func TestSnapshotValidatesPayload(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, Save(ctx, s, vaultsKey, resource.Detail{}))
	_, _, err := Load[resource.Detail](s, vaultsKey)
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "pool_batch__mainnet__USDC__WETH.snapshot.json",
		FileName(resource.NewKey("pool-batch", "mainnet", "USDC", "WETH")))
}

func TestConcurrentSavesLeaveReadableFile(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, Save(ctx, s, vaultsKey, i))
		}(i)
	}
	wg.Wait()
	got, _, err := Load[int](s, vaultsKey)
	require.NoError(t, err)
	require.GreaterOrEqual(t, got, 0)
	require.Less(t, got, 8)
}

func TestOutcomeString(t *testing.T) {
	require.Equal(t, "fresh", Fresh.String())
	require.Equal(t, "refreshed", Refreshed.String())
	require.Equal(t, "stale", Stale.String())
}
