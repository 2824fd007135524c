package lock

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	discover Key = "pools:discover"
	fill     Key = "pools:fill"
)

func TestWithLocksRunsBodyAndReleases(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(0))
	ran, err := table.WithLocks(context.Background(), []Key{discover}, []Key{fill}, []Key{fill}, func(context.Context) error {
		require.True(t, table.IsLocked(fill))
		return nil
	})
	require.NoError(t, err)
	require.True(t, ran)
	require.False(t, table.IsLocked(fill))
}

func TestWithLocksSkipsWhenBlocked(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(0))
	table.held[discover] = struct{}{}

	called := false
	ran, err := table.WithLocks(context.Background(), []Key{discover}, []Key{fill}, []Key{fill}, func(context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	require.False(t, ran)
	require.False(t, called)
	require.False(t, table.IsLocked(fill), "a skipped call must not acquire anything")
}

func TestWithLocksReleasesOnFailure(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(0))
	boom := errors.New("boom")
	ran, err := table.WithLocks(context.Background(), nil, []Key{fill}, []Key{fill}, func(context.Context) error {
		return boom
	})
	require.True(t, ran)
	require.ErrorIs(t, err, boom)
	require.False(t, table.IsLocked(fill))
}

func TestWithLocksReleasesOnPanic(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(0))
	require.Panics(t, func() {
		_, _ = table.WithLocks(context.Background(), nil, []Key{fill}, []Key{fill}, func(context.Context) error {
			panic("boom")
		})
	})
	require.False(t, table.IsLocked(fill))
}

func TestAcquireIsIdempotent(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(0))
	table.held[fill] = struct{}{}
	ran, err := table.WithLocks(context.Background(), nil, []Key{fill}, nil, nil)
	require.NoError(t, err)
	require.True(t, ran)
	require.Equal(t, []Key{fill}, table.Held())
}

func TestReleaseDelayHoldsKey(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(40*time.Millisecond), WithJitter(false))
	ran, err := table.WithLocks(context.Background(), nil, []Key{fill}, []Key{fill}, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.True(t, ran)

	require.True(t, table.IsLocked(fill), "key should stay held during release delay")
	require.Eventually(t, func() bool { return !table.IsLocked(fill) }, time.Second, time.Millisecond)
}

func TestReleaseDelayDoesNotBlockCaller(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(time.Hour), WithJitter(false))
	start := time.Now()
	ran, err := table.WithLocks(context.Background(), nil, []Key{fill}, []Key{fill}, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.True(t, ran)
	require.Less(t, time.Since(start), time.Second)

	ran, err = table.WithLocks(context.Background(), []Key{fill}, nil, nil, func(context.Context) error { return nil })
	require.NoError(t, err)
	require.False(t, ran, "delayed key must still block other callers")
}

func TestJitteredDelayWithinWindow(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(100*time.Millisecond))
	for i := 0; i < 100; i++ {
		d := table.delay()
		require.GreaterOrEqual(t, d, 50*time.Millisecond)
		require.LessOrEqual(t, d, 100*time.Millisecond)
	}
}

func TestConcurrentCallersSharingKeyAreExclusive(t *testing.T) {
	table := NewTable("mainnet", WithReleaseDelay(0))

	var active, maxActive, bodies, skipped atomic.Int32
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			ran, err := table.WithLocks(context.Background(), []Key{fill}, []Key{fill}, []Key{fill}, func(context.Context) error {
				n := active.Add(1)
				for {
					cur := maxActive.Load()
					if n <= cur || maxActive.CompareAndSwap(cur, n) {
						break
					}
				}
				bodies.Add(1)
				time.Sleep(5 * time.Millisecond)
				active.Add(-1)
				return nil
			})
			require.NoError(t, err)
			if !ran {
				skipped.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Equal(t, int32(1), maxActive.Load())
	require.Equal(t, int32(16), bodies.Load()+skipped.Load())
	require.GreaterOrEqual(t, bodies.Load(), int32(1))
}
