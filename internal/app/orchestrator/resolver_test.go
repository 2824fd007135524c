package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gomodule/redigo/redis"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/cache"
	"github.com/coachpo/yieldcache/internal/infra/coldstore"
	"github.com/coachpo/yieldcache/internal/infra/durable"
)

var vaultKey = resource.NewKey("vault-list", partition, "all")

func TestResolveFetchesOnceThroughTiers(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(Resolver{
		Durable: newDurable(t),
		Cache:   cache.New(cache.WithLogger(quietLogger)),
		Retry:   fastPolicy(),
		Logger:  quietLogger,
	})
	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"0xa"}, nil
	}
	for i := 0; i < 3; i++ {
		got, err := Resolve(ctx, r, vaultKey, time.Minute, fetch)
		require.NoError(t, err)
		require.Equal(t, []string{"0xa"}, got)
	}
	require.Equal(t, 1, calls)
}

func TestResolveRetriesTransientFailures(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(Resolver{Durable: newDurable(t), Retry: fastPolicy(), Logger: quietLogger})
	calls := 0
	got, err := Resolve(ctx, r, vaultKey, time.Minute, func(context.Context) (int, error) {
		calls++
		if calls == 1 {
			return 0, errors.New("timeout")
		}
		return 7, nil
	})
	require.NoError(t, err)
	require.Equal(t, 7, got)
	require.Equal(t, 2, calls)
}

func TestResolveServesStaleSnapshotWithShortTTL(t *testing.T) {
	ctx := context.Background()
	store := newDurable(t)
	cold, err := coldstore.New(t.TempDir(), coldstore.WithLogger(quietLogger), coldstore.WithTTL(time.Nanosecond))
	require.NoError(t, err)
	r := NewResolver(Resolver{Durable: store, Cold: cold, Retry: fastPolicy(), StaleTTL: 50 * time.Millisecond, Logger: quietLogger})

	got, err := Resolve(ctx, r, vaultKey, 10*time.Millisecond, func(context.Context) (string, error) { return "v1", nil })
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	time.Sleep(20 * time.Millisecond)
	boom := errors.New("remote down")
	got, err = Resolve(ctx, r, vaultKey, time.Hour, func(context.Context) (string, error) { return "", boom })
	require.NoError(t, err)
	require.Equal(t, "v1", got)

	rec, ok, err := durable.FetchRecord[string](ctx, store, vaultKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.ExpiresAt)
	require.LessOrEqual(t, rec.TTL(time.Now()), 50*time.Millisecond)
}

func TestResolvePropagatesErrorWithoutSnapshot(t *testing.T) {
	ctx := context.Background()
	cold, err := coldstore.New(t.TempDir(), coldstore.WithLogger(quietLogger))
	require.NoError(t, err)
	r := NewResolver(Resolver{Durable: newDurable(t), Cold: cold, Retry: fastPolicy(), Logger: quietLogger})
	boom := errors.New("remote down")
	_, err = Resolve(ctx, r, vaultKey, time.Minute, func(context.Context) (string, error) { return "", boom })
	require.ErrorIs(t, err, boom)
}

func TestStaleValueLeavesCacheAfterStaleTTL(t *testing.T) {
	ctx := context.Background()
	srv, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	pool := &redis.Pool{Dial: func() (redis.Conn, error) { return redis.Dial("tcp", srv.Addr()) }}
	t.Cleanup(func() { _ = pool.Close() })

	cold, err := coldstore.New(t.TempDir(), coldstore.WithLogger(quietLogger), coldstore.WithTTL(time.Nanosecond))
	require.NoError(t, err)
	r := NewResolver(Resolver{
		Durable: newDurable(t),
		Cache: cache.New(cache.WithLogger(quietLogger),
			cache.WithNear(16, time.Minute),
			cache.WithRemote(cache.NewRedis(pool, "yc:"), 5*time.Minute)),
		Cold:     cold,
		Retry:    fastPolicy(),
		StaleTTL: 20 * time.Millisecond,
		Logger:   quietLogger,
	})

	got, err := Resolve(ctx, r, vaultKey, 10*time.Millisecond, func(context.Context) (string, error) { return "old", nil })
	require.NoError(t, err)
	require.Equal(t, "old", got)

	time.Sleep(20 * time.Millisecond)
	got, err = Resolve(ctx, r, vaultKey, time.Hour, func(context.Context) (string, error) { return "", errors.New("remote down") })
	require.NoError(t, err)
	require.Equal(t, "old", got)
	ttl := srv.TTL("yc:" + vaultKey.String())
	require.Positive(t, ttl)
	require.LessOrEqual(t, ttl, 20*time.Millisecond, "remote tier keeps a stale value no longer than the stale ttl")

	time.Sleep(50 * time.Millisecond)
	calls := 0
	got, err = Resolve(ctx, r, vaultKey, time.Hour, func(context.Context) (string, error) {
		calls++
		return "new", nil
	})
	require.NoError(t, err)
	require.Equal(t, "new", got)
	require.Equal(t, 1, calls)
}
