package orchestrator

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/cache"
	"github.com/coachpo/yieldcache/internal/infra/coldstore"
	"github.com/coachpo/yieldcache/internal/infra/durable"
	"github.com/coachpo/yieldcache/internal/infra/retry"
)

// Resolver reads a resource through the tiers: cache facade, durable store,
// cold snapshot, and finally the remote source wrapped in the retry policy.
// Cache and Cold are optional. Build it with NewResolver.
type Resolver struct {
	Durable  *durable.Store
	Cache    *cache.Facade
	Cold     *coldstore.Store
	Retry    retry.Policy
	StaleTTL time.Duration
	Logger   *log.Logger
}

// NewResolver copies cfg and fills in a default logger.
func NewResolver(cfg Resolver) *Resolver {
	r := cfg
	if r.Logger == nil {
		r.Logger = log.New(os.Stdout, "resolver ", log.LstdFlags|log.Lmicroseconds)
	}
	return &r
}

// Resolve returns the value stored under key, fetching it when every tier
// misses. Fresh remote values are kept for ttl; a stale snapshot served
// because the remote failed is kept only for the resolver's StaleTTL, in the
// cache tiers as well as the durable store.
func Resolve[T any](ctx context.Context, r *Resolver, key resource.Key, ttl time.Duration, fetch func(context.Context) (T, error)) (T, error) {
	load := func(ctx context.Context) (resource.Record[T], error) {
		return durable.GetOrFetchRecord(ctx, r.Durable, key, func(ctx context.Context) (T, time.Duration, error) {
			return fetchRemote(ctx, r, key, ttl, fetch)
		})
	}
	if r.Cache == nil {
		rec, err := load(ctx)
		return rec.Value, err
	}
	return cache.GetRecord(ctx, r.Cache, key, load)
}

func fetchRemote[T any](ctx context.Context, r *Resolver, key resource.Key, ttl time.Duration, fetch func(context.Context) (T, error)) (T, time.Duration, error) {
	remote := func(ctx context.Context) (T, error) {
		return retry.Do(ctx, r.Retry, fetch)
	}
	if r.Cold == nil {
		value, err := remote(ctx)
		return value, ttl, err
	}
	value, outcome, err := coldstore.Resolve(ctx, r.Cold, key, remote)
	if err != nil {
		var zero T
		return zero, 0, err
	}
	if outcome == coldstore.Stale {
		stale := r.StaleTTL
		if stale <= 0 || (ttl > 0 && stale > ttl) {
			stale = ttl
		}
		r.Logger.Printf("stale value stored key=%s ttl=%s", key, stale)
		return value, stale, nil
	}
	return value, ttl, nil
}
