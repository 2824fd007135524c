// Package reader is the read-only consumer API over the indexed data. It
// never runs a remote fetch and never touches cursor or lock state.
package reader

import (
	"context"
	"fmt"
	"sort"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/cache"
	"github.com/coachpo/yieldcache/internal/infra/durable"
)

// Reader resolves keys through the cache facade, then the partition's durable store.
type Reader struct {
	cache  *cache.Facade
	stores map[resource.Partition]*durable.Store
}

// New builds a reader. facade may be nil.
func New(facade *cache.Facade, stores ...*durable.Store) *Reader {
	byPartition := make(map[resource.Partition]*durable.Store, len(stores))
	for _, s := range stores {
		if s != nil {
			byPartition[s.Partition()] = s
		}
	}
	return &Reader{cache: facade, stores: byPartition}
}

// Read returns the live value under key. ok is false when no tier holds it.
func Read[T any](ctx context.Context, r *Reader, key resource.Key) (value T, ok bool, err error) {
	var zero T
	if err := key.Validate(); err != nil {
		return zero, false, err
	}
	if r.cache != nil {
		if v, hit := cache.Peek[T](ctx, r.cache, key); hit {
			return v, true, nil
		}
	}
	store, found := r.stores[key.Partition()]
	if !found {
		return zero, false, errs.New("reader", errs.CodeConfigMissing,
			errs.WithMessage("partition not served"),
			errs.WithField("partition", key.Partition().String()))
	}
	value, ok, err = durable.Fetch[T](ctx, store, key)
	if err != nil {
		return zero, false, fmt.Errorf("read %s: %w", key, err)
	}
	return value, ok, nil
}

// Lines returns the materialized lines of batch.
func (r *Reader) Lines(ctx context.Context, batchKind string, partition resource.Partition, batch resource.BatchUnit) (resource.Lines, bool, error) {
	return Read[resource.Lines](ctx, r, resource.NewKey(batchKind, partition, batch.Members...))
}

// Detail returns the stored detail of a line.
func (r *Reader) Detail(ctx context.Context, lineKind string, partition resource.Partition, lineID string) (resource.Detail, bool, error) {
	return Read[resource.Detail](ctx, r, resource.NewKey(lineKind, partition, lineID))
}

// Partitions lists the partitions the reader serves in sorted order.
func (r *Reader) Partitions() []resource.Partition {
	out := make([]resource.Partition, 0, len(r.stores))
	for p := range r.stores {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
