// Package fake provides a deterministic synthetic adapter that emulates a
// liquidity protocol: every batch has a fixed set of pools whose reserves and
// yields are derived from their ids.
package fake

import (
	"context"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
)

var feeTiers = []string{"100", "500", "3000", "10000"}

// Adapter implements provider.Adapter without any network access.
type Adapter struct {
	opts           Options
	failingLines   map[string]struct{}
	failingBatches map[string]struct{}
	emptyBatches   map[string]struct{}

	discoverCalls atomic.Int64
	detailCalls   atomic.Int64
}

// New constructs the adapter.
func New(opts Options) *Adapter {
	opts = opts.normalize()
	return &Adapter{
		opts:           opts,
		failingLines:   toSet(opts.FailingLines),
		failingBatches: toSet(opts.FailingBatches),
		emptyBatches:   toSet(opts.EmptyBatches),
		discoverCalls:  atomic.Int64{},
		detailCalls:    atomic.Int64{},
	}
}

// Name returns the adapter name.
func (a *Adapter) Name() string {
	return a.opts.Name
}

// DiscoverBatchLines returns the synthetic pools of batch.
func (a *Adapter) DiscoverBatchLines(ctx context.Context, partition resource.Partition, batch resource.BatchUnit) (resource.Lines, error) {
	a.discoverCalls.Add(1)
	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	id := batch.ID()
	if _, ok := a.failingBatches[id]; ok {
		return nil, errs.New("fake/discover", errs.CodeUnavailable,
			errs.WithMessage("batch discovery unavailable"),
			errs.WithField("partition", partition.String()),
			errs.WithField("batch", id))
	}
	if _, ok := a.emptyBatches[id]; ok {
		return resource.Lines{}, nil
	}
	lines := make(resource.Lines, 0, a.opts.LinesPerBatch)
	for i := 0; i < a.opts.LinesPerBatch; i++ {
		fee := feeTiers[i%len(feeTiers)]
		lines = append(lines, resource.LineUnit{
			ID:    LineID(partition, batch, i),
			Batch: id,
			Attributes: map[string]string{
				"fee":     fee,
				"members": strings.Join(batch.Members, ","),
			},
		})
	}
	return lines, nil
}

// FetchLineDetail returns synthetic reserves and yield figures for line.
func (a *Adapter) FetchLineDetail(ctx context.Context, partition resource.Partition, line resource.LineUnit) (resource.Detail, error) {
	a.detailCalls.Add(1)
	if err := a.wait(ctx); err != nil {
		return resource.Detail{}, err
	}
	if _, ok := a.failingLines[line.ID]; ok {
		return resource.Detail{}, errs.New("fake/detail", errs.CodeUnavailable,
			errs.WithMessage("line detail unavailable"),
			errs.WithField("partition", partition.String()),
			errs.WithField("line", line.ID))
	}
	seed := hash(partition.String(), line.ID)
	reserve0 := decimal.New(int64(seed%1_000_000)+1_000, 0)
	reserve1 := decimal.New(int64((seed>>20)%1_000_000)+1_000, 0)
	apy := decimal.New(int64((seed>>40)%2_500), -4)
	return resource.Detail{
		LineID: line.ID,
		Values: map[string]decimal.Decimal{
			"reserve0": reserve0,
			"reserve1": reserve1,
			"tvl":      reserve0.Add(reserve1),
			"apy":      apy,
		},
		Labels: map[string]string{
			"adapter": a.opts.Name,
			"batch":   line.Batch,
		},
		ObservedAt: a.opts.Clock().UTC(),
	}, nil
}

// DiscoverCalls reports how many discovery calls were made.
func (a *Adapter) DiscoverCalls() int64 {
	return a.discoverCalls.Load()
}

// DetailCalls reports how many detail calls were made.
func (a *Adapter) DetailCalls() int64 {
	return a.detailCalls.Load()
}

func (a *Adapter) wait(ctx context.Context) error {
	if a.opts.Latency <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.opts.Latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("fake adapter: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

// LineID returns the deterministic pool id of the i-th line of batch.
func LineID(partition resource.Partition, batch resource.BatchUnit, i int) string {
	return "0x" + strconv.FormatUint(hash(partition.String(), batch.ID(), strconv.Itoa(i)), 16)
}

func hash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if item = strings.TrimSpace(item); item != "" {
			set[item] = struct{}{}
		}
	}
	return set
}
