package scheduler

import (
	"context"
	"io"
	"log"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/internal/app/orchestrator"
	"github.com/coachpo/yieldcache/internal/domain/registry"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/adapters/fake"
	"github.com/coachpo/yieldcache/internal/infra/durable"
	"github.com/coachpo/yieldcache/internal/infra/lock"
)

type recordingPipeline struct {
	*orchestrator.Orchestrator
	discovered atomic.Int32
	filled     atomic.Int32
}

func (p *recordingPipeline) Discover(ctx context.Context) (orchestrator.DiscoverReport, error) {
	report, err := p.Orchestrator.Discover(ctx)
	if !report.Skipped {
		p.discovered.Add(1)
	}
	return report, err
}

func (p *recordingPipeline) Fill(ctx context.Context) (orchestrator.FillReport, error) {
	report, err := p.Orchestrator.Fill(ctx)
	if report.LineID != "" {
		p.filled.Add(1)
	}
	return report, err
}

func TestDiscoveryNotStarvedByFrequentFills(t *testing.T) {
	const partition resource.Partition = "mainnet"
	const releaseDelay = 100 * time.Millisecond
	quiet := log.New(io.Discard, "", 0)

	backend, err := durable.OpenBadger(durable.BadgerConfig{InMemory: true, Logger: quiet})
	require.NoError(t, err)
	store, err := durable.New(partition, backend, durable.WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	reg := registry.New(map[resource.Partition]registry.Entry{
		partition: {Tokens: []string{"WETH", "USDC", "DAI"}},
	})
	o, err := orchestrator.New(orchestrator.Pipeline{Name: "pools", Concurrency: 2}, orchestrator.Deps{
		Partition:  partition,
		Adapter:    fake.New(fake.Options{LinesPerBatch: 2}),
		Enumerator: reg.Enumerator(registry.Domain{Shape: registry.ShapePairs}),
		Locks:      lock.NewTable(partition, lock.WithReleaseDelay(releaseDelay), lock.WithJitter(false)),
		Resolver:   orchestrator.NewResolver(orchestrator.Resolver{Durable: store, Logger: quiet}),
	}, orchestrator.WithLogger(quiet))
	require.NoError(t, err)
	p := &recordingPipeline{Orchestrator: o}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		New([]Job{{
			Name:          "mainnet/pools",
			Pipeline:      p,
			DiscoverEvery: 250 * time.Millisecond,
			FillEvery:     20 * time.Millisecond,
			RetryAfter:    releaseDelay,
		}}, WithLogger(quiet)).Run(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		return p.discovered.Load() >= 2 && p.filled.Load() > 0
	}, 3*time.Second, 5*time.Millisecond, "discovery must keep running while fills are due")
	require.Positive(t, o.Cursor().Stats().Materialized)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop")
	}
}
