package fake

import (
	"context"

	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/infra/adapters/shared"
)

// RegisterFactory registers the fake adapter with reg.
func RegisterFactory(reg *provider.Registry) {
	reg.Register("fake", func(_ context.Context, cfg map[string]any) (provider.Adapter, error) {
		opts := Options{
			Name:           "",
			LinesPerBatch:  0,
			Latency:        0,
			FailingLines:   nil,
			FailingBatches: nil,
			EmptyBatches:   nil,
			Clock:          nil,
		}
		if name, ok := shared.String(cfg, "name"); ok {
			opts.Name = name
		}
		if n, ok := shared.Int(cfg, "lines_per_batch"); ok {
			opts.LinesPerBatch = n
		}
		if latency, ok := shared.Duration(cfg, "latency"); ok {
			opts.Latency = latency
		}
		if lines, ok := shared.Strings(cfg, "failing_lines"); ok {
			opts.FailingLines = lines
		}
		if batches, ok := shared.Strings(cfg, "failing_batches"); ok {
			opts.FailingBatches = batches
		}
		if batches, ok := shared.Strings(cfg, "empty_batches"); ok {
			opts.EmptyBatches = batches
		}
		return New(opts), nil
	})
}
