// Package provider defines the remote adapter contract the indexing engine
// calls through, and the registry that builds adapters from configuration.
package provider

import (
	"context"

	"github.com/coachpo/yieldcache/internal/domain/resource"
)

// Adapter fetches protocol data for one pipeline. Both calls are arbitrary
// fallible remote operations; the engine retries and falls back around them.
type Adapter interface {
	Name() string
	// DiscoverBatchLines lists the lines of batch, e.g. the pools of a pair.
	DiscoverBatchLines(ctx context.Context, partition resource.Partition, batch resource.BatchUnit) (resource.Lines, error)
	// FetchLineDetail fetches the detail payload of one line.
	FetchLineDetail(ctx context.Context, partition resource.Partition, line resource.LineUnit) (resource.Detail, error)
}
