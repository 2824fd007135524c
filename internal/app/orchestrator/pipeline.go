package orchestrator

import (
	"strings"
	"time"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/lock"
)

const (
	checkpointKind     = "cursor"
	defaultLinesTTL    = time.Hour
	defaultDetailTTL   = 5 * time.Minute
	defaultStaleTTL    = 30 * time.Second
	defaultConcurrency = 4
)

// Pipeline describes one integration: which resource kinds it writes and how
// long they stay fresh.
type Pipeline struct {
	Name string
	// BatchKind prefixes the keys of materialized line sets, e.g. "pool-batch".
	BatchKind string
	// LineKind prefixes the keys of line details, e.g. "pool-detail".
	LineKind    string
	LinesTTL    time.Duration
	DetailTTL   time.Duration
	StaleTTL    time.Duration
	Concurrency int
}

// Normalize fills zero fields with defaults.
func (p Pipeline) Normalize() Pipeline {
	p.Name = strings.TrimSpace(p.Name)
	if p.BatchKind == "" {
		p.BatchKind = p.Name + "-batch"
	}
	if p.LineKind == "" {
		p.LineKind = p.Name + "-detail"
	}
	if p.LinesTTL <= 0 {
		p.LinesTTL = defaultLinesTTL
	}
	if p.DetailTTL <= 0 {
		p.DetailTTL = defaultDetailTTL
	}
	if p.StaleTTL <= 0 {
		p.StaleTTL = defaultStaleTTL
	}
	if p.Concurrency <= 0 {
		p.Concurrency = defaultConcurrency
	}
	return p
}

// Validate checks that the pipeline can be used in keys and lock names.
func (p Pipeline) Validate() error {
	if p.Name == "" {
		return errs.New("orchestrator/pipeline", errs.CodeInvalid, errs.WithMessage("pipeline name required"))
	}
	for _, part := range []string{p.Name, p.BatchKind, p.LineKind} {
		if strings.Contains(part, resource.Separator) {
			return errs.New("orchestrator/pipeline", errs.CodeInvalid,
				errs.WithMessage("pipeline names must not contain separator"),
				errs.WithField("value", part))
		}
	}
	if p.BatchKind == p.LineKind {
		return errs.New("orchestrator/pipeline", errs.CodeInvalid,
			errs.WithMessage("batch and line kinds must differ"),
			errs.WithField("pipeline", p.Name))
	}
	return nil
}

// DiscoverLock is held while a discovery pass mutates the cursor.
func (p Pipeline) DiscoverLock() lock.Key {
	return lock.Key(p.Name + ":discover")
}

// FillLock is held while a fill pass mutates the cursor.
func (p Pipeline) FillLock() lock.Key {
	return lock.Key(p.Name + ":fill")
}

// BatchKey is the storage key of batch's materialized lines.
func (p Pipeline) BatchKey(partition resource.Partition, batch resource.BatchUnit) resource.Key {
	return resource.NewKey(p.BatchKind, partition, batch.Members...)
}

// DetailKey is the storage key of line's detail.
func (p Pipeline) DetailKey(partition resource.Partition, lineID string) resource.Key {
	return resource.NewKey(p.LineKind, partition, lineID)
}

// CheckpointKey is the storage key of the pipeline's cursor checkpoint.
func (p Pipeline) CheckpointKey(partition resource.Partition) resource.Key {
	return resource.NewKey(checkpointKind, partition, p.Name)
}
