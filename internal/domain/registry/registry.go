// Package registry derives the ordered batch domain of a pipeline from the
// static token and market lists configured per partition.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
)

// ErrNoRegistry is returned when a partition has no registry entry.
var ErrNoRegistry = errors.New("no registry for partition")

// GlobalBatch is the single batch id of a global domain.
const GlobalBatch = "all"

// Shape selects how a domain is derived from a registry entry.
type Shape string

const (
	// ShapePairs yields every unordered pair of the partition's tokens.
	ShapePairs Shape = "pairs"
	// ShapeList yields one batch per entry of a named list.
	ShapeList Shape = "list"
	// ShapeGlobal yields the single batch "all".
	ShapeGlobal Shape = "global"
)

// Domain describes one pipeline's outer domain.
type Domain struct {
	Shape Shape  `yaml:"shape" json:"shape"`
	List  string `yaml:"list,omitempty" json:"list,omitempty"`
}

// Validate checks the domain definition.
func (d Domain) Validate() error {
	switch d.Shape {
	case ShapePairs, ShapeGlobal:
		return nil
	case ShapeList:
		if strings.TrimSpace(d.List) == "" {
			return errs.New("registry/domain", errs.CodeInvalid, errs.WithMessage("list domain requires a list name"))
		}
		return nil
	default:
		return errs.New("registry/domain", errs.CodeInvalid,
			errs.WithMessage("unknown domain shape"),
			errs.WithField("shape", string(d.Shape)))
	}
}

// Entry is the static registry of one partition.
type Entry struct {
	Tokens []string            `yaml:"tokens" json:"tokens"`
	Lists  map[string][]string `yaml:"lists" json:"lists"`
}

// Enumerator yields a partition's batches in a deterministic order.
type Enumerator interface {
	OrderedBatches(ctx context.Context, partition resource.Partition) ([]resource.BatchUnit, error)
}

// EnumeratorFunc adapts a function to Enumerator.
type EnumeratorFunc func(ctx context.Context, partition resource.Partition) ([]resource.BatchUnit, error)

// OrderedBatches implements Enumerator.
func (f EnumeratorFunc) OrderedBatches(ctx context.Context, partition resource.Partition) ([]resource.BatchUnit, error) {
	return f(ctx, partition)
}

// Registry holds the entries of every configured partition. It is immutable
// after construction.
type Registry struct {
	entries map[resource.Partition]Entry
}

// New copies entries into a registry.
func New(entries map[resource.Partition]Entry) *Registry {
	cp := make(map[resource.Partition]Entry, len(entries))
	for p, e := range entries {
		cp[p] = e
	}
	return &Registry{entries: cp}
}

// Partitions returns the configured partitions in name order.
func (r *Registry) Partitions() []resource.Partition {
	out := make([]resource.Partition, 0, len(r.entries))
	for p := range r.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Enumerator binds the registry to one domain.
func (r *Registry) Enumerator(domain Domain) Enumerator {
	return EnumeratorFunc(func(_ context.Context, partition resource.Partition) ([]resource.BatchUnit, error) {
		return r.Batches(partition, domain)
	})
}

// Batches derives the ordered batches of domain for partition.
func (r *Registry) Batches(partition resource.Partition, domain Domain) ([]resource.BatchUnit, error) {
	entry, ok := r.entries[partition]
	if !ok {
		return nil, errs.New("registry", errs.CodeConfigMissing,
			errs.WithMessage("partition not registered"),
			errs.WithField("partition", partition.String()),
			errs.WithCause(ErrNoRegistry))
	}
	switch domain.Shape {
	case ShapePairs:
		return Pairs(entry.Tokens), nil
	case ShapeList:
		list, ok := entry.Lists[domain.List]
		if !ok {
			return nil, errs.New("registry", errs.CodeConfigMissing,
				errs.WithMessage("list not registered"),
				errs.WithField("partition", partition.String()),
				errs.WithField("list", domain.List),
				errs.WithCause(ErrNoRegistry))
		}
		return List(list), nil
	case ShapeGlobal:
		return []resource.BatchUnit{resource.NewBatch(GlobalBatch)}, nil
	default:
		return nil, fmt.Errorf("batches partition=%s: %w", partition, domain.Validate())
	}
}

// Pairs returns every unordered pair of distinct tokens, each in canonical
// order, sorted by batch id.
func Pairs(tokens []string) []resource.BatchUnit {
	unique := normalize(tokens)
	out := make([]resource.BatchUnit, 0, len(unique)*(len(unique)-1)/2)
	for i := 0; i < len(unique); i++ {
		for j := i + 1; j < len(unique); j++ {
			out = append(out, resource.NewPair(unique[i], unique[j]))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// List returns one single-member batch per distinct entry, in input order.
func List(ids []string) []resource.BatchUnit {
	seen := make(map[string]struct{}, len(ids))
	out := make([]resource.BatchUnit, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, resource.NewBatch(id))
	}
	return out
}

func normalize(tokens []string) []string {
	seen := make(map[string]struct{}, len(tokens))
	out := make([]string, 0, len(tokens))
	for _, t := range tokens {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
