package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/coachpo/yieldcache/internal/app/orchestrator"
	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/domain/registry"
	"github.com/coachpo/yieldcache/internal/domain/resource"
)

// PipelineConfig declares one integration: its adapter, domain and cadence.
type PipelineConfig struct {
	Name      string          `yaml:"name"`
	Adapter   string          `yaml:"adapter"`
	Config    map[string]any  `yaml:"config"`
	BatchKind string          `yaml:"batchKind"`
	LineKind  string          `yaml:"lineKind"`
	Domain    registry.Domain `yaml:"domain"`
	// Partitions restricts the pipeline; empty means every partition.
	Partitions    []string      `yaml:"partitions"`
	DiscoverEvery time.Duration `yaml:"discoverEvery"`
	FillEvery     time.Duration `yaml:"fillEvery"`
	LinesTTL      time.Duration `yaml:"linesTTL"`
	DetailTTL     time.Duration `yaml:"detailTTL"`
	StaleTTL      time.Duration `yaml:"staleTTL"`
	Concurrency   int           `yaml:"concurrency"`
}

func (p *PipelineConfig) applyDefaults() {
	p.Name = strings.TrimSpace(p.Name)
	p.Adapter = normalizeIdentifier(p.Adapter)
	if p.Domain.Shape == "" {
		p.Domain.Shape = registry.ShapePairs
	}
	if p.DiscoverEvery <= 0 {
		p.DiscoverEvery = 10 * time.Minute
	}
	if p.FillEvery <= 0 {
		p.FillEvery = 2 * time.Second
	}
	if p.Concurrency <= 0 {
		p.Concurrency = 4
	}
}

func (p PipelineConfig) validate(partitions map[string]PartitionConfig) error {
	if p.Name == "" {
		return fmt.Errorf("name required")
	}
	if p.Adapter == "" {
		return fmt.Errorf("adapter required")
	}
	if err := p.Domain.Validate(); err != nil {
		return err
	}
	if err := p.Orchestrator().Validate(); err != nil {
		return err
	}
	for _, name := range p.Partitions {
		if _, ok := partitions[strings.TrimSpace(name)]; !ok {
			return fmt.Errorf("unknown partition %q", name)
		}
	}
	return nil
}

// Orchestrator converts the pipeline into the orchestrator's definition.
func (p PipelineConfig) Orchestrator() orchestrator.Pipeline {
	return orchestrator.Pipeline{
		Name:        p.Name,
		BatchKind:   strings.TrimSpace(p.BatchKind),
		LineKind:    strings.TrimSpace(p.LineKind),
		LinesTTL:    p.LinesTTL,
		DetailTTL:   p.DetailTTL,
		StaleTTL:    p.StaleTTL,
		Concurrency: p.Concurrency,
	}.Normalize()
}

// AdapterSpec builds the adapter specification. The pipeline name is passed
// as the adapter name unless the settings carry one.
func (p PipelineConfig) AdapterSpec() provider.Spec {
	cfg := make(map[string]any, len(p.Config)+1)
	for k, v := range p.Config {
		cfg[k] = v
	}
	if _, ok := cfg["name"]; !ok {
		cfg["name"] = p.Name
	}
	return provider.Spec{Name: p.Name, Adapter: p.Adapter, Config: cfg}
}

// PartitionsFor lists the partitions a pipeline runs in, sorted.
func (c AppConfig) PartitionsFor(p PipelineConfig) []resource.Partition {
	names := p.Partitions
	if len(names) == 0 {
		names = make([]string, 0, len(c.Partitions))
		for name := range c.Partitions {
			names = append(names, name)
		}
	}
	out := make([]resource.Partition, 0, len(names))
	for _, name := range names {
		out = append(out, resource.Partition(strings.TrimSpace(name)))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// PartitionNames lists every configured partition, sorted.
func (c AppConfig) PartitionNames() []resource.Partition {
	out := make([]resource.Partition, 0, len(c.Partitions))
	for name := range c.Partitions {
		out = append(out, resource.Partition(name))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Registry builds the static domain registry.
func (c AppConfig) Registry() *registry.Registry {
	entries := make(map[resource.Partition]registry.Entry, len(c.Partitions))
	for name, p := range c.Partitions {
		entries[resource.Partition(name)] = registry.Entry{Tokens: p.Tokens, Lists: p.Lists}
	}
	return registry.New(entries)
}
