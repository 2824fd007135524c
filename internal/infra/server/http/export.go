package httpserver

import (
	"net/http"
	"sort"
	"time"

	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/domain/registry"
	"github.com/coachpo/yieldcache/internal/infra/config"
)

const exportVersion = "1"

// ConfigExport is the effective configuration with adapter secrets redacted.
type ConfigExport struct {
	Version     string                            `json:"version"`
	GeneratedAt time.Time                         `json:"generatedAt"`
	Environment string                            `json:"environment"`
	Storage     string                            `json:"storage"`
	RemoteCache bool                              `json:"remoteCache"`
	ColdDir     string                            `json:"coldDir"`
	ColdTTL     string                            `json:"coldTTL"`
	Pipelines   []PipelineExport                  `json:"pipelines"`
	Partitions  map[string]config.PartitionConfig `json:"partitions"`
}

// PipelineExport describes one configured pipeline.
type PipelineExport struct {
	Name          string          `json:"name"`
	Adapter       provider.Spec   `json:"adapter"`
	BatchKind     string          `json:"batchKind"`
	LineKind      string          `json:"lineKind"`
	Domain        registry.Domain `json:"domain"`
	Partitions    []string        `json:"partitions"`
	DiscoverEvery string          `json:"discoverEvery"`
	FillEvery     string          `json:"fillEvery"`
	LinesTTL      string          `json:"linesTTL"`
	DetailTTL     string          `json:"detailTTL"`
	StaleTTL      string          `json:"staleTTL"`
	Concurrency   int             `json:"concurrency"`
}

func buildPipelineExport(cfg config.AppConfig) []PipelineExport {
	out := make([]PipelineExport, 0, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		def := p.Orchestrator()
		parts := cfg.PartitionsFor(p)
		names := make([]string, 0, len(parts))
		for _, part := range parts {
			names = append(names, part.String())
		}
		out = append(out, PipelineExport{
			Name:          def.Name,
			Adapter:       provider.SanitizeSpec(p.AdapterSpec()),
			BatchKind:     def.BatchKind,
			LineKind:      def.LineKind,
			Domain:        p.Domain,
			Partitions:    names,
			DiscoverEvery: p.DiscoverEvery.String(),
			FillEvery:     p.FillEvery.String(),
			LinesTTL:      def.LinesTTL.String(),
			DetailTTL:     def.DetailTTL.String(),
			StaleTTL:      def.StaleTTL.String(),
			Concurrency:   def.Concurrency,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func buildConfigExport(cfg config.AppConfig, now time.Time) ConfigExport {
	return ConfigExport{
		Version:     exportVersion,
		GeneratedAt: now.UTC(),
		Environment: string(cfg.Environment),
		Storage:     string(cfg.Storage.Backend),
		RemoteCache: cfg.Cache.Redis.Addr != "",
		ColdDir:     cfg.Cold.Dir,
		ColdTTL:     cfg.Cold.TTL.String(),
		Pipelines:   buildPipelineExport(cfg),
		Partitions:  cfg.Partitions,
	}
}

func (s *httpServer) exportConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, buildConfigExport(s.cfg, s.now()))
}
