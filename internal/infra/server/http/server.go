// Package httpserver exposes the operator surface: health, per-pipeline
// status, the effective configuration and read-only record lookups.
package httpserver

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/app/orchestrator"
	"github.com/coachpo/yieldcache/internal/app/reader"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/config"
)

const (
	healthPath         = "/healthz"
	statusPath         = "/status"
	configPath         = "/config"
	pipelinesPath      = "/pipelines"
	pipelineDetailPath = pipelinesPath + "/"

	healthCheckTimeout = 2 * time.Second
)

type handlerFunc func(http.ResponseWriter, *http.Request)

// StatusSource reports the state of one pipeline in one partition.
type StatusSource interface {
	Status() orchestrator.Status
}

// Deps wires the handler to the running indexer.
type Deps struct {
	Config  config.AppConfig
	Sources []StatusSource
	Reader  *reader.Reader
	// Checks are probed by /healthz, e.g. the redis tier.
	Checks map[string]func(context.Context) error
	Now    func() time.Time
}

type httpServer struct {
	cfg       config.AppConfig
	sources   []StatusSource
	reader    *reader.Reader
	checks    map[string]func(context.Context) error
	pipelines map[string]orchestrator.Pipeline
	now       func() time.Time
}

// NewHandler creates the operator HTTP handler.
func NewHandler(deps Deps) http.Handler {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	pipelines := make(map[string]orchestrator.Pipeline, len(deps.Config.Pipelines))
	for _, p := range deps.Config.Pipelines {
		pipelines[p.Name] = p.Orchestrator()
	}
	server := &httpServer{
		cfg:       deps.Config,
		sources:   deps.Sources,
		reader:    deps.Reader,
		checks:    deps.Checks,
		pipelines: pipelines,
		now:       now,
	}
	mux := http.NewServeMux()

	mux.Handle(healthPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.health,
	}))
	mux.Handle(statusPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.status,
	}))
	mux.Handle(configPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.exportConfig,
	}))
	mux.Handle(pipelinesPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.listPipelines,
	}))
	mux.Handle(pipelineDetailPath, server.methodHandlers(map[string]handlerFunc{
		http.MethodGet: server.handlePipeline,
	}))

	return withCORS(mux)
}

func (s *httpServer) methodHandlers(handlers map[string]handlerFunc) http.Handler {
	allowed := allowedMethods(handlers)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if handler, ok := handlers[r.Method]; ok {
			handler(w, r)
			return
		}
		methodNotAllowed(w, allowed...)
	})
}

func allowedMethods(handlers map[string]handlerFunc) []string {
	if len(handlers) == 0 {
		return nil
	}
	allowed := make([]string, 0, len(handlers))
	for method := range handlers {
		allowed = append(allowed, method)
	}
	sort.Strings(allowed)
	return allowed
}

func (s *httpServer) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	results := make(map[string]string, len(s.checks))
	healthy := true
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			results[name] = err.Error()
			healthy = false
			continue
		}
		results[name] = "ok"
	}
	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}

func (s *httpServer) status(w http.ResponseWriter, r *http.Request) {
	partition := strings.TrimSpace(r.URL.Query().Get("partition"))
	pipeline := strings.TrimSpace(r.URL.Query().Get("pipeline"))

	out := make([]orchestrator.Status, 0, len(s.sources))
	for _, src := range s.sources {
		st := src.Status()
		if partition != "" && st.Partition != partition {
			continue
		}
		if pipeline != "" && st.Pipeline != pipeline {
			continue
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Pipeline != out[j].Pipeline {
			return out[i].Pipeline < out[j].Pipeline
		}
		return out[i].Partition < out[j].Partition
	})
	writeJSON(w, http.StatusOK, map[string]any{
		"environment": s.cfg.Environment,
		"generatedAt": s.now().UTC(),
		"pipelines":   out,
	})
}

func (s *httpServer) listPipelines(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"pipelines": buildPipelineExport(s.cfg)})
}

// handlePipeline serves
//
//	GET /pipelines/{pipeline}/{partition}/lines?batch=A::B
//	GET /pipelines/{pipeline}/{partition}/details/{lineID}
func (s *httpServer) handlePipeline(w http.ResponseWriter, r *http.Request) {
	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, pipelineDetailPath), "/")
	parts := strings.SplitN(rest, "/", 4)
	if len(parts) < 3 {
		writeError(w, http.StatusNotFound, "expected /pipelines/{pipeline}/{partition}/lines|details")
		return
	}
	def, ok := s.pipelines[parts[0]]
	if !ok {
		writeError(w, http.StatusNotFound, "pipeline not found")
		return
	}
	if s.reader == nil {
		writeError(w, http.StatusServiceUnavailable, "reader unavailable")
		return
	}
	partition := resource.Partition(parts[1])

	switch parts[2] {
	case "lines":
		batchID := strings.TrimSpace(r.URL.Query().Get("batch"))
		if batchID == "" {
			writeError(w, http.StatusBadRequest, "batch query parameter required")
			return
		}
		batch := resource.NewBatch(strings.Split(batchID, resource.Separator)...)
		lines, found, err := s.reader.Lines(r.Context(), def.BatchKind, partition, batch)
		s.writeLookup(w, lines, found, err)
	case "details":
		if len(parts) < 4 || strings.TrimSpace(parts[3]) == "" {
			writeError(w, http.StatusBadRequest, "line id required")
			return
		}
		detail, found, err := s.reader.Detail(r.Context(), def.LineKind, partition, parts[3])
		s.writeLookup(w, detail, found, err)
	default:
		writeError(w, http.StatusNotFound, "unsupported resource")
	}
}

func (s *httpServer) writeLookup(w http.ResponseWriter, value any, found bool, err error) {
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, value)
}

func statusFor(err error) int {
	code, _ := errs.CodeOf(err)
	switch code {
	case errs.CodeInvalid:
		return http.StatusBadRequest
	case errs.CodeConfigMissing, errs.CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	if len(allowed) > 0 {
		w.Header().Set("Allow", strings.Join(allowed, ", "))
	}
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "error": message})
}

func withCORS(handler http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		handler.ServeHTTP(w, r)
	})
}
