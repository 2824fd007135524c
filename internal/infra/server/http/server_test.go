package httpserver

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/internal/app/orchestrator"
	"github.com/coachpo/yieldcache/internal/app/reader"
	"github.com/coachpo/yieldcache/internal/domain/cursor"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/config"
	"github.com/coachpo/yieldcache/internal/infra/durable"
)

type staticStatus orchestrator.Status

func (s staticStatus) Status() orchestrator.Status { return orchestrator.Status(s) }

var fixedNow = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newTestHandler(t *testing.T, checks map[string]func(context.Context) error) (http.Handler, *durable.Store) {
	t.Helper()
	quiet := log.New(io.Discard, "", 0)
	backend, err := durable.OpenBadger(durable.BadgerConfig{InMemory: true, Logger: quiet})
	require.NoError(t, err)
	store, err := durable.New("mainnet", backend, durable.WithLogger(quiet))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultAppConfig()
	cfg.Pipelines[0].Config["api_key"] = "secret"
	handler := NewHandler(Deps{
		Config: cfg,
		Sources: []StatusSource{
			staticStatus{Partition: "testnet", Pipeline: "pools", Adapter: "pools", Cursor: cursor.Stats{}, Locks: []string{}},
			staticStatus{Partition: "mainnet", Pipeline: "pools", Adapter: "pools",
				Cursor: cursor.Stats{BatchIndex: 2, Materialized: 2, Lines: 6, Filled: 3},
				Locks:  []string{"pools:fill"}},
		},
		Reader: reader.New(nil, store),
		Checks: checks,
		Now:    func() time.Time { return fixedNow },
	})
	return handler, store
}

func do(t *testing.T, h http.Handler, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestStatusListsEveryPipelineSorted(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Pipelines []orchestrator.Status `json:"pipelines"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pipelines, 2)
	require.Equal(t, "mainnet", body.Pipelines[0].Partition)
	require.Equal(t, 2, body.Pipelines[0].Cursor.BatchIndex)
	require.Equal(t, []string{"pools:fill"}, body.Pipelines[0].Locks)

	rec = do(t, h, http.MethodGet, "/status?partition=testnet")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Pipelines, 1)
	require.Equal(t, "testnet", body.Pipelines[0].Partition)
}

func TestHealthReportsFailingChecks(t *testing.T) {
	h, _ := newTestHandler(t, map[string]func(context.Context) error{
		"redis": func(context.Context) error { return errors.New("connection refused") },
	})
	rec := do(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Contains(t, rec.Body.String(), "connection refused")

	h, _ = newTestHandler(t, nil)
	rec = do(t, h, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestConfigExportRedactsSecrets(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodGet, "/config")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NotContains(t, rec.Body.String(), "secret")

	var export ConfigExport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &export))
	require.True(t, fixedNow.Equal(export.GeneratedAt))
	require.Len(t, export.Pipelines, 1)
	require.Equal(t, "pool-batch", export.Pipelines[0].BatchKind)
	require.Equal(t, []string{"mainnet", "testnet"}, export.Pipelines[0].Partitions)
}

func TestLookupLinesAndDetails(t *testing.T) {
	ctx := context.Background()
	h, store := newTestHandler(t, nil)
	pair := resource.NewPair("WETH", "USDC")
	lines := resource.Lines{{ID: "0xa", Batch: pair.ID()}}
	require.NoError(t, durable.Set(ctx, store, resource.NewKey("pool-batch", "mainnet", pair.Members...), lines, time.Minute))

	rec := do(t, h, http.MethodGet, "/pipelines/pools/mainnet/lines?batch="+pair.ID())
	require.Equal(t, http.StatusOK, rec.Code)
	var got resource.Lines
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Equal(t, lines, got)

	rec = do(t, h, http.MethodGet, "/pipelines/pools/mainnet/details/0xa")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/pipelines/pools/sepolia/details/0xa")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/pipelines/pools/mainnet/lines")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodGet, "/pipelines/vaults/mainnet/lines?batch=a")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	h, _ := newTestHandler(t, nil)
	rec := do(t, h, http.MethodPost, "/status")
	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	require.Equal(t, http.MethodGet, rec.Header().Get("Allow"))

	rec = do(t, h, http.MethodOptions, "/status")
	require.Equal(t, http.StatusNoContent, rec.Code)
}
