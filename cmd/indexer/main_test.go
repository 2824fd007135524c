package main

import (
	"bytes"
	"context"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/coachpo/yieldcache/internal/app/orchestrator"
	"github.com/coachpo/yieldcache/internal/infra/coldstore"
	"github.com/coachpo/yieldcache/internal/infra/config"
	"github.com/coachpo/yieldcache/internal/infra/durable"
	"github.com/coachpo/yieldcache/internal/infra/telemetry"
)

func testConfig(t *testing.T) config.AppConfig {
	t.Helper()
	cfg := config.DefaultAppConfig()
	cfg.Storage.Badger.InMemory = true
	cfg.Cold.Dir = t.TempDir()
	cfg.StatusServer.Addr = "127.0.0.1:0"
	cfg.Locks.ReleaseDelay = time.Millisecond
	return cfg
}

func TestResolveConfigPath(t *testing.T) {
	require.Equal(t, "custom.yaml", resolveConfigPath("custom.yaml"))
	require.Equal(t, "config/app.yaml", resolveConfigPath(""))
}

func TestRetryPolicyFromConfig(t *testing.T) {
	jitter := false
	policy := retryPolicy(config.RetryConfig{
		MaxRetries:   2,
		InitialDelay: time.Millisecond,
		Factor:       3,
		Jitter:       &jitter,
		MaxDelay:     time.Second,
	}, nil)
	require.Equal(t, 2, policy.MaxRetries)
	require.Equal(t, 3.0, policy.Factor)
	require.False(t, policy.Jitter)
}

func TestBootstrapWiresEveryPartition(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	var buf bytes.Buffer
	logger := log.New(&buf, "", 0)

	stores, err := openStores(ctx, logger, cfg)
	require.NoError(t, err)
	defer func() { require.NoError(t, stores.Close()) }()
	require.Len(t, stores.byPartition, 2)

	facade, redisPool := buildCache(cfg.Cache, nil)
	require.Nil(t, redisPool)
	cold, err := coldstore.New(cfg.Cold.Dir)
	require.NoError(t, err)

	orchestrators, err := buildOrchestrators(ctx, cfg, stores.byPartition, facade, cold, telemetry.Default())
	require.NoError(t, err)
	require.Len(t, orchestrators, 2)

	for _, o := range orchestrators {
		report, err := o.Discover(ctx)
		require.NoError(t, err)
		require.NoError(t, report.Err)
		require.Positive(t, report.Materialized)

		var fill orchestrator.FillReport
		require.Eventually(t, func() bool {
			fill, err = o.Fill(ctx)
			return err != nil || !fill.Skipped
		}, time.Second, time.Millisecond, "fill runs once the discovery lock is released")
		require.NoError(t, err)
		require.False(t, fill.Idle)
		require.NotEmpty(t, fill.LineID)

		key := o.Pipeline().DetailKey(o.Partition(), fill.LineID)
		_, ok, err := durable.Fetch[any](ctx, stores.byPartition[o.Partition()], key)
		require.NoError(t, err)
		require.True(t, ok)
	}

	sched := buildScheduler(cfg, orchestrators, stores.byPartition)
	require.NotNil(t, sched)

	server := buildStatusServer(cfg, orchestrators, stores.list(), facade, redisPool)
	require.NotNil(t, server)
	require.Equal(t, cfg.StatusServer.Addr, server.Addr)
}

func TestStatusServerDisabledWithoutAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.StatusServer.Addr = ""
	require.Nil(t, buildStatusServer(cfg, nil, nil, nil, nil))
}
