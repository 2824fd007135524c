// Command indexer runs the discovery and fill pipelines for every configured
// partition and serves the operator status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sourcegraph/conc"

	dbmigrations "github.com/coachpo/yieldcache/db/migrations"
	"github.com/coachpo/yieldcache/internal/app/orchestrator"
	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/app/reader"
	"github.com/coachpo/yieldcache/internal/app/scheduler"
	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/adapters"
	"github.com/coachpo/yieldcache/internal/infra/cache"
	"github.com/coachpo/yieldcache/internal/infra/coldstore"
	"github.com/coachpo/yieldcache/internal/infra/config"
	"github.com/coachpo/yieldcache/internal/infra/durable"
	"github.com/coachpo/yieldcache/internal/infra/lock"
	"github.com/coachpo/yieldcache/internal/infra/persistence/migrations"
	"github.com/coachpo/yieldcache/internal/infra/persistence/postgres"
	"github.com/coachpo/yieldcache/internal/infra/retry"
	httpserver "github.com/coachpo/yieldcache/internal/infra/server/http"
	"github.com/coachpo/yieldcache/internal/infra/telemetry"
)

const (
	defaultConfigPath           = "config/app.yaml"
	indexerLoggerPrefix         = "indexer "
	shutdownTimeout             = 30 * time.Second
	statusServerShutdownTimeout = 5 * time.Second
	lifecycleShutdownTimeout    = 10 * time.Second
	storesShutdownTimeout       = 5 * time.Second
	telemetryShutdownTimeout    = 5 * time.Second
	statusReadHeaderTimeout     = 5 * time.Second
)

func main() {
	cfgPathFlag, debug := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	logger := newIndexerLogger()
	if debug {
		logger.SetFlags(logger.Flags() | log.Lshortfile)
	}

	appCfg, loadedFromFile, err := config.LoadOrDefault(ctx, resolveConfigPath(cfgPathFlag))
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if !loadedFromFile {
		logger.Printf("configuration file not found, using defaults")
	}
	logger.Printf("configuration initialised: env=%s, storage=%s, pipelines=%d, partitions=%d",
		appCfg.Environment, appCfg.Storage.Backend, len(appCfg.Pipelines), len(appCfg.Partitions))

	telemetryProvider, err := initTelemetry(ctx, logger, appCfg.Environment, appCfg.Telemetry)
	if err != nil {
		logger.Fatalf("initialize telemetry: %v", err)
	}
	instruments := telemetry.NewInstruments(telemetryProvider.Meter("yieldcache"))

	stores, err := openStores(ctx, logger, appCfg)
	if err != nil {
		logger.Fatalf("open durable stores: %v", err)
	}

	facade, redisPool := buildCache(appCfg.Cache, instruments)
	cold, err := coldstore.New(appCfg.Cold.Dir,
		coldstore.WithTTL(appCfg.Cold.TTL),
		coldstore.WithInstruments(instruments))
	if err != nil {
		logger.Fatalf("open cold store: %v", err)
	}

	orchestrators, err := buildOrchestrators(ctx, appCfg, stores.byPartition, facade, cold, instruments)
	if err != nil {
		logger.Fatalf("initialise pipelines: %v", err)
	}
	logger.Printf("pipelines initialised: %d", len(orchestrators))

	var lifecycle conc.WaitGroup
	sched := buildScheduler(appCfg, orchestrators, stores.byPartition)
	lifecycle.Go(func() { sched.Run(ctx) })

	statusServer := buildStatusServer(appCfg, orchestrators, stores.list(), facade, redisPool)
	if statusServer != nil {
		startStatusServer(&lifecycle, logger, statusServer)
		logger.Printf("status API listening on %s", statusServer.Addr)
	}

	logger.Print("indexer started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Print("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     statusServer,
		mainCancel: cancel,
		lifecycle:  &lifecycle,
		stores:     stores,
		redis:      redisPool,
		telemetry:  telemetryProvider,
	})

	logger.Printf("shutdown completed in %v", time.Since(shutdownStart))
}

func parseFlags() (string, bool) {
	cfgPath := flag.String("config", "", fmt.Sprintf("Path to application configuration file (default: %s)", defaultConfigPath))
	debug := flag.Bool("debug", false, "Include source locations in log lines")
	flag.Parse()
	return *cfgPath, *debug
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newIndexerLogger() *log.Logger {
	return log.New(os.Stdout, indexerLoggerPrefix, log.LstdFlags|log.Lmicroseconds)
}

func initTelemetry(ctx context.Context, logger *log.Logger, env config.Environment, cfg config.TelemetryConfig) (*telemetry.Provider, error) {
	telemetryCfg := telemetry.DefaultConfig()
	if cfg.OTLPEndpoint != "" {
		telemetryCfg.OTLPEndpoint = cfg.OTLPEndpoint
	}
	if cfg.ServiceName != "" {
		telemetryCfg.ServiceName = cfg.ServiceName
	}
	telemetryCfg.Environment = string(env)
	telemetryCfg.OTLPInsecure = cfg.OTLPInsecure
	telemetryCfg.EnableMetrics = cfg.EnableMetrics
	telemetryCfg.Enabled = telemetryCfg.Enabled || cfg.EnableMetrics

	provider, err := telemetry.NewProvider(ctx, telemetryCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize telemetry provider: %w", err)
	}

	if telemetryCfg.Enabled {
		logger.Printf("telemetry initialized: endpoint=%s, service=%s", telemetryCfg.OTLPEndpoint, telemetryCfg.ServiceName)
	} else {
		logger.Printf("telemetry disabled")
	}
	return provider, nil
}

type durableStores struct {
	byPartition map[resource.Partition]*durable.Store
	pool        *pgxpool.Pool
}

func (s durableStores) list() []*durable.Store {
	out := make([]*durable.Store, 0, len(s.byPartition))
	for _, store := range s.byPartition {
		out = append(out, store)
	}
	return out
}

func (s durableStores) Close() error {
	var firstErr error
	for partition, store := range s.byPartition {
		if err := store.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close store %s: %w", partition, err)
		}
	}
	if s.pool != nil {
		s.pool.Close()
	}
	return firstErr
}

// openStores opens one durable store per partition. Badger partitions live in
// sibling directories; PostgreSQL partitions share one pool and table.
func openStores(ctx context.Context, logger *log.Logger, cfg config.AppConfig) (durableStores, error) {
	stores := durableStores{byPartition: make(map[resource.Partition]*durable.Store, len(cfg.Partitions)), pool: nil}

	if cfg.Storage.Backend == config.BackendPostgres {
		dbCfg := cfg.Storage.Database
		if dbCfg.RunMigrations {
			var err error
			if dbCfg.MigrationsDir == "" {
				err = migrations.ApplyFS(ctx, dbCfg.DSN, dbmigrations.Files, logger)
			} else {
				err = migrations.Apply(ctx, dbCfg.DSN, dbCfg.MigrationsDir, logger)
			}
			if err != nil {
				return stores, err
			}
		}
		pool, err := postgres.OpenPool(ctx, dbCfg, "durable")
		if err != nil {
			return stores, err
		}
		stores.pool = pool
	}

	for _, partition := range cfg.PartitionNames() {
		var backend durable.Backend
		switch cfg.Storage.Backend {
		case config.BackendPostgres:
			backend = durable.NewPostgres(stores.pool, partition)
		case config.BackendMemory:
			backend = durable.NewMemory(cfg.Storage.MaintainEvery)
		default:
			b, err := durable.OpenBadger(durable.BadgerConfig{
				Dir:      filepath.Join(cfg.Storage.Badger.Dir, partition.String()),
				InMemory: cfg.Storage.Badger.InMemory,
				Logger:   nil,
			})
			if err != nil {
				_ = stores.Close()
				return durableStores{}, fmt.Errorf("partition %s: %w", partition, err)
			}
			backend = b
		}
		store, err := durable.New(partition, backend)
		if err != nil {
			_ = stores.Close()
			return durableStores{}, fmt.Errorf("partition %s: %w", partition, err)
		}
		stores.byPartition[partition] = store
	}
	return stores, nil
}

func buildCache(cfg config.CacheConfig, instruments *telemetry.Instruments) (*cache.Facade, *redis.Pool) {
	opts := []cache.Option{
		cache.WithNear(cfg.NearCapacity, cfg.NearTTL),
		cache.WithInstruments(instruments),
	}
	if cfg.Redis.Addr == "" {
		return cache.New(opts...), nil
	}
	pool := cache.NewRedisPool(cache.RedisConfig{
		Addr:        cfg.Redis.Addr,
		Password:    cfg.Redis.Password,
		DB:          cfg.Redis.DB,
		MaxIdle:     cfg.Redis.MaxIdle,
		IdleTimeout: cfg.Redis.IdleTimeout,
		Prefix:      cfg.Redis.Prefix,
	})
	opts = append(opts, cache.WithRemote(cache.NewRedis(pool, cfg.Redis.Prefix), cfg.Redis.TTL))
	return cache.New(opts...), pool
}

func retryPolicy(cfg config.RetryConfig, instruments *telemetry.Instruments) retry.Policy {
	return retry.Policy{
		MaxRetries:   cfg.MaxRetries,
		InitialDelay: cfg.InitialDelay,
		Factor:       cfg.Factor,
		Jitter:       cfg.Jitter != nil && *cfg.Jitter,
		MaxDelay:     cfg.MaxDelay,
		Logger:       nil,
		Instruments:  instruments,
	}
}

func buildOrchestrators(ctx context.Context, cfg config.AppConfig, stores map[resource.Partition]*durable.Store, facade *cache.Facade, cold *coldstore.Store, instruments *telemetry.Instruments) ([]*orchestrator.Orchestrator, error) {
	adapterRegistry := provider.NewRegistry()
	adapters.RegisterAll(adapterRegistry)
	domainRegistry := cfg.Registry()
	policy := retryPolicy(cfg.Retry, instruments)

	locks := make(map[resource.Partition]*lock.Table, len(stores))
	for partition := range stores {
		locks[partition] = lock.NewTable(partition,
			lock.WithReleaseDelay(cfg.Locks.ReleaseDelay),
			lock.WithJitter(cfg.Locks.Jitter != nil && *cfg.Locks.Jitter))
	}

	var out []*orchestrator.Orchestrator
	for _, p := range cfg.Pipelines {
		adapter, err := adapterRegistry.Create(ctx, p.AdapterSpec())
		if err != nil {
			return nil, err
		}
		def := p.Orchestrator()
		enumerator := domainRegistry.Enumerator(p.Domain)
		for _, partition := range cfg.PartitionsFor(p) {
			resolver := orchestrator.NewResolver(orchestrator.Resolver{
				Durable:  stores[partition],
				Cache:    facade,
				Cold:     cold,
				Retry:    policy,
				StaleTTL: def.StaleTTL,
				Logger:   nil,
			})
			o, err := orchestrator.New(def, orchestrator.Deps{
				Partition:  partition,
				Adapter:    adapter,
				Enumerator: enumerator,
				Locks:      locks[partition],
				Resolver:   resolver,
				Cursor:     nil,
				Checkpoint: policy,
			}, orchestrator.WithInstruments(instruments))
			if err != nil {
				return nil, fmt.Errorf("pipeline %s partition %s: %w", p.Name, partition, err)
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func buildScheduler(cfg config.AppConfig, orchestrators []*orchestrator.Orchestrator, stores map[resource.Partition]*durable.Store) *scheduler.Scheduler {
	intervals := make(map[string]config.PipelineConfig, len(cfg.Pipelines))
	for _, p := range cfg.Pipelines {
		intervals[p.Name] = p
	}
	jobs := make([]scheduler.Job, 0, len(orchestrators))
	for _, o := range orchestrators {
		p := intervals[o.Pipeline().Name]
		jobs = append(jobs, scheduler.Job{
			Name:          o.Pipeline().Name + "/" + o.Partition().String(),
			Pipeline:      o,
			DiscoverEvery: p.DiscoverEvery,
			FillEvery:     p.FillEvery,
			RetryAfter:    cfg.Locks.ReleaseDelay,
		})
	}
	housekeeping := make([]scheduler.Housekeeping, 0, len(stores))
	for partition, store := range stores {
		housekeeping = append(housekeeping, scheduler.Housekeeping{
			Name:  partition.String(),
			Store: store,
			Every: cfg.Storage.MaintainEvery,
		})
	}
	return scheduler.New(jobs, scheduler.WithHousekeeping(housekeeping...))
}

func buildStatusServer(cfg config.AppConfig, orchestrators []*orchestrator.Orchestrator, stores []*durable.Store, facade *cache.Facade, redisPool *redis.Pool) *http.Server {
	if cfg.StatusServer.Addr == "" {
		return nil
	}
	sources := make([]httpserver.StatusSource, 0, len(orchestrators))
	for _, o := range orchestrators {
		sources = append(sources, o)
	}
	checks := map[string]func(context.Context) error{}
	if redisPool != nil {
		remote := cache.NewRedis(redisPool, cfg.Cache.Redis.Prefix)
		checks["redis"] = remote.Ping
	}
	handler := httpserver.NewHandler(httpserver.Deps{
		Config:  cfg,
		Sources: sources,
		Reader:  reader.New(facade, stores...),
		Checks:  checks,
		Now:     time.Now,
	})

	return &http.Server{
		Addr:                         cfg.StatusServer.Addr,
		Handler:                      handler,
		DisableGeneralOptionsHandler: false,
		TLSConfig:                    nil,
		ReadTimeout:                  0,
		WriteTimeout:                 0,
		IdleTimeout:                  0,
		MaxHeaderBytes:               0,
		TLSNextProto:                 nil,
		ConnState:                    nil,
		ErrorLog:                     nil,
		BaseContext:                  nil,
		ConnContext:                  nil,
		HTTP2:                        nil,
		Protocols:                    nil,
		ReadHeaderTimeout:            statusReadHeaderTimeout,
	}
}

func startStatusServer(lifecycle *conc.WaitGroup, logger *log.Logger, server *http.Server) {
	lifecycle.Go(func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Printf("status server: %v", err)
		}
	})
}

type gracefulShutdownConfig struct {
	server     *http.Server
	mainCancel context.CancelFunc
	lifecycle  *conc.WaitGroup
	stores     durableStores
	redis      *redis.Pool
	telemetry  *telemetry.Provider
}

func performGracefulShutdown(ctx context.Context, logger *log.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		logger.Printf("shutdown: %s...", name)
		if err := fn(stepCtx); err != nil {
			logger.Printf("shutdown: %s failed: %v", name, err)
		} else {
			logger.Printf("shutdown: %s completed", name)
		}
	}

	if cfg.server != nil {
		shutdownStep("stopping status server", statusServerShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.server.Shutdown(stepCtx)
		})
	}

	logger.Print("shutdown: cancelling main context")
	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("waiting for pipelines", lifecycleShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	shutdownStep("closing durable stores", storesShutdownTimeout, func(context.Context) error {
		return cfg.stores.Close()
	})

	if cfg.redis != nil {
		shutdownStep("closing redis pool", storesShutdownTimeout, func(context.Context) error {
			return cfg.redis.Close()
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("shutting down telemetry", telemetryShutdownTimeout, func(stepCtx context.Context) error {
			return cfg.telemetry.Shutdown(stepCtx)
		})
	}
}

func resolveConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}

	return filepath.Clean(defaultConfigPath)
}
