// Package config manages application configuration loading and validation.
package config

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/coachpo/yieldcache/internal/domain/registry"
)

// StatusServerConfig configures the operator HTTP surface.
type StatusServerConfig struct {
	Addr string `yaml:"addr"`
}

// TelemetryConfig configures OTLP exporters (metrics only).
type TelemetryConfig struct {
	OTLPEndpoint  string `yaml:"otlpEndpoint"`
	ServiceName   string `yaml:"serviceName"`
	OTLPInsecure  bool   `yaml:"otlpInsecure"`
	EnableMetrics bool   `yaml:"enableMetrics"`
}

// DatabaseConfig controls PostgreSQL connectivity and migration behaviour.
type DatabaseConfig struct {
	DSN               string        `yaml:"dsn"`
	MaxConns          int32         `yaml:"maxConns"`
	MinConns          int32         `yaml:"minConns"`
	MaxConnLifetime   time.Duration `yaml:"maxConnLifetime"`
	MaxConnIdleTime   time.Duration `yaml:"maxConnIdleTime"`
	HealthCheckPeriod time.Duration `yaml:"healthCheckPeriod"`
	RunMigrations     bool          `yaml:"runMigrations"`
	// MigrationsDir overrides the migrations embedded in the binary.
	MigrationsDir string `yaml:"migrationsDir"`
}

func (c *DatabaseConfig) applyDefaults() {
	c.DSN = strings.TrimSpace(c.DSN)
	if c.DSN == "" {
		c.DSN = "postgresql://localhost:5432/yieldcache"
	}
	if c.MaxConns <= 0 {
		c.MaxConns = 16
	}
	if c.MinConns <= 0 {
		c.MinConns = 1
	}
	if c.MinConns > c.MaxConns {
		c.MinConns = c.MaxConns
	}
	if c.MaxConnLifetime <= 0 {
		c.MaxConnLifetime = 30 * time.Minute
	}
	if c.MaxConnIdleTime <= 0 {
		c.MaxConnIdleTime = 5 * time.Minute
	}
	if c.HealthCheckPeriod <= 0 {
		c.HealthCheckPeriod = 30 * time.Second
	}
	c.MigrationsDir = strings.TrimSpace(c.MigrationsDir)
}

func (c DatabaseConfig) validate() error {
	if strings.TrimSpace(c.DSN) == "" {
		return fmt.Errorf("dsn required")
	}
	if c.MaxConns <= 0 {
		return fmt.Errorf("maxConns must be >0")
	}
	if c.MinConns < 0 {
		return fmt.Errorf("minConns must be >=0")
	}
	if c.MinConns > c.MaxConns {
		return fmt.Errorf("minConns must be <= maxConns")
	}
	if c.MaxConnLifetime <= 0 {
		return fmt.Errorf("maxConnLifetime must be >0")
	}
	if c.MaxConnIdleTime <= 0 {
		return fmt.Errorf("maxConnIdleTime must be >0")
	}
	if c.HealthCheckPeriod <= 0 {
		return fmt.Errorf("healthCheckPeriod must be >0")
	}
	return nil
}

// BadgerConfig locates the embedded stores. Each partition gets a
// subdirectory of Dir.
type BadgerConfig struct {
	Dir      string `yaml:"dir"`
	InMemory bool   `yaml:"inMemory"`
}

// StorageConfig selects and configures the durable store.
type StorageConfig struct {
	Backend  StorageBackend `yaml:"backend"`
	Badger   BadgerConfig   `yaml:"badger"`
	Database DatabaseConfig `yaml:"database"`
	// MaintainEvery schedules value log GC or expired row purges.
	MaintainEvery time.Duration `yaml:"maintainEvery"`
}

func (c *StorageConfig) applyDefaults() {
	c.Backend = StorageBackend(normalizeIdentifier(string(c.Backend)))
	if c.Backend == "" {
		c.Backend = BackendBadger
	}
	c.Badger.Dir = strings.TrimSpace(c.Badger.Dir)
	if c.Badger.Dir == "" {
		c.Badger.Dir = filepath.Join("data", "durable")
	}
	c.Badger.Dir = filepath.Clean(c.Badger.Dir)
	if c.MaintainEvery <= 0 {
		c.MaintainEvery = 10 * time.Minute
	}
	if c.Backend == BackendPostgres {
		c.Database.applyDefaults()
	}
}

func (c StorageConfig) validate() error {
	switch c.Backend {
	case BackendBadger:
		if !c.Badger.InMemory && c.Badger.Dir == "" {
			return fmt.Errorf("badger dir required")
		}
	case BackendPostgres:
		if err := c.Database.validate(); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("backend must be one of badger, postgres, memory")
	}
	return nil
}

// RedisConfig configures the shared remote cache tier. An empty Addr disables it.
type RedisConfig struct {
	Addr        string        `yaml:"addr"`
	Password    string        `yaml:"password"`
	DB          int           `yaml:"db"`
	TTL         time.Duration `yaml:"ttl"`
	MaxIdle     int           `yaml:"maxIdle"`
	IdleTimeout time.Duration `yaml:"idleTimeout"`
	Prefix      string        `yaml:"prefix"`
}

// CacheConfig configures the cache facade.
type CacheConfig struct {
	NearCapacity int           `yaml:"nearCapacity"`
	NearTTL      time.Duration `yaml:"nearTTL"`
	Redis        RedisConfig   `yaml:"redis"`
}

func (c *CacheConfig) applyDefaults() {
	if c.NearCapacity <= 0 {
		c.NearCapacity = 1024
	}
	if c.NearTTL <= 0 {
		c.NearTTL = 30 * time.Second
	}
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = 5 * time.Minute
	}
	if c.Redis.MaxIdle <= 0 {
		c.Redis.MaxIdle = 8
	}
	if c.Redis.IdleTimeout <= 0 {
		c.Redis.IdleTimeout = 4 * time.Minute
	}
	if c.Redis.Prefix == "" {
		c.Redis.Prefix = "yieldcache:"
	}
}

// ColdConfig configures the cold snapshot directory.
type ColdConfig struct {
	Dir string        `yaml:"dir"`
	TTL time.Duration `yaml:"ttl"`
}

func (c *ColdConfig) applyDefaults() {
	c.Dir = strings.TrimSpace(c.Dir)
	if c.Dir == "" {
		c.Dir = filepath.Join("data", "cold")
	}
	c.Dir = filepath.Clean(c.Dir)
	if c.TTL <= 0 {
		c.TTL = 5 * time.Minute
	}
}

// RetryConfig mirrors retry.Policy.
type RetryConfig struct {
	MaxRetries   int           `yaml:"maxRetries"`
	InitialDelay time.Duration `yaml:"initialDelay"`
	Factor       float64       `yaml:"factor"`
	Jitter       *bool         `yaml:"jitter"`
	MaxDelay     time.Duration `yaml:"maxDelay"`
}

func (c *RetryConfig) applyDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 200 * time.Millisecond
	}
	if c.Factor < 1 {
		c.Factor = 2
	}
	if c.Jitter == nil {
		enabled := true
		c.Jitter = &enabled
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * c.InitialDelay
	}
}

// LocksConfig configures the per-partition lock tables.
type LocksConfig struct {
	ReleaseDelay time.Duration `yaml:"releaseDelay"`
	Jitter       *bool         `yaml:"jitter"`
}

func (c *LocksConfig) applyDefaults() {
	if c.ReleaseDelay <= 0 {
		c.ReleaseDelay = time.Second
	}
	if c.Jitter == nil {
		enabled := true
		c.Jitter = &enabled
	}
}

// PartitionConfig is the static registry of one partition.
type PartitionConfig struct {
	Tokens []string            `yaml:"tokens" json:"tokens"`
	Lists  map[string][]string `yaml:"lists" json:"lists,omitempty"`
}

// AppConfig is the unified indexer configuration sourced from YAML.
type AppConfig struct {
	Environment  Environment                `yaml:"environment"`
	StatusServer StatusServerConfig         `yaml:"statusServer"`
	Telemetry    TelemetryConfig            `yaml:"telemetry"`
	Storage      StorageConfig              `yaml:"storage"`
	Cache        CacheConfig                `yaml:"cache"`
	Cold         ColdConfig                 `yaml:"cold"`
	Retry        RetryConfig                `yaml:"retry"`
	Locks        LocksConfig                `yaml:"locks"`
	Pipelines    []PipelineConfig           `yaml:"pipelines"`
	Partitions   map[string]PartitionConfig `yaml:"partitions"`
}

// DefaultAppConfig returns a runnable configuration: one synthetic pool
// pipeline over two partitions.
func DefaultAppConfig() AppConfig {
	cfg := AppConfig{
		Environment:  EnvDev,
		StatusServer: StatusServerConfig{Addr: ":8880"},
		Telemetry: TelemetryConfig{
			OTLPEndpoint:  "http://localhost:4318",
			ServiceName:   "yieldcache",
			OTLPInsecure:  true,
			EnableMetrics: false,
		},
		Pipelines: []PipelineConfig{{
			Name:      "pools",
			Adapter:   "fake",
			Config:    map[string]any{"lines_per_batch": 3},
			BatchKind: "pool-batch",
			LineKind:  "pool-detail",
			Domain:    registry.Domain{Shape: registry.ShapePairs, List: ""},
		}},
		Partitions: map[string]PartitionConfig{
			"mainnet": {Tokens: []string{"WETH", "USDC", "DAI", "WBTC"}, Lists: nil},
			"testnet": {Tokens: []string{"WETH", "USDC"}, Lists: nil},
		},
	}
	_ = cfg.normalise()
	return cfg
}

// Load reads and validates an AppConfig from the provided YAML file.
func Load(ctx context.Context, configPath string) (AppConfig, error) {
	_ = ctx

	reader, closer, err := openConfigFile(configPath)
	if err != nil {
		return AppConfig{}, err
	}
	defer closer()

	bytes, err := io.ReadAll(reader)
	if err != nil {
		return AppConfig{}, fmt.Errorf("read config: %w", err)
	}

	var cfg AppConfig
	if err := yaml.Unmarshal(bytes, &cfg); err != nil {
		return AppConfig{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.normalise(); err != nil {
		return AppConfig{}, err
	}
	if err := cfg.Validate(); err != nil {
		return AppConfig{}, err
	}
	return cfg, nil
}

// LoadOrDefault behaves like Load but returns DefaultAppConfig when the file
// does not exist.
func LoadOrDefault(ctx context.Context, configPath string) (AppConfig, bool, error) {
	cfg, err := Load(ctx, configPath)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultAppConfig(), false, nil
	}
	if err != nil {
		return AppConfig{}, false, err
	}
	return cfg, true, nil
}

func (c *AppConfig) normalise() error {
	c.Environment = Environment(normalizeIdentifier(string(c.Environment)))
	if c.Environment == "" {
		c.Environment = EnvDev
	}
	c.StatusServer.Addr = strings.TrimSpace(c.StatusServer.Addr)
	c.Telemetry.OTLPEndpoint = strings.TrimSpace(c.Telemetry.OTLPEndpoint)
	c.Telemetry.ServiceName = strings.TrimSpace(c.Telemetry.ServiceName)
	if c.Telemetry.ServiceName == "" {
		c.Telemetry.ServiceName = "yieldcache"
	}

	c.Storage.applyDefaults()
	c.Cache.applyDefaults()
	c.Cold.applyDefaults()
	c.Retry.applyDefaults()
	c.Locks.applyDefaults()

	partitions := make(map[string]PartitionConfig, len(c.Partitions))
	for name, p := range c.Partitions {
		key := strings.TrimSpace(name)
		if _, exists := partitions[key]; exists {
			return fmt.Errorf("duplicate partition name %q", key)
		}
		partitions[key] = p
	}
	c.Partitions = partitions

	seen := make(map[string]struct{}, len(c.Pipelines))
	for i := range c.Pipelines {
		c.Pipelines[i].applyDefaults()
		name := c.Pipelines[i].Name
		if _, dup := seen[name]; dup {
			return fmt.Errorf("duplicate pipeline name %q", name)
		}
		seen[name] = struct{}{}
	}
	return nil
}

// Validate performs semantic validation on the configuration.
func (c AppConfig) Validate() error {
	switch c.Environment {
	case EnvDev, EnvStaging, EnvProd:
	default:
		return fmt.Errorf("environment must be one of dev, staging, prod")
	}
	if err := c.Storage.validate(); err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	if c.Cache.NearCapacity <= 0 {
		return fmt.Errorf("cache nearCapacity must be >0")
	}
	if c.Retry.MaxDelay < c.Retry.InitialDelay {
		return fmt.Errorf("retry maxDelay must be >= initialDelay")
	}
	if len(c.Partitions) == 0 {
		return fmt.Errorf("at least one partition required")
	}
	for name := range c.Partitions {
		if name == "" || strings.Contains(name, "::") {
			return fmt.Errorf("invalid partition name %q", name)
		}
	}
	if len(c.Pipelines) == 0 {
		return fmt.Errorf("at least one pipeline required")
	}
	for _, p := range c.Pipelines {
		if err := p.validate(c.Partitions); err != nil {
			return fmt.Errorf("pipeline %q: %w", p.Name, err)
		}
	}
	return nil
}

func openConfigFile(path string) (io.Reader, func(), error) {
	candidate := strings.TrimSpace(path)
	candidate = filepath.Clean(candidate)

	file, err := os.Open(candidate) // #nosec G304 -- path is operator controlled.
	if err != nil {
		return nil, nil, fmt.Errorf("open app config: %w", err)
	}
	return file, func() { _ = file.Close() }, nil
}
