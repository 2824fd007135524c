package config

import (
	"strings"
)

// Environment identifies the runtime environment the indexer operates in.
type Environment string

const (
	// EnvDev marks the development environment.
	EnvDev Environment = "dev"
	// EnvStaging marks the staging environment.
	EnvStaging Environment = "staging"
	// EnvProd marks the production environment.
	EnvProd Environment = "prod"
)

// StorageBackend selects the durable store implementation.
type StorageBackend string

const (
	// BackendBadger stores each partition in an embedded badger database.
	BackendBadger StorageBackend = "badger"
	// BackendPostgres stores every partition in one PostgreSQL table.
	BackendPostgres StorageBackend = "postgres"
	// BackendMemory keeps records in process memory; nothing survives a restart.
	BackendMemory StorageBackend = "memory"
)

func normalizeIdentifier(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
