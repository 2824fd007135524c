// Package dbmigrations exposes embedded SQL migrations for yieldcache binaries.
package dbmigrations

import "embed"

// Files contains the embedded SQL migrations for the PostgreSQL durable backend.
//
//go:embed *.sql
var Files embed.FS
