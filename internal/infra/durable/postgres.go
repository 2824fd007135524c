package durable

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/yieldcache/internal/domain/resource"
)

const (
	recordUpsertSQL = `
INSERT INTO durable_records (
    partition,
    key,
    value,
    expires_at,
    updated_at
)
VALUES ($1, $2, $3::jsonb, $4, NOW())
ON CONFLICT (partition, key) DO UPDATE SET
    value = EXCLUDED.value,
    expires_at = EXCLUDED.expires_at,
    updated_at = NOW();
`
	recordSelectSQL = `
SELECT value
FROM durable_records
WHERE partition = $1 AND key = $2 AND (expires_at IS NULL OR expires_at > NOW());
`
	recordPurgeSQL = `DELETE FROM durable_records WHERE partition = $1 AND expires_at <= NOW();`
)

// Postgres is a Backend over the durable_records table. Several partitions
// share one pool; each Postgres value is bound to one partition.
type Postgres struct {
	pool      *pgxpool.Pool
	partition resource.Partition
}

// NewPostgres binds the pool to partition.
func NewPostgres(pool *pgxpool.Pool, partition resource.Partition) *Postgres {
	return &Postgres{pool: pool, partition: partition}
}

// Get implements Backend.
func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	if p.pool == nil {
		return nil, fmt.Errorf("durable postgres: nil pool")
	}
	var value []byte
	err := p.pool.QueryRow(ctx, recordSelectSQL, p.partition.String(), key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select record: %w", err)
	}
	return value, nil
}

// Put implements Backend.
func (p *Postgres) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if p.pool == nil {
		return fmt.Errorf("durable postgres: nil pool")
	}
	var expires *time.Time
	if ttl > 0 {
		at := time.Now().Add(ttl).UTC()
		expires = &at
	}
	if _, err := p.pool.Exec(ctx, recordUpsertSQL, p.partition.String(), key, value, expires); err != nil {
		return fmt.Errorf("upsert record: %w", err)
	}
	return nil
}

// Purge deletes rows whose physical expiry has passed and returns how many went.
func (p *Postgres) Purge(ctx context.Context) (int64, error) {
	if p.pool == nil {
		return 0, fmt.Errorf("durable postgres: nil pool")
	}
	tag, err := p.pool.Exec(ctx, recordPurgeSQL, p.partition.String())
	if err != nil {
		return 0, fmt.Errorf("purge records: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Close is a no-op; the pool is owned by the caller.
func (p *Postgres) Close() error {
	return nil
}
