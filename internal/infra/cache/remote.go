package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gomodule/redigo/redis"
)

// Remote is the shared cache tier.
type Remote interface {
	// Get returns the cached bytes; ok is false on a miss.
	Get(ctx context.Context, key string) (data []byte, ok bool, err error)
	Set(ctx context.Context, key string, data []byte, ttl time.Duration) error
}

// RedisConfig configures a redis connection pool.
type RedisConfig struct {
	Addr        string
	Password    string
	DB          int
	MaxIdle     int
	IdleTimeout time.Duration
	Prefix      string
}

// NewRedisPool builds a redigo pool dialing cfg.Addr.
func NewRedisPool(cfg RedisConfig) *redis.Pool {
	addr := strings.TrimSpace(cfg.Addr)
	return &redis.Pool{
		MaxIdle:     cfg.MaxIdle,
		IdleTimeout: cfg.IdleTimeout,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			opts := []redis.DialOption{redis.DialDatabase(cfg.DB)}
			if cfg.Password != "" {
				opts = append(opts, redis.DialPassword(cfg.Password))
			}
			return redis.DialContext(ctx, "tcp", addr, opts...)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			if time.Since(t) < time.Minute {
				return nil
			}
			_, err := c.Do("PING")
			return err
		},
	}
}

// Redis is a Remote backed by a redigo pool. Keys are namespaced by prefix.
type Redis struct {
	pool   *redis.Pool
	prefix string
}

// NewRedis wraps pool.
func NewRedis(pool *redis.Pool, prefix string) *Redis {
	return &Redis{pool: pool, prefix: prefix}
}

// Get implements Remote.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	data, err := redis.Bytes(redis.DoContext(conn, ctx, "GET", r.prefix+key))
	if errors.Is(err, redis.ErrNil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}
	return data, true, nil
}

// Set implements Remote. A non-positive ttl stores without expiry.
func (r *Redis) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()

	args := []interface{}{r.prefix + key, data}
	if ttl > 0 {
		args = append(args, "PX", max(ttl.Milliseconds(), 1))
	}
	if _, err := redis.DoContext(conn, ctx, "SET", args...); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	conn, err := r.pool.GetContext(ctx)
	if err != nil {
		return fmt.Errorf("redis connection: %w", err)
	}
	defer conn.Close()
	if _, err := redis.DoContext(conn, ctx, "PING"); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
