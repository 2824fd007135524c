// Package durable implements the partition-scoped durable record store: point
// reads with logical expiry, memoize-on-miss population and unconditional
// overwrites over a pluggable key-value backend.
package durable

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
)

var (
	// ErrNotFound is returned by backends when a key is absent.
	ErrNotFound = errors.New("durable record not found")
	// ErrCorrupt marks stored bytes that do not decode into a valid record.
	ErrCorrupt = errors.New("durable record corrupt")
)

// DefaultGrace keeps records physically present past their logical expiry so
// backends with coarse TTL resolution never drop a record early.
const DefaultGrace = time.Minute

// Backend is the raw key-value handle a Store writes through.
type Backend interface {
	// Get returns the stored bytes or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put overwrites key. A positive ttl lets the backend drop the value
	// physically once it has elapsed.
	Put(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithGrace overrides the physical retention added on top of a record's ttl.
func WithGrace(grace time.Duration) Option {
	return func(s *Store) {
		if grace >= 0 {
			s.grace = grace
		}
	}
}

// Store is one partition's durable record store. Keys outside the partition
// are rejected.
type Store struct {
	partition resource.Partition
	backend   Backend
	now       func() time.Time
	grace     time.Duration
	logger    *log.Logger
}

// New wraps backend as the durable store for partition.
func New(partition resource.Partition, backend Backend, opts ...Option) (*Store, error) {
	if err := partition.Validate(); err != nil {
		return nil, err
	}
	if backend == nil {
		return nil, errs.New("durable/store", errs.CodeInvalid, errs.WithMessage("backend required"))
	}
	s := &Store{
		partition: partition,
		backend:   backend,
		now:       time.Now,
		grace:     DefaultGrace,
		logger:    log.New(os.Stdout, "durable ", log.LstdFlags|log.Lmicroseconds),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Partition returns the partition the store serves.
func (s *Store) Partition() resource.Partition {
	return s.partition
}

// Close releases the backend.
func (s *Store) Close() error {
	if err := s.backend.Close(); err != nil {
		return fmt.Errorf("close durable backend: %w", err)
	}
	return nil
}

func (s *Store) checkKey(key resource.Key) error {
	if err := key.Validate(); err != nil {
		return err
	}
	if key.Partition() != s.partition {
		return errs.New("durable/store", errs.CodeInvalid,
			errs.WithMessage("key belongs to another partition"),
			errs.WithField("key", key.String()),
			errs.WithField("partition", s.partition.String()))
	}
	return nil
}

// Fetch returns the value stored under key. ok is false when the key is
// absent or its record has expired.
func Fetch[T any](ctx context.Context, s *Store, key resource.Key) (value T, ok bool, err error) {
	var zero T
	rec, ok, err := fetchRecord[T](ctx, s, key)
	if err != nil || !ok {
		return zero, false, err
	}
	return rec.Value, true, nil
}

// FetchRecord is Fetch returning the record envelope, so callers can inspect
// the remaining lifetime.
func FetchRecord[T any](ctx context.Context, s *Store, key resource.Key) (resource.Record[T], bool, error) {
	return fetchRecord[T](ctx, s, key)
}

func fetchRecord[T any](ctx context.Context, s *Store, key resource.Key) (resource.Record[T], bool, error) {
	if err := s.checkKey(key); err != nil {
		return resource.Record[T]{}, false, err
	}
	data, err := s.backend.Get(ctx, key.String())
	if errors.Is(err, ErrNotFound) {
		return resource.Record[T]{}, false, nil
	}
	if err != nil {
		return resource.Record[T]{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	rec, err := resource.DecodeRecord[T](data)
	if err != nil {
		return resource.Record[T]{}, false, fmt.Errorf("read %s: %w: %w", key, ErrCorrupt, err)
	}
	if rec.Expired(s.now()) {
		return resource.Record[T]{}, false, nil
	}
	return rec, true, nil
}

// Set overwrites key with value. A positive ttl makes the record expire.
func Set[T any](ctx context.Context, s *Store, key resource.Key, value T, ttl time.Duration) error {
	if err := s.checkKey(key); err != nil {
		return err
	}
	data, err := resource.EncodeRecord(resource.NewRecord(value, ttl, s.now()))
	if err != nil {
		return err
	}
	physical := time.Duration(0)
	if ttl > 0 {
		physical = ttl + s.grace
	}
	if err := s.backend.Put(ctx, key.String(), data, physical); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// GetOrFetch returns the live value under key, or runs action, stores its
// result with ttl and returns it. Concurrent misses may both run action; the
// caller is expected to hold the partition lock for writers of key. A record
// that fails to decode is logged and replaced.
func GetOrFetch[T any](ctx context.Context, s *Store, key resource.Key, ttl time.Duration, action func(context.Context) (T, error)) (T, error) {
	return GetOrFetchTTL(ctx, s, key, func(ctx context.Context) (T, time.Duration, error) {
		value, err := action(ctx)
		return value, ttl, err
	})
}

// GetOrFetchTTL is GetOrFetch for actions that decide the ttl of their own result.
func GetOrFetchTTL[T any](ctx context.Context, s *Store, key resource.Key, action func(context.Context) (T, time.Duration, error)) (T, error) {
	rec, err := GetOrFetchRecord(ctx, s, key, action)
	return rec.Value, err
}

// GetOrFetchRecord is GetOrFetchTTL returning the stored record, whose expiry
// tells callers how long the value may be reused.
func GetOrFetchRecord[T any](ctx context.Context, s *Store, key resource.Key, action func(context.Context) (T, time.Duration, error)) (resource.Record[T], error) {
	rec, ok, err := fetchRecord[T](ctx, s, key)
	switch {
	case errors.Is(err, ErrCorrupt):
		s.logger.Printf("discard unreadable record key=%s: %v", key, err)
	case err != nil:
		return resource.Record[T]{}, err
	case ok:
		return rec, nil
	}

	value, ttl, err := action(ctx)
	if err != nil {
		return resource.Record[T]{}, err
	}
	if err := Set(ctx, s, key, value, ttl); err != nil {
		return resource.Record[T]{}, err
	}
	return resource.NewRecord(value, ttl, s.now()), nil
}

// Maintain runs the backend's housekeeping (value log GC for badger, expired
// row purge for PostgreSQL). Backends without housekeeping are a no-op.
func (s *Store) Maintain(ctx context.Context) error {
	switch b := s.backend.(type) {
	case interface{ CollectGarbage() error }:
		return b.CollectGarbage()
	case interface {
		Purge(context.Context) (int64, error)
	}:
		n, err := b.Purge(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			s.logger.Printf("purged expired records partition=%s count=%d", s.partition, n)
		}
		return nil
	default:
		return nil
	}
}
