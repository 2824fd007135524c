// Package cache implements the read-through/write-through cache facade that
// sits in front of the durable store: a small in-process near tier and an
// optional shared remote tier. The facade is never assumed warm.
package cache

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/telemetry"
)

const (
	defaultNearCapacity = 1024
	defaultNearTTL      = 5 * time.Second
	defaultRemoteTTL    = 5 * time.Minute

	tierNear   = "near"
	tierRemote = "remote"
)

// Option configures a Facade.
type Option func(*Facade)

// WithNear sizes the in-process tier.
func WithNear(capacity int, ttl time.Duration) Option {
	return func(f *Facade) {
		if capacity > 0 {
			f.nearCapacity = capacity
		}
		if ttl > 0 {
			f.nearTTL = ttl
		}
	}
}

// WithRemote enables the shared tier.
func WithRemote(remote Remote, ttl time.Duration) Option {
	return func(f *Facade) {
		f.remote = remote
		if ttl > 0 {
			f.remoteTTL = ttl
		}
	}
}

// WithLogger injects a logger.
func WithLogger(logger *log.Logger) Option {
	return func(f *Facade) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// WithClock overrides the time source used to expire records.
func WithClock(now func() time.Time) Option {
	return func(f *Facade) {
		if now != nil {
			f.now = now
		}
	}
}

// WithInstruments records lookups on inst.
func WithInstruments(inst *telemetry.Instruments) Option {
	return func(f *Facade) {
		f.instruments = inst
	}
}

// Facade is safe for concurrent use.
type Facade struct {
	nearCapacity int
	nearTTL      time.Duration
	near         *expirable.LRU[string, []byte]

	remote    Remote
	remoteTTL time.Duration

	loads       singleflight.Group
	now         func() time.Time
	logger      *log.Logger
	instruments *telemetry.Instruments
}

// New constructs a facade. Without WithRemote only the near tier is used.
func New(opts ...Option) *Facade {
	f := &Facade{
		nearCapacity: defaultNearCapacity,
		nearTTL:      defaultNearTTL,
		near:         nil,
		remote:       nil,
		remoteTTL:    defaultRemoteTTL,
		loads:        singleflight.Group{},
		now:          time.Now,
		logger:       log.New(os.Stdout, "cache ", log.LstdFlags|log.Lmicroseconds),
		instruments:  nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(f)
		}
	}
	f.near = expirable.NewLRU[string, []byte](f.nearCapacity, nil, f.nearTTL)
	return f
}

// Invalidate drops key from the near tier. The remote tier expires on its own.
func (f *Facade) Invalidate(key resource.Key) {
	f.near.Remove(key.String())
}

// Len reports the number of near-tier entries.
func (f *Facade) Len() int {
	return f.near.Len()
}

// Peek reads key from the near tier, then the remote tier, without loading.
// Remote failures and expired records read as misses.
func Peek[T any](ctx context.Context, f *Facade, key resource.Key) (T, bool) {
	var zero T
	if data, ok := f.near.Get(key.String()); ok {
		if value, live := decodeLive[T](f, data); live {
			f.instruments.CacheLookup(ctx, tierNear, true)
			return value, true
		}
		f.near.Remove(key.String())
	}
	f.instruments.CacheLookup(ctx, tierNear, false)

	if f.remote == nil {
		return zero, false
	}
	data, ok, err := f.remote.Get(ctx, key.String())
	if err != nil {
		f.logger.Printf("remote get key=%s: %v", key, err)
		return zero, false
	}
	if !ok {
		f.instruments.CacheLookup(ctx, tierRemote, false)
		return zero, false
	}
	value, live := decodeLive[T](f, data)
	f.instruments.CacheLookup(ctx, tierRemote, live)
	if !live {
		return zero, false
	}
	f.near.Add(key.String(), data)
	return value, true
}

// Get returns key from the first tier that has it, or calls load, writes the
// result to both tiers and returns it. Concurrent misses on one key share a
// single load. Load errors are returned and not cached.
func Get[T any](ctx context.Context, f *Facade, key resource.Key, load func(context.Context) (T, error)) (T, error) {
	return GetRecord(ctx, f, key, func(ctx context.Context) (resource.Record[T], error) {
		value, err := load(ctx)
		return resource.NewRecord(value, 0, f.now()), err
	})
}

// GetRecord is Get for loaders that know when their value expires. The
// record's expiry bounds how long either tier keeps it.
func GetRecord[T any](ctx context.Context, f *Facade, key resource.Key, load func(context.Context) (resource.Record[T], error)) (T, error) {
	if value, ok := Peek[T](ctx, f, key); ok {
		return value, nil
	}
	v, err, _ := f.loads.Do(key.String(), func() (interface{}, error) {
		rec, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if err := SetRecord(ctx, f, key, rec); err != nil {
			f.logger.Printf("cache fill key=%s: %v", key, err)
		}
		return rec.Value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// Set writes value to both tiers with the tiers' own lifetimes.
func Set[T any](ctx context.Context, f *Facade, key resource.Key, value T) error {
	return SetRecord(ctx, f, key, resource.NewRecord(value, 0, f.now()))
}

// SetRecord writes rec to both tiers. An expiring record is kept no longer
// than it has left to live; an already expired one is not cached. The near
// tier is always updated; a remote failure is returned.
func SetRecord[T any](ctx context.Context, f *Facade, key resource.Key, rec resource.Record[T]) error {
	remoteTTL := f.remoteTTL
	if rec.ExpiresAt != nil {
		left := rec.TTL(f.now())
		if left <= 0 {
			f.near.Remove(key.String())
			return nil
		}
		remoteTTL = min(remoteTTL, left)
	}
	data, err := resource.EncodeRecord(rec)
	if err != nil {
		return err
	}
	f.near.Add(key.String(), data)
	if f.remote == nil {
		return nil
	}
	if err := f.remote.Set(ctx, key.String(), data, remoteTTL); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

func decodeLive[T any](f *Facade, data []byte) (T, bool) {
	var zero T
	rec, err := resource.DecodeRecord[T](data)
	if err != nil || rec.Expired(f.now()) {
		return zero, false
	}
	return rec.Value, true
}
