// Package coldstore keeps a file-backed last-known-good snapshot per named
// resource. It is read only when every faster tier missed and the remote
// source failed: a stale snapshot beats no answer.
package coldstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danjacques/gofslock/fslock"
	json "github.com/goccy/go-json"

	"github.com/coachpo/yieldcache/internal/domain/resource"
	"github.com/coachpo/yieldcache/internal/infra/telemetry"
)

// ErrNoSnapshot is returned when a name has never been snapshotted.
var ErrNoSnapshot = errors.New("no cold snapshot")

const (
	fileExtension    = ".snapshot.json"
	lockExtension    = ".lock"
	defaultTTL       = time.Hour
	defaultLockDelay = 10 * time.Millisecond
	defaultLockWait  = 5 * time.Second
)

// Outcome reports which path produced a resolved value.
type Outcome int

const (
	// Fresh means an unexpired snapshot was served without running the action.
	Fresh Outcome = iota
	// Refreshed means the action ran and its result became the new snapshot.
	Refreshed
	// Stale means the action failed and an older snapshot was served instead.
	Stale
)

func (o Outcome) String() string {
	switch o {
	case Fresh:
		return "fresh"
	case Refreshed:
		return "refreshed"
	case Stale:
		return "stale"
	default:
		return "unknown"
	}
}

// Meta describes a stored snapshot.
type Meta struct {
	SavedAt   time.Time
	ExpiresAt *time.Time
	Expired   bool
}

type snapshot[T any] struct {
	Data      T          `json:"data"`
	SavedAt   time.Time  `json:"savedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// Option configures a Store.
type Option func(*Store)

// WithTTL sets how long a snapshot is served without refreshing. Zero keeps
// snapshots fresh forever.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl >= 0 {
			s.ttl = ttl
		}
	}
}

// WithClock overrides the time source.
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

// WithInstruments records stale fallbacks on inst.
func WithInstruments(inst *telemetry.Instruments) Option {
	return func(s *Store) {
		s.instruments = inst
	}
}

// Store writes one JSON file per name under dir. Writers in different
// processes are serialised with a lock file; readers rely on atomic renames.
type Store struct {
	dir         string
	ttl         time.Duration
	now         func() time.Time
	lockWait    time.Duration
	logger      *log.Logger
	instruments *telemetry.Instruments
}

// New creates dir when needed and returns a store rooted there.
func New(dir string, opts ...Option) (*Store, error) {
	clean := strings.TrimSpace(dir)
	if clean == "" {
		return nil, fmt.Errorf("cold snapshot directory required")
	}
	if err := os.MkdirAll(clean, 0o755); err != nil {
		return nil, fmt.Errorf("create cold snapshot directory: %w", err)
	}
	s := &Store{
		dir:         filepath.Clean(clean),
		ttl:         defaultTTL,
		now:         time.Now,
		lockWait:    defaultLockWait,
		logger:      log.New(os.Stdout, "coldstore ", log.LstdFlags|log.Lmicroseconds),
		instruments: nil,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Dir returns the snapshot directory.
func (s *Store) Dir() string {
	return s.dir
}

// FileName maps a logical name to its snapshot file name: every character
// outside [A-Za-z0-9] becomes '_'.
func FileName(name resource.Key) string {
	var b strings.Builder
	b.Grow(len(name) + len(fileExtension))
	for _, r := range name.String() {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	b.WriteString(fileExtension)
	return b.String()
}

func (s *Store) path(name resource.Key) string {
	return filepath.Join(s.dir, FileName(name))
}

// Load reads the snapshot stored under name, expired or not.
func Load[T any](s *Store, name resource.Key) (T, Meta, error) {
	var zero T
	data, err := os.ReadFile(s.path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return zero, Meta{}, ErrNoSnapshot
	}
	if err != nil {
		return zero, Meta{}, fmt.Errorf("read cold snapshot %s: %w", name, err)
	}
	var snap snapshot[T]
	if err := json.Unmarshal(data, &snap); err != nil {
		return zero, Meta{}, fmt.Errorf("decode cold snapshot %s: %w", name, err)
	}
	if v, ok := any(snap.Data).(resource.Validator); ok {
		if err := v.Validate(); err != nil {
			return zero, Meta{}, fmt.Errorf("validate cold snapshot %s: %w", name, err)
		}
	}
	meta := Meta{SavedAt: snap.SavedAt, ExpiresAt: snap.ExpiresAt, Expired: false}
	if snap.ExpiresAt != nil && !s.now().Before(*snap.ExpiresAt) {
		meta.Expired = true
	}
	return snap.Data, meta, nil
}

// Save replaces the snapshot stored under name.
func Save[T any](ctx context.Context, s *Store, name resource.Key, value T) error {
	now := s.now().UTC()
	snap := snapshot[T]{Data: value, SavedAt: now, ExpiresAt: nil}
	if s.ttl > 0 {
		exp := now.Add(s.ttl)
		snap.ExpiresAt = &exp
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode cold snapshot %s: %w", name, err)
	}

	target := s.path(name)
	deadline := time.Now().Add(s.lockWait)
	blocker := func() error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if time.Now().After(deadline) {
			return fslock.ErrLockHeld
		}
		time.Sleep(defaultLockDelay)
		return nil
	}
	err = fslock.WithBlocking(target+lockExtension, blocker, func() error {
		return writeAtomic(s.dir, target, data)
	})
	if err != nil {
		return fmt.Errorf("write cold snapshot %s: %w", name, err)
	}
	return nil
}

func writeAtomic(dir, target string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, target)
}

// Resolve serves an unexpired snapshot as is. Otherwise it runs action and
// snapshots the result. When action fails, any existing snapshot is served
// instead, however old; the action's error surfaces only when there is none.
func Resolve[T any](ctx context.Context, s *Store, name resource.Key, action func(context.Context) (T, error)) (T, Outcome, error) {
	var zero T
	cached, meta, loadErr := Load[T](s, name)
	switch {
	case loadErr == nil && !meta.Expired:
		return cached, Fresh, nil
	case loadErr != nil && !errors.Is(loadErr, ErrNoSnapshot):
		s.logger.Printf("ignore unreadable snapshot name=%s: %v", name, loadErr)
	}

	value, err := action(ctx)
	if err != nil {
		if loadErr != nil {
			return zero, Refreshed, err
		}
		s.logger.Printf("serving stale snapshot name=%s saved=%s: %v", name, meta.SavedAt.Format(time.RFC3339), err)
		s.instruments.ColdFallback(ctx, name.Kind())
		return cached, Stale, nil
	}
	if err := Save(ctx, s, name, value); err != nil {
		s.logger.Printf("snapshot not saved name=%s: %v", name, err)
	}
	return value, Refreshed, nil
}

// TryActionOrFallback is Resolve without the outcome.
func TryActionOrFallback[T any](ctx context.Context, s *Store, name resource.Key, action func(context.Context) (T, error)) (T, error) {
	value, _, err := Resolve(ctx, s, name, action)
	return value, err
}
