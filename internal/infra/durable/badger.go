package durable

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v3"
)

const badgerGCDiscardRatio = 0.5

// BadgerConfig configures an embedded badger backend.
type BadgerConfig struct {
	// Dir is the database directory; ignored when InMemory is set.
	Dir      string
	InMemory bool
	Logger   *log.Logger
}

// Badger is a Backend over an embedded badger database.
type Badger struct {
	db     *badger.DB
	logger *log.Logger
}

// OpenBadger opens (creating when needed) a badger database.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "badger ", log.LstdFlags|log.Lmicroseconds)
	}
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := strings.TrimSpace(cfg.Dir)
		if dir == "" {
			return nil, fmt.Errorf("badger directory required")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create badger directory: %w", err)
		}
		opts = badger.DefaultOptions(filepath.Clean(dir))
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Badger{db: db, logger: logger}, nil
}

// Get implements Backend.
func (b *Badger) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		out, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return out, nil
}

// Put implements Backend. Badger expires entries at second resolution.
func (b *Badger) Put(_ context.Context, key string, value []byte, ttl time.Duration) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), value)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
	if err != nil {
		return fmt.Errorf("badger put: %w", err)
	}
	return nil
}

// CollectGarbage runs value log GC until badger reports nothing to rewrite.
func (b *Badger) CollectGarbage() error {
	for {
		err := b.db.RunValueLogGC(badgerGCDiscardRatio)
		switch {
		case err == nil:
			continue
		case errors.Is(err, badger.ErrNoRewrite), errors.Is(err, badger.ErrGCInMemoryMode):
			return nil
		default:
			return fmt.Errorf("badger value log gc: %w", err)
		}
	}
}

// Close implements Backend.
func (b *Badger) Close() error {
	return b.db.Close()
}

type badgerLogger struct {
	logger *log.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Printf("ERROR "+strings.TrimSpace(format), args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Printf("WARN "+strings.TrimSpace(format), args...)
}

func (badgerLogger) Infof(string, ...interface{})  {}
func (badgerLogger) Debugf(string, ...interface{}) {}
