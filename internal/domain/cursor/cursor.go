// Package cursor tracks indexing progress over a two-level domain: an ordered
// list of batches and, for every materialized batch, its lines.
package cursor

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sort"
	"sync"

	"github.com/coachpo/yieldcache/errs"
	"github.com/coachpo/yieldcache/internal/domain/resource"
)

// ErrInvariant marks cursor states that can only result from a programming error.
var ErrInvariant = errors.New("cursor invariant violated")

// Position addresses one line of one batch.
type Position struct {
	Batch int
	Line  int
}

// Option configures a Cursor.
type Option func(*Cursor)

// WithLogger injects the logger used to report skipped batches.
func WithLogger(logger *log.Logger) Option {
	return func(c *Cursor) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Cursor holds one partition's progress for one pipeline. All methods are
// safe for concurrent use; mutation is expected from a single orchestrator.
type Cursor struct {
	mu           sync.RWMutex
	batchIndex   int
	lineIndex    map[int]int
	materialized map[int]resource.Lines
	logger       *log.Logger
}

// New returns an empty cursor positioned at batch 0.
func New(opts ...Option) *Cursor {
	c := &Cursor{
		mu:           sync.RWMutex{},
		batchIndex:   0,
		lineIndex:    make(map[int]int),
		materialized: make(map[int]resource.Lines),
		logger:       log.New(os.Stdout, "cursor ", log.LstdFlags|log.Lmicroseconds),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// CurrentBatch returns the batch index the next discovery step will visit.
func (c *Cursor) CurrentBatch() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.batchIndex
}

// AdvanceBatch moves to the next batch. It never wraps; callers reset
// explicitly with ResetBatchIfAtEnd.
func (c *Cursor) AdvanceBatch() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchIndex++
	return c.batchIndex
}

// ResetBatchIfAtEnd rewinds to batch 0 once the index reaches domainLength.
// It reports whether a reset happened.
func (c *Cursor) ResetBatchIfAtEnd(domainLength int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.batchIndex >= domainLength {
		c.batchIndex = 0
		return true
	}
	return false
}

// CurrentLine returns the next line to fill for batch; 0 until the batch is materialized.
func (c *Cursor) CurrentLine(batch int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lineIndex[batch]
}

// AdvanceLine moves batch's line index forward by one. Advancing a batch that
// has no unfilled line left is an invariant violation.
func (c *Cursor) AdvanceLine(batch int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	next := c.lineIndex[batch] + 1
	if next > len(c.materialized[batch]) {
		return c.lineIndex[batch], fmt.Errorf("advance line batch=%d line=%d size=%d: %w",
			batch, c.lineIndex[batch], len(c.materialized[batch]), ErrInvariant)
	}
	c.lineIndex[batch] = next
	return next, nil
}

// MaterializedBatch returns a copy of the lines discovered for batch.
func (c *Cursor) MaterializedBatch(batch int) resource.Lines {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lines := c.materialized[batch]
	if lines == nil {
		return nil
	}
	out := make(resource.Lines, len(lines))
	copy(out, lines)
	return out
}

// SetMaterializedBatch replaces the lines of batch. The line index never
// moves backwards here: it keeps its position, clamped to the new size, so a
// rediscovery does not restart a sweep that is still in progress.
func (c *Cursor) SetMaterializedBatch(batch int, lines resource.Lines) {
	stored := make(resource.Lines, len(lines))
	copy(stored, lines)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.materialized[batch] = stored
	c.lineIndex[batch] = min(c.lineIndex[batch], len(stored))
}

// RestartSweepIfDrained rewinds every line index to 0 once no materialized
// batch has an unfilled line left, so the next sweep refreshes every line.
// It reports whether a restart happened; a sweep still in progress is left alone.
func (c *Cursor) RestartSweepIfDrained() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	filled := 0
	for batch, lines := range c.materialized {
		if c.lineIndex[batch] < len(lines) {
			return false
		}
		filled += len(lines)
	}
	if filled == 0 {
		return false
	}
	for batch := range c.lineIndex {
		c.lineIndex[batch] = 0
	}
	return true
}

// LineAt returns the line addressed by pos.
func (c *Cursor) LineAt(pos Position) (resource.LineUnit, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	lines := c.materialized[pos.Batch]
	if pos.Line < 0 || pos.Line >= len(lines) {
		return resource.LineUnit{}, fmt.Errorf("line at batch=%d line=%d size=%d: %w",
			pos.Batch, pos.Line, len(lines), ErrInvariant)
	}
	return lines[pos.Line], nil
}

// FindNextUnfilledLine scans materialized batches in index order and returns
// the first one whose line index has not reached its size. Empty batches are
// skipped. ok is false when every batch is drained. A line index past the
// batch size fails with ErrInvariant.
func (c *Cursor) FindNextUnfilledLine() (pos Position, ok bool, err error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, batch := range c.sortedBatches() {
		lines := c.materialized[batch]
		if len(lines) == 0 {
			c.logger.Printf("skip empty batch=%d", batch)
			continue
		}
		line := c.lineIndex[batch]
		switch {
		case line < len(lines):
			return Position{Batch: batch, Line: line}, true, nil
		case line > len(lines):
			return Position{}, false, errs.New("cursor/scan", errs.CodeInvariant,
				errs.WithMessage("line index past materialized batch"),
				errs.WithField("batch", fmt.Sprint(batch)),
				errs.WithField("line", fmt.Sprint(line)),
				errs.WithField("size", fmt.Sprint(len(lines))),
				errs.WithCause(ErrInvariant))
		}
	}
	return Position{}, false, nil
}

// Stats summarises the cursor for operator views.
type Stats struct {
	BatchIndex   int `json:"batchIndex"`
	Materialized int `json:"materialized"`
	Lines        int `json:"lines"`
	Filled       int `json:"filled"`
}

// Stats returns a point-in-time summary.
func (c *Cursor) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := Stats{BatchIndex: c.batchIndex, Materialized: len(c.materialized), Lines: 0, Filled: 0}
	for batch, lines := range c.materialized {
		st.Lines += len(lines)
		st.Filled += min(c.lineIndex[batch], len(lines))
	}
	return st
}

func (c *Cursor) sortedBatches() []int {
	batches := make([]int, 0, len(c.materialized))
	for b := range c.materialized {
		batches = append(batches, b)
	}
	sort.Ints(batches)
	return batches
}
