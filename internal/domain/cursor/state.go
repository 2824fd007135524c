package cursor

import (
	"fmt"

	"github.com/coachpo/yieldcache/internal/domain/resource"
)

// State is the persisted checkpoint of a cursor.
type State struct {
	BatchIndex int                    `json:"batchIndex"`
	LineIndex  map[int]int            `json:"lineIndex,omitempty"`
	Batches    map[int]resource.Lines `json:"batches,omitempty"`
}

// Validate rejects checkpoints a cursor could never have produced.
func (s State) Validate() error {
	if s.BatchIndex < 0 {
		return fmt.Errorf("checkpoint batch index %d: %w", s.BatchIndex, ErrInvariant)
	}
	for batch, line := range s.LineIndex {
		if batch < 0 || line < 0 {
			return fmt.Errorf("checkpoint batch=%d line=%d: %w", batch, line, ErrInvariant)
		}
		if line > len(s.Batches[batch]) {
			return fmt.Errorf("checkpoint batch=%d line=%d size=%d: %w", batch, line, len(s.Batches[batch]), ErrInvariant)
		}
	}
	for batch, lines := range s.Batches {
		if batch < 0 {
			return fmt.Errorf("checkpoint batch=%d: %w", batch, ErrInvariant)
		}
		if err := lines.Validate(); err != nil {
			return fmt.Errorf("checkpoint batch=%d: %w", batch, err)
		}
	}
	return nil
}

// Snapshot captures the cursor as a checkpoint.
func (c *Cursor) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := State{
		BatchIndex: c.batchIndex,
		LineIndex:  make(map[int]int, len(c.lineIndex)),
		Batches:    make(map[int]resource.Lines, len(c.materialized)),
	}
	for b, l := range c.lineIndex {
		st.LineIndex[b] = l
	}
	for b, lines := range c.materialized {
		cp := make(resource.Lines, len(lines))
		copy(cp, lines)
		st.Batches[b] = cp
	}
	return st
}

// Restore replaces the cursor with a validated checkpoint. Batches at or past
// domainLength are dropped, and the batch index is clamped to domainLength so
// the next discovery step wraps. A negative domainLength disables trimming.
func (c *Cursor) Restore(st State, domainLength int) error {
	if err := st.Validate(); err != nil {
		return err
	}
	lineIndex := make(map[int]int, len(st.LineIndex))
	materialized := make(map[int]resource.Lines, len(st.Batches))
	for b, lines := range st.Batches {
		if domainLength >= 0 && b >= domainLength {
			continue
		}
		cp := make(resource.Lines, len(lines))
		copy(cp, lines)
		materialized[b] = cp
		lineIndex[b] = st.LineIndex[b]
	}
	batchIndex := st.BatchIndex
	if domainLength >= 0 && batchIndex > domainLength {
		batchIndex = domainLength
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchIndex = batchIndex
	c.lineIndex = lineIndex
	c.materialized = materialized
	return nil
}
