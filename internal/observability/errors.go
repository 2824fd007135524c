package observability

import (
	"errors"
	"fmt"
)

// AggregateErrors folds the failures of one pass into a single error carrying
// the pass context. Nil entries are ignored; it returns nil when nothing failed.
// It does not log: callers report failures through their own logger.
func AggregateErrors(operation string, failures []error, fields ...Field) error {
	kept := make([]error, 0, len(failures))
	for _, err := range failures {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	passFields := append([]Field{F("failed", len(kept))}, fields...)
	return fmt.Errorf("%s failed %s: %w", operation, FormatFields(passFields...), errors.Join(kept...))
}
