package resource

import (
	"fmt"
	"time"

	json "github.com/goccy/go-json"
)

// Validator is implemented by payloads that can check themselves after decoding.
type Validator interface {
	Validate() error
}

// Record wraps a persisted value with optional expiry metadata. A record
// without ExpiresAt never expires; one whose ExpiresAt has passed reads as a miss.
type Record[T any] struct {
	Value     T          `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NewRecord wraps value, setting ExpiresAt to now+ttl when ttl is positive.
func NewRecord[T any](value T, ttl time.Duration, now time.Time) Record[T] {
	rec := Record[T]{Value: value, ExpiresAt: nil}
	if ttl > 0 {
		expires := now.Add(ttl).UTC()
		rec.ExpiresAt = &expires
	}
	return rec
}

// Expired reports whether the record is logically absent at now.
func (r Record[T]) Expired(now time.Time) bool {
	if r.ExpiresAt == nil {
		return false
	}
	return !now.Before(*r.ExpiresAt)
}

// TTL returns the remaining lifetime, or 0 when the record never expires.
func (r Record[T]) TTL(now time.Time) time.Duration {
	if r.ExpiresAt == nil {
		return 0
	}
	return r.ExpiresAt.Sub(now)
}

// EncodeRecord serialises a record.
func EncodeRecord[T any](rec Record[T]) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return data, nil
}

// DecodeRecord parses a record and validates its value when the payload
// implements Validator.
func DecodeRecord[T any](data []byte) (Record[T], error) {
	var rec Record[T]
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record[T]{}, fmt.Errorf("decode record: %w", err)
	}
	if err := validateValue(rec.Value); err != nil {
		return Record[T]{}, fmt.Errorf("validate record: %w", err)
	}
	return rec, nil
}

func validateValue(value any) error {
	if v, ok := value.(Validator); ok {
		return v.Validate()
	}
	return nil
}
