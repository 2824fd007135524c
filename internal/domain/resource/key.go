// Package resource defines the partition-scoped resource model shared by the
// indexing engine: partitions, batch and line units, storage keys and
// persisted records.
package resource

import (
	"strings"

	"github.com/coachpo/yieldcache/errs"
)

// Separator joins key segments. Segments never contain it.
const Separator = "::"

// Partition identifies an isolation domain such as a network ("mainnet", "testnet").
type Partition string

// String returns the partition name.
func (p Partition) String() string { return string(p) }

// Validate ensures the partition is usable as a key segment.
func (p Partition) Validate() error {
	if strings.TrimSpace(string(p)) == "" {
		return errs.New("resource/partition", errs.CodeInvalid, errs.WithMessage("partition required"))
	}
	if strings.Contains(string(p), Separator) {
		return errs.New("resource/partition", errs.CodeInvalid,
			errs.WithMessage("partition must not contain separator"),
			errs.WithField("partition", string(p)))
	}
	return nil
}

// Key is a storage key of the form <kind>::<partition>::<id...>.
type Key string

// String returns the raw key.
func (k Key) String() string { return string(k) }

// NewKey joins a resource kind, a partition and identifiers into a storage key.
func NewKey(kind string, partition Partition, ids ...string) Key {
	parts := make([]string, 0, len(ids)+2)
	parts = append(parts, strings.TrimSpace(kind), strings.TrimSpace(string(partition)))
	for _, id := range ids {
		parts = append(parts, strings.TrimSpace(id))
	}
	return Key(strings.Join(parts, Separator))
}

// Kind returns the leading resource kind segment.
func (k Key) Kind() string {
	kind, _, _ := strings.Cut(string(k), Separator)
	return kind
}

// Partition returns the partition segment, or "" when the key is malformed.
func (k Key) Partition() Partition {
	parts := strings.Split(string(k), Separator)
	if len(parts) < 2 {
		return ""
	}
	return Partition(parts[1])
}

// Validate checks that the key has a kind, a partition and at least one identifier.
func (k Key) Validate() error {
	parts := strings.Split(string(k), Separator)
	if len(parts) < 3 {
		return errs.New("resource/key", errs.CodeInvalid,
			errs.WithMessage("key requires kind, partition and id"),
			errs.WithField("key", string(k)))
	}
	for _, part := range parts {
		if part == "" {
			return errs.New("resource/key", errs.CodeInvalid,
				errs.WithMessage("key has empty segment"),
				errs.WithField("key", string(k)))
		}
	}
	return nil
}
