package resource

import (
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/coachpo/yieldcache/errs"
)

// BatchUnit is one element of the outer ordered domain, e.g. a token pair or a
// lending market. Members are stored in canonical order.
type BatchUnit struct {
	Members []string `json:"members"`
}

// NewBatch builds a batch from its members.
func NewBatch(members ...string) BatchUnit {
	cleaned := make([]string, 0, len(members))
	for _, m := range members {
		cleaned = append(cleaned, strings.TrimSpace(m))
	}
	return BatchUnit{Members: cleaned}
}

// NewPair builds a two-member batch ordered lexicographically smallest-first,
// so (a, b) and (b, a) map to the same batch.
func NewPair(a, b string) BatchUnit {
	members := []string{strings.TrimSpace(a), strings.TrimSpace(b)}
	sort.Strings(members)
	return BatchUnit{Members: members}
}

// ID returns the stable batch identifier.
func (b BatchUnit) ID() string {
	return strings.Join(b.Members, Separator)
}

// Validate ensures the batch has at least one non-empty member.
func (b BatchUnit) Validate() error {
	if len(b.Members) == 0 {
		return errs.New("resource/batch", errs.CodeInvalid, errs.WithMessage("batch requires members"))
	}
	for _, m := range b.Members {
		if m == "" || strings.Contains(m, Separator) {
			return errs.New("resource/batch", errs.CodeInvalid,
				errs.WithMessage("invalid batch member"),
				errs.WithField("member", m))
		}
	}
	return nil
}

// LineUnit is one element nested in a batch's result set, e.g. one pool of a
// pair or one reserve of a lending market.
type LineUnit struct {
	ID         string            `json:"id"`
	Batch      string            `json:"batch"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// Validate ensures the line carries a usable identifier. Line ids become key
// segments, so they may not contain the separator.
func (l LineUnit) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return errs.New("resource/line", errs.CodeInvalid, errs.WithMessage("line id required"))
	}
	if strings.Contains(l.ID, Separator) {
		return errs.New("resource/line", errs.CodeInvalid,
			errs.WithMessage("invalid line id"),
			errs.WithField("line", l.ID))
	}
	return nil
}

// Lines is a batch's materialized line set. It validates every line on decode.
type Lines []LineUnit

// Validate checks each line.
func (ls Lines) Validate() error {
	for _, l := range ls {
		if err := l.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Detail is the per-line detail payload fetched from a remote adapter, e.g.
// reserves, utilisation or APY figures.
type Detail struct {
	LineID     string                     `json:"lineId"`
	Values     map[string]decimal.Decimal `json:"values,omitempty"`
	Labels     map[string]string          `json:"labels,omitempty"`
	ObservedAt time.Time                  `json:"observedAt"`
}

// Validate ensures the detail belongs to a line.
func (d Detail) Validate() error {
	if strings.TrimSpace(d.LineID) == "" {
		return errs.New("resource/detail", errs.CodeInvalid, errs.WithMessage("detail line id required"))
	}
	return nil
}

// Value returns the named numeric value, or zero when absent.
func (d Detail) Value(name string) decimal.Decimal {
	if d.Values == nil {
		return decimal.Zero
	}
	return d.Values[name]
}
