package fake

import (
	"time"
)

const (
	defaultName          = "fake"
	defaultLinesPerBatch = 3
)

// Options configures the synthetic adapter.
type Options struct {
	Name          string
	LinesPerBatch int
	// Latency delays every call; it honours context cancellation.
	Latency time.Duration
	// FailingLines lists line ids whose detail fetch always fails.
	FailingLines []string
	// FailingBatches lists batch ids whose discovery always fails.
	FailingBatches []string
	// EmptyBatches lists batch ids that legitimately have no lines.
	EmptyBatches []string
	Clock        func() time.Time
}

func (o Options) normalize() Options {
	if o.Name == "" {
		o.Name = defaultName
	}
	if o.LinesPerBatch <= 0 {
		o.LinesPerBatch = defaultLinesPerBatch
	}
	if o.Latency < 0 {
		o.Latency = 0
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}
