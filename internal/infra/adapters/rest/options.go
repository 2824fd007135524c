package rest

import (
	"net/http"
	"strings"
	"time"
)

const (
	defaultLinesPath  = "/{partition}/batches/{batch}/lines"
	defaultDetailPath = "/{partition}/lines/{line}"
	defaultTimeout    = 10 * time.Second
	defaultRate       = 5.0
	defaultBurst      = 5
	errorBodyLimit    = 4 << 10
)

// Options configures the JSON-over-HTTP adapter. Paths may reference
// {partition}, {batch} and {line}; values are path-escaped.
type Options struct {
	Name       string
	BaseURL    string
	LinesPath  string
	DetailPath string
	Headers    map[string]string
	Timeout    time.Duration
	// RatePerSecond bounds outgoing requests; zero or less disables throttling.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
}

func (o Options) normalize() Options {
	o.BaseURL = strings.TrimRight(strings.TrimSpace(o.BaseURL), "/")
	if o.Name == "" {
		o.Name = "rest"
	}
	if strings.TrimSpace(o.LinesPath) == "" {
		o.LinesPath = defaultLinesPath
	}
	if strings.TrimSpace(o.DetailPath) == "" {
		o.DetailPath = defaultDetailPath
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	if o.Burst <= 0 {
		o.Burst = defaultBurst
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: o.Timeout}
	}
	return o
}
