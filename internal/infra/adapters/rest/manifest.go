package rest

import (
	"context"

	"github.com/coachpo/yieldcache/internal/app/provider"
	"github.com/coachpo/yieldcache/internal/infra/adapters/shared"
)

// RegisterFactory registers the REST adapter with reg.
func RegisterFactory(reg *provider.Registry) {
	reg.Register("rest", func(_ context.Context, cfg map[string]any) (provider.Adapter, error) {
		opts := Options{
			Name:          "",
			BaseURL:       "",
			LinesPath:     "",
			DetailPath:    "",
			Headers:       nil,
			Timeout:       0,
			RatePerSecond: defaultRate,
			Burst:         0,
			HTTPClient:    nil,
		}
		if name, ok := shared.String(cfg, "name"); ok {
			opts.Name = name
		}
		if base, ok := shared.String(cfg, "base_url"); ok {
			opts.BaseURL = base
		}
		if path, ok := shared.String(cfg, "lines_path"); ok {
			opts.LinesPath = path
		}
		if path, ok := shared.String(cfg, "detail_path"); ok {
			opts.DetailPath = path
		}
		if headers, ok := shared.StringMap(cfg, "headers"); ok {
			opts.Headers = headers
		}
		if key, ok := shared.String(cfg, "api_key"); ok {
			if opts.Headers == nil {
				opts.Headers = make(map[string]string, 1)
			}
			opts.Headers["X-API-Key"] = key
		}
		if timeout, ok := shared.Duration(cfg, "timeout"); ok {
			opts.Timeout = timeout
		}
		if rps, ok := shared.Float(cfg, "rate_per_second"); ok {
			opts.RatePerSecond = rps
		}
		if burst, ok := shared.Int(cfg, "burst"); ok {
			opts.Burst = burst
		}
		return New(opts)
	})
}
