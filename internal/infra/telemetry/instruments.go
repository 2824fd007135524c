package telemetry

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Instrument names.
const (
	MetricCacheLookups  = "yieldcache.cache.lookups"
	MetricPassDuration  = "yieldcache.pass.duration"
	MetricPassOutcomes  = "yieldcache.pass.outcomes"
	MetricRetryAttempts = "yieldcache.retry.attempts"
	MetricColdFallbacks = "yieldcache.cold.fallbacks"
)

const meterName = "yieldcache.engine"

// Instruments bundles the engine's counters and histograms. A nil
// *Instruments records nothing.
type Instruments struct {
	cacheLookups  metric.Int64Counter
	passDuration  metric.Float64Histogram
	passOutcomes  metric.Int64Counter
	retryAttempts metric.Int64Counter
	coldFallbacks metric.Int64Counter
}

var (
	defaultOnce        sync.Once
	defaultInstruments *Instruments
)

// Default returns instruments bound to the global meter provider. Instruments
// that fail to register are left nil and skipped.
func Default() *Instruments {
	defaultOnce.Do(func() {
		defaultInstruments = NewInstruments(otel.Meter(meterName))
	})
	return defaultInstruments
}

// NewInstruments registers the engine instruments on meter.
func NewInstruments(meter metric.Meter) *Instruments {
	inst := new(Instruments)
	if c, err := meter.Int64Counter(MetricCacheLookups,
		metric.WithDescription("Cache facade lookups by tier and result"),
		metric.WithUnit("{lookup}")); err == nil {
		inst.cacheLookups = c
	}
	if h, err := meter.Float64Histogram(MetricPassDuration,
		metric.WithDescription("Indexing pass duration"),
		metric.WithUnit("ms")); err == nil {
		inst.passDuration = h
	}
	if c, err := meter.Int64Counter(MetricPassOutcomes,
		metric.WithDescription("Indexing pass outcomes"),
		metric.WithUnit("{pass}")); err == nil {
		inst.passOutcomes = c
	}
	if c, err := meter.Int64Counter(MetricRetryAttempts,
		metric.WithDescription("Remote call attempts made under the retry policy"),
		metric.WithUnit("{attempt}")); err == nil {
		inst.retryAttempts = c
	}
	if c, err := meter.Int64Counter(MetricColdFallbacks,
		metric.WithDescription("Cold snapshot reads served after a failed refresh"),
		metric.WithUnit("{read}")); err == nil {
		inst.coldFallbacks = c
	}
	return inst
}

// CacheLookup counts one lookup against a cache tier.
func (i *Instruments) CacheLookup(ctx context.Context, tier string, hit bool) {
	if i == nil || i.cacheLookups == nil {
		return
	}
	result := ResultMiss
	if hit {
		result = ResultHit
	}
	i.cacheLookups.Add(ctx, 1, metric.WithAttributes(CacheAttributes(tier, result)...))
}

// Pass records the duration and outcome of one pass.
func (i *Instruments) Pass(ctx context.Context, attrs []attribute.KeyValue, result string, elapsed time.Duration) {
	if i == nil {
		return
	}
	if i.passDuration != nil {
		i.passDuration.Record(ctx, float64(elapsed)/float64(time.Millisecond), metric.WithAttributes(attrs...))
	}
	if i.passOutcomes != nil {
		withResult := append(append([]attribute.KeyValue(nil), attrs...), AttrResult.String(result))
		i.passOutcomes.Add(ctx, 1, metric.WithAttributes(withResult...))
	}
}

// RetryAttempt counts one attempt; errType is empty for successful attempts.
func (i *Instruments) RetryAttempt(ctx context.Context, errType string) {
	if i == nil || i.retryAttempts == nil {
		return
	}
	result := ResultSuccess
	if errType != "" {
		result = ResultFailure
	}
	i.retryAttempts.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		AttrResult.String(result),
		AttrErrorType.String(errType),
	))
}

// ColdFallback counts one stale snapshot served in place of a failed refresh.
func (i *Instruments) ColdFallback(ctx context.Context, kind string) {
	if i == nil || i.coldFallbacks == nil {
		return
	}
	i.coldFallbacks.Add(ctx, 1, metric.WithAttributes(
		AttrEnvironment.String(Environment()),
		attribute.String("kind", kind),
	))
}
