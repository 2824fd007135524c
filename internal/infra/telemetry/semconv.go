package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys shared by the engine's instruments.
const (
	// AttrEnvironment specifies the deployment environment (dev/staging/prod) for every metric.
	AttrEnvironment = attribute.Key("environment")
	// AttrPartition identifies the isolation domain (network) a signal belongs to.
	AttrPartition = attribute.Key("partition")
	// AttrPipeline names the indexing pipeline (e.g. uniswap-pools).
	AttrPipeline = attribute.Key("pipeline")
	// AttrPhase distinguishes discovery from fill passes.
	AttrPhase = attribute.Key("phase")
	// AttrTier labels cache lookups by tier (near, remote).
	AttrTier = attribute.Key("tier")
	// AttrResult records the outcome of an operation.
	AttrResult = attribute.Key("result")
	// AttrErrorType categorizes failures by error code.
	AttrErrorType = attribute.Key("error.type")
)

// Phase values.
const (
	PhaseDiscover = "discover"
	PhaseFill     = "fill"
)

// Result values.
const (
	ResultHit     = "hit"
	ResultMiss    = "miss"
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultSkipped = "skipped"
	ResultIdle    = "idle"
	ResultStale   = "stale"
)

// PassAttributes returns the attributes identifying one pass.
func PassAttributes(partition, pipeline, phase string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrPartition.String(partition),
		AttrPipeline.String(pipeline),
		AttrPhase.String(phase),
	}
}

// CacheAttributes returns attributes for cache lookups.
func CacheAttributes(tier, result string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrEnvironment.String(Environment()),
		AttrTier.String(tier),
		AttrResult.String(result),
	}
}
