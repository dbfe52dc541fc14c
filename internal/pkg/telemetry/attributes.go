package telemetry

import "go.opentelemetry.io/otel/attribute"

// Span attribute keys used across the pipeline.
const (
	AttrRunID      = attribute.Key("terrascene.run_id")
	AttrStage      = attribute.Key("terrascene.stage")
	AttrBBox       = attribute.Key("terrascene.bbox")
	AttrStructures = attribute.Key("terrascene.structures")
	AttrSkipped    = attribute.Key("terrascene.skipped")
	AttrReference  = attribute.Key("terrascene.reference_elevation")
	AttrCacheHit   = attribute.Key("terrascene.cache_hit")
	AttrAttempt    = attribute.Key("terrascene.attempt")
)
