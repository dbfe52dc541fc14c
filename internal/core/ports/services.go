package ports

import (
	"context"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// HeightSampler answers elevation queries in the local-meter frame. The
// returned elevation is relative to the scene's reference elevation.
// Implementations are read-only and safe for concurrent use.
type HeightSampler interface {
	Elevation(p domain.LocalPoint) (float64, error)
}

// GriddedSampler is a HeightSampler over a raster that can report its
// cell size in meters.
type GriddedSampler interface {
	HeightSampler
	CellSize() float64
}

// CoverageRequest describes the elevation raster to acquire.
type CoverageRequest struct {
	// Area is the scene bounding box; Padded is what is actually requested.
	Area          domain.BoundingBox
	Padded        domain.BoundingBox
	ResolutionDeg float64
	CRS           string
}

// CoverageProvider acquires elevation rasters (a WCS endpoint in production).
type CoverageProvider interface {
	FetchCoverage(ctx context.Context, req CoverageRequest) (*domain.ElevationRaster, error)
}

// FeatureSource fetches tagged OSM features for an area.
type FeatureSource interface {
	TelecomFeatures(ctx context.Context, bbox domain.BoundingBox) ([]domain.TelecomFeature, error)
}

// BaseSceneGenerator produces the initial scene (scene description, ground
// and per-building meshes) into dir.
type BaseSceneGenerator interface {
	Generate(ctx context.Context, bbox domain.BoundingBox, materials domain.MaterialConfig, dir string) error
}

// MeshStore reads and writes mesh assets relative to a scene directory.
type MeshStore interface {
	List(pattern string) ([]string, error)
	Load(name string) (*domain.Mesh, error)
	Save(name string, m *domain.Mesh) error
	Remove(name string) error
}

// SceneDescription edits the ray tracer's scene file in place.
type SceneDescription interface {
	RemoveShapesByFilenames(filenames map[string]bool) (bsdfID string, removed int)
	AddMeshShape(filename, shapeID, bsdfID string) bool
	EnsureRadioMaterial(bsdfID, material string) bool
	Save() error
}

// SceneDescriptionOpener opens the scene description inside a scene directory.
type SceneDescriptionOpener func(dir string) (SceneDescription, error)

// EventPublisher publishes run progress and provisioning events.
type EventPublisher interface {
	PublishRunEvent(ctx context.Context, ev *domain.RunEvent) error
	PublishTransmitters(ctx context.Context, runID string, txs []domain.Transmitter) error
}

// TransmitterRegistry provisions a run's transmitters as digital twins.
type TransmitterRegistry interface {
	Provision(ctx context.Context, txs []domain.Transmitter) error
}

// CacheService provides byte caching with a TTL.
type CacheService interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	Delete(ctx context.Context, key string) error
}

// RunScheduler starts generation runs asynchronously.
type RunScheduler interface {
	Schedule(ctx context.Context, runID string, bounds domain.Bounds, materials domain.MaterialConfig) error
}
