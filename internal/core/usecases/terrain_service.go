package usecases

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/core/terrain"
)

// TerrainConfig controls DEM acquisition and processing.
type TerrainConfig struct {
	PaddingM      float64
	ResolutionDeg float64
	CRS           string
	MaxEdgeM      float64
}

// TerrainService acquires the elevation raster for a scene and turns it
// into the terrain mesh, reference elevation and height sampler.
type TerrainService struct {
	provider  ports.CoverageProvider
	processor *terrain.Processor
	cfg       TerrainConfig
}

// NewTerrainService creates a new TerrainService.
func NewTerrainService(provider ports.CoverageProvider, cfg TerrainConfig) *TerrainService {
	if cfg.CRS == "" {
		cfg.CRS = domain.CRSWGS84
	}
	return &TerrainService{
		provider: provider,
		processor: terrain.NewProcessor(terrain.Config{
			PaddingM:      cfg.PaddingM,
			ResolutionDeg: cfg.ResolutionDeg,
			MaxEdgeM:      cfg.MaxEdgeM,
		}),
		cfg: cfg,
	}
}

// Acquire downloads the raster for bbox, padded so the terrain mesh extends
// past the scene edges.
func (s *TerrainService) Acquire(ctx context.Context, bbox domain.BoundingBox) (*domain.ElevationRaster, error) {
	req := ports.CoverageRequest{
		Area:          bbox,
		Padded:        bbox.Pad(s.cfg.PaddingM),
		ResolutionDeg: s.cfg.ResolutionDeg,
		CRS:           s.cfg.CRS,
	}
	raster, err := s.provider.FetchCoverage(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("fetch coverage: %w", err)
	}
	if raster == nil {
		return nil, &domain.CoverageError{Reason: domain.ErrEmptyCoverage, Requested: bbox.Bounds()}
	}
	raster.Source = bbox
	rows, cols := raster.Dims()
	slog.Info("DEM acquired", "rows", rows, "cols", cols, "crs", raster.CRS)
	return raster, nil
}

// Process derives the terrain products from an acquired raster.
func (s *TerrainService) Process(raster *domain.ElevationRaster, bbox domain.BoundingBox) (*terrain.Result, error) {
	return s.processor.Process(raster, bbox)
}
