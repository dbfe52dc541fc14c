// Package terrain turns an elevation raster into the scene's terrain mesh,
// reference elevation and height sampler.
package terrain

import (
	"fmt"
	"log/slog"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/meshing"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

// Config tunes terrain processing.
type Config struct {
	// PaddingM is how far beyond the scene box the mesh extends.
	PaddingM float64
	// ResolutionDeg is the grid size used when reprojecting; zero derives it
	// from the source pixel size.
	ResolutionDeg float64
	// MaxEdgeM subdivides terrain triangles with longer edges; zero disables.
	MaxEdgeM float64
}

// Result is everything later stages need from the terrain.
type Result struct {
	Raster    *domain.ElevationRaster
	Mesh      *domain.TerrainMesh
	Sampler   *Sampler
	Reference float64
	Frame     geospatial.LocalFrame
}

// Processor derives the terrain products for one scene.
type Processor struct {
	cfg Config
}

// NewProcessor creates a processor.
func NewProcessor(cfg Config) *Processor {
	return &Processor{cfg: cfg}
}

// Process reprojects r to WGS84 when needed, checks that it covers bbox,
// and builds the reference elevation, terrain mesh and sampler.
func (p *Processor) Process(r *domain.ElevationRaster, bbox domain.BoundingBox) (*Result, error) {
	if r == nil || r.Data == nil {
		return nil, &domain.CoverageError{Reason: domain.ErrEmptyCoverage, Requested: bbox.Bounds()}
	}
	padded := bbox.Pad(p.cfg.PaddingM)

	if !geospatial.SameCRS(r.CRS, domain.CRSWGS84) {
		if err := ensureProjectedCoverage(r, bbox.Bound()); err != nil {
			return nil, err
		}
		res := p.cfg.ResolutionDeg
		if res <= 0 {
			res = r.Transform.PixelWidth / domain.MetersPerDegree
		}
		src := r.CRS
		reprojected, err := Reproject(r, padded.Bound(), res)
		if err != nil {
			return nil, err
		}
		slog.Debug("raster reprojected", "from", src, "to", domain.CRSWGS84, "resolution_deg", res)
		r = reprojected
	}

	// Pixel centres, not pixel edges, bound the mesh, so they are what
	// must enclose the scene.
	if !strictlyContains(r, bbox) {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrIncompleteCoverage,
			Requested: bbox.Bounds(),
			Available: domain.BoundsOf(r.CenterExtent()),
		}
	}

	cropped, err := Crop(r, padded.Bound())
	if err != nil {
		return nil, err
	}
	cropped.Source = bbox

	ref, err := ReferenceElevation(cropped, bbox)
	if err != nil {
		return nil, err
	}

	frame := geospatial.NewLocalFrame(bbox)
	mesh, err := BuildMesh(cropped, frame, ref)
	if err != nil {
		return nil, err
	}
	if p.cfg.MaxEdgeM > 0 {
		meshing.Subdivide(&mesh.Mesh, p.cfg.MaxEdgeM, meshing.MaxSubdivisions)
	}

	want := frame.LocalBounds(bbox)
	if got := mesh.Extent(); !got.StrictlyContains(want) {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrIncompleteCoverage,
			Requested: bbox.Bounds(),
			Available: domain.BoundsOf(cropped.CenterExtent()),
			Detail:    fmt.Sprintf("terrain mesh extent %+v does not enclose scene %+v", got, want),
		}
	}

	slog.Info("terrain processed",
		"reference_elevation", ref,
		"vertices", len(mesh.Vertices),
		"faces", len(mesh.Faces),
		"nodata_cells", cropped.NoDataCount(),
	)

	return &Result{
		Raster:    cropped,
		Mesh:      mesh,
		Sampler:   NewSampler(cropped, frame, ref),
		Reference: ref,
		Frame:     frame,
	}, nil
}

func strictlyContains(r *domain.ElevationRaster, bbox domain.BoundingBox) bool {
	c := r.CenterExtent()
	return c.Min.X() < bbox.MinLon() && c.Min.Y() < bbox.MinLat() &&
		c.Max.X() > bbox.MaxLon() && c.Max.Y() > bbox.MaxLat()
}
