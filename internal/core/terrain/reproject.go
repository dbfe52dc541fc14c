package terrain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

// edgeSamples is the number of points tested along each side of an area
// when checking that a projected raster still covers it.
const edgeSamples = 32

// Reproject resamples r onto a lon/lat grid spanning target with square
// pixels of res degrees. Rasters already in WGS84 are returned unchanged.
// Destination pixels outside the source, or over source no-data, are NaN.
func Reproject(r *domain.ElevationRaster, target orb.Bound, res float64) (*domain.ElevationRaster, error) {
	if geospatial.SameCRS(r.CRS, domain.CRSWGS84) {
		return r, nil
	}
	proj, err := geospatial.ForCRS(r.CRS)
	if err != nil {
		return nil, fmt.Errorf("reproject: %w", err)
	}
	if res <= 0 {
		return nil, fmt.Errorf("reproject: resolution must be positive, got %v", res)
	}

	cols := int(math.Ceil((target.Max.X() - target.Min.X()) / res))
	rows := int(math.Ceil((target.Max.Y() - target.Min.Y()) / res))
	if rows <= 0 || cols <= 0 {
		return nil, &domain.CoverageError{Reason: domain.ErrEmptyCoverage, Requested: domain.BoundsOf(target)}
	}
	gt := domain.GeoTransform{
		OriginX:     target.Min.X(),
		OriginY:     target.Max.Y(),
		PixelWidth:  res,
		PixelHeight: res,
	}

	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lon, lat := gt.PixelCenter(i, j)
			x, y := proj.Forward(lon, lat)
			v, err := sampleRaw(r, x, y)
			if err != nil {
				v = math.NaN()
			}
			out.Set(i, j, v)
		}
	}

	return &domain.ElevationRaster{
		Data:      out,
		Transform: gt,
		CRS:       domain.CRSWGS84,
		Source:    r.Source,
	}, nil
}

// ensureProjectedCoverage fails when the source raster, seen from WGS84,
// does not enclose area. Reprojection turns such gaps into no-data borders.
func ensureProjectedCoverage(r *domain.ElevationRaster, area orb.Bound) error {
	if geospatial.SameCRS(r.CRS, domain.CRSWGS84) {
		return nil
	}
	proj, err := geospatial.ForCRS(r.CRS)
	if err != nil {
		return fmt.Errorf("coverage check: %w", err)
	}
	ext := r.Extent()
	for _, p := range boundaryPoints(area) {
		x, y := proj.Forward(p.X(), p.Y())
		if !ext.Contains(orb.Point{x, y}) {
			return &domain.CoverageError{
				Reason:    domain.ErrIncompleteCoverage,
				Requested: domain.BoundsOf(area),
				Available: domain.BoundsOf(unprojectBound(proj, ext)),
				Detail:    fmt.Sprintf("reprojected raster leaves %.6f,%.6f uncovered", p.X(), p.Y()),
			}
		}
	}
	return nil
}

func boundaryPoints(b orb.Bound) []orb.Point {
	pts := make([]orb.Point, 0, 4*edgeSamples)
	w := b.Max.X() - b.Min.X()
	h := b.Max.Y() - b.Min.Y()
	for i := 0; i < edgeSamples; i++ {
		f := float64(i) / edgeSamples
		pts = append(pts,
			orb.Point{b.Min.X() + f*w, b.Min.Y()},
			orb.Point{b.Max.X(), b.Min.Y() + f*h},
			orb.Point{b.Max.X() - f*w, b.Max.Y()},
			orb.Point{b.Min.X(), b.Max.Y() - f*h},
		)
	}
	return pts
}

func unprojectBound(p geospatial.Projection, b orb.Bound) orb.Bound {
	minLon, minLat := p.Inverse(b.Min.X(), b.Min.Y())
	maxLon, maxLat := p.Inverse(b.Max.X(), b.Max.Y())
	return orb.Bound{Min: orb.Point{minLon, minLat}, Max: orb.Point{maxLon, maxLat}}
}
