package terrain

import (
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Crop returns the smallest window of r whose pixel centres enclose bound,
// clamped to the raster. The data is copied; r is left untouched.
func Crop(r *domain.ElevationRaster, bound orb.Bound) (*domain.ElevationRaster, error) {
	ext := r.Extent()
	if !ext.Intersects(bound) {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrEmptyCoverage,
			Requested: domain.BoundsOf(bound),
			Available: domain.BoundsOf(ext),
			Detail:    "crop window does not intersect raster",
		}
	}

	rows, cols := r.Dims()
	topRow, leftCol := r.Transform.Fractional(bound.Min.X(), bound.Max.Y())
	bottomRow, rightCol := r.Transform.Fractional(bound.Max.X(), bound.Min.Y())

	r0 := clampIndex(math.Floor(topRow), rows)
	r1 := clampIndex(math.Ceil(bottomRow), rows)
	c0 := clampIndex(math.Floor(leftCol), cols)
	c1 := clampIndex(math.Ceil(rightCol), cols)

	gt := r.Transform
	gt.OriginX += float64(c0) * gt.PixelWidth
	gt.OriginY -= float64(r0) * gt.PixelHeight

	return &domain.ElevationRaster{
		Data:      mat.DenseCopyOf(r.Data.Slice(r0, r1+1, c0, c1+1)),
		Transform: gt,
		CRS:       r.CRS,
		Source:    r.Source,
	}, nil
}

func clampIndex(v float64, n int) int {
	return int(clamp(v, 0, float64(n-1)))
}
