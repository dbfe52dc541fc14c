package terrain

import (
	"math"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

// Sampler answers elevation queries in the local-meter frame by bilinear
// interpolation between the four pixel centres around the query point.
// It never mutates its raster and is safe for concurrent use.
type Sampler struct {
	raster    *domain.ElevationRaster
	frame     geospatial.LocalFrame
	reference float64
}

// NewSampler builds a sampler over a lon/lat raster. Returned elevations are
// relative to reference.
func NewSampler(r *domain.ElevationRaster, frame geospatial.LocalFrame, reference float64) *Sampler {
	return &Sampler{raster: r, frame: frame, reference: reference}
}

// Reference returns the elevation subtracted from every sample.
func (s *Sampler) Reference() float64 { return s.reference }

// Frame returns the local frame queries are expressed in.
func (s *Sampler) Frame() geospatial.LocalFrame { return s.frame }

// CellSize returns the smaller raster pixel dimension in meters.
func (s *Sampler) CellSize() float64 {
	gt := s.raster.Transform
	kx := domain.MetersPerDegree * math.Cos(s.frame.Origin().Lat*math.Pi/180)
	return math.Min(gt.PixelWidth*kx, gt.PixelHeight*domain.MetersPerDegree)
}

// Elevation returns the terrain elevation at p relative to the reference.
// Points outside the raster or over no-data yield a *domain.SamplingError.
func (s *Sampler) Elevation(p domain.LocalPoint) (float64, error) {
	lon, lat := s.frame.ToGlobal(p)
	v, err := sampleRaw(s.raster, lon, lat)
	if err != nil {
		return 0, &domain.SamplingError{X: p.X, Y: p.Y, Lon: lon, Lat: lat, Reason: err}
	}
	return v - s.reference, nil
}

// sampleRaw interpolates the raster at a point in its own CRS.
func sampleRaw(r *domain.ElevationRaster, x, y float64) (float64, error) {
	ext := r.Extent()
	if x < ext.Min.X() || x > ext.Max.X() || y < ext.Min.Y() || y > ext.Max.Y() {
		return 0, domain.ErrOutsideRaster
	}
	row, col := r.Transform.Fractional(x, y)
	return bilinear(r, row, col)
}

// bilinear interpolates at fractional pixel-centre indices. Inside the outer
// half pixel the indices are clamped to the edge samples. A neighbour that
// contributes to the result and is no-data makes the whole sample fail.
func bilinear(r *domain.ElevationRaster, row, col float64) (float64, error) {
	rows, cols := r.Dims()
	row = clamp(row, 0, float64(rows-1))
	col = clamp(col, 0, float64(cols-1))

	r0, c0 := int(math.Floor(row)), int(math.Floor(col))
	r1, c1 := min(r0+1, rows-1), min(c0+1, cols-1)
	wr, wc := row-float64(r0), col-float64(c0)

	var sum float64
	for _, n := range [4]struct {
		r, c int
		w    float64
	}{
		{r0, c0, (1 - wr) * (1 - wc)},
		{r0, c1, (1 - wr) * wc},
		{r1, c0, wr * (1 - wc)},
		{r1, c1, wr * wc},
	} {
		if n.w == 0 {
			continue
		}
		v := r.At(n.r, n.c)
		if math.IsNaN(v) {
			return 0, domain.ErrNoData
		}
		sum += n.w * v
	}
	return sum, nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
