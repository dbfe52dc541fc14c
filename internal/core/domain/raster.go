package domain

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/mat"
)

// CRSWGS84 is the geographic CRS the pipeline works in.
const CRSWGS84 = "EPSG:4326"

// GeoTransform maps pixel indices to CRS coordinates for a north-up raster.
// OriginX/OriginY is the outer corner of the top-left pixel; PixelHeight is
// positive and rows grow southward.
type GeoTransform struct {
	OriginX     float64 `json:"origin_x"`
	OriginY     float64 `json:"origin_y"`
	PixelWidth  float64 `json:"pixel_width"`
	PixelHeight float64 `json:"pixel_height"`
}

// PixelCenter returns the CRS coordinate of the centre of pixel (row, col).
func (g GeoTransform) PixelCenter(row, col int) (x, y float64) {
	return g.OriginX + (float64(col)+0.5)*g.PixelWidth, g.OriginY - (float64(row)+0.5)*g.PixelHeight
}

// Fractional returns continuous pixel-centre coordinates of a CRS point:
// integral values fall exactly on pixel centres.
func (g GeoTransform) Fractional(x, y float64) (row, col float64) {
	return (g.OriginY-y)/g.PixelHeight - 0.5, (x-g.OriginX)/g.PixelWidth - 0.5
}

// ElevationRaster is a north-up grid of elevation samples. No-data cells
// hold NaN and are never reported as elevation zero.
type ElevationRaster struct {
	Data      *mat.Dense
	Transform GeoTransform
	CRS       string
	// Source is the area the raster was requested for.
	Source BoundingBox
}

// NewElevationRaster wraps a grid. Values equal to noData become NaN.
func NewElevationRaster(rows, cols int, values []float64, noData *float64, gt GeoTransform, crs string) (*ElevationRaster, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("raster dimensions %dx%d: %w", rows, cols, ErrEmptyCoverage)
	}
	if len(values) != rows*cols {
		return nil, fmt.Errorf("raster has %d values, want %d", len(values), rows*cols)
	}
	if gt.PixelWidth <= 0 || gt.PixelHeight <= 0 {
		return nil, fmt.Errorf("raster pixel size must be positive, got %vx%v", gt.PixelWidth, gt.PixelHeight)
	}
	if noData != nil {
		for i, v := range values {
			if v == *noData {
				values[i] = math.NaN()
			}
		}
	}
	return &ElevationRaster{
		Data:      mat.NewDense(rows, cols, values),
		Transform: gt,
		CRS:       crs,
	}, nil
}

// Dims returns the grid size.
func (r *ElevationRaster) Dims() (rows, cols int) {
	return r.Data.Dims()
}

// At returns the raw sample at (row, col); NaN marks no-data.
func (r *ElevationRaster) At(row, col int) float64 {
	return r.Data.At(row, col)
}

// IsNoData reports whether the cell at (row, col) is flagged no-data.
func (r *ElevationRaster) IsNoData(row, col int) bool {
	return math.IsNaN(r.Data.At(row, col))
}

// Extent returns the outer edges of the raster in its CRS.
func (r *ElevationRaster) Extent() orb.Bound {
	rows, cols := r.Dims()
	gt := r.Transform
	return orb.Bound{
		Min: orb.Point{gt.OriginX, gt.OriginY - float64(rows)*gt.PixelHeight},
		Max: orb.Point{gt.OriginX + float64(cols)*gt.PixelWidth, gt.OriginY},
	}
}

// CenterExtent returns the bound spanned by pixel centres, the area a
// sampler can interpolate over without extrapolating.
func (r *ElevationRaster) CenterExtent() orb.Bound {
	rows, cols := r.Dims()
	minX, maxY := r.Transform.PixelCenter(0, 0)
	maxX, minY := r.Transform.PixelCenter(rows-1, cols-1)
	return orb.Bound{Min: orb.Point{minX, minY}, Max: orb.Point{maxX, maxY}}
}

// NoDataCount returns the number of no-data cells.
func (r *ElevationRaster) NoDataCount() int {
	rows, cols := r.Dims()
	n := 0
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if r.IsNoData(i, j) {
				n++
			}
		}
	}
	return n
}

// BoundsOf converts an orb.Bound in lon/lat to serialisable bounds.
func BoundsOf(b orb.Bound) Bounds {
	return Bounds{MinLon: b.Min.X(), MinLat: b.Min.Y(), MaxLon: b.Max.X(), MaxLat: b.Max.Y()}
}
