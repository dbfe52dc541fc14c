package terrain_test

import (
	"errors"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/terrain"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

const res = 0.0009

func sceneBox(t *testing.T) domain.BoundingBox {
	t.Helper()
	bbox, err := domain.NewBoundingBox(11.106, 46.056, 11.153, 46.077)
	require.NoError(t, err)
	return bbox
}

// gridOver builds a WGS84 raster extending margin degrees beyond bound,
// with each cell set by elev(lon, lat) at its centre.
func gridOver(t *testing.T, bound orb.Bound, margin float64, elev func(lon, lat float64) float64) *domain.ElevationRaster {
	t.Helper()
	gt := domain.GeoTransform{
		OriginX:     bound.Min.X() - margin,
		OriginY:     bound.Max.Y() + margin,
		PixelWidth:  res,
		PixelHeight: res,
	}
	cols := int(math.Ceil((bound.Max.X() - bound.Min.X() + 2*margin) / res))
	rows := int(math.Ceil((bound.Max.Y() - bound.Min.Y() + 2*margin) / res))
	values := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			lon, lat := gt.PixelCenter(i, j)
			values[i*cols+j] = elev(lon, lat)
		}
	}
	r, err := domain.NewElevationRaster(rows, cols, values, nil, gt, domain.CRSWGS84)
	require.NoError(t, err)
	return r
}

func flat(e float64) func(lon, lat float64) float64 {
	return func(float64, float64) float64 { return e }
}

func slope(lon, lat float64) float64 {
	return 200 + 3000*(lon-11.1) + 5000*(lat-46.05)
}

func process(t *testing.T, r *domain.ElevationRaster, bbox domain.BoundingBox) *terrain.Result {
	t.Helper()
	out, err := terrain.NewProcessor(terrain.Config{PaddingM: 100}).Process(r, bbox)
	require.NoError(t, err)
	return out
}

func TestFlatScene(t *testing.T) {
	bbox := sceneBox(t)
	out := process(t, gridOver(t, bbox.Bound(), 0.005, flat(250)), bbox)

	assert.InDelta(t, 250.0, out.Reference, 1e-9)
	assert.Equal(t, out.Reference, out.Mesh.Reference)
	for _, v := range out.Mesh.Vertices {
		require.InDelta(t, 0.0, v.Z, 1e-9)
	}

	for _, p := range []domain.LocalPoint{{}, {X: 1000, Y: -800}, {X: -1700, Y: 1100}} {
		z, err := out.Sampler.Elevation(p)
		require.NoError(t, err)
		assert.InDelta(t, 0.0, z, 1e-9)
	}
}

func TestReferenceElevationIdempotent(t *testing.T) {
	bbox := sceneBox(t)
	r := gridOver(t, bbox.Bound(), 0.005, slope)

	a, err := terrain.ReferenceElevation(r, bbox)
	require.NoError(t, err)
	b, err := terrain.ReferenceElevation(r, bbox)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c := bbox.Center()
	assert.InDelta(t, slope(c.Lon, c.Lat), a, 1e-6)

	first := process(t, r, bbox)
	second := process(t, r, bbox)
	assert.Equal(t, first.Reference, second.Reference)
}

func TestTerrainCoversScene(t *testing.T) {
	bbox := sceneBox(t)
	out := process(t, gridOver(t, bbox.Bound(), 0.005, slope), bbox)

	want := geospatial.NewLocalFrame(bbox).LocalBounds(bbox)
	got := out.Mesh.Extent()
	assert.True(t, got.StrictlyContains(want), "mesh %+v does not enclose %+v", got, want)
}

func TestSamplerBilinearIsExactOnPlanes(t *testing.T) {
	bbox := sceneBox(t)
	out := process(t, gridOver(t, bbox.Bound(), 0.005, slope), bbox)
	frame := out.Sampler.Frame()

	for _, p := range []domain.LocalPoint{{X: 12.3, Y: 45.6}, {X: -1500, Y: 900}, {X: 1790, Y: -1150}} {
		z, err := out.Sampler.Elevation(p)
		require.NoError(t, err)
		lon, lat := frame.ToGlobal(p)
		assert.InDelta(t, slope(lon, lat)-out.Reference, z, 1e-6)
	}
}

func TestSamplerOutsideCoverageIsError(t *testing.T) {
	bbox := sceneBox(t)
	out := process(t, gridOver(t, bbox.Bound(), 0.005, flat(250)), bbox)

	z, err := out.Sampler.Elevation(domain.LocalPoint{X: 50000, Y: 0})
	require.Error(t, err)
	assert.Zero(t, z)

	var se *domain.SamplingError
	require.True(t, errors.As(err, &se))
	assert.ErrorIs(t, err, domain.ErrOutsideRaster)
	assert.Equal(t, 50000.0, se.X)
}

func TestSamplerNoDataIsError(t *testing.T) {
	bbox := sceneBox(t)
	frame := geospatial.NewLocalFrame(bbox)
	holeLon, holeLat := frame.ToGlobal(domain.LocalPoint{X: 800, Y: 400})
	r := gridOver(t, bbox.Bound(), 0.005, func(lon, lat float64) float64 {
		if math.Abs(lon-holeLon) < res && math.Abs(lat-holeLat) < res {
			return math.NaN()
		}
		return 250
	})
	require.Positive(t, r.NoDataCount())

	out := process(t, r, bbox)
	_, err := out.Sampler.Elevation(domain.LocalPoint{X: 800, Y: 400})
	assert.ErrorIs(t, err, domain.ErrNoData)

	z, err := out.Sampler.Elevation(domain.LocalPoint{X: -800, Y: -400})
	require.NoError(t, err)
	assert.InDelta(t, 0.0, z, 1e-9)
}

func TestProcessRejectsShortCoverage(t *testing.T) {
	bbox := sceneBox(t)
	inner, err := domain.NewBoundingBox(11.11, 46.06, 11.15, 46.07)
	require.NoError(t, err)

	_, err = terrain.NewProcessor(terrain.Config{PaddingM: 100}).Process(gridOver(t, inner.Bound(), 0, flat(250)), bbox)
	var ce *domain.CoverageError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.ErrorIs(t, err, domain.ErrIncompleteCoverage)
	assert.Equal(t, bbox.Bounds(), ce.Requested)
}

func TestProcessRejectsNilRaster(t *testing.T) {
	_, err := terrain.NewProcessor(terrain.Config{}).Process(nil, sceneBox(t))
	assert.ErrorIs(t, err, domain.ErrEmptyCoverage)
}

func TestProcessCropsToPaddedArea(t *testing.T) {
	bbox := sceneBox(t)
	r := gridOver(t, bbox.Bound(), 0.05, flat(250))
	out := process(t, r, bbox)

	rows, cols := out.Raster.Dims()
	srcRows, srcCols := r.Dims()
	assert.Less(t, rows, srcRows)
	assert.Less(t, cols, srcCols)
	assert.Equal(t, bbox, out.Raster.Source)

	ext := out.Raster.CenterExtent()
	padded := bbox.Pad(100).Bound()
	assert.LessOrEqual(t, ext.Min.X(), padded.Min.X())
	assert.GreaterOrEqual(t, ext.Max.Y(), padded.Max.Y())
}

func TestProcessSubdivides(t *testing.T) {
	bbox := sceneBox(t)
	r := gridOver(t, bbox.Bound(), 0.005, flat(250))
	plain := process(t, r, bbox)

	fine, err := terrain.NewProcessor(terrain.Config{PaddingM: 100, MaxEdgeM: 60}).Process(r, bbox)
	require.NoError(t, err)
	assert.Greater(t, len(fine.Mesh.Faces), len(plain.Mesh.Faces))
}

func TestBuildMeshDropsNoData(t *testing.T) {
	gt := domain.GeoTransform{OriginX: 11.0, OriginY: 46.003, PixelWidth: 0.001, PixelHeight: 0.001}
	nd := -9999.0
	values := []float64{
		-9999, 10, 10,
		10, 12, 10,
		10, 10, 10,
	}
	r, err := domain.NewElevationRaster(3, 3, values, &nd, gt, domain.CRSWGS84)
	require.NoError(t, err)
	assert.Equal(t, 1, r.NoDataCount())

	frame := geospatial.NewLocalFrameAt(domain.GeoPoint{Lat: 46.0015, Lon: 11.0015})
	m, err := terrain.BuildMesh(r, frame, 10)
	require.NoError(t, err)

	assert.Len(t, m.Faces, 7)
	assert.Len(t, m.Vertices, 8)
	for _, v := range m.Vertices {
		assert.False(t, math.IsNaN(v.Z))
	}
	assert.Equal(t, 2.0, maxZ(m.Vertices))

	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
		assert.Positive(t, n.Z, "face %v faces down", f)
	}
}

func TestBuildMeshNeedsTwoRows(t *testing.T) {
	gt := domain.GeoTransform{OriginX: 11, OriginY: 46, PixelWidth: 0.001, PixelHeight: 0.001}
	r, err := domain.NewElevationRaster(1, 4, []float64{1, 2, 3, 4}, nil, gt, domain.CRSWGS84)
	require.NoError(t, err)
	_, err = terrain.BuildMesh(r, geospatial.NewLocalFrameAt(domain.GeoPoint{Lat: 46, Lon: 11}), 0)
	assert.ErrorIs(t, err, domain.ErrEmptyCoverage)
}

func TestCrop(t *testing.T) {
	bbox := sceneBox(t)
	r := gridOver(t, bbox.Bound(), 0.01, slope)
	c, err := terrain.Crop(r, bbox.Bound())
	require.NoError(t, err)

	ext := c.CenterExtent()
	assert.LessOrEqual(t, ext.Min.X(), bbox.MinLon())
	assert.LessOrEqual(t, ext.Min.Y(), bbox.MinLat())
	assert.GreaterOrEqual(t, ext.Max.X(), bbox.MaxLon())
	assert.GreaterOrEqual(t, ext.Max.Y(), bbox.MaxLat())

	// Cropping copies samples without shifting them.
	lon, lat := c.Transform.PixelCenter(3, 4)
	assert.InDelta(t, slope(lon, lat), c.At(3, 4), 1e-9)

	far := orb.Bound{Min: orb.Point{20, 20}, Max: orb.Point{21, 21}}
	_, err = terrain.Crop(r, far)
	assert.ErrorIs(t, err, domain.ErrEmptyCoverage)
}

// utmRaster builds an EPSG:32632 raster with 20 m pixels around bound.
func utmRaster(t *testing.T, bound orb.Bound, elev func(x, y float64) float64) *domain.ElevationRaster {
	t.Helper()
	proj, err := geospatial.ForCRS("EPSG:32632")
	require.NoError(t, err)
	ub := geospatial.ProjectBound(proj, bound)
	const px = 20.0
	gt := domain.GeoTransform{
		OriginX:     math.Floor(ub.Min.X()/px)*px - 500,
		OriginY:     math.Ceil(ub.Max.Y()/px)*px + 500,
		PixelWidth:  px,
		PixelHeight: px,
	}
	cols := int(math.Ceil((ub.Max.X()+500-gt.OriginX)/px)) + 1
	rows := int(math.Ceil((gt.OriginY-ub.Min.Y()+500)/px)) + 1
	values := make([]float64, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			x, y := gt.PixelCenter(i, j)
			values[i*cols+j] = elev(x, y)
		}
	}
	r, err := domain.NewElevationRaster(rows, cols, values, nil, gt, "EPSG:32632")
	require.NoError(t, err)
	return r
}

func TestProcessReprojectsUTM(t *testing.T) {
	bbox := sceneBox(t)
	elev := func(x, y float64) float64 { return 300 + 0.01*(x-660000) }
	out := process(t, utmRaster(t, bbox.Bound(), elev), bbox)

	assert.Equal(t, domain.CRSWGS84, out.Raster.CRS)
	proj, err := geospatial.ForCRS("EPSG:32632")
	require.NoError(t, err)
	c := bbox.Center()
	x, y := proj.Forward(c.Lon, c.Lat)
	assert.InDelta(t, elev(x, y), out.Reference, 0.05)

	want := geospatial.NewLocalFrame(bbox).LocalBounds(bbox)
	assert.True(t, out.Mesh.Extent().StrictlyContains(want))
}

func TestProcessUTMCoverageGap(t *testing.T) {
	bbox := sceneBox(t)
	west, err := domain.NewBoundingBox(bbox.MinLon(), bbox.MinLat(), 11.12, bbox.MaxLat())
	require.NoError(t, err)
	r := utmRaster(t, west.Bound(), func(float64, float64) float64 { return 100 })

	_, err = terrain.NewProcessor(terrain.Config{PaddingM: 100}).Process(r, bbox)
	var ce *domain.CoverageError
	require.True(t, errors.As(err, &ce), "got %v", err)
	assert.ErrorIs(t, err, domain.ErrIncompleteCoverage)
}

func TestReprojectKeepsWGS84(t *testing.T) {
	bbox := sceneBox(t)
	r := gridOver(t, bbox.Bound(), 0.005, slope)
	out, err := terrain.Reproject(r, bbox.Bound(), res)
	require.NoError(t, err)
	assert.Same(t, r, out)
}

func maxZ(vs []r3.Vec) float64 {
	z := math.Inf(-1)
	for _, v := range vs {
		z = math.Max(z, v.Z)
	}
	return z
}
