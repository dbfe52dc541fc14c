package meshing_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/meshing"
)

// quad returns two triangles over a unit square with every corner
// duplicated, the way per-face exporters write them.
func quad() *domain.Mesh {
	return &domain.Mesh{
		Vertices: []r3.Vec{
			{X: 0, Y: 0}, {X: 1, Y: 0}, {X: 1, Y: 1},
			{X: 0, Y: 0}, {X: 1, Y: 1}, {X: 0, Y: 1},
		},
		Faces: []domain.Face{{0, 1, 2}, {3, 4, 5}},
	}
}

func TestWeldMergesDuplicates(t *testing.T) {
	m := quad()
	n := meshing.Weld(m, 1e-6)
	assert.Equal(t, 2, n)
	assert.Len(t, m.Vertices, 4)
	assert.Equal(t, m.Faces[0][0], m.Faces[1][0])
	assert.Equal(t, m.Faces[0][2], m.Faces[1][1])
}

func TestWeldTolerance(t *testing.T) {
	m := &domain.Mesh{
		Vertices: []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: 0.0004, Y: 0, Z: 0}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
		Faces:    []domain.Face{{0, 2, 3}, {1, 2, 3}},
	}
	assert.Equal(t, 0, meshing.Weld(m.Clone(), 0))
	assert.Equal(t, 1, meshing.Weld(m, 0.001))
}

func TestWeldExactSignedZero(t *testing.T) {
	negZero := math.Copysign(0, -1)
	m := &domain.Mesh{
		Vertices: []r3.Vec{{X: 0, Y: 0, Z: 0}, {X: negZero, Y: 0, Z: negZero}, {X: 1, Y: 0, Z: 0}, {X: 0, Y: 1, Z: 0}},
		Faces:    []domain.Face{{0, 2, 3}, {1, 2, 3}},
	}
	assert.Equal(t, 1, meshing.Weld(m, 0))
	assert.Len(t, m.Vertices, 3)
	assert.Equal(t, m.Faces[0], m.Faces[1])
}

func TestRemoveDegenerate(t *testing.T) {
	m := &domain.Mesh{
		Vertices: []r3.Vec{{X: 0}, {X: 1}, {X: 2}, {X: 0, Y: 1}},
		Faces: []domain.Face{
			{0, 1, 3}, // valid
			{0, 1, 2}, // collinear
			{1, 1, 3}, // repeated index
		},
	}
	assert.Equal(t, 2, meshing.RemoveDegenerate(m, 1e-9))
	assert.Equal(t, []domain.Face{{0, 1, 3}}, m.Faces)
}

func TestCompactPreservesOrder(t *testing.T) {
	m := &domain.Mesh{
		Vertices: []r3.Vec{{X: 0}, {X: 9}, {X: 1}, {X: 9}, {X: 0, Y: 1}},
		Faces:    []domain.Face{{0, 2, 4}},
	}
	assert.Equal(t, 2, meshing.Compact(m))
	assert.Equal(t, []r3.Vec{{X: 0}, {X: 1}, {X: 0, Y: 1}}, m.Vertices)
	assert.Equal(t, []domain.Face{{0, 1, 2}}, m.Faces)
}

func TestOptimize(t *testing.T) {
	m := quad()
	m.Vertices = append(m.Vertices, r3.Vec{X: 5, Y: 5})
	s := meshing.Optimize(m, meshing.Options{WeldTolerance: 1e-6, MinArea: 1e-9})
	assert.Equal(t, meshing.Stats{Welded: 2, Degenerate: 0, Unused: 1}, s)
	assert.Len(t, m.Vertices, 4)
	assert.Len(t, m.Faces, 2)
}

func TestTriangleArea(t *testing.T) {
	assert.InDelta(t, 0.5, meshing.TriangleArea(r3.Vec{}, r3.Vec{X: 1}, r3.Vec{Y: 1}), 1e-12)
	assert.InDelta(t, 6, meshing.TriangleArea(r3.Vec{}, r3.Vec{X: 4}, r3.Vec{Z: 3}), 1e-12)
}

func TestSubdivide(t *testing.T) {
	m := &domain.Mesh{
		Vertices: []r3.Vec{{X: 0}, {X: 8}, {X: 0, Y: 8}},
		Faces:    []domain.Face{{0, 1, 2}},
	}
	passes := meshing.Subdivide(m, 1, meshing.MaxSubdivisions)
	assert.Equal(t, 3, passes)
	assert.Len(t, m.Faces, 64)
	total := 0.0
	for _, f := range m.Faces {
		total += meshing.TriangleArea(m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]])
	}
	assert.InDelta(t, 32, total, 1e-9)

	m = &domain.Mesh{
		Vertices: []r3.Vec{{X: 0}, {X: 8}, {X: 0, Y: 8}},
		Faces:    []domain.Face{{0, 1, 2}},
	}
	assert.Equal(t, 2, meshing.Subdivide(m, 3, meshing.MaxSubdivisions))
	assert.Len(t, m.Faces, 16)
}

func TestSubdivideSharesMidpoints(t *testing.T) {
	m := quad()
	meshing.Weld(m, 1e-6)
	meshing.Subdivide(m, 0.9, 1)
	// 4 corners + 5 edge midpoints (the diagonal is shared).
	assert.Len(t, m.Vertices, 9)
	assert.Len(t, m.Faces, 8)
}

func TestSubdivideNoop(t *testing.T) {
	m := quad()
	assert.Equal(t, 0, meshing.Subdivide(m, 10, meshing.MaxSubdivisions))
	assert.Len(t, m.Faces, 2)
	assert.Equal(t, 0, meshing.Subdivide(m, 0, meshing.MaxSubdivisions))
}

func TestPlanBatches(t *testing.T) {
	box := func(x, y float64) domain.LocalBounds {
		return domain.LocalBounds{MinX: x, MinY: y, MaxX: x + 10, MaxY: y + 10}
	}
	fps := []domain.LocalBounds{
		box(0, 0), box(15, 0), box(1000, 1000), box(30, 0), box(1015, 1000),
	}

	batches := meshing.PlanBatches(fps, 10, 2)
	require.NotEmpty(t, batches)

	seen := map[int]int{}
	for _, b := range batches {
		assert.LessOrEqual(t, len(b), 2)
		for _, i := range b {
			seen[i]++
		}
	}
	for i := range fps {
		assert.Equal(t, 1, seen[i], "footprint %d", i)
	}
	assert.Equal(t, []int{0, 1}, batches[0])
	assert.Contains(t, batches, []int{2, 4})
}

func TestPlanBatchesDegenerateFootprint(t *testing.T) {
	fps := []domain.LocalBounds{{MinX: 5, MinY: 5, MaxX: 5, MaxY: 5}, {MinX: 6, MinY: 6, MaxX: 6, MaxY: 6}}
	batches := meshing.PlanBatches(fps, 2, 10)
	assert.Equal(t, [][]int{{0, 1}}, batches)
}

func TestMerge(t *testing.T) {
	a, b := quad(), quad()
	m := meshing.Merge(a, nil, b)
	assert.Len(t, m.Vertices, 12)
	assert.Equal(t, domain.Face{6, 7, 8}, m.Faces[2])
}

func TestCylinder(t *testing.T) {
	m := meshing.Cylinder(10, -5, 2, 150, 16)
	assert.Len(t, m.Vertices, 34)
	assert.Len(t, m.Faces, 64)
	assert.Equal(t, 0.0, m.MinZ())

	ext := m.Extent()
	assert.InDelta(t, 8, ext.MinX, 1e-9)
	assert.InDelta(t, 12, ext.MaxX, 1e-9)

	// Closed and outward facing: the signed volume is positive and close to
	// that of the inscribed prism.
	vol := 0.0
	for _, f := range m.Faces {
		a, b, c := m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]
		vol += r3.Dot(a, r3.Cross(b, c)) / 6
	}
	prism := 0.5 * 16 * 4 * math.Sin(2*math.Pi/16) * 150
	assert.InDelta(t, prism, vol, 1e-6)

	assert.Len(t, meshing.Cylinder(0, 0, 1, 1, 1).Faces, 12)
}
