// Package meshing holds the triangle-mesh operations shared by the terrain,
// building and telecom stages.
package meshing

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Options are the optimisation thresholds. Both are configurable because
// the right values depend on the base-scene generator's precision.
type Options struct {
	// WeldTolerance merges vertices closer than this on every axis (meters).
	WeldTolerance float64
	// MinArea drops triangles with a smaller area (square meters).
	MinArea float64
}

// Stats counts what Optimize removed.
type Stats struct {
	Welded     int
	Degenerate int
	Unused     int
}

// Optimize welds duplicate vertices, removes degenerate triangles and drops
// unreferenced vertices. It never moves a vertex that was not welded.
func Optimize(m *domain.Mesh, opts Options) Stats {
	var s Stats
	s.Welded = Weld(m, opts.WeldTolerance)
	s.Degenerate = RemoveDegenerate(m, opts.MinArea)
	s.Unused = Compact(m)
	return s
}

// Weld merges vertices that fall in the same tolerance cell and rewrites
// faces to the surviving vertex. A zero tolerance welds exact duplicates.
func Weld(m *domain.Mesh, tol float64) int {
	type key struct{ x, y, z int64 }
	quant := func(v float64) int64 {
		if tol <= 0 {
			// -0 and +0 are the same position.
			if v == 0 {
				v = 0
			}
			return int64(math.Float64bits(v))
		}
		return int64(math.Round(v / tol))
	}

	seen := make(map[key]int, len(m.Vertices))
	remap := make([]int, len(m.Vertices))
	kept := make([]r3.Vec, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		k := key{quant(v.X), quant(v.Y), quant(v.Z)}
		if j, ok := seen[k]; ok {
			remap[i] = j
			continue
		}
		seen[k] = len(kept)
		remap[i] = len(kept)
		kept = append(kept, v)
	}
	for fi, f := range m.Faces {
		m.Faces[fi] = domain.Face{remap[f[0]], remap[f[1]], remap[f[2]]}
	}
	welded := len(m.Vertices) - len(kept)
	m.Vertices = kept
	return welded
}

// RemoveDegenerate drops triangles that repeat a vertex or whose area is
// at most minArea.
func RemoveDegenerate(m *domain.Mesh, minArea float64) int {
	kept := m.Faces[:0]
	for _, f := range m.Faces {
		if f[0] == f[1] || f[1] == f[2] || f[0] == f[2] {
			continue
		}
		if TriangleArea(m.Vertices[f[0]], m.Vertices[f[1]], m.Vertices[f[2]]) <= minArea {
			continue
		}
		kept = append(kept, f)
	}
	removed := len(m.Faces) - len(kept)
	m.Faces = kept
	return removed
}

// Compact removes vertices no face references, preserving vertex order.
func Compact(m *domain.Mesh) int {
	remap := make([]int, len(m.Vertices))
	for i := range remap {
		remap[i] = -1
	}
	for _, f := range m.Faces {
		for _, vi := range f {
			remap[vi] = 0
		}
	}
	kept := make([]r3.Vec, 0, len(m.Vertices))
	for i, v := range m.Vertices {
		if remap[i] < 0 {
			continue
		}
		remap[i] = len(kept)
		kept = append(kept, v)
	}
	for fi, f := range m.Faces {
		m.Faces[fi] = domain.Face{remap[f[0]], remap[f[1]], remap[f[2]]}
	}
	removed := len(m.Vertices) - len(kept)
	m.Vertices = kept
	return removed
}

// TriangleArea returns the area of triangle abc.
func TriangleArea(a, b, c r3.Vec) float64 {
	return r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a))) / 2
}
