package meshing

import (
	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// MaxSubdivisions bounds the number of refinement passes.
const MaxSubdivisions = 3

// Subdivide splits every triangle with an edge longer than maxEdge into four
// at its edge midpoints, repeating up to iterations times. Midpoints are
// shared between neighbouring triangles. It returns the passes performed.
func Subdivide(m *domain.Mesh, maxEdge float64, iterations int) int {
	if maxEdge <= 0 {
		return 0
	}
	passes := 0
	for ; passes < iterations; passes++ {
		if !subdividePass(m, maxEdge) {
			break
		}
	}
	return passes
}

func subdividePass(m *domain.Mesh, maxEdge float64) bool {
	type edge struct{ a, b int }
	mids := make(map[edge]int)
	midpoint := func(a, b int) int {
		if a > b {
			a, b = b, a
		}
		if i, ok := mids[edge{a, b}]; ok {
			return i
		}
		i := len(m.Vertices)
		m.Vertices = append(m.Vertices, r3.Scale(0.5, r3.Add(m.Vertices[a], m.Vertices[b])))
		mids[edge{a, b}] = i
		return i
	}

	limit := maxEdge * maxEdge
	split := false
	faces := make([]domain.Face, 0, len(m.Faces))
	for _, f := range m.Faces {
		a, b, c := f[0], f[1], f[2]
		va, vb, vc := m.Vertices[a], m.Vertices[b], m.Vertices[c]
		if r3.Norm2(r3.Sub(va, vb)) <= limit && r3.Norm2(r3.Sub(vb, vc)) <= limit && r3.Norm2(r3.Sub(vc, va)) <= limit {
			faces = append(faces, f)
			continue
		}
		split = true
		ab, bc, ca := midpoint(a, b), midpoint(b, c), midpoint(c, a)
		faces = append(faces,
			domain.Face{a, ab, ca},
			domain.Face{ab, b, bc},
			domain.Face{ca, bc, c},
			domain.Face{ab, bc, ca},
		)
	}
	m.Faces = faces
	return split
}
