package meshing

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// Cylinder builds a closed, outward-facing cylinder whose base centre is at
// (x, y, 0). sections below 3 are raised to 3.
func Cylinder(x, y, radius, height float64, sections int) *domain.Mesh {
	sections = max(sections, 3)
	m := &domain.Mesh{
		Vertices: make([]r3.Vec, 0, 2*sections+2),
		Faces:    make([]domain.Face, 0, 4*sections),
	}
	for i := 0; i < sections; i++ {
		sin, cos := math.Sincos(2 * math.Pi * float64(i) / float64(sections))
		px, py := x+radius*cos, y+radius*sin
		m.Vertices = append(m.Vertices, r3.Vec{X: px, Y: py, Z: 0}, r3.Vec{X: px, Y: py, Z: height})
	}
	bottom := len(m.Vertices)
	m.Vertices = append(m.Vertices, r3.Vec{X: x, Y: y, Z: 0}, r3.Vec{X: x, Y: y, Z: height})
	top := bottom + 1

	for i := 0; i < sections; i++ {
		b0, t0 := 2*i, 2*i+1
		b1, t1 := 2*((i+1)%sections), 2*((i+1)%sections)+1
		m.Faces = append(m.Faces,
			domain.Face{b0, b1, t1},
			domain.Face{b0, t1, t0},
			domain.Face{bottom, b1, b0},
			domain.Face{top, t0, t1},
		)
	}
	return m
}
