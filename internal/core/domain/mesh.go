package domain

import (
	"math"

	"github.com/paulmach/orb"
	"gonum.org/v1/gonum/spatial/r3"
)

// Face is a triangle given as three vertex indices.
type Face [3]int

// Mesh is an indexed triangle mesh in the local-meter frame (Z up).
type Mesh struct {
	Vertices []r3.Vec
	Faces    []Face
}

// Clone returns a deep copy of m.
func (m *Mesh) Clone() *Mesh {
	out := &Mesh{
		Vertices: make([]r3.Vec, len(m.Vertices)),
		Faces:    make([]Face, len(m.Faces)),
	}
	copy(out.Vertices, m.Vertices)
	copy(out.Faces, m.Faces)
	return out
}

// TranslateZ moves every vertex by (0, 0, dz).
func (m *Mesh) TranslateZ(dz float64) {
	for i := range m.Vertices {
		m.Vertices[i].Z += dz
	}
}

// MinZ returns the lowest vertex elevation, or NaN for an empty mesh.
func (m *Mesh) MinZ() float64 {
	if len(m.Vertices) == 0 {
		return math.NaN()
	}
	z := math.Inf(1)
	for _, v := range m.Vertices {
		z = math.Min(z, v.Z)
	}
	return z
}

// Extent returns the horizontal bounds of the mesh.
func (m *Mesh) Extent() LocalBounds {
	b := LocalBounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, v := range m.Vertices {
		b.MinX = math.Min(b.MinX, v.X)
		b.MinY = math.Min(b.MinY, v.Y)
		b.MaxX = math.Max(b.MaxX, v.X)
		b.MaxY = math.Max(b.MaxY, v.Y)
	}
	return b
}

// Append concatenates o onto m, re-indexing its faces.
func (m *Mesh) Append(o *Mesh) {
	base := len(m.Vertices)
	m.Vertices = append(m.Vertices, o.Vertices...)
	for _, f := range o.Faces {
		m.Faces = append(m.Faces, Face{f[0] + base, f[1] + base, f[2] + base})
	}
}

// PartRole separates meshes that carry different materials.
type PartRole string

const (
	PartWall    PartRole = "wall"
	PartRooftop PartRole = "rooftop"
	PartMast    PartRole = "mast"
)

// Structure is one building or tower: its mesh parts and the footprint
// reference point used for height sampling. Alignment only ever changes Z.
type Structure struct {
	ID        string
	Kind      StructureKind
	Parts     map[PartRole]*Mesh
	Reference LocalPoint
	// Footprint is the horizontal extent of the structure's base.
	Footprint LocalBounds
	// Outline is the closed base ring, if one could be derived.
	Outline orb.Ring
	// Sources are the files the parts were loaded from, if any.
	Sources []string
}

// BaseZ returns the lowest vertex elevation across all parts.
func (s *Structure) BaseZ() float64 {
	z := math.Inf(1)
	for _, p := range s.Parts {
		if len(p.Vertices) > 0 {
			z = math.Min(z, p.MinZ())
		}
	}
	if math.IsInf(z, 1) {
		return math.NaN()
	}
	return z
}

// TranslateZ rigidly moves every part.
func (s *Structure) TranslateZ(dz float64) {
	for _, p := range s.Parts {
		p.TranslateZ(dz)
	}
}

// TerrainMesh is the ground surface derived from the elevation raster,
// with elevations relative to the reference elevation.
type TerrainMesh struct {
	Mesh
	Reference float64
}
