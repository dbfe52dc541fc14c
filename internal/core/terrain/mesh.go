package terrain

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/meshing"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

// BuildMesh triangulates a lon/lat raster into a regular grid surface in
// the local frame. Each pixel centre becomes a vertex at elevation
// value-reference, each cell two counter-clockwise triangles. Triangles
// touching no-data are dropped instead of being pinned to zero.
func BuildMesh(r *domain.ElevationRaster, frame geospatial.LocalFrame, reference float64) (*domain.TerrainMesh, error) {
	rows, cols := r.Dims()
	if rows < 2 || cols < 2 {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrEmptyCoverage,
			Available: domain.BoundsOf(r.Extent()),
			Detail:    "at least 2x2 samples are needed to triangulate",
		}
	}

	// index maps grid cells to compacted vertex indices; -1 is no-data.
	index := make([]int, rows*cols)
	vertices := make([]r3.Vec, 0, rows*cols)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := r.At(i, j)
			if math.IsNaN(v) {
				index[i*cols+j] = -1
				continue
			}
			lon, lat := r.Transform.PixelCenter(i, j)
			p := frame.ToLocal(lon, lat)
			index[i*cols+j] = len(vertices)
			vertices = append(vertices, r3.Vec{X: p.X, Y: p.Y, Z: v - reference})
		}
	}

	faces := make([]domain.Face, 0, 2*(rows-1)*(cols-1))
	for i := 0; i < rows-1; i++ {
		for j := 0; j < cols-1; j++ {
			tl, tr := index[i*cols+j], index[i*cols+j+1]
			bl, br := index[(i+1)*cols+j], index[(i+1)*cols+j+1]
			if tl >= 0 && bl >= 0 && tr >= 0 {
				faces = append(faces, domain.Face{tl, bl, tr})
			}
			if tr >= 0 && bl >= 0 && br >= 0 {
				faces = append(faces, domain.Face{tr, bl, br})
			}
		}
	}
	if len(faces) == 0 {
		return nil, &domain.CoverageError{
			Reason:    domain.ErrEmptyCoverage,
			Available: domain.BoundsOf(r.Extent()),
			Detail:    "raster holds no triangulable data",
		}
	}

	m := &domain.Mesh{Vertices: vertices, Faces: faces}
	meshing.Compact(m)
	return &domain.TerrainMesh{Mesh: *m, Reference: reference}, nil
}
