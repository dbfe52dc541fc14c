package meshing

import (
	"sort"

	"github.com/dhconnelly/rtreego"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// minExtent keeps zero-width footprints valid as R-tree rectangles.
const minExtent = 1e-6

type footprint struct {
	index  int
	bounds domain.LocalBounds
}

// Bounds implements rtreego.Spatial.
func (f *footprint) Bounds() rtreego.Rect {
	return rectOf(f.bounds, 0)
}

func rectOf(b domain.LocalBounds, grow float64) rtreego.Rect {
	rect, _ := rtreego.NewRect(
		rtreego.Point{b.MinX - grow, b.MinY - grow},
		[]float64{
			max(b.MaxX-b.MinX+2*grow, minExtent),
			max(b.MaxY-b.MinY+2*grow, minExtent),
		},
	)
	return rect
}

// PlanBatches groups footprints into spatially coherent batches of at most
// batchSize members. Each batch is seeded by the first unassigned footprint
// and filled with unassigned neighbours within radius, closest index first.
// Every input index appears in exactly one batch.
func PlanBatches(footprints []domain.LocalBounds, radius float64, batchSize int) [][]int {
	if batchSize <= 0 {
		batchSize = 1
	}
	tree := rtreego.NewTree(2, 25, 50)
	for i, b := range footprints {
		tree.Insert(&footprint{index: i, bounds: b})
	}

	assigned := make([]bool, len(footprints))
	var batches [][]int
	for i, b := range footprints {
		if assigned[i] {
			continue
		}
		batch := []int{i}
		assigned[i] = true

		hits := tree.SearchIntersect(rectOf(b, radius))
		near := make([]int, 0, len(hits))
		for _, h := range hits {
			if j := h.(*footprint).index; !assigned[j] {
				near = append(near, j)
			}
		}
		sort.Ints(near)
		for _, j := range near {
			if len(batch) >= batchSize {
				break
			}
			batch = append(batch, j)
			assigned[j] = true
		}
		batches = append(batches, batch)
	}
	return batches
}

// Merge concatenates meshes into one, re-indexing faces.
func Merge(meshes ...*domain.Mesh) *domain.Mesh {
	out := &domain.Mesh{}
	for _, m := range meshes {
		if m != nil {
			out.Append(m)
		}
	}
	return out
}
