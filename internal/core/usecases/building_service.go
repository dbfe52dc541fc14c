package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/meshing"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/pkg/metrics"
)

// BuildingBatchFile names the merged mesh of one part role of a merge
// batch, e.g. mesh/buildings_walls_0.ply.
func BuildingBatchFile(role domain.PartRole, batch int) string {
	return fmt.Sprintf("mesh/buildings_%ss_%d.ply", role, batch)
}

// BuildingBatchShape is the scene shape id of a BuildingBatchFile.
func BuildingBatchShape(role domain.PartRole, batch int) string {
	return fmt.Sprintf("mesh-buildings-%ss-%d", role, batch)
}

// baseTolerance is how close to the lowest vertex a vertex must be to count
// as part of the base ring.
const baseTolerance = 1e-3

// maxFootprintSamples caps the grid checked under one footprint per axis.
const maxFootprintSamples = 200

// BuildingConfig tunes building optimisation and alignment.
type BuildingConfig struct {
	// EmbedDepth sinks every building below the sampled ground to avoid
	// z-fighting with the terrain.
	EmbedDepth     float64
	WeldTolerance  float64
	DegenerateArea float64
	MergeBatchSize int
	MergeRadius    float64
	Workers        int
	// FootprintStep is the grid spacing, in meters, used to check the
	// terrain under a footprint when the sampler does not report its
	// cell size.
	FootprintStep float64
}

// MergedOutput is one merged mesh written by Process.
type MergedOutput struct {
	File  string
	Shape string
	// Buildings is the number of buildings merged into File.
	Buildings int
}

// BuildingResult describes what Process wrote.
type BuildingResult struct {
	Aligned int
	Skipped []domain.SkippedStructure
	// Outputs lists the merged meshes written per part role, one per
	// merge batch that has geometry for the role.
	Outputs map[domain.PartRole][]MergedOutput
	// Sources maps a part role to the per-building files it replaces.
	Sources map[domain.PartRole][]string
}

// BuildingService merges, optimises and terrain-aligns building meshes.
type BuildingService struct {
	cfg BuildingConfig
}

// NewBuildingService creates a new BuildingService.
func NewBuildingService(cfg BuildingConfig) *BuildingService {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MergeBatchSize <= 0 {
		cfg.MergeBatchSize = 64
	}
	if cfg.FootprintStep <= 0 {
		cfg.FootprintStep = 2
	}
	return &BuildingService{cfg: cfg}
}

// Load reads the per-building meshes from store and groups the wall and
// rooftop parts by building id. Unreadable buildings are returned as
// skipped. sources lists every per-building file found, by role.
func (s *BuildingService) Load(store ports.MeshStore) (structs []*domain.Structure, skipped []domain.SkippedStructure, sources map[domain.PartRole][]string, err error) {
	byID := make(map[string]*domain.Structure)
	var order []string
	broken := make(map[string]bool)
	sources = make(map[domain.PartRole][]string)

	for _, role := range []domain.PartRole{domain.PartWall, domain.PartRooftop} {
		names, err := store.List("mesh/building_*_" + string(role) + ".ply")
		if err != nil {
			return nil, nil, nil, err
		}
		sources[role] = append(sources[role], names...)
		for _, name := range names {
			id := buildingID(name, role)
			st, ok := byID[id]
			if !ok {
				st = &domain.Structure{ID: id, Kind: domain.KindBuilding, Parts: make(map[domain.PartRole]*domain.Mesh)}
				byID[id] = st
				order = append(order, id)
			}
			st.Sources = append(st.Sources, name)
			if broken[id] {
				continue
			}
			m, err := store.Load(name)
			if err != nil {
				slog.Warn("skipping unreadable building", "structure_id", id, "kind", domain.KindBuilding, "error", err)
				broken[id] = true
				skipped = append(skipped, skip(id, domain.KindBuilding, &domain.GeometryError{FeatureID: id, Reason: err.Error()}))
				continue
			}
			st.Parts[role] = m
		}
	}

	structs = make([]*domain.Structure, 0, len(order))
	for _, id := range order {
		st := byID[id]
		if broken[id] {
			continue
		}
		if err := locate(st); err != nil {
			slog.Warn("skipping building", "structure_id", id, "kind", domain.KindBuilding, "error", err)
			skipped = append(skipped, skip(id, domain.KindBuilding, err))
			continue
		}
		structs = append(structs, st)
	}
	return structs, skipped, sources, nil
}

func buildingID(name string, role domain.PartRole) string {
	base := name[strings.LastIndexByte(name, '/')+1:]
	base = strings.TrimPrefix(base, "building_")
	return strings.TrimSuffix(base, "_"+string(role)+".ply")
}

// locate sets the footprint, outline and reference point of st: the
// footprint is the horizontal extent of all parts, the outline the base
// ring ordered around its centroid and the reference that centroid.
func locate(st *domain.Structure) error {
	base := st.BaseZ()
	if math.IsNaN(base) {
		return &domain.GeometryError{FeatureID: st.ID, Reason: "structure has no vertices"}
	}
	var ring orb.MultiPoint
	fp := domain.LocalBounds{MinX: math.Inf(1), MinY: math.Inf(1), MaxX: math.Inf(-1), MaxY: math.Inf(-1)}
	for _, p := range st.Parts {
		for _, v := range p.Vertices {
			if v.Z-base <= baseTolerance {
				ring = append(ring, orb.Point{v.X, v.Y})
			}
		}
		e := p.Extent()
		fp.MinX, fp.MinY = math.Min(fp.MinX, e.MinX), math.Min(fp.MinY, e.MinY)
		fp.MaxX, fp.MaxY = math.Max(fp.MaxX, e.MaxX), math.Max(fp.MaxY, e.MaxY)
	}
	c, _ := planar.CentroidArea(ring)
	st.Reference = domain.LocalPoint{X: c.X(), Y: c.Y()}
	st.Footprint = fp
	st.Outline = outline(ring, c)
	return nil
}

// outline orders the distinct base points by angle around c. Fewer than
// three distinct points give no outline.
func outline(points orb.MultiPoint, c orb.Point) orb.Ring {
	seen := make(map[orb.Point]bool, len(points))
	var ring orb.Ring
	for _, p := range points {
		if !seen[p] {
			seen[p] = true
			ring = append(ring, p)
		}
	}
	if len(ring) < 3 {
		return nil
	}
	sort.Slice(ring, func(i, j int) bool {
		return math.Atan2(ring[i].Y()-c.Y(), ring[i].X()-c.X()) < math.Atan2(ring[j].Y()-c.Y(), ring[j].X()-c.X())
	})
	return append(ring, ring[0])
}

// Optimize welds duplicate vertices and drops degenerate triangles in
// every part.
func (s *BuildingService) Optimize(structs []*domain.Structure) meshing.Stats {
	var total meshing.Stats
	opts := meshing.Options{WeldTolerance: s.cfg.WeldTolerance, MinArea: s.cfg.DegenerateArea}
	for _, st := range structs {
		for _, p := range st.Parts {
			ps := meshing.Optimize(p, opts)
			total.Welded += ps.Welded
			total.Degenerate += ps.Degenerate
			total.Unused += ps.Unused
		}
	}
	return total
}

// Align seats every building on the terrain. Buildings move rigidly so that
// their base sits EmbedDepth below the ground sampled at their reference
// point. Terrain is checked on a grid under the whole footprint; a building
// with any point that cannot be sampled is skipped, the others are
// unaffected.
func (s *BuildingService) Align(ctx context.Context, structs []*domain.Structure, sampler ports.HeightSampler) ([]*domain.Structure, []domain.SkippedStructure, error) {
	results := make([]error, len(structs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for i, st := range structs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.alignOne(st, sampler)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	aligned := make([]*domain.Structure, 0, len(structs))
	var skipped []domain.SkippedStructure
	for i, st := range structs {
		if err := results[i]; err != nil {
			slog.Warn("skipping building", "structure_id", st.ID, "kind", domain.KindBuilding, "error", err)
			skipped = append(skipped, skip(st.ID, domain.KindBuilding, err))
			continue
		}
		aligned = append(aligned, st)
	}
	return aligned, skipped, nil
}

func (s *BuildingService) alignOne(st *domain.Structure, sampler ports.HeightSampler) error {
	base := st.BaseZ()
	if math.IsNaN(base) {
		return &domain.GeometryError{FeatureID: st.ID, Reason: "structure has no vertices"}
	}
	ground, err := sampler.Elevation(st.Reference)
	if err != nil {
		return err
	}
	for _, p := range footprintGrid(st, s.footprintStep(sampler)) {
		if _, err := sampler.Elevation(p); err != nil {
			return err
		}
	}
	st.TranslateZ(ground - s.cfg.EmbedDepth - base)
	return nil
}

// footprintStep is half the sampler's cell size, so that every raster cell
// under a footprint influences at least one grid point.
func (s *BuildingService) footprintStep(sampler ports.HeightSampler) float64 {
	if g, ok := sampler.(ports.GriddedSampler); ok {
		if c := g.CellSize(); c > 0 {
			return c / 2
		}
	}
	return s.cfg.FootprintStep
}

// footprintGrid returns the outline vertices (or the footprint corners when
// there is no outline) plus every grid point inside the outline.
func footprintGrid(st *domain.Structure, step float64) []domain.LocalPoint {
	b := st.Footprint
	step = math.Max(step, math.Max(b.MaxX-b.MinX, b.MaxY-b.MinY)/maxFootprintSamples)

	var pts []domain.LocalPoint
	if len(st.Outline) > 0 {
		for _, p := range st.Outline {
			pts = append(pts, domain.LocalPoint{X: p.X(), Y: p.Y()})
		}
	} else {
		pts = append(pts,
			domain.LocalPoint{X: b.MinX, Y: b.MinY}, domain.LocalPoint{X: b.MinX, Y: b.MaxY},
			domain.LocalPoint{X: b.MaxX, Y: b.MaxY}, domain.LocalPoint{X: b.MaxX, Y: b.MinY})
	}
	if step <= 0 {
		return pts
	}
	for x := b.MinX; x <= b.MaxX; x += step {
		for y := b.MinY; y <= b.MaxY; y += step {
			if len(st.Outline) == 0 || planar.RingContains(st.Outline, orb.Point{x, y}) {
				pts = append(pts, domain.LocalPoint{X: x, Y: y})
			}
		}
	}
	return pts
}

// Plan groups structures into spatially coherent merge batches.
func (s *BuildingService) Plan(structs []*domain.Structure) [][]int {
	footprints := make([]domain.LocalBounds, len(structs))
	for i, st := range structs {
		footprints[i] = st.Footprint
	}
	return meshing.PlanBatches(footprints, s.cfg.MergeRadius, s.cfg.MergeBatchSize)
}

// Merge combines one part role of the structures in a batch into a single
// mesh. Structures without that part are left out.
func (s *BuildingService) Merge(structs []*domain.Structure, batch []int, role domain.PartRole) (*domain.Mesh, int) {
	parts := make([]*domain.Mesh, 0, len(batch))
	for _, i := range batch {
		if p := structs[i].Parts[role]; p != nil {
			parts = append(parts, p)
		}
	}
	return meshing.Merge(parts...), len(parts)
}

// Process runs the whole building stage against a scene directory: load,
// optimise, align, then merge each batch and write one wall and one rooftop
// mesh per batch.
// Per-building files are left in place for the caller to retire.
func (s *BuildingService) Process(ctx context.Context, store ports.MeshStore, sampler ports.HeightSampler) (*BuildingResult, error) {
	structs, skipped, sources, err := s.Load(store)
	if err != nil {
		return nil, fmt.Errorf("load buildings: %w", err)
	}
	res := &BuildingResult{Outputs: make(map[domain.PartRole][]MergedOutput), Sources: sources}
	if len(structs) == 0 && len(skipped) == 0 {
		slog.Info("no building meshes found")
		return res, nil
	}

	stats := s.Optimize(structs)
	slog.Info("buildings optimised",
		"buildings", len(structs), "welded", stats.Welded, "degenerate", stats.Degenerate)

	aligned, alignSkipped, err := s.Align(ctx, structs, sampler)
	if err != nil {
		return nil, err
	}
	res.Aligned = len(aligned)
	res.Skipped = append(skipped, alignSkipped...)
	metrics.StructuresTotal.WithLabelValues(string(domain.KindBuilding), "aligned").Add(float64(res.Aligned))
	metrics.StructuresTotal.WithLabelValues(string(domain.KindBuilding), "skipped").Add(float64(len(res.Skipped)))

	batches := s.Plan(aligned)
	for n, batch := range batches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, role := range []domain.PartRole{domain.PartWall, domain.PartRooftop} {
			merged, count := s.Merge(aligned, batch, role)
			if len(merged.Faces) == 0 {
				continue
			}
			file := BuildingBatchFile(role, n)
			if err := store.Save(file, merged); err != nil {
				return nil, fmt.Errorf("save %s: %w", file, err)
			}
			res.Outputs[role] = append(res.Outputs[role], MergedOutput{File: file, Shape: BuildingBatchShape(role, n), Buildings: count})
		}
	}
	slog.Info("merged building meshes",
		"batches", len(batches), "walls", len(res.Outputs[domain.PartWall]), "rooftops", len(res.Outputs[domain.PartRooftop]))
	return res, nil
}

func skip(id string, kind domain.StructureKind, err error) domain.SkippedStructure {
	reason := err.Error()
	var se *domain.SamplingError
	if errors.As(err, &se) && se.Reason != nil {
		reason = "terrain sampling: " + se.Reason.Error()
	}
	return domain.SkippedStructure{ID: id, Kind: kind, Reason: reason}
}
