package usecases_test

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/terrain"
	"github.com/sigmap/terrascene/internal/core/usecases"
	"github.com/sigmap/terrascene/internal/pkg/geospatial"
)

func defaultBuildingConfig() usecases.BuildingConfig {
	return usecases.BuildingConfig{
		WeldTolerance:  1e-4,
		DegenerateArea: 1e-8,
		MergeBatchSize: 8,
		MergeRadius:    50,
		Workers:        4,
	}
}

func TestBuildingService_FlatSceneBaseAtZero(t *testing.T) {
	bbox := sceneBox(t)
	res, err := terrain.NewProcessor(terrain.Config{PaddingM: 100}).
		Process(rasterOver(t, bbox, 0.005, 0.0009, flat(250)), bbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Reference != 250 {
		t.Fatalf("expected reference 250, got %v", res.Reference)
	}

	store := newMemStore()
	addBuilding(store, "1", 0, 0, 20, 37.5)

	out, err := usecases.NewBuildingService(defaultBuildingConfig()).Process(context.Background(), store, res.Sampler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Aligned != 1 || len(out.Skipped) != 0 {
		t.Fatalf("expected 1 aligned and none skipped, got %d / %v", out.Aligned, out.Skipped)
	}
	walls := store.get(usecases.BuildingBatchFile(domain.PartWall, 0))
	if walls == nil {
		t.Fatal("merged walls not written")
	}
	if z := walls.MinZ(); math.Abs(z) > 1e-9 {
		t.Errorf("expected base elevation 0, got %v", z)
	}
	if roof := store.get(usecases.BuildingBatchFile(domain.PartRooftop, 0)); roof == nil || math.Abs(roof.MinZ()-12) > 1e-9 {
		t.Error("rooftop should move rigidly with the walls")
	}
}

func TestBuildingService_NoDataHoleSkipsBuilding(t *testing.T) {
	bbox := sceneBox(t)
	frame := geospatial.NewLocalFrame(bbox)
	holeAt := domain.LocalPoint{X: -600, Y: 400}

	raster := rasterOver(t, bbox, 0.005, 0.0002, func(lon, lat float64) float64 {
		p := frame.ToLocal(lon, lat)
		if math.Hypot(p.X-holeAt.X, p.Y-holeAt.Y) <= 25 {
			return math.NaN()
		}
		return 250
	})
	res, err := terrain.NewProcessor(terrain.Config{PaddingM: 100}).Process(raster, bbox)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	store := newMemStore()
	addBuilding(store, "hole", holeAt.X, holeAt.Y, 20, 5)
	addBuilding(store, "a", 0, 0, 20, 5)
	addBuilding(store, "b", 700, -300, 30, -4)

	out, err := usecases.NewBuildingService(defaultBuildingConfig()).Process(context.Background(), store, res.Sampler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Aligned != 2 {
		t.Errorf("expected 2 aligned buildings, got %d", out.Aligned)
	}
	if len(out.Skipped) != 1 || out.Skipped[0].ID != "hole" {
		t.Fatalf("expected building 'hole' skipped, got %+v", out.Skipped)
	}
	if !strings.Contains(out.Skipped[0].Reason, domain.ErrNoData.Error()) {
		t.Errorf("skip reason should mention no-data, got %q", out.Skipped[0].Reason)
	}
	if out.Skipped[0].Kind != domain.KindBuilding {
		t.Errorf("expected kind building, got %s", out.Skipped[0].Kind)
	}
	if n := len(out.Sources[domain.PartWall]); n != 3 {
		t.Errorf("all wall sources should be retired, got %d", n)
	}
	// Two 4-quad buildings survive, 50 m merge radius keeps them apart.
	outs := out.Outputs[domain.PartWall]
	if len(outs) != 2 {
		t.Fatalf("expected 2 merged wall meshes, got %+v", outs)
	}
	faces := 0
	for _, o := range outs {
		m := store.get(o.File)
		if m == nil {
			t.Fatalf("%s not written", o.File)
		}
		faces += len(m.Faces)
	}
	if faces != 16 {
		t.Errorf("expected 16 wall faces, got %d", faces)
	}
}

func TestBuildingService_HoleAwayFromCentreAndCorners(t *testing.T) {
	bbox := sceneBox(t)
	frame := geospatial.NewLocalFrame(bbox)
	hole := domain.LocalPoint{X: 15, Y: 0}

	raster := rasterOver(t, bbox, 0.001, 0.00005, func(lon, lat float64) float64 {
		p := frame.ToLocal(lon, lat)
		if math.Hypot(p.X-hole.X, p.Y-hole.Y) <= 8 {
			return math.NaN()
		}
		return 250
	})
	sampler := terrain.NewSampler(raster, frame, 250)
	if _, err := sampler.Elevation(hole); !errors.Is(err, domain.ErrNoData) {
		t.Fatalf("expected no-data at the hole, got %v", err)
	}
	for _, p := range []domain.LocalPoint{{X: 0, Y: 0}, {X: -20, Y: -20}, {X: 20, Y: -20}, {X: 20, Y: 20}, {X: -20, Y: 20}} {
		if _, err := sampler.Elevation(p); err != nil {
			t.Fatalf("centre and corners should sample, %+v: %v", p, err)
		}
	}

	svc := usecases.NewBuildingService(defaultBuildingConfig())
	store := newMemStore()
	addBuilding(store, "over-hole", 0, 0, 40, 0)
	addBuilding(store, "clear", 300, 200, 40, 0)
	structs, _, _, err := svc.Load(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	aligned, skipped, err := svc.Align(context.Background(), structs, sampler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(skipped) != 1 || skipped[0].ID != "over-hole" {
		t.Fatalf("expected 'over-hole' skipped, got %+v", skipped)
	}
	if len(aligned) != 1 || aligned[0].ID != "clear" {
		t.Errorf("expected only 'clear' aligned, got %d", len(aligned))
	}
}

func TestBuildingService_HoleOutsideOutlineIsIgnored(t *testing.T) {
	svc := usecases.NewBuildingService(defaultBuildingConfig())
	store := newMemStore()
	addBuilding(store, "1", 0, 0, 20, 0)
	structs, _, _, _ := svc.Load(store)

	// No data beyond the 10 m half-width only.
	edge := samplerFunc(func(p domain.LocalPoint) (float64, error) {
		if math.Abs(p.X) > 10+1e-9 || math.Abs(p.Y) > 10+1e-9 {
			return 0, &domain.SamplingError{X: p.X, Y: p.Y, Reason: domain.ErrNoData}
		}
		return 5, nil
	})
	aligned, skipped, err := svc.Align(context.Background(), structs, edge)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aligned) != 1 || len(skipped) != 0 {
		t.Fatalf("expected the building aligned, got skipped %+v", skipped)
	}
	if len(structs[0].Outline) != 5 {
		t.Errorf("expected a closed 4-point outline, got %v", structs[0].Outline)
	}
}

func TestBuildingService_OneMeshPerBatch(t *testing.T) {
	cfg := defaultBuildingConfig()
	cfg.MergeBatchSize = 2
	svc := usecases.NewBuildingService(cfg)
	store := newMemStore()
	for i, x := range []float64{0, 15, 30, 500, 520} {
		addBuilding(store, string(rune('a'+i)), x, 0, 10, 0)
	}

	out, err := svc.Process(context.Background(), store, constSampler(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	structs, _, _, _ := svc.Load(store)
	batches := svc.Plan(structs)
	if len(batches) < 2 {
		t.Fatalf("expected several batches, got %v", batches)
	}

	for _, role := range []domain.PartRole{domain.PartWall, domain.PartRooftop} {
		outs := out.Outputs[role]
		if len(outs) != len(batches) {
			t.Fatalf("%s: expected %d merged meshes, got %d", role, len(batches), len(outs))
		}
		total := 0
		for n, o := range outs {
			if o.File != usecases.BuildingBatchFile(role, n) || o.Shape != usecases.BuildingBatchShape(role, n) {
				t.Errorf("%s batch %d: unexpected names %+v", role, n, o)
			}
			if o.Buildings != len(batches[n]) {
				t.Errorf("%s batch %d: expected %d buildings, got %d", role, n, len(batches[n]), o.Buildings)
			}
			if store.get(o.File) == nil {
				t.Errorf("%s not written", o.File)
			}
			total += o.Buildings
		}
		if total != 5 {
			t.Errorf("%s: expected 5 buildings merged, got %d", role, total)
		}
	}
}

func TestBuildingBatchNames(t *testing.T) {
	if got := usecases.BuildingBatchFile(domain.PartWall, 3); got != "mesh/buildings_walls_3.ply" {
		t.Errorf("unexpected wall file %q", got)
	}
	if got := usecases.BuildingBatchShape(domain.PartRooftop, 0); got != "mesh-buildings-rooftops-0" {
		t.Errorf("unexpected rooftop shape %q", got)
	}
}

func TestBuildingService_EmbedDepth(t *testing.T) {
	cfg := defaultBuildingConfig()
	cfg.EmbedDepth = 0.5
	svc := usecases.NewBuildingService(cfg)

	store := newMemStore()
	addBuilding(store, "7", 10, 10, 10, 100)
	structs, _, _, err := svc.Load(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	aligned, skipped, err := svc.Align(context.Background(), structs, constSampler(12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(aligned) != 1 || len(skipped) != 0 {
		t.Fatalf("expected 1 aligned, got %d (skipped %v)", len(aligned), skipped)
	}
	if z := aligned[0].BaseZ(); math.Abs(z-11.5) > 1e-9 {
		t.Errorf("expected base at 11.5, got %v", z)
	}
}

func TestBuildingService_SamplesAtFootprintCentroid(t *testing.T) {
	svc := usecases.NewBuildingService(defaultBuildingConfig())
	store := newMemStore()
	addBuilding(store, "c", 40, -20, 10, 0)

	structs, _, _, err := svc.Load(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ref := structs[0].Reference
	if math.Abs(ref.X-40) > 1e-9 || math.Abs(ref.Y+20) > 1e-9 {
		t.Errorf("expected reference (40, -20), got %+v", ref)
	}

	// A plane: ground rises 0.1 m per metre eastwards.
	plane := samplerFunc(func(p domain.LocalPoint) (float64, error) { return 0.1 * p.X, nil })
	aligned, _, err := svc.Align(context.Background(), structs, plane)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if z := aligned[0].BaseZ(); math.Abs(z-4) > 1e-9 {
		t.Errorf("expected base at 4, got %v", z)
	}
}

func TestBuildingService_LoadSkipsUnreadable(t *testing.T) {
	store := newMemStore()
	addBuilding(store, "ok", 0, 0, 10, 0)
	addBuilding(store, "bad", 50, 0, 10, 0)
	store.files["mesh/building_bad_rooftop.ply"] = nil

	structs, skipped, sources, err := usecases.NewBuildingService(defaultBuildingConfig()).Load(store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(structs) != 1 || structs[0].ID != "ok" {
		t.Fatalf("expected only 'ok' loaded, got %d", len(structs))
	}
	if len(skipped) != 1 || skipped[0].ID != "bad" {
		t.Errorf("expected 'bad' skipped, got %+v", skipped)
	}
	if len(sources[domain.PartRooftop]) != 2 {
		t.Errorf("unreadable files are still sources, got %v", sources[domain.PartRooftop])
	}
}

func TestBuildingService_NoBuildings(t *testing.T) {
	out, err := usecases.NewBuildingService(defaultBuildingConfig()).Process(context.Background(), newMemStore(), constSampler(0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Aligned != 0 || len(out.Outputs) != 0 {
		t.Errorf("expected nothing written, got %+v", out)
	}
}

func TestBuildingService_AlignCancelled(t *testing.T) {
	svc := usecases.NewBuildingService(defaultBuildingConfig())
	store := newMemStore()
	addBuilding(store, "1", 0, 0, 10, 0)
	structs, _, _, _ := svc.Load(store)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := svc.Align(ctx, structs, constSampler(0))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestBuildingService_PlanCoversEveryBuilding(t *testing.T) {
	cfg := defaultBuildingConfig()
	cfg.MergeBatchSize = 2
	svc := usecases.NewBuildingService(cfg)
	store := newMemStore()
	for i, x := range []float64{0, 15, 30, 500, 520} {
		addBuilding(store, string(rune('a'+i)), x, 0, 10, 0)
	}
	structs, _, _, _ := svc.Load(store)

	seen := make(map[int]bool)
	for _, batch := range svc.Plan(structs) {
		if len(batch) > 2 {
			t.Errorf("batch exceeds size: %v", batch)
		}
		for _, i := range batch {
			if seen[i] {
				t.Errorf("building %d planned twice", i)
			}
			seen[i] = true
		}
	}
	if len(seen) != len(structs) {
		t.Errorf("expected %d planned buildings, got %d", len(structs), len(seen))
	}
}
