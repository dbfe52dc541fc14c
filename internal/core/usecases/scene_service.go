package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/ports"
	"github.com/sigmap/terrascene/internal/core/terrain"
	"github.com/sigmap/terrascene/internal/pkg/logging"
	"github.com/sigmap/terrascene/internal/pkg/metrics"
	"github.com/sigmap/terrascene/internal/pkg/telemetry"
)

// Base scene ground and its terrain replacement.
const (
	GroundFile   = "mesh/ground.ply"
	TerrainFile  = "mesh/terrain.ply"
	TerrainShape = "mesh-terrain"
	// TransmittersExport is the Ditto export written next to scene.xml.
	TransmittersExport = "transmitters.json"
)

// SceneConfig locates the scene output.
type SceneConfig struct {
	OutputDir string
	// WorkDir holds in-progress scenes; empty means next to OutputDir.
	WorkDir string
}

// SceneDeps are the collaborators of a scene generation.
type SceneDeps struct {
	BaseScene ports.BaseSceneGenerator
	Terrain   *TerrainService
	Buildings *BuildingService
	// Telecom is optional; nil leaves the scene without towers.
	Telecom   *TelecomService
	OpenScene ports.SceneDescriptionOpener
	NewStore  func(dir string) ports.MeshStore
	// Events is optional.
	Events ports.EventPublisher
	// Registry is optional.
	Registry ports.TransmitterRegistry
}

// SceneService drives one scene generation through its stages:
// Initialized, BaseSceneGenerated, TerrainAcquired, TerrainProcessed,
// StructuresAligned and Finalized. Each stage value advances exactly once.
type SceneService struct {
	deps SceneDeps
	cfg  SceneConfig
}

// NewSceneService creates a new SceneService.
func NewSceneService(deps SceneDeps, cfg SceneConfig) *SceneService {
	return &SceneService{deps: deps, cfg: cfg}
}

// Run is the state shared by the stages of one generation. Its workspace
// is released by Close on every exit path.
type Run struct {
	svc       *SceneService
	report    *domain.RunReport
	bbox      domain.BoundingBox
	materials domain.MaterialConfig
	dir       string
	store     ports.MeshStore
	stage     domain.Stage
	aborted   bool
	// published is set once the workspace has replaced the output
	// directory; later cancellation no longer fails the run.
	published bool
}

// Report returns the run report as it stands.
func (r *Run) Report() *domain.RunReport { return r.report }

// Dir returns the run's workspace directory.
func (r *Run) Dir() string { return r.dir }

// Close removes the workspace. After Finalize it has already been moved
// into place and Close is a no-op.
func (r *Run) Close() error {
	if r.dir == "" {
		return nil
	}
	err := os.RemoveAll(r.dir)
	r.dir = ""
	return err
}

// enter moves the run from one stage to the next, rejecting any transition
// that does not start where the run currently is.
func (r *Run) enter(from, to domain.Stage) error {
	if r.aborted || r.stage != from {
		return &domain.PipelineStateError{Stage: r.stage, Want: to}
	}
	return nil
}

// step runs one stage transition with its span, timing and event.
func (r *Run) step(ctx context.Context, from, to domain.Stage, fn func(ctx context.Context) error) error {
	if err := r.enter(from, to); err != nil {
		return err
	}
	log := logging.FromContext(ctx)
	start := time.Now()
	ctx, span := telemetry.Start(ctx, "scene."+string(to),
		telemetry.AttrRunID.String(r.report.ID),
		telemetry.AttrStage.String(string(to)),
	)
	log.Info("stage started", "stage", to)

	err := fn(ctx)
	if err == nil && !r.published {
		err = ctx.Err()
	}
	telemetry.End(span, err)
	metrics.ObserveStage(string(to), start)
	if err != nil {
		r.aborted = true
		r.report.FailedStage = to
		log.Error("stage failed", "stage", to, "duration", time.Since(start), "error", err)
		r.svc.publish(ctx, r.report.ID, to, err)
		return &domain.StageError{Stage: to, Err: err}
	}
	r.stage = to
	r.report.Stage = to
	log.Info("stage finished", "stage", to, "duration", time.Since(start))
	r.svc.publish(ctx, r.report.ID, to, nil)
	return nil
}

// Stage values. Each wraps the run plus what the previous stage produced.
type (
	Initialized        struct{ *Run }
	BaseSceneGenerated struct{ *Run }
	TerrainAcquired    struct {
		*Run
		raster *domain.ElevationRaster
	}
	TerrainProcessed struct {
		*Run
		terrain *terrain.Result
	}
	StructuresAligned struct {
		*Run
		terrain   *terrain.Result
		buildings *BuildingResult
		telecom   *TelecomResult
	}
	Finalized struct{ *Run }
)

// Begin validates the request and opens a workspace for a new run.
func (s *SceneService) Begin(ctx context.Context, runID string, bbox domain.BoundingBox, materials domain.MaterialConfig) (*Initialized, error) {
	if bbox.IsZero() {
		return nil, fmt.Errorf("bounding box is required")
	}
	if s.cfg.OutputDir == "" {
		return nil, fmt.Errorf("output directory is required")
	}
	parent := s.cfg.WorkDir
	if parent == "" {
		parent = filepath.Dir(filepath.Clean(s.cfg.OutputDir))
	}
	if err := os.MkdirAll(parent, 0o755); err != nil {
		return nil, fmt.Errorf("create work dir: %w", err)
	}
	dir, err := os.MkdirTemp(parent, ".terrascene-"+runID+"-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	run := &Run{
		svc: s,
		report: &domain.RunReport{
			ID:        runID,
			Bounds:    bbox.Bounds(),
			Status:    domain.RunRunning,
			Stage:     domain.StageInitialized,
			StartedAt: time.Now().UTC(),
		},
		bbox:      bbox,
		materials: materials,
		dir:       dir,
		store:     s.deps.NewStore(dir),
		stage:     domain.StageInitialized,
	}
	s.publish(ctx, runID, domain.StageInitialized, nil)
	return &Initialized{run}, nil
}

// GenerateBaseScene runs the external generator into the workspace.
func (s *Initialized) GenerateBaseScene(ctx context.Context) (*BaseSceneGenerated, error) {
	err := s.step(ctx, domain.StageInitialized, domain.StageBaseSceneGenerated, func(ctx context.Context) error {
		return s.svc.deps.BaseScene.Generate(ctx, s.bbox, s.materials, s.dir)
	})
	if err != nil {
		return nil, err
	}
	return &BaseSceneGenerated{s.Run}, nil
}

// AcquireTerrain downloads the elevation raster.
func (s *BaseSceneGenerated) AcquireTerrain(ctx context.Context) (*TerrainAcquired, error) {
	var raster *domain.ElevationRaster
	err := s.step(ctx, domain.StageBaseSceneGenerated, domain.StageTerrainAcquired, func(ctx context.Context) error {
		var err error
		raster, err = s.svc.deps.Terrain.Acquire(ctx, s.bbox)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &TerrainAcquired{Run: s.Run, raster: raster}, nil
}

// ProcessTerrain builds the terrain mesh, reference elevation and sampler.
// The raster is released afterwards.
func (s *TerrainAcquired) ProcessTerrain(ctx context.Context) (*TerrainProcessed, error) {
	var res *terrain.Result
	err := s.step(ctx, domain.StageTerrainAcquired, domain.StageTerrainProcessed, func(ctx context.Context) error {
		var err error
		res, err = s.svc.deps.Terrain.Process(s.raster, s.bbox)
		return err
	})
	s.raster = nil
	if err != nil {
		return nil, err
	}
	s.report.ReferenceElevation = res.Reference
	s.report.TerrainVertices = len(res.Mesh.Vertices)
	s.report.TerrainFaces = len(res.Mesh.Faces)
	return &TerrainProcessed{Run: s.Run, terrain: res}, nil
}

// Sampler exposes the height sampler produced by this stage.
func (s *TerrainProcessed) Sampler() ports.HeightSampler { return s.terrain.Sampler }

// AlignStructures seats buildings and towers on the terrain.
func (s *TerrainProcessed) AlignStructures(ctx context.Context) (*StructuresAligned, error) {
	var (
		buildings *BuildingResult
		telecom   *TelecomResult
	)
	err := s.step(ctx, domain.StageTerrainProcessed, domain.StageStructuresAligned, func(ctx context.Context) error {
		var err error
		buildings, err = s.svc.deps.Buildings.Process(ctx, s.store, s.terrain.Sampler)
		if err != nil {
			return err
		}
		telecom = &TelecomResult{}
		if s.svc.deps.Telecom != nil {
			telecom, err = s.svc.deps.Telecom.Process(ctx, s.bbox, s.terrain.Sampler, s.store)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.report.BuildingsAligned = buildings.Aligned
	s.report.TelecomAligned = telecom.Aligned
	s.report.Skipped = append(append(s.report.Skipped, buildings.Skipped...), telecom.Skipped...)
	return &StructuresAligned{Run: s.Run, terrain: s.terrain, buildings: buildings, telecom: telecom}, nil
}

// Finalize writes the terrain mesh, rewrites scene.xml, retires the
// per-structure files and moves the workspace to the output directory.
func (s *StructuresAligned) Finalize(ctx context.Context) (*Finalized, error) {
	err := s.step(ctx, domain.StageStructuresAligned, domain.StageFinalized, s.finalize)
	if err != nil {
		return nil, err
	}
	s.report.Status = domain.RunSucceeded
	s.report.FinishedAt = time.Now().UTC()
	return &Finalized{s.Run}, nil
}

func (s *StructuresAligned) finalize(ctx context.Context) error {
	scene, err := s.svc.deps.OpenScene(s.dir)
	if err != nil {
		return err
	}

	if err := s.store.Save(TerrainFile, &s.terrain.Mesh.Mesh); err != nil {
		return fmt.Errorf("save terrain: %w", err)
	}
	groundBSDF, _ := scene.RemoveShapesByFilenames(map[string]bool{GroundFile: true})
	groundBSDF = s.ensureBSDF(scene, groundBSDF, s.materials.GroundIdx)
	scene.AddMeshShape(TerrainFile, TerrainShape, groundBSDF)
	retired := []string{GroundFile}

	for _, part := range []struct {
		role domain.PartRole
		idx  int
	}{
		{domain.PartWall, s.materials.WallIdx},
		{domain.PartRooftop, s.materials.RooftopIdx},
	} {
		sources := s.buildings.Sources[part.role]
		bsdf, _ := scene.RemoveShapesByFilenames(toSet(sources))
		retired = append(retired, sources...)
		outs := s.buildings.Outputs[part.role]
		if len(outs) == 0 {
			continue
		}
		bsdf = s.ensureBSDF(scene, bsdf, part.idx)
		for _, out := range outs {
			scene.AddMeshShape(out.File, out.Shape, bsdf)
		}
	}

	if s.telecom.Output != "" {
		scene.EnsureRadioMaterial(TransmittersBSDF, TransmittersMat)
		scene.AddMeshShape(s.telecom.Output, TransmittersShape, TransmittersBSDF)
		if err := s.exportTransmitters(); err != nil {
			return err
		}
	}

	if err := scene.Save(); err != nil {
		return err
	}
	for _, name := range retired {
		if err := s.store.Remove(name); err != nil {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}

	if err := s.svc.commit(s.dir); err != nil {
		return err
	}
	s.dir = ""
	s.published = true
	s.report.Outputs = s.outputs()

	if len(s.telecom.Transmitters) == 0 {
		return nil
	}
	txs := make([]domain.Transmitter, len(s.telecom.Transmitters))
	for i, tx := range s.telecom.Transmitters {
		tx.RunID = s.report.ID
		txs[i] = tx
	}
	// The scene is already published; downstream failures only warn.
	if s.svc.deps.Events != nil {
		if err := s.svc.deps.Events.PublishTransmitters(ctx, s.report.ID, txs); err != nil {
			logging.FromContext(ctx).Warn("publish transmitters failed", "error", err)
		}
	}
	if s.svc.deps.Registry != nil {
		if err := s.svc.deps.Registry.Provision(ctx, txs); err != nil {
			logging.FromContext(ctx).Warn("provision transmitters failed", "error", err)
		}
	}
	return nil
}

// ensureBSDF falls back to the configured ITU material when the base scene
// had no shape to inherit a BSDF from.
func (s *StructuresAligned) ensureBSDF(scene ports.SceneDescription, bsdf string, idx int) string {
	if bsdf != "" {
		return bsdf
	}
	name := domain.ResolveMaterial(idx)
	bsdf = "mat-itu_" + name
	scene.EnsureRadioMaterial(bsdf, name)
	return bsdf
}

func (s *StructuresAligned) exportTransmitters() error {
	f, err := os.Create(filepath.Join(s.dir, TransmittersExport))
	if err != nil {
		return fmt.Errorf("create transmitter export: %w", err)
	}
	if err := WriteDitto(f, s.telecom.Transmitters); err != nil {
		f.Close()
		return fmt.Errorf("write transmitter export: %w", err)
	}
	return f.Close()
}

func (s *StructuresAligned) outputs() []string {
	out := []string{"scene.xml", TerrainFile}
	for _, role := range []domain.PartRole{domain.PartWall, domain.PartRooftop} {
		for _, m := range s.buildings.Outputs[role] {
			out = append(out, m.File)
		}
	}
	if s.telecom.Output != "" {
		out = append(out, s.telecom.Output, TransmittersExport)
	}
	return out
}

// commit replaces the output directory with the finished workspace.
func (s *SceneService) commit(dir string) error {
	out := filepath.Clean(s.cfg.OutputDir)
	backup := ""
	if _, err := os.Stat(out); err == nil {
		backup = out + ".previous"
		_ = os.RemoveAll(backup)
		if err := os.Rename(out, backup); err != nil {
			return fmt.Errorf("move previous scene aside: %w", err)
		}
	}
	if err := os.Rename(dir, out); err != nil {
		if backup != "" {
			_ = os.Rename(backup, out)
		}
		return fmt.Errorf("publish scene: %w", err)
	}
	if backup != "" {
		_ = os.RemoveAll(backup)
	}
	return nil
}

func (s *SceneService) publish(ctx context.Context, runID string, stage domain.Stage, err error) {
	if s.deps.Events == nil {
		return
	}
	ev := &domain.RunEvent{RunID: runID, Stage: stage, Time: time.Now().UTC()}
	if err != nil {
		ev.Error = err.Error()
	}
	if perr := s.deps.Events.PublishRunEvent(ctx, ev); perr != nil {
		logging.FromContext(ctx).Warn("publish run event failed", "stage", stage, "error", perr)
	}
}

// Generate runs every stage in order. On failure nothing is written to
// the output directory and the report names the failed stage.
func (s *SceneService) Generate(ctx context.Context, runID string, bbox domain.BoundingBox, materials domain.MaterialConfig) (*domain.RunReport, error) {
	ctx = logging.WithRun(ctx, runID)
	ctx, span := telemetry.Start(ctx, "scene.generate",
		telemetry.AttrRunID.String(runID),
		telemetry.AttrBBox.String(bbox.String()),
	)
	first, err := s.Begin(ctx, runID, bbox, materials)
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	defer func() {
		if err := first.Close(); err != nil {
			slog.Warn("workspace cleanup failed", "run_id", runID, "error", err)
		}
	}()

	report, err := s.drive(ctx, first)
	report.FinishedAt = time.Now().UTC()
	if err != nil {
		report.Status = domain.RunFailed
		report.Error = err.Error()
		metrics.RunsTotal.WithLabelValues("failed").Inc()
	} else {
		metrics.RunsTotal.WithLabelValues("succeeded").Inc()
	}
	span.SetAttributes(
		telemetry.AttrStructures.Int(report.BuildingsAligned+report.TelecomAligned),
		telemetry.AttrSkipped.Int(len(report.Skipped)),
		telemetry.AttrReference.Float64(report.ReferenceElevation),
	)
	telemetry.End(span, err)
	return report, err
}

func (s *SceneService) drive(ctx context.Context, first *Initialized) (*domain.RunReport, error) {
	base, err := first.GenerateBaseScene(ctx)
	if err != nil {
		return first.Report(), err
	}
	acquired, err := base.AcquireTerrain(ctx)
	if err != nil {
		return first.Report(), err
	}
	processed, err := acquired.ProcessTerrain(ctx)
	if err != nil {
		return first.Report(), err
	}
	aligned, err := processed.AlignStructures(ctx)
	if err != nil {
		return first.Report(), err
	}
	done, err := aligned.Finalize(ctx)
	if err != nil {
		return first.Report(), err
	}
	if n := len(done.Report().Skipped); n > 0 {
		logging.FromContext(ctx).Warn("scene generated with skipped structures", "skipped", n)
	}
	return done.Report(), nil
}

// FailedStage extracts the stage a generation error happened in.
func FailedStage(err error) (domain.Stage, bool) {
	var se *domain.StageError
	if errors.As(err, &se) {
		return se.Stage, true
	}
	return "", false
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
