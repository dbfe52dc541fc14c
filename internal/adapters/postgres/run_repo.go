package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// RunRepo implements ports.RunRepository with pgx.
type RunRepo struct {
	db *DB
}

// NewRunRepo creates a new RunRepo.
func NewRunRepo(db *DB) *RunRepo {
	return &RunRepo{db: db}
}

const runColumns = `id, min_lon, min_lat, max_lon, max_lat, status, stage,
	COALESCE(failed_stage, ''), COALESCE(error, ''), reference_elevation,
	terrain_vertices, terrain_faces, buildings_aligned, telecom_aligned,
	skipped, outputs, started_at, finished_at`

// Save inserts or updates a run report.
func (r *RunRepo) Save(ctx context.Context, run *domain.RunReport) error {
	skipped, err := json.Marshal(run.Skipped)
	if err != nil {
		return fmt.Errorf("encode skipped: %w", err)
	}
	var finished *time.Time
	if !run.FinishedAt.IsZero() {
		finished = &run.FinishedAt
	}
	_, err = r.db.Pool.Exec(ctx, `
		INSERT INTO scene_runs (id, min_lon, min_lat, max_lon, max_lat, status, stage,
			failed_stage, error, reference_elevation, terrain_vertices, terrain_faces,
			buildings_aligned, telecom_aligned, skipped, outputs, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), NULLIF($9, ''), $10, $11, $12,
			$13, $14, $15, $16, $17, $18)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, stage = EXCLUDED.stage,
		    failed_stage = EXCLUDED.failed_stage, error = EXCLUDED.error,
		    reference_elevation = EXCLUDED.reference_elevation,
		    terrain_vertices = EXCLUDED.terrain_vertices, terrain_faces = EXCLUDED.terrain_faces,
		    buildings_aligned = EXCLUDED.buildings_aligned, telecom_aligned = EXCLUDED.telecom_aligned,
		    skipped = EXCLUDED.skipped, outputs = EXCLUDED.outputs,
		    finished_at = EXCLUDED.finished_at
	`, run.ID, run.Bounds.MinLon, run.Bounds.MinLat, run.Bounds.MaxLon, run.Bounds.MaxLat,
		string(run.Status), string(run.Stage), string(run.FailedStage), run.Error,
		run.ReferenceElevation, run.TerrainVertices, run.TerrainFaces,
		run.BuildingsAligned, run.TelecomAligned, skipped, run.Outputs, run.StartedAt, finished)
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

// GetByID returns a run by id, or domain.ErrNotFound.
func (r *RunRepo) GetByID(ctx context.Context, id string) (*domain.RunReport, error) {
	row := r.db.Pool.QueryRow(ctx, `SELECT `+runColumns+` FROM scene_runs WHERE id = $1`, id)
	run, err := scanRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs newest first.
func (r *RunRepo) List(ctx context.Context, limit, offset int) ([]domain.RunReport, error) {
	rows, err := r.db.Pool.Query(ctx, `
		SELECT `+runColumns+` FROM scene_runs
		ORDER BY started_at DESC
		LIMIT $1 OFFSET $2
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.RunReport
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

func (r *RunRepo) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `SELECT count(*) FROM scene_runs`).Scan(&n)
	return n, err
}

func scanRun(row pgx.Row) (*domain.RunReport, error) {
	var (
		run                        domain.RunReport
		status, stage, failedStage string
		skipped                    []byte
		finished                   *time.Time
	)
	if err := row.Scan(
		&run.ID, &run.Bounds.MinLon, &run.Bounds.MinLat, &run.Bounds.MaxLon, &run.Bounds.MaxLat,
		&status, &stage, &failedStage, &run.Error, &run.ReferenceElevation,
		&run.TerrainVertices, &run.TerrainFaces, &run.BuildingsAligned, &run.TelecomAligned,
		&skipped, &run.Outputs, &run.StartedAt, &finished,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.Stage = domain.Stage(stage)
	run.FailedStage = domain.Stage(failedStage)
	if finished != nil {
		run.FinishedAt = *finished
	}
	if len(skipped) > 0 {
		if err := json.Unmarshal(skipped, &run.Skipped); err != nil {
			return nil, fmt.Errorf("decode skipped: %w", err)
		}
	}
	return &run, nil
}
