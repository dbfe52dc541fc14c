package usecases

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/ports"
)

// RunService submits generation runs and answers queries about them.
type RunService struct {
	runs         ports.RunRepository
	transmitters ports.TransmitterRepository
	scheduler    ports.RunScheduler
}

// NewRunService creates a new RunService. scheduler may be nil for
// read-only use.
func NewRunService(runs ports.RunRepository, transmitters ports.TransmitterRepository, scheduler ports.RunScheduler) *RunService {
	return &RunService{runs: runs, transmitters: transmitters, scheduler: scheduler}
}

// CanSchedule reports whether Submit can start runs.
func (s *RunService) CanSchedule() bool { return s.scheduler != nil }

// Submit records a pending run and schedules it.
func (s *RunService) Submit(ctx context.Context, bounds domain.Bounds, materials domain.MaterialConfig) (*domain.RunReport, error) {
	if _, err := bounds.BoundingBox(); err != nil {
		return nil, fmt.Errorf("invalid bounds: %w", err)
	}
	if s.scheduler == nil {
		return nil, errors.New("run scheduling is not configured")
	}

	run := &domain.RunReport{
		ID:        uuid.NewString(),
		Bounds:    bounds,
		Status:    domain.RunPending,
		Stage:     domain.StageInitialized,
		StartedAt: time.Now().UTC(),
	}
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("save run: %w", err)
	}

	if err := s.scheduler.Schedule(ctx, run.ID, bounds, materials); err != nil {
		run.Status = domain.RunFailed
		run.Error = "schedule: " + err.Error()
		run.FinishedAt = time.Now().UTC()
		if serr := s.runs.Save(ctx, run); serr != nil {
			slog.Error("failed to record scheduling failure", "run_id", run.ID, "error", serr)
		}
		return nil, fmt.Errorf("schedule run: %w", err)
	}
	slog.Info("run submitted", "run_id", run.ID)
	return run, nil
}

// Get returns a run by id.
func (s *RunService) Get(ctx context.Context, id string) (*domain.RunReport, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("invalid run id %q: %w", id, domain.ErrNotFound)
	}
	return s.runs.GetByID(ctx, id)
}

// List returns a page of runs, newest first, and the total number of runs.
func (s *RunService) List(ctx context.Context, limit, offset int) ([]domain.RunReport, int, error) {
	limit, offset = clampPage(limit, offset)
	runs, err := s.runs.List(ctx, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list runs: %w", err)
	}
	total, err := s.runs.Count(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("count runs: %w", err)
	}
	return runs, total, nil
}

// Save stores a run report as produced by a generation.
func (s *RunService) Save(ctx context.Context, run *domain.RunReport) error {
	return s.runs.Save(ctx, run)
}

// MarkRunning flips a pending run to running.
func (s *RunService) MarkRunning(ctx context.Context, id string) error {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	run.Status = domain.RunRunning
	return s.runs.Save(ctx, run)
}

// MarkFailed records a run that ended without a report of its own.
func (s *RunService) MarkFailed(ctx context.Context, id string, stage domain.Stage, reason string) error {
	run, err := s.runs.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if run.Status == domain.RunFailed || run.Status == domain.RunSucceeded {
		return nil
	}
	run.Status = domain.RunFailed
	run.FailedStage = stage
	run.Error = reason
	run.FinishedAt = time.Now().UTC()
	return s.runs.Save(ctx, run)
}

// RecordTransmitters stores the transmitters provisioned by a run.
func (s *RunService) RecordTransmitters(ctx context.Context, runID string, txs []domain.Transmitter) error {
	for i := range txs {
		txs[i].RunID = runID
	}
	if err := s.transmitters.UpsertBatch(ctx, txs); err != nil {
		return fmt.Errorf("upsert transmitters: %w", err)
	}
	slog.Info("transmitters recorded", "run_id", runID, "count", len(txs))
	return nil
}

// Transmitters lists transmitters, optionally restricted to one run.
func (s *RunService) Transmitters(ctx context.Context, runID string, limit, offset int) ([]domain.Transmitter, error) {
	if runID != "" {
		return s.transmitters.ListByRun(ctx, runID)
	}
	limit, offset = clampPage(limit, offset)
	return s.transmitters.List(ctx, limit, offset)
}

func clampPage(limit, offset int) (int, int) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}
