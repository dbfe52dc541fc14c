package workflows

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/temporal"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/core/usecases"
)

// Application error types returned by the activities.
const (
	ErrTypeInvalidRequest = "InvalidRequest"
	ErrTypeGeneration     = "SceneGenerationError"
)

// SceneActivities holds the activity implementations for the scene
// generation workflow.
type SceneActivities struct {
	Scenes *usecases.SceneService
	Runs   *usecases.RunService
}

// MarkRunning flags a submitted run as picked up by a worker.
func (a *SceneActivities) MarkRunning(ctx context.Context, runID string) error {
	if err := a.Runs.MarkRunning(ctx, runID); err != nil {
		return fmt.Errorf("mark run %s running: %w", runID, err)
	}
	return nil
}

// GenerateScene runs one generation and stores its report, failed or not.
// Errors carry the failed stage as their details. Failures that a retry
// cannot fix are non-retryable.
func (a *SceneActivities) GenerateScene(ctx context.Context, input SceneInput) (*domain.RunReport, error) {
	bbox, err := input.Bounds.BoundingBox()
	if err != nil {
		return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeInvalidRequest, err, domain.StageInitialized)
	}

	report, err := a.Scenes.Generate(ctx, input.RunID, bbox, input.Materials)
	if report != nil {
		if serr := a.Runs.Save(ctx, report); serr != nil {
			slog.Error("failed to store run report", "run_id", input.RunID, "error", serr)
		}
	}
	if err == nil {
		return report, nil
	}

	stage, ok := usecases.FailedStage(err)
	if !ok {
		stage = domain.StageInitialized
	}
	if domain.IsRetryable(err) {
		return nil, temporal.NewApplicationErrorWithCause(err.Error(), ErrTypeGeneration, err, stage)
	}
	return nil, temporal.NewNonRetryableApplicationError(err.Error(), ErrTypeGeneration, err, stage)
}

// MarkFailed records a run the workflow gave up on (saga compensation).
func (a *SceneActivities) MarkFailed(ctx context.Context, runID string, stage domain.Stage, reason string) error {
	if err := a.Runs.MarkFailed(ctx, runID, stage, reason); err != nil {
		return fmt.Errorf("mark run %s failed: %w", runID, err)
	}
	slog.Info("run marked failed", "run_id", runID, "stage", stage)
	return nil
}
