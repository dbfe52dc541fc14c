package workflows

import (
	"errors"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/sigmap/terrascene/internal/core/domain"
)

// SceneGenerationWorkflowName is the registered workflow type.
const SceneGenerationWorkflowName = "SceneGenerationWorkflow"

// SceneInput is the input for the scene generation workflow.
type SceneInput struct {
	RunID     string
	Bounds    domain.Bounds
	Materials domain.MaterialConfig
}

// SceneGenerationWorkflow marks the run as running, generates the scene and,
// if generation fails for good, records the failed stage on the run
// (saga compensation).
func SceneGenerationWorkflow(ctx workflow.Context, input SceneInput) (*domain.RunReport, error) {
	logger := workflow.GetLogger(ctx)
	logger.Info("Starting scene generation workflow", "runID", input.RunID)

	bookkeeping := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts: 5,
		},
	})
	generation := workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Hour,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        10 * time.Second,
			BackoffCoefficient:     2,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{ErrTypeInvalidRequest},
		},
	})

	// Step 1: Flag the run as running
	if err := workflow.ExecuteActivity(bookkeeping, "MarkRunning", input.RunID).Get(ctx, nil); err != nil {
		return nil, err
	}

	// Step 2: Generate the scene
	var report domain.RunReport
	err := workflow.ExecuteActivity(generation, "GenerateScene", input).Get(ctx, &report)
	if err == nil {
		logger.Info("Scene generated", "runID", input.RunID, "reference", report.ReferenceElevation)
		return &report, nil
	}

	// Compensate: the run must not stay "running" after the workflow gives up
	stage := failedStage(err)
	logger.Warn("scene generation failed, compensating", "runID", input.RunID, "stage", stage, "error", err)
	cleanup, _ := workflow.NewDisconnectedContext(bookkeeping)
	if cerr := workflow.ExecuteActivity(cleanup, "MarkFailed", input.RunID, stage, err.Error()).Get(cleanup, nil); cerr != nil {
		logger.Error("compensation failed", "runID", input.RunID, "error", cerr)
	}
	return nil, err
}

// failedStage reads the stage carried in an activity's application error.
func failedStage(err error) domain.Stage {
	var appErr *temporal.ApplicationError
	if !errors.As(err, &appErr) || !appErr.HasDetails() {
		return ""
	}
	var stage domain.Stage
	if appErr.Details(&stage) != nil {
		return ""
	}
	return stage
}
