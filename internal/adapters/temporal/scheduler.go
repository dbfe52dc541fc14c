package temporaladapter

import (
	"context"
	"fmt"
	"log/slog"

	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/pkg/config"
	"github.com/sigmap/terrascene/internal/workflows"
)

// DefaultTaskQueue is used when none is configured.
const DefaultTaskQueue = "scene-generation"

// Dial connects to Temporal with the SDK logging through slog.
func Dial(cfg config.TemporalConfig) (client.Client, error) {
	c, err := client.Dial(client.Options{
		HostPort:  cfg.HostPort,
		Namespace: cfg.Namespace,
		Logger:    log.NewStructuredLogger(slog.Default()),
	})
	if err != nil {
		return nil, fmt.Errorf("temporal client: %w", err)
	}
	return c, nil
}

// Scheduler starts scene generation workflows. It implements
// ports.RunScheduler.
type Scheduler struct {
	client    client.Client
	taskQueue string
}

// NewScheduler creates a Scheduler on taskQueue.
func NewScheduler(c client.Client, taskQueue string) *Scheduler {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	return &Scheduler{client: c, taskQueue: taskQueue}
}

// WorkflowID is the workflow id used for a run.
func WorkflowID(runID string) string { return "scene-" + runID }

func (s *Scheduler) Schedule(ctx context.Context, runID string, bounds domain.Bounds, materials domain.MaterialConfig) error {
	opts := client.StartWorkflowOptions{
		ID:        WorkflowID(runID),
		TaskQueue: s.taskQueue,
	}
	in := workflows.SceneInput{RunID: runID, Bounds: bounds, Materials: materials}
	we, err := s.client.ExecuteWorkflow(ctx, opts, workflows.SceneGenerationWorkflowName, in)
	if err != nil {
		return fmt.Errorf("start workflow: %w", err)
	}
	slog.Info("scene workflow started", "run_id", runID, "workflow_id", we.GetID(), "workflow_run_id", we.GetRunID())
	return nil
}
