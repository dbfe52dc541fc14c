package workflows_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"

	"github.com/sigmap/terrascene/internal/core/domain"
	"github.com/sigmap/terrascene/internal/workflows"
)

var input = workflows.SceneInput{
	RunID:     "run-1",
	Bounds:    domain.Bounds{MinLon: 11.106, MinLat: 46.056, MaxLon: 11.153, MaxLat: 46.077},
	Materials: domain.DefaultMaterials(),
}

func newEnv(t *testing.T) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var s testsuite.WorkflowTestSuite
	env := s.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(workflows.SceneGenerationWorkflow)
	env.RegisterActivity(&workflows.SceneActivities{})
	return env
}

func TestSceneGenerationWorkflow_Success(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("MarkRunning", mock.Anything, "run-1").Return(nil).Once()
	env.OnActivity("GenerateScene", mock.Anything, input).
		Return(&domain.RunReport{ID: "run-1", Status: domain.RunSucceeded, ReferenceElevation: 212.5}, nil).Once()

	env.ExecuteWorkflow(workflows.SceneGenerationWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())
	var report domain.RunReport
	require.NoError(t, env.GetWorkflowResult(&report))
	require.Equal(t, domain.RunSucceeded, report.Status)
	require.InDelta(t, 212.5, report.ReferenceElevation, 1e-9)
	env.AssertExpectations(t)
}

func TestSceneGenerationWorkflow_CompensatesWithFailedStage(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("MarkRunning", mock.Anything, "run-1").Return(nil)
	env.OnActivity("GenerateScene", mock.Anything, input).Return(nil,
		temporal.NewNonRetryableApplicationError("coverage too small", workflows.ErrTypeGeneration,
			errors.New("coverage too small"), domain.StageTerrainProcessed)).Once()
	env.OnActivity("MarkFailed", mock.Anything, "run-1", domain.StageTerrainProcessed, mock.Anything).Return(nil).Once()

	env.ExecuteWorkflow(workflows.SceneGenerationWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertExpectations(t)
}

func TestSceneGenerationWorkflow_MarkRunningFailure(t *testing.T) {
	env := newEnv(t)
	env.OnActivity("MarkRunning", mock.Anything, "run-1").
		Return(temporal.NewNonRetryableApplicationError("run missing", "NotFound", nil))

	env.ExecuteWorkflow(workflows.SceneGenerationWorkflow, input)

	require.True(t, env.IsWorkflowCompleted())
	require.Error(t, env.GetWorkflowError())
	env.AssertNotCalled(t, "GenerateScene", mock.Anything, mock.Anything)
}
