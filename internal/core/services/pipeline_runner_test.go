package services_test

import (
	"context"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/core/services"
)

func TestExecutePipeline_EmptyPipelineSucceedsImmediately(t *testing.T) {
	runner := services.NewPipelineRunner(fakeStepRepo{}, fakeEvents{}, nil)
	result := runner.ExecutePipeline(context.Background(), uuid.New(), nil, domain.DeploymentContext{}, t.TempDir(), "", "legacy-sync")
	assert.True(t, result.Success)
	assert.Equal(t, 0, result.TotalSteps)
}

func TestExecutePipeline_AllStepsSucceed(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pipeline runner targets the POSIX shell path")
	}
	runner := services.NewPipelineRunner(fakeStepRepo{}, fakeEvents{}, nil)
	pipeline := domain.Pipeline{
		{Name: "build", Run: []string{"echo building {{ProjectName}} > out.txt"}},
	}
	dctx := domain.DeploymentContext{domain.VarProjectName: "demo"}

	result := runner.ExecutePipeline(context.Background(), uuid.New(), pipeline, dctx, t.TempDir(), "", "demo")
	assert.True(t, result.Success)
	assert.Equal(t, 1, result.CompletedSteps)
}

func TestExecutePipeline_FailingStepAbortsPipeline(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pipeline runner targets the POSIX shell path")
	}
	runner := services.NewPipelineRunner(fakeStepRepo{}, fakeEvents{}, nil)
	pipeline := domain.Pipeline{
		{Name: "first", Run: []string{"exit 1"}},
		{Name: "never", Run: []string{"echo should not run"}},
	}

	result := runner.ExecutePipeline(context.Background(), uuid.New(), pipeline, domain.DeploymentContext{}, t.TempDir(), "", "demo")
	assert.False(t, result.Success)
	assert.Equal(t, 0, result.CompletedSteps)
	assert.Contains(t, result.ErrorMessage, "first")
}

func TestExecutePipeline_RunIfFalseSkipsStep(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pipeline runner targets the POSIX shell path")
	}
	runner := services.NewPipelineRunner(fakeStepRepo{}, fakeEvents{}, nil)
	pipeline := domain.Pipeline{
		{Name: "conditional", Run: []string{"echo should not run"}, RunIf: `hasVar("Missing")`},
		{Name: "always", Run: []string{"echo ok"}},
	}

	result := runner.ExecutePipeline(context.Background(), uuid.New(), pipeline, domain.DeploymentContext{}, t.TempDir(), "", "demo")
	require.True(t, result.Success)
	assert.Equal(t, 1, result.CompletedSteps, "the skipped step does not count toward completed, only the executed one")
}

func TestExecutePipeline_UnknownVariableLeftIntact(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("pipeline runner targets the POSIX shell path")
	}
	runner := services.NewPipelineRunner(fakeStepRepo{}, fakeEvents{}, nil)
	pipeline := domain.Pipeline{
		{Name: "echo-unknown", Run: []string{"echo {{Foo}}"}},
	}

	result := runner.ExecutePipeline(context.Background(), uuid.New(), pipeline, domain.DeploymentContext{}, t.TempDir(), "", "demo")
	assert.True(t, result.Success)
}
