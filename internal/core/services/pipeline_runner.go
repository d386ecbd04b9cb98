// Package services holds the deployment execution engine: the pipeline
// runner (this file), its persistent shell session, and the deployment
// orchestrator that drives them end to end (§4.2, §4.3). Adapted from the
// teacher's DeploymentWorker/ApplicationService pair — there a remote agent
// streamed build output over gRPC; here a local shell session is the
// "muscle" and everything else (claim, telemetry, state transitions) keeps
// the teacher's shape.
package services

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/core/expr"
)

// PerCommandTimeout is the hard cap on one shell command (§4.3.2).
const PerCommandTimeout = 10 * time.Minute

var varPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_]+)\s*\}\}`)

// PipelineResult is ExecutePipeline's return value (§4.3).
type PipelineResult struct {
	Success        bool
	CompletedSteps int
	TotalSteps     int
	Duration       time.Duration
	ErrorMessage   string
}

// PipelineRunner executes a project's pipeline inside one persistent shell
// session, streaming progress to the real-time channel and persisting a
// step record per attempted step.
type PipelineRunner struct {
	steps  domain.DeploymentStepRepository
	events domain.EventBroadcaster
	logger *slog.Logger
}

// NewPipelineRunner builds a PipelineRunner.
func NewPipelineRunner(steps domain.DeploymentStepRepository, events domain.EventBroadcaster, logger *slog.Logger) *PipelineRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &PipelineRunner{steps: steps, events: events, logger: logger}
}

// ExecutePipeline runs every step of pipeline in order inside projectPath,
// substituting deployment context variables into each command (§4.3).
func (r *PipelineRunner) ExecutePipeline(
	ctx context.Context,
	deploymentID uuid.UUID,
	pipeline domain.Pipeline,
	dctx domain.DeploymentContext,
	projectPath string,
	gitSSHCommand string,
	pipelineName string,
) PipelineResult {
	start := time.Now()
	total := len(pipeline)

	r.log(deploymentID, fmt.Sprintf("=== Starting pipeline %q (%d steps) ===", pipelineName, total))

	if total == 0 {
		return PipelineResult{Success: true, CompletedSteps: 0, TotalSteps: 0, Duration: time.Since(start)}
	}

	session, err := NewShellSession(projectPath, envWithGitSSH(gitSSHCommand), r.logger)
	if err != nil {
		msg := fmt.Sprintf("failed to start shell session: %v", err)
		r.log(deploymentID, "[ERROR] "+msg)
		return PipelineResult{Success: false, TotalSteps: total, Duration: time.Since(start), ErrorMessage: msg}
	}
	defer session.Close()

	completed := 0
	for i, step := range pipeline {
		stepNumber := i + 1
		r.log(deploymentID, fmt.Sprintf("--- Step %d/%d: %s ---", stepNumber, total, step.Name))

		rec := &domain.DeploymentStep{
			ID:           uuid.New(),
			DeploymentID: deploymentID,
			StepNumber:   stepNumber,
			Name:         step.Name,
			Status:       domain.StepRunning,
			StartedAt:    time.Now(),
		}
		_ = r.steps.Create(ctx, rec)

		if step.RunIf != "" {
			node, parseErr := expr.Parse(step.RunIf)
			runIt := true
			if parseErr != nil {
				r.logger.Warn("services: RunIf parse failure, degrading to false", "step", step.Name, "error", parseErr)
				r.log(deploymentID, fmt.Sprintf("[WARN] RunIf %q failed to parse, skipping step", step.RunIf))
				runIt = false
			} else if !expr.Eval(node, dctx) {
				runIt = false
			}
			if !runIt {
				rec.Status = domain.StepSkipped
				completedAt := time.Now()
				rec.CompletedAt = &completedAt
				_ = r.steps.Update(ctx, rec)
				r.log(deploymentID, fmt.Sprintf("step %q skipped (RunIf false)", step.Name))
				continue
			}
		}

		var stepOutput, stepErrors strings.Builder
		stepFailed := false
		var failureMsg string

		for _, rawCmd := range step.Run {
			cmd := substituteVars(rawCmd, dctx)
			r.log(deploymentID, "$ "+cmd)

			result, runErr := session.Run(ctx, cmd, PerCommandTimeout)
			if result.Stdout != "" {
				r.log(deploymentID, result.Stdout)
				stepOutput.WriteString(result.Stdout)
			}
			for _, w := range result.Warnings {
				r.log(deploymentID, "[WARN] "+w)
			}
			for _, e := range result.Errors {
				r.log(deploymentID, "[ERROR] "+e)
				stepErrors.WriteString(e + "\n")
			}

			if runErr != nil {
				stepFailed = true
				failureMsg = runErr.Error()
				break
			}
			if result.ExitCode != 0 {
				stepFailed = true
				failureMsg = fmt.Sprintf("command %q exited with code %d", cmd, result.ExitCode)
				break
			}
		}

		completedAt := time.Now()
		rec.CompletedAt = &completedAt
		rec.DurationSec = completedAt.Sub(rec.StartedAt).Seconds()
		rec.Output = stepOutput.String()
		rec.ErrorOutput = stepErrors.String()

		if stepFailed {
			rec.Status = domain.StepFailed
			_ = r.steps.Update(ctx, rec)
			_ = session.Kill()

			r.log(deploymentID, fmt.Sprintf("[ERROR] pipeline failed at step %q: %s", step.Name, failureMsg))
			return PipelineResult{
				Success:        false,
				CompletedSteps: completed,
				TotalSteps:     total,
				Duration:       time.Since(start),
				ErrorMessage:   fmt.Sprintf("step %q failed: %s", step.Name, failureMsg),
			}
		}

		rec.Status = domain.StepSuccess
		_ = r.steps.Update(ctx, rec)
		completed++
	}

	r.log(deploymentID, "=== Pipeline completed successfully ===")
	return PipelineResult{Success: true, CompletedSteps: completed, TotalSteps: total, Duration: time.Since(start)}
}

func (r *PipelineRunner) log(deploymentID uuid.UUID, line string) {
	if r.events != nil {
		r.events.EmitLog(deploymentID, line)
	}
}

// substituteVars replaces {{name}} occurrences with the context value,
// leaving unknown names intact (§4.3 step 4, §8 boundary behaviour).
func substituteVars(command string, dctx domain.DeploymentContext) string {
	return varPattern.ReplaceAllStringFunc(command, func(match string) string {
		name := varPattern.FindStringSubmatch(match)[1]
		if v, ok := dctx[name]; ok {
			return v
		}
		return match
	})
}

// ValidatePipeline enforces §4.3.3. CreateDeployment calls it, so an invalid
// pipeline is rejected before a deployment is queued or a shell session
// starts.
func ValidatePipeline(p domain.Pipeline) error {
	return p.Valid()
}
