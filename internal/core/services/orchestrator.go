package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/infrastructure/crypto"
	"github.com/deploycenter/deploy-center/internal/queue"
	"github.com/deploycenter/deploy-center/internal/sshkey"
	"github.com/deploycenter/deploy-center/internal/syncfs"
)

const (
	// MinFreeDiskBytes is the pre-flight capacity floor (§4.2 step 5).
	MinFreeDiskBytes = 5 * 1024 * 1024 * 1024
	// KeepLastN is how many past deployment workspaces survive pruning.
	KeepLastN = 5

	cloneTimeout    = 5 * time.Minute
	checkoutTimeout = 30 * time.Second
	lsRemoteTimeout = 30 * time.Second
	publishSettle   = 500 * time.Millisecond
	markerFileName  = ".deploy-center"
)

// eventRegistrar is an optional capability of domain.EventBroadcaster:
// implementations that also track which project a deployment belongs to
// (so EmitLog's deployment-only ID can still reach the project room) can
// implement it. Not part of the domain.EventBroadcaster contract itself,
// since a minimal broadcaster (as used in tests) has no project rooms to
// maintain.
type eventRegistrar interface {
	Register(deploymentID, projectID uuid.UUID)
	Forget(deploymentID uuid.UUID)
}

func (o *Orchestrator) forgetEvents(deploymentID uuid.UUID) {
	if reg, ok := o.events.(eventRegistrar); ok {
		reg.Forget(deploymentID)
	}
}

// CreateDeploymentParams is the external trigger's input to
// Orchestrator.CreateDeployment (§4.2, §6 "Triggers").
type CreateDeploymentParams struct {
	ProjectID     uuid.UUID
	TriggeredBy   string
	Branch        string
	CommitHash    string
	CommitMessage string
	Author        string
	ManualTrigger bool
	Trigger       domain.TriggerType
}

// Orchestrator drives one deployment end to end: the execution closure
// described in §4.2, invoked by the queue dispatcher.
type Orchestrator struct {
	projects    domain.ProjectRepository
	deployments domain.DeploymentRepository
	steps       domain.DeploymentStepRepository
	audit       domain.AuditRepository
	notify      domain.NotificationSink
	events      domain.EventBroadcaster
	queue       *queue.Dispatcher
	crypto      *crypto.Service
	keys        *sshkey.Manager
	syncer      *syncfs.Syncer
	cleaner     *syncfs.Cleaner
	logger      *slog.Logger

	basePath       string
	quarantinePath string
}

// NewOrchestrator wires every collaborator the core depends on (§6). basePath
// is DEPLOYMENTS_PATH; every component is an external-interface dependency
// injected through constructor arguments, never a global.
func NewOrchestrator(
	projects domain.ProjectRepository,
	deployments domain.DeploymentRepository,
	steps domain.DeploymentStepRepository,
	audit domain.AuditRepository,
	notify domain.NotificationSink,
	events domain.EventBroadcaster,
	disp *queue.Dispatcher,
	cryptoSvc *crypto.Service,
	keys *sshkey.Manager,
	basePath string,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		projects:       projects,
		deployments:    deployments,
		steps:          steps,
		audit:          audit,
		notify:         notify,
		events:         events,
		queue:          disp,
		crypto:         cryptoSvc,
		keys:           keys,
		syncer:         syncfs.New(logger),
		cleaner:        syncfs.NewCleaner(logger),
		basePath:       basePath,
		quarantinePath: filepath.Join(basePath, "_quarantine"),
		logger:         logger,
	}
}

// CreateDeployment validates, persists a Queued record, and enqueues its
// execution (§4.2).
func (o *Orchestrator) CreateDeployment(ctx context.Context, p CreateDeploymentParams) (*domain.Deployment, error) {
	project, err := o.projects.GetByID(ctx, p.ProjectID)
	if err != nil {
		return nil, err
	}
	if !project.Active {
		return nil, domain.NewError(domain.FailureValidation, domain.ErrProjectInactive)
	}
	if err := ValidatePipeline(project.Pipeline); err != nil {
		return nil, err
	}

	branch := firstNonEmpty(p.Branch, project.Branch)
	commit := firstNonEmpty(p.CommitHash, domain.UnknownCommit)
	trigger := p.Trigger
	if trigger == "" {
		if p.ManualTrigger {
			trigger = domain.TriggerManual
		} else {
			trigger = domain.TriggerWebhook
		}
	}

	d := &domain.Deployment{
		ID:            uuid.New(),
		ProjectID:     project.ID,
		Status:        domain.StatusQueued,
		Trigger:       trigger,
		Branch:        branch,
		CommitHash:    commit,
		CommitMessage: p.CommitMessage,
		Author:        p.Author,
		TriggeredBy:   p.TriggeredBy,
		CreatedAt:     time.Now(),
	}
	if err := o.deployments.Create(ctx, d); err != nil {
		return nil, err
	}

	if reg, ok := o.events.(eventRegistrar); ok {
		reg.Register(d.ID, project.ID)
	}

	o.appendAudit(ctx, project.ID, d.ID, domain.AuditDeploymentCreated, true, nil)
	o.events.EmitUpdated(d.ID, d)

	o.queue.Add(d.ID, project.ID, trigger.Priority(), func() {
		o.execute(d.ID)
	})

	return d, nil
}

// Cancel transitions a Queued deployment to Cancelled (§4.2).
func (o *Orchestrator) Cancel(ctx context.Context, id uuid.UUID) error {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !d.CanCancel() {
		return domain.NewError(domain.FailureValidation, fmt.Errorf("%w: deployment is %s, not queued", domain.ErrInvalidState, d.Status))
	}
	d.Status = domain.StatusCancelled
	now := time.Now()
	d.CompletedAt = &now
	if err := o.deployments.Update(ctx, d); err != nil {
		return err
	}
	o.appendAudit(ctx, d.ProjectID, d.ID, domain.AuditDeploymentCancelled, true, nil)
	o.events.EmitUpdated(d.ID, d)
	o.forgetEvents(d.ID)
	return nil
}

// Retry creates a new Queued deployment copying a Failed one's coordinates
// (§4.2).
func (o *Orchestrator) Retry(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	d, err := o.deployments.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != domain.StatusFailed {
		return nil, domain.NewError(domain.FailureValidation, fmt.Errorf("%w: only Failed deployments can be retried", domain.ErrInvalidState))
	}
	return o.CreateDeployment(ctx, CreateDeploymentParams{
		ProjectID:     d.ProjectID,
		TriggeredBy:   d.TriggeredBy,
		Branch:        d.Branch,
		CommitHash:    d.CommitHash,
		CommitMessage: d.CommitMessage,
		Author:        d.Author,
		Trigger:       domain.TriggerRetry,
	})
}

// execute is the closure the queue dispatcher runs; it never returns an
// error to the caller, since the dispatcher only logs processor panics
// (§4.1) — all failure handling happens via deployment state.
func (o *Orchestrator) execute(deploymentID uuid.UUID) {
	ctx := context.Background()

	// Step 1: load and guard.
	d, err := o.deployments.GetByID(ctx, deploymentID)
	if err != nil {
		o.logger.Error("services: deployment vanished before execution", "deployment", deploymentID, "error", err)
		return
	}
	if d.Status != domain.StatusQueued {
		o.logger.Info("services: skipping deployment that is no longer queued", "deployment", d.ID, "status", d.Status)
		return
	}
	project, err := o.projects.GetByID(ctx, d.ProjectID)
	if err != nil {
		o.failDeployment(ctx, d, fmt.Sprintf("project not found: %v", err))
		return
	}

	var keyHandle *domain.SSHKeyHandle
	var gitSSHCommand string
	workspace := filepath.Join(o.basePath, fmt.Sprintf("project-%s", project.ID), fmt.Sprintf("deployment-%s", d.ID))

	defer func() {
		// Step 13: always cleanup, regardless of outcome.
		time.Sleep(publishSettle)
		if err := o.cleaner.Remove(workspace, project.TargetPaths, o.quarantinePath); err != nil {
			o.logger.Warn("services: workspace cleanup failed", "workspace", workspace, "error", err)
		}
		if keyHandle != nil {
			keyHandle.Destroy()
		}
	}()

	// Step 2: SSH key materialisation, retried with backoff.
	if project.UseSSHKey {
		handle, err := o.materialiseKeyWithRetry(project)
		if err != nil {
			o.appendAudit(ctx, project.ID, d.ID, domain.AuditSSHKeyUsed, false, map[string]string{"error": err.Error()})
			o.failDeployment(ctx, d, fmt.Sprintf("ssh key materialisation failed: %v", err))
			return
		}
		keyHandle = handle
		gitSSHCommand = sshkey.GitSSHCommand(handle.Path)
	}

	// Step 3: commit resolution (pre-clone attempt; post-clone fallback below).
	if d.CommitHash == domain.UnknownCommit {
		if resolved, err := o.resolveRemoteHead(ctx, project, keyHandle); err != nil {
			o.logger.Warn("services: pre-clone commit resolution failed, deferring to post-clone", "deployment", d.ID, "error", err)
		} else {
			d.CommitHash = resolved
			_ = o.projects.UpdateCommit(ctx, project.ID, resolved)
		}
	}

	// Step 4: transition to InProgress.
	d.Status = domain.StatusInProgress
	now := time.Now()
	d.StartedAt = &now
	_ = o.deployments.Update(ctx, d)
	o.events.EmitUpdated(d.ID, d)

	// Step 5: pre-flight auto-recovery.
	if err := o.preflight(project); err != nil {
		o.failDeployment(ctx, d, err.Error())
		return
	}

	// Step 6: workspace preparation.
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		o.failDeployment(ctx, d, fmt.Sprintf("failed to create workspace: %v", err))
		return
	}
	terminateProcessesUsingPath(workspace)

	// Step 7: clone.
	if err := o.cloneWithRetry(ctx, d, project, workspace, gitSSHCommand, keyHandle); err != nil {
		o.failDeployment(ctx, d, err.Error())
		return
	}

	// Step 8: context build.
	dctx := buildContext(project, d, workspace)

	// Step 9: pipeline execution.
	runner := NewPipelineRunner(o.steps, o.events, o.logger)
	result := runner.ExecutePipeline(ctx, d.ID, project.Pipeline, dctx, workspace, gitSSHCommand, project.Name)

	// Step 10/11: publish + metadata marker.
	if result.Success {
		sourceDir := workspace
		if project.BuildOutput != "" {
			sourceDir = filepath.Join(workspace, project.BuildOutput)
			if _, err := os.Stat(sourceDir); err != nil {
				o.failDeployment(ctx, d, fmt.Sprintf("configured build output %q does not exist", project.BuildOutput))
				return
			}
		}

		if _, err := o.syncer.Publish(sourceDir, project.TargetPaths, project.SyncIgnore, project.RsyncOptions); err != nil {
			o.failDeployment(ctx, d, fmt.Sprintf("publish failed: %v", err))
			return
		}

		o.writeMarkers(project, d)
		o.completeDeployment(ctx, d, project)
		return
	}

	o.failDeployment(ctx, d, result.ErrorMessage)
}

func (o *Orchestrator) materialiseKeyWithRetry(project *domain.Project) (*domain.SSHKeyHandle, error) {
	var handle *domain.SSHKeyHandle
	op := func() error {
		h, err := o.keys.Materialise(project.EncryptedKey, project.ID.String())
		if err != nil {
			return err
		}
		handle = h
		return nil
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(500*time.Millisecond)), 2)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}
	return handle, nil
}

func (o *Orchestrator) resolveRemoteHead(ctx context.Context, project *domain.Project, key *domain.SSHKeyHandle) (string, error) {
	keyPath := ""
	if key != nil {
		keyPath = key.Path
	}
	out, err := sshkey.RunGit(ctx, keyPath, "", lsRemoteTimeout, "ls-remote", project.RepoURL, "refs/heads/"+project.Branch)
	if err != nil {
		return "", fmt.Errorf("ls-remote: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return "", errors.New("ls-remote returned no output")
	}
	return fields[0], nil
}

// preflight implements §4.2 step 5: best-effort package-manager cache
// ownership repair, then the disk space probe with old-deployment pruning.
func (o *Orchestrator) preflight(project *domain.Project) error {
	repairCacheOwnership()

	free, err := freeDiskBytes(o.basePath)
	if err != nil {
		o.logger.Warn("services: disk space probe failed, proceeding optimistically", "error", err)
		return nil
	}
	if free >= MinFreeDiskBytes {
		return nil
	}

	o.pruneOldDeployments(project.ID)

	free, err = freeDiskBytes(o.basePath)
	if err == nil && free < MinFreeDiskBytes {
		return domain.NewError(domain.FailureCapacity, errors.New("insufficient disk space"))
	}
	return nil
}

// pruneOldDeployments keeps only the most recent KeepLastN workspace
// directories for a project, oldest first.
func (o *Orchestrator) pruneOldDeployments(projectID uuid.UUID) {
	projectDir := filepath.Join(o.basePath, fmt.Sprintf("project-%s", projectID))
	entries, err := os.ReadDir(projectDir)
	if err != nil {
		return
	}
	if len(entries) <= KeepLastN {
		return
	}

	type dirInfo struct {
		name    string
		modTime time.Time
	}
	dirs := make([]dirInfo, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		dirs = append(dirs, dirInfo{name: e.Name(), modTime: info.ModTime()})
	}
	for i := 0; i < len(dirs); i++ {
		for j := i + 1; j < len(dirs); j++ {
			if dirs[j].modTime.Before(dirs[i].modTime) {
				dirs[i], dirs[j] = dirs[j], dirs[i]
			}
		}
	}
	if len(dirs) <= KeepLastN {
		return
	}
	for _, d := range dirs[:len(dirs)-KeepLastN] {
		_ = os.RemoveAll(filepath.Join(projectDir, d.name))
	}
}

func (o *Orchestrator) cloneWithRetry(ctx context.Context, d *domain.Deployment, project *domain.Project, workspace, gitSSHCommand string, key *domain.SSHKeyHandle) error {
	rec := &domain.DeploymentStep{
		ID:           uuid.New(),
		DeploymentID: d.ID,
		StepNumber:   domain.CloneStepNumber,
		Name:         "Clone Repository",
		Status:       domain.StepRunning,
		StartedAt:    time.Now(),
	}
	_ = o.steps.Create(ctx, rec)
	o.events.EmitLog(d.ID, fmt.Sprintf("cloning %s (branch %s)...", project.RepoURL, project.Branch))

	keyPath := ""
	if key != nil {
		keyPath = key.Path
	}

	op := func() error {
		_, err := sshkey.RunGit(ctx, keyPath, workspace, cloneTimeout, "clone", "--branch", project.Branch, "--depth", "1", project.RepoURL, ".")
		return err
	}
	bo := backoff.WithMaxRetries(backoff.NewExponentialBackOff(backoff.WithInitialInterval(2*time.Second)), 2)
	cloneErr := backoff.Retry(op, bo)

	completeStep := func(ok bool, msg string) {
		now := time.Now()
		rec.CompletedAt = &now
		rec.DurationSec = now.Sub(rec.StartedAt).Seconds()
		if ok {
			rec.Status = domain.StepSuccess
		} else {
			rec.Status = domain.StepFailed
			rec.ErrorOutput = msg
		}
		_ = o.steps.Update(ctx, rec)
	}

	if cloneErr != nil {
		completeStep(false, cloneErr.Error())
		return fmt.Errorf("clone failed: %w", cloneErr)
	}

	if d.CommitHash != domain.UnknownCommit {
		if _, err := sshkey.RunGit(ctx, keyPath, workspace, checkoutTimeout, "checkout", d.CommitHash); err != nil {
			completeStep(false, err.Error())
			return fmt.Errorf("checkout %s failed: %w", d.CommitHash, err)
		}
	} else {
		out, err := sshkey.RunGit(ctx, keyPath, workspace, checkoutTimeout, "rev-parse", "HEAD")
		if err != nil {
			completeStep(false, err.Error())
			return fmt.Errorf("rev-parse HEAD failed: %w", err)
		}
		resolved := strings.TrimSpace(string(out))
		d.CommitHash = resolved
		_ = o.projects.UpdateCommit(ctx, project.ID, resolved)
	}

	completeStep(true, "")

	if key != nil {
		fp, err := sshkey.Fingerprint(key.Path)
		if err != nil {
			o.appendAudit(ctx, project.ID, d.ID, domain.AuditSSHKeyUsed, false, map[string]string{"error": err.Error()})
		} else {
			o.appendAudit(ctx, project.ID, d.ID, domain.AuditSSHKeyUsed, true, map[string]string{"fingerprint": fp})
		}
	}

	return nil
}

func buildContext(project *domain.Project, d *domain.Deployment, workspace string) domain.DeploymentContext {
	return domain.DeploymentContext{
		domain.VarProjectName:      project.Name,
		domain.VarProjectID:        project.ID.String(),
		domain.VarDeploymentID:     d.ID.String(),
		domain.VarRepoName:         repoNameFromURL(project.RepoURL),
		domain.VarRepoURL:          project.RepoURL,
		domain.VarBranch:           d.Branch,
		domain.VarCommit:           d.CommitHash,
		domain.VarCommitHash:       d.CommitHash,
		domain.VarCommitMessage:    d.CommitMessage,
		domain.VarAuthor:           d.Author,
		domain.VarEnvironment:      "production",
		domain.VarWorkingDirectory: workspace,
		domain.VarProjectPath:      workspace,
		domain.VarTargetPath:       project.TargetPaths[0],
		domain.VarBuildCommand:     "",
		domain.VarBuildOutput:      project.BuildOutput,
	}
}

func repoNameFromURL(u string) string {
	u = strings.TrimSuffix(u, ".git")
	parts := strings.Split(strings.ReplaceAll(u, "\\", "/"), "/")
	if len(parts) == 0 {
		return u
	}
	return parts[len(parts)-1]
}

type deployMarker struct {
	DeploymentID  string  `json:"deploymentId"`
	ProjectID     string  `json:"projectId"`
	ProjectName   string  `json:"projectName"`
	ProjectType   string  `json:"projectType"`
	RepoURL       string  `json:"repoUrl"`
	Branch        string  `json:"branch"`
	CommitHash    string  `json:"commitHash"`
	CommitMessage string  `json:"commitMessage"`
	Author        string  `json:"author"`
	TriggeredBy   string  `json:"triggeredBy"`
	Trigger       string  `json:"trigger"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"createdAt"`
	StartedAt     string  `json:"startedAt,omitempty"`
	CompletedAt   string  `json:"completedAt,omitempty"`
	DurationSec   float64 `json:"durationSeconds"`
	DurationHuman string  `json:"durationHuman"`
	DeployedAt    string  `json:"deployedAt"`
	Environment   string  `json:"environment"`
}

func (o *Orchestrator) writeMarkers(project *domain.Project, d *domain.Deployment) {
	marker := deployMarker{
		DeploymentID:  d.ID.String(),
		ProjectID:     project.ID.String(),
		ProjectName:   project.Name,
		ProjectType:   "shell-pipeline",
		RepoURL:       project.RepoURL,
		Branch:        d.Branch,
		CommitHash:    d.CommitHash,
		CommitMessage: d.CommitMessage,
		Author:        d.Author,
		TriggeredBy:   d.TriggeredBy,
		Trigger:       string(d.Trigger),
		Status:        string(domain.StatusSuccess),
		CreatedAt:     d.CreatedAt.Format(time.RFC3339),
		DeployedAt:    time.Now().Format(time.RFC3339),
		Environment:   "production",
	}
	if d.StartedAt != nil {
		marker.StartedAt = d.StartedAt.Format(time.RFC3339)
		marker.DurationSec = time.Since(*d.StartedAt).Seconds()
		marker.DurationHuman = time.Since(*d.StartedAt).Round(time.Second).String()
	}

	body, err := json.MarshalIndent(marker, "", "  ")
	if err != nil {
		o.logger.Warn("services: failed to marshal deploy marker", "error", err)
		return
	}
	for _, target := range project.TargetPaths {
		path := filepath.Join(target, markerFileName)
		if err := os.WriteFile(path, body, 0o644); err != nil {
			o.logger.Warn("services: failed to write deploy marker", "target", target, "error", err)
		}
	}
}

func (o *Orchestrator) completeDeployment(ctx context.Context, d *domain.Deployment, project *domain.Project) {
	now := time.Now()
	d.Status = domain.StatusSuccess
	d.CompletedAt = &now
	if d.StartedAt != nil {
		d.DurationSec = now.Sub(*d.StartedAt).Seconds()
	}
	_ = o.deployments.Update(ctx, d)
	o.events.EmitCompleted(d.ID, d)
	o.forgetEvents(d.ID)

	dur := d.DurationSec
	o.sendNotification(ctx, project, d, NotificationSuccess(project, d, &dur))
}

func (o *Orchestrator) failDeployment(ctx context.Context, d *domain.Deployment, message string) {
	now := time.Now()
	d.Status = domain.StatusFailed
	d.CompletedAt = &now
	d.ErrorMessage = message
	if d.StartedAt != nil {
		d.DurationSec = now.Sub(*d.StartedAt).Seconds()
	}
	_ = o.deployments.Update(ctx, d)
	o.events.EmitCompleted(d.ID, d)
	o.forgetEvents(d.ID)

	o.sendNotification(ctx, nil, d, domain.NotificationPayload{
		DeploymentID: d.ID,
		Status:       domain.StatusFailed,
		Branch:       d.Branch,
		CommitHash:   d.CommitHash,
		Error:        message,
	})
}

// NotificationSuccess builds the success notification payload (§4.2 step 12).
func NotificationSuccess(project *domain.Project, d *domain.Deployment, durationSec *float64) domain.NotificationPayload {
	return domain.NotificationPayload{
		ProjectName:   project.Name,
		DeploymentID:  d.ID,
		Status:        domain.StatusSuccess,
		Branch:        d.Branch,
		CommitHash:    d.CommitHash,
		CommitMessage: d.CommitMessage,
		Author:        d.Author,
		DurationSec:   durationSec,
	}
}

func (o *Orchestrator) sendNotification(ctx context.Context, project *domain.Project, d *domain.Deployment, payload domain.NotificationPayload) {
	if o.notify == nil {
		return
	}
	if err := o.notify.SendDeploymentNotification(ctx, project, d, payload); err != nil {
		o.logger.Warn("services: notification failed", "deployment", d.ID, "error", err)
	}
}

func (o *Orchestrator) appendAudit(ctx context.Context, projectID, deploymentID uuid.UUID, action domain.AuditAction, success bool, detail map[string]string) {
	if o.audit == nil {
		return
	}
	entry := &domain.AuditEntry{
		ID:           uuid.New(),
		ProjectID:    projectID,
		DeploymentID: deploymentID,
		Action:       action,
		Success:      success,
		Detail:       detail,
		CreatedAt:    time.Now(),
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.logger.Warn("services: audit append failed", "action", action, "error", err)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// terminateProcessesUsingPath is the hook for workspace preparation
// (§4.2 step 6). It is a no-op: it enumerates and kills no process. A
// process left running under workspace is dealt with only by the shell
// session's process-group teardown and by syncfs.Cleaner.Remove's cleanup
// cascade.
func terminateProcessesUsingPath(workspace string) {
	_ = workspace
}
