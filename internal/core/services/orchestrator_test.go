package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/core/services"
	"github.com/deploycenter/deploy-center/internal/infrastructure/crypto"
	"github.com/deploycenter/deploy-center/internal/queue"
	"github.com/deploycenter/deploy-center/internal/sshkey"
	"github.com/deploycenter/deploy-center/internal/telemetry"
)

type fakeProjectRepo struct {
	mu       sync.Mutex
	projects map[uuid.UUID]*domain.Project
}

func newFakeProjectRepo(projects ...*domain.Project) *fakeProjectRepo {
	r := &fakeProjectRepo{projects: map[uuid.UUID]*domain.Project{}}
	for _, p := range projects {
		r.projects[p.ID] = p
	}
	return r
}

func (r *fakeProjectRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return p, nil
}

func (r *fakeProjectRepo) UpdateCommit(_ context.Context, id uuid.UUID, commitHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	_ = id
	_ = commitHash
	return nil
}

type fakeDeploymentRepo struct {
	mu          sync.Mutex
	deployments map[uuid.UUID]*domain.Deployment
}

func newFakeDeploymentRepo() *fakeDeploymentRepo {
	return &fakeDeploymentRepo{deployments: map[uuid.UUID]*domain.Deployment{}}
}

func (r *fakeDeploymentRepo) Create(_ context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[d.ID] = d
	return nil
}

func (r *fakeDeploymentRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Deployment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.deployments[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return d, nil
}

func (r *fakeDeploymentRepo) Update(_ context.Context, d *domain.Deployment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deployments[d.ID] = d
	return nil
}

type fakeStepRepo struct{}

func (fakeStepRepo) Create(context.Context, *domain.DeploymentStep) error { return nil }
func (fakeStepRepo) Update(context.Context, *domain.DeploymentStep) error { return nil }

type fakeAuditRepo struct {
	mu      sync.Mutex
	entries []*domain.AuditEntry
}

func (r *fakeAuditRepo) Append(_ context.Context, e *domain.AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, e)
	return nil
}

type fakeEvents struct{}

func (fakeEvents) EmitUpdated(uuid.UUID, *domain.Deployment)   {}
func (fakeEvents) EmitLog(uuid.UUID, string)                   {}
func (fakeEvents) EmitCompleted(uuid.UUID, *domain.Deployment) {}

func testCrypto(t *testing.T) *crypto.Service {
	t.Helper()
	svc, err := crypto.NewService("aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	require.NoError(t, err)
	return svc
}

func newTestOrchestrator(t *testing.T, project *domain.Project) (*services.Orchestrator, *fakeDeploymentRepo) {
	t.Helper()
	deployments := newFakeDeploymentRepo()
	disp := queue.New(nil)
	keys := sshkey.New(t.TempDir(), testCrypto(t), nil)
	o := services.NewOrchestrator(
		newFakeProjectRepo(project),
		deployments,
		fakeStepRepo{},
		&fakeAuditRepo{},
		nil,
		fakeEvents{},
		disp,
		testCrypto(t),
		keys,
		t.TempDir(),
		nil,
	)
	return o, deployments
}

func sampleProject() *domain.Project {
	return &domain.Project{
		ID:          uuid.New(),
		Name:        "demo",
		RepoURL:     "https://example.invalid/demo.git",
		Branch:      "main",
		Active:      true,
		TargetPaths: []string{"/tmp/demo-target"},
	}
}

func TestCreateDeployment_PersistsQueuedAndEnqueues(t *testing.T) {
	project := sampleProject()
	o, deployments := newTestOrchestrator(t, project)

	d, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{
		ProjectID:   project.ID,
		TriggeredBy: "webhook",
		CommitHash:  "abc123",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, d.Status)

	stored, err := deployments.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusQueued, stored.Status)
}

func TestCreateDeployment_RejectsInactiveProject(t *testing.T) {
	project := sampleProject()
	project.Active = false
	o, _ := newTestOrchestrator(t, project)

	_, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{ProjectID: project.ID})
	assert.ErrorIs(t, err, domain.ErrProjectInactive)
}

func TestCreateDeployment_ProjectRoomReceivesCreatedEvent(t *testing.T) {
	project := sampleProject()
	hub := telemetry.NewHub()
	deployments := newFakeDeploymentRepo()
	disp := queue.New(nil)
	keys := sshkey.New(t.TempDir(), testCrypto(t), nil)
	o := services.NewOrchestrator(
		newFakeProjectRepo(project),
		deployments,
		fakeStepRepo{},
		&fakeAuditRepo{},
		nil,
		hub,
		disp,
		testCrypto(t),
		keys,
		t.TempDir(),
		nil,
	)

	projectCh := hub.SubscribeProject(project.ID)
	defer hub.UnsubscribeProject(project.ID, projectCh)

	d, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{ProjectID: project.ID})
	require.NoError(t, err)

	select {
	case evt := <-projectCh:
		assert.Equal(t, d.ID, evt.DeploymentID)
		assert.Equal(t, domain.EventDeploymentUpdated, evt.Kind)
	case <-time.After(time.Second):
		t.Fatal("expected the project room to receive the deployment-created event")
	}
}

func TestCancel_OnlyQueuedIsCancellable(t *testing.T) {
	project := sampleProject()
	o, deployments := newTestOrchestrator(t, project)

	d, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{ProjectID: project.ID})
	require.NoError(t, err)

	require.NoError(t, o.Cancel(context.Background(), d.ID))

	stored, err := deployments.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, stored.Status)

	err = o.Cancel(context.Background(), d.ID)
	assert.Error(t, err)
}

func TestRetry_RequiresFailedSource(t *testing.T) {
	project := sampleProject()
	o, deployments := newTestOrchestrator(t, project)

	d, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{ProjectID: project.ID})
	require.NoError(t, err)

	_, err = o.Retry(context.Background(), d.ID)
	assert.Error(t, err, "retry of a Queued deployment must be rejected")

	stored, _ := deployments.GetByID(context.Background(), d.ID)
	stored.Status = domain.StatusFailed
	require.NoError(t, deployments.Update(context.Background(), stored))

	retried, err := o.Retry(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerRetry, retried.Trigger)
	assert.Equal(t, domain.StatusQueued, retried.Status)
}

func TestCreateDeployment_CommitFallsBackToUnknownSentinel(t *testing.T) {
	project := sampleProject()
	o, _ := newTestOrchestrator(t, project)

	d, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{ProjectID: project.ID})
	require.NoError(t, err)
	assert.Equal(t, domain.UnknownCommit, d.CommitHash)
}

func TestCreateDeployment_EventuallyExecutes(t *testing.T) {
	// The queued unit runs the full execution closure asynchronously; this
	// only asserts it transitions out of Queued within a reasonable bound,
	// without requiring a real git remote (clone will fail, which is fine
	// — we are only exercising the dispatcher wiring, not git).
	project := sampleProject()
	o, deployments := newTestOrchestrator(t, project)

	d, err := o.CreateDeployment(context.Background(), services.CreateDeploymentParams{ProjectID: project.ID, CommitHash: "abc123"})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stored, err := deployments.GetByID(context.Background(), d.ID)
		return err == nil && stored.Status != domain.StatusQueued
	}, 5*time.Second, 20*time.Millisecond)
}
