package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/store/memory"
)

func TestProjectStore_GetByID_ReturnsACloneNotTheOriginalPointer(t *testing.T) {
	p := &domain.Project{ID: uuid.New(), Name: "demo"}
	store := memory.NewProjectStore(p)

	got, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := store.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "demo", again.Name)
}

func TestProjectStore_GetByID_MissingReturnsErrNotFound(t *testing.T) {
	store := memory.NewProjectStore()
	_, err := store.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDeploymentStore_CreateThenUpdate(t *testing.T) {
	store := memory.NewDeploymentStore()
	d := &domain.Deployment{ID: uuid.New(), Status: domain.StatusQueued, CreatedAt: time.Now()}
	require.NoError(t, store.Create(context.Background(), d))

	d.Status = domain.StatusInProgress
	require.NoError(t, store.Update(context.Background(), d))

	got, err := store.GetByID(context.Background(), d.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusInProgress, got.Status)
}

func TestStepStore_UpdateUnknownStepFails(t *testing.T) {
	store := memory.NewStepStore()
	err := store.Update(context.Background(), &domain.DeploymentStep{ID: uuid.New(), DeploymentID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAuditStore_ListByProjectFiltersCorrectly(t *testing.T) {
	store := memory.NewAuditStore()
	projectA, projectB := uuid.New(), uuid.New()
	require.NoError(t, store.Append(context.Background(), &domain.AuditEntry{ID: uuid.New(), ProjectID: projectA}))
	require.NoError(t, store.Append(context.Background(), &domain.AuditEntry{ID: uuid.New(), ProjectID: projectB}))

	entries := store.ListByProject(context.Background(), projectA)
	assert.Len(t, entries, 1)
}

func TestNotificationLog_RecordsEverySend(t *testing.T) {
	log := memory.NewNotificationLog()
	require.NoError(t, log.SendDeploymentNotification(context.Background(), nil, &domain.Deployment{}, domain.NotificationPayload{Status: domain.StatusSuccess}))
	assert.Len(t, log.Sent(), 1)
}
