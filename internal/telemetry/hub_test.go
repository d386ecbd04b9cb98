package telemetry_test

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/telemetry"
)

func TestHub_DeploymentSubscriberReceivesLogs(t *testing.T) {
	h := telemetry.NewHub()
	depID := uuid.New()

	ch := h.SubscribeDeployment(depID)
	defer h.UnsubscribeDeployment(depID, ch)

	h.EmitLog(depID, "building...")

	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventDeploymentLog, evt.Kind)
		assert.Equal(t, "building...", evt.Line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for log event")
	}
}

func TestHub_ProjectSubscriberReceivesLogsViaRegister(t *testing.T) {
	h := telemetry.NewHub()
	projID := uuid.New()
	depID := uuid.New()
	h.Register(depID, projID)

	ch := h.SubscribeProject(projID)
	defer h.UnsubscribeProject(projID, ch)

	h.EmitLog(depID, "line one")

	select {
	case evt := <-ch:
		assert.Equal(t, "line one", evt.Line)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for project room event")
	}
}

func TestHub_EmitUpdated_CarriesProjectIDDirectly(t *testing.T) {
	h := telemetry.NewHub()
	projID := uuid.New()
	depID := uuid.New()

	ch := h.SubscribeProject(projID)
	defer h.UnsubscribeProject(projID, ch)

	d := &domain.Deployment{ID: depID, ProjectID: projID, Status: domain.StatusInProgress}
	h.EmitUpdated(depID, d)

	select {
	case evt := <-ch:
		assert.Equal(t, domain.EventDeploymentUpdated, evt.Kind)
		require.NotNil(t, evt.Deployment)
		assert.Equal(t, domain.StatusInProgress, evt.Deployment.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for updated event")
	}
}

func TestHub_FullBufferDropsInsteadOfBlocking(t *testing.T) {
	h := telemetry.NewHub()
	depID := uuid.New()
	ch := h.SubscribeDeployment(depID)
	defer h.UnsubscribeDeployment(depID, ch)

	for i := 0; i < 200; i++ {
		h.EmitLog(depID, "spam")
	}
	// No assertion beyond "this returns promptly" — a blocking publish
	// would hang the test via the channel's fixed buffer.
}

func TestHub_UnsubscribeClosesChannel(t *testing.T) {
	h := telemetry.NewHub()
	depID := uuid.New()
	ch := h.SubscribeDeployment(depID)
	h.UnsubscribeDeployment(depID, ch)

	_, open := <-ch
	assert.False(t, open)
}
