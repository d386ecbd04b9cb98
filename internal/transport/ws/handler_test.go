package ws_test

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/telemetry"
	"github.com/deploycenter/deploy-center/internal/transport/ws"
)

func TestStreamDeployment_DeliversEmittedEvent(t *testing.T) {
	hub := telemetry.NewHub()
	handler := ws.New(hub, nil)
	deploymentID := uuid.New()

	r := chi.NewRouter()
	r.Get("/ws/deployments/{id}", handler.StreamDeployment)
	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/deployments/" + deploymentID.String()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		hub.EmitUpdated(deploymentID, &domain.Deployment{ID: deploymentID, Status: domain.StatusInProgress})
		return true
	}, time.Second, 10*time.Millisecond)

	var evt telemetry.Event
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, domain.EventDeploymentUpdated, evt.Kind)
	require.Equal(t, deploymentID, evt.DeploymentID)
}
