// Package ws streams real-time deployment events to a websocket client,
// grounded on the teacher's api/internal/api/handlers/websocket.go: the
// same write-pump/read-pump split with a ping ticker keeping the connection
// alive, generalised from a single Rust-agent log channel to the Hub's
// typed Event stream (§4.6).
package ws

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/telemetry"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// CORS on the surrounding chi router already validated Origin for
		// the HTTP upgrade request; this handler only ever streams out.
		return true
	},
}

// Handler upgrades a request to a websocket and streams one deployment's
// events until the client disconnects or the deployment completes.
type Handler struct {
	hub    *telemetry.Hub
	logger *slog.Logger
}

// New is the factory function.
func New(hub *telemetry.Hub, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, logger: logger}
}

// StreamDeployment handles GET /api/v1/ws/deployments/{id} (§4.6).
func (h *Handler) StreamDeployment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid deployment id", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "deployment", id, "error", err)
		return
	}

	events := h.hub.SubscribeDeployment(id)
	defer h.hub.UnsubscribeDeployment(id, events)

	go h.readPump(conn, id)
	h.writePump(conn, events, id)
}

func (h *Handler) writePump(conn *websocket.Conn, events <-chan telemetry.Event, id uuid.UUID) {
	defer conn.Close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case evt, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "subscription closed"))
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				h.logger.Warn("websocket write failed", "deployment", id, "error", err)
				return
			}
			if evt.Kind == domain.EventDeploymentCompleted {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "deployment completed"))
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Handler) readPump(conn *websocket.Conn, id uuid.UUID) {
	defer conn.Close()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket closed unexpectedly", "deployment", id, "error", err)
			}
			return
		}
	}
}
