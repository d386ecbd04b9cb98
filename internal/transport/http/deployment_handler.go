package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/core/services"
)

// DeploymentHandler exposes manual deployment control: trigger, cancel,
// retry, and status lookup (§4.2).
type DeploymentHandler struct {
	deployments  domain.DeploymentRepository
	orchestrator *services.Orchestrator
	logger       *slog.Logger
}

// NewDeploymentHandler is the factory function.
func NewDeploymentHandler(deployments domain.DeploymentRepository, orchestrator *services.Orchestrator, logger *slog.Logger) *DeploymentHandler {
	return &DeploymentHandler{deployments: deployments, orchestrator: orchestrator, logger: logger}
}

type triggerRequest struct {
	ProjectID     uuid.UUID `json:"projectId"`
	Branch        string    `json:"branch,omitempty"`
	CommitHash    string    `json:"commitHash,omitempty"`
	CommitMessage string    `json:"commitMessage,omitempty"`
	Author        string    `json:"author,omitempty"`
	TriggeredBy   string    `json:"triggeredBy,omitempty"`
}

// Trigger handles POST /deployments.
func (h *DeploymentHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	var req triggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ProjectID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "projectId is required")
		return
	}

	deployment, err := h.orchestrator.CreateDeployment(r.Context(), services.CreateDeploymentParams{
		ProjectID:     req.ProjectID,
		TriggeredBy:   req.TriggeredBy,
		Branch:        req.Branch,
		CommitHash:    req.CommitHash,
		CommitMessage: req.CommitMessage,
		Author:        req.Author,
		ManualTrigger: true,
	})
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, deployment)
}

// Get handles GET /deployments/{id}.
func (h *DeploymentHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	d, err := h.deployments.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "deployment not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load deployment")
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// Cancel handles POST /deployments/{id}/cancel.
func (h *DeploymentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	if err := h.orchestrator.Cancel(r.Context(), id); err != nil {
		writeOrchestratorError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Retry handles POST /deployments/{id}/retry.
func (h *DeploymentHandler) Retry(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid deployment id")
		return
	}

	d, err := h.orchestrator.Retry(r.Context(), id)
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, d)
}
