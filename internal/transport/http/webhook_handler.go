package http

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/core/services"
	"github.com/deploycenter/deploy-center/internal/webhook"
)

// githubPushPayload is the subset of a GitHub push event body the handler
// reads; only the fields Normalise needs.
type githubPushPayload struct {
	Ref   string `json:"ref"`
	After string `json:"after"`
	Before string `json:"before"`
	HeadCommit struct {
		ID        string `json:"id"`
		Message   string `json:"message"`
		Author    struct {
			Name  string `json:"name"`
			Email string `json:"email"`
		} `json:"author"`
	} `json:"head_commit"`
	Repository struct {
		FullName string `json:"full_name"`
		CloneURL string `json:"clone_url"`
		SSHURL   string `json:"ssh_url"`
	} `json:"repository"`
	Commits []struct {
		Added    []string `json:"added"`
		Modified []string `json:"modified"`
		Removed  []string `json:"removed"`
	} `json:"commits"`
}

// WebhookHandler handles inbound push webhooks for a project (§4.7).
type WebhookHandler struct {
	projects     domain.ProjectRepository
	orchestrator *services.Orchestrator
	logger       *slog.Logger
}

// NewWebhookHandler is the factory function.
func NewWebhookHandler(projects domain.ProjectRepository, orchestrator *services.Orchestrator, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{projects: projects, orchestrator: orchestrator, logger: logger}
}

// HandlePush handles POST /webhooks/{projectId}.
func (h *WebhookHandler) HandlePush(w http.ResponseWriter, r *http.Request) {
	projectID, err := uuid.Parse(chi.URLParam(r, "projectId"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid project id")
		return
	}

	project, err := h.projects.GetByID(r.Context(), projectID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "project not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load project")
		return
	}

	rawBody, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(rawBody))

	if project.WebhookSecret != "" {
		signature := r.Header.Get("X-Hub-Signature-256")
		if err := webhook.VerifySignature(rawBody, signature, project.WebhookSecret); err != nil {
			h.logger.Warn("rejected webhook with invalid signature", "project", projectID, "error", err)
			writeError(w, http.StatusUnauthorized, "invalid signature")
			return
		}
	}

	event := r.Header.Get("X-GitHub-Event")
	if event == "ping" {
		w.WriteHeader(http.StatusOK)
		return
	}
	if event != "" && event != "push" {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var body githubPushPayload
	if err := json.Unmarshal(rawBody, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON payload")
		return
	}

	commits := make([]webhook.CommitInput, len(body.Commits))
	for i, c := range body.Commits {
		commits[i] = webhook.CommitInput{Added: c.Added, Modified: c.Modified, Removed: c.Removed}
	}

	repoURL := body.Repository.CloneURL
	if project.UseSSHKey && body.Repository.SSHURL != "" {
		repoURL = body.Repository.SSHURL
	}

	payload := webhook.Normalise(body.Ref, body.Repository.FullName, repoURL,
		body.HeadCommit.ID, body.HeadCommit.Message, body.HeadCommit.Author.Name,
		body.HeadCommit.Author.Email, body.Before, commits)

	decision := webhook.ShouldTrigger(project, payload)
	if !decision.ShouldTrigger {
		h.logger.Info("webhook did not trigger a deployment", "project", projectID, "reason", decision.Reason)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "reason": decision.Reason})
		return
	}

	deployment, err := h.orchestrator.CreateDeployment(r.Context(), services.CreateDeploymentParams{
		ProjectID:     projectID,
		TriggeredBy:   payload.AuthorEmail,
		Branch:        payload.Branch,
		CommitHash:    payload.CommitHash,
		CommitMessage: payload.CommitMessage,
		Author:        payload.AuthorName,
		Trigger:       domain.TriggerWebhook,
	})
	if err != nil {
		writeOrchestratorError(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, deployment)
}
