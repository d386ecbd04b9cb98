package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeOrchestratorError maps a domain.Error's FailureKind to an HTTP
// status, falling back to 500 for anything unclassified.
func writeOrchestratorError(w http.ResponseWriter, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	var classified *domain.Error
	if errors.As(err, &classified) {
		switch classified.Kind {
		case domain.FailureValidation:
			writeError(w, http.StatusConflict, err.Error())
			return
		case domain.FailureCapacity:
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}
