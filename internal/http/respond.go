package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/xjrogers/Forma-sub002/internal/repository"
	"github.com/xjrogers/Forma-sub002/internal/service/deploy"
	"github.com/xjrogers/Forma-sub002/internal/service/project"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// decodeJSON parses the body into dst and runs its validation tags.
func (r *Router) decodeJSON(w http.ResponseWriter, req *http.Request, dst any) bool {
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if err := r.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// serviceStatus maps domain errors onto HTTP status codes.
func serviceStatus(err error) int {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrNotOwner), errors.Is(err, deploy.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, deploy.ErrQuotaExceeded):
		return http.StatusTooManyRequests
	case errors.Is(err, deploy.ErrEmptyProject), errors.Is(err, project.ErrInvalidPath):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
