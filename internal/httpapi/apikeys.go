package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
)

type issueAPIKeyRequest struct {
	Name       string      `json:"name"`
	Role       domain.Role `json:"role"`
	ProjectIDs []string    `json:"project_ids"`
}

// issueAPIKey mints a new bearer credential. Only an admin may call this:
// the raw key is returned exactly once and never recoverable afterward.
func (h *handlers) issueAPIKey(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, domain.RoleAdmin); err != nil {
		writeError(w, err)
		return
	}
	var req issueAPIKeyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	raw, key, err := h.app.Auth.IssueKey(r.Context(), req.Name, req.Role, req.ProjectIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"key": raw, "api_key": key})
}
