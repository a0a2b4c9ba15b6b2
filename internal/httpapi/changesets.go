package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/metrics"
)

type changeSetOpsRequest struct {
	BaseVersion int                 `json:"base_version"`
	Operations  []domain.Operation  `json:"operations"`
	ProposedBy  string              `json:"proposed_by"`
}

func (h *handlers) proposeChangeSet(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	var req changeSetOpsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	cs, preview, err := h.app.Changeset.Propose(r.Context(), projectID, req.BaseVersion, req.Operations, req.ProposedBy)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"changeset": cs, "impact": preview})
}

func (h *handlers) previewChangeSet(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	var req changeSetOpsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	preview, err := h.app.Changeset.Preview(r.Context(), projectID, req.Operations)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

func (h *handlers) applyChangeSet(w http.ResponseWriter, r *http.Request) {
	changeSetID := pathVar(r, "id")
	cs, err := h.app.Stores.ChangeSet.GetChangeSet(r.Context(), changeSetID)
	if err != nil {
		writeNotFound(w, "changeset not found")
		return
	}
	if err := authorizeProject(r, cs.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	applied, err := h.app.Changeset.Apply(r.Context(), changeSetID)
	if err != nil {
		metrics.RecordChangeSetApplied("rejected")
		writeError(w, err)
		return
	}
	metrics.RecordChangeSetApplied("applied")
	writeJSON(w, http.StatusOK, applied)
}

func (h *handlers) listChangeSets(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	sets, err := h.app.Stores.ChangeSet.ListChangeSets(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sets)
}
