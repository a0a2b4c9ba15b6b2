package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/statemachine"
)

type transitionRequest struct {
	To           domain.TaskState `json:"to"`
	Actor        string           `json:"actor"`
	ReviewedBy   string           `json:"reviewed_by"`
	EvidenceRefs []string         `json:"evidence_refs"`
	Force        bool             `json:"force"`
	Rationale    string           `json:"rationale"`
}

func (h *handlers) transitionState(w http.ResponseWriter, r *http.Request) {
	taskID := pathVar(r, "id")
	task, err := h.app.Stores.Graph.GetTask(r.Context(), taskID)
	if err != nil {
		writeNotFound(w, "task not found")
		return
	}
	if err := authorizeProject(r, task.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	var req transitionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.Force {
		if err := requireRole(r, domain.RoleAdmin, domain.RoleOperator); err != nil {
			writeError(w, err)
			return
		}
	}
	updated, err := h.app.StateMachine.Transition(r.Context(), statemachine.TransitionInput{
		TaskID:       taskID,
		To:           req.To,
		Actor:        req.Actor,
		ReviewedBy:   req.ReviewedBy,
		EvidenceRefs: req.EvidenceRefs,
		Force:        req.Force,
		Rationale:    req.Rationale,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}
