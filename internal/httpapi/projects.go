package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
)

type createProjectRequest struct {
	Name    string `json:"name"`
	ShortID string `json:"short_id"`
}

func (h *handlers) createProject(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, domain.RoleAdmin, domain.RoleOperator); err != nil {
		writeError(w, err)
		return
	}
	var req createProjectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.app.Graph.CreateProject(r.Context(), req.Name, req.ShortID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (h *handlers) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.app.Stores.Graph.ListProjects(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, projects)
}

func (h *handlers) getProject(w http.ResponseWriter, r *http.Request) {
	id := pathVar(r, "id")
	if err := authorizeProject(r, id); err != nil {
		writeError(w, err)
		return
	}
	p, err := h.app.Stores.Graph.GetProject(r.Context(), id)
	if err != nil {
		writeNotFound(w, "project not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type createPhaseRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createPhase(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	var req createPhaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ph, err := h.app.Graph.CreatePhase(r.Context(), projectID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ph)
}

func (h *handlers) listPhases(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	phases, err := h.app.Stores.Graph.ListPhases(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, phases)
}

type createMilestoneRequest struct {
	Name string `json:"name"`
}

func (h *handlers) createMilestone(w http.ResponseWriter, r *http.Request) {
	phaseID := pathVar(r, "id")
	phase, err := h.app.Stores.Graph.GetPhase(r.Context(), phaseID)
	if err != nil {
		writeNotFound(w, "phase not found")
		return
	}
	if err := authorizeProject(r, phase.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	var req createMilestoneRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	m, err := h.app.Graph.CreateMilestone(r.Context(), phaseID, req.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, m)
}

func (h *handlers) listMilestones(w http.ResponseWriter, r *http.Request) {
	phaseID := pathVar(r, "id")
	phase, err := h.app.Stores.Graph.GetPhase(r.Context(), phaseID)
	if err != nil {
		writeNotFound(w, "phase not found")
		return
	}
	if err := authorizeProject(r, phase.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	milestones, err := h.app.Stores.Graph.ListMilestones(r.Context(), phaseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, milestones)
}
