package httpapi

import (
	"net/http"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/scheduler"
)

func (h *handlers) listReady(w http.ResponseWriter, r *http.Request) {
	projectID := r.URL.Query().Get("project_id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	agentID := r.URL.Query().Get("agent_id")
	caps, err := scheduler.ParseCapabilities(r.URL.Query().Get("capabilities"))
	if err != nil {
		writeError(w, err)
		return
	}
	tasks, err := h.app.Scheduler.ListReady(r.Context(), projectID, agentID, caps)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type claimRequest struct {
	AgentID     string `json:"agent_id"`
	PlanVersion int    `json:"plan_version"`
}

func (h *handlers) claimTask(w http.ResponseWriter, r *http.Request) {
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
	var req claimRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lease, err := h.app.Lease.Claim(r.Context(), taskID, req.AgentID, req.PlanVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lease)
}

type heartbeatRequest struct {
	LeaseID         string `json:"lease_id"`
	FencingToken    int64  `json:"fencing_token"`
	SeenPlanVersion int    `json:"seen_plan_version"`
}

type heartbeatResponse struct {
	domain.Lease
	PlanAdvisory domain.PlanAdvisory `json:"plan_advisory,omitempty"`
}

func (h *handlers) heartbeat(w http.ResponseWriter, r *http.Request) {
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
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	lease, advisory, err := h.app.Lease.Heartbeat(r.Context(), req.LeaseID, req.FencingToken, req.SeenPlanVersion)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, heartbeatResponse{Lease: lease, PlanAdvisory: advisory})
}

type releaseLeaseRequest struct {
	Reason string `json:"reason"`
}

func (h *handlers) releaseLease(w http.ResponseWriter, r *http.Request) {
	leaseID := pathVar(r, "id")
	l, err := h.app.Stores.Lease.GetLease(r.Context(), leaseID)
	if err != nil {
		writeNotFound(w, "lease not found")
		return
	}
	if err := authorizeProject(r, l.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	var req releaseLeaseRequest
	_ = decodeJSON(r, &req)
	released, err := h.app.Lease.Release(r.Context(), leaseID, req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, released)
}

type assignRequest struct {
	Assignee string `json:"assignee"`
	TTL      string `json:"ttl"`
}

func (h *handlers) assignTask(w http.ResponseWriter, r *http.Request) {
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
	var req assignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		ttl, _ = time.ParseDuration(req.TTL)
	}
	resv, err := h.app.Reservation.Assign(r.Context(), taskID, req.Assignee, ttl)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resv)
}

func (h *handlers) releaseReservation(w http.ResponseWriter, r *http.Request) {
	reservationID := pathVar(r, "id")
	resv, err := h.app.Reservation.Release(r.Context(), reservationID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resv)
}
