package httpapi

import (
	"net/http"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/metrics"
)

type submitArtifactRequest struct {
	LeaseID        string              `json:"lease_id"`
	FencingToken   int64               `json:"fencing_token"`
	AgentID        string              `json:"agent_id"`
	Kind           domain.ArtifactKind `json:"kind"`
	ContentRef     string              `json:"content_ref"`
	TouchedPaths   []string            `json:"touched_paths"`
	IdempotencyKey string              `json:"idempotency_key"`
}

func (h *handlers) submitArtifact(w http.ResponseWriter, r *http.Request) {
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
	var req submitArtifactRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if req.IdempotencyKey != "" && h.app.Cache != nil {
		seen, err := h.app.Cache.Seen(r.Context(), "artifact:"+req.IdempotencyKey, 10*time.Minute)
		if err != nil {
			writeError(w, err)
			return
		}
		if seen {
			h.app.Log.WithField("idempotency_key", req.IdempotencyKey).Debug("duplicate artifact submission suppressed")
		}
	}
	a, err := h.app.Integration.SubmitArtifact(r.Context(), domain.Artifact{
		TaskID:         taskID,
		ProjectID:      task.ProjectID,
		LeaseID:        req.LeaseID,
		FencingToken:   req.FencingToken,
		AgentID:        req.AgentID,
		Kind:           req.Kind,
		ContentRef:     req.ContentRef,
		TouchedPaths:   req.TouchedPaths,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *handlers) listArtifacts(w http.ResponseWriter, r *http.Request) {
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
	artifacts, err := h.app.Stores.Artifact.ListArtifactsForTask(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, artifacts)
}

type enqueueAttemptRequest struct {
	TaskID         string `json:"task_id"`
	ArtifactID     string `json:"artifact_id"`
	IdempotencyKey string `json:"idempotency_key"`
}

func (h *handlers) enqueueAttempt(w http.ResponseWriter, r *http.Request) {
	var req enqueueAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.app.Stores.Graph.GetTask(r.Context(), req.TaskID)
	if err != nil {
		writeNotFound(w, "task not found")
		return
	}
	if err := authorizeProject(r, task.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	attempt, err := h.app.Integration.EnqueueAttempt(r.Context(), domain.IntegrationAttempt{
		ArtifactID:     req.ArtifactID,
		TaskID:         req.TaskID,
		ProjectID:      task.ProjectID,
		Status:         domain.IntegrationPending,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, attempt)
}

func (h *handlers) nextPendingAttempt(w http.ResponseWriter, r *http.Request) {
	if err := requireRole(r, domain.RoleAdmin, domain.RoleOperator); err != nil {
		writeError(w, err)
		return
	}
	attempt, ok, err := h.app.Integration.NextPending(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]bool{"empty": true})
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

type resolveAttemptRequest struct {
	Status      domain.IntegrationStatus `json:"status"`
	Diagnostics map[string]any           `json:"diagnostics"`
}

func (h *handlers) resolveAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := pathVar(r, "id")
	var req resolveAttemptRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	attempt, err := h.app.Integration.Resolve(r.Context(), attemptID, req.Status, req.Diagnostics)
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.RecordIntegrationAttempt(string(attempt.Status))
	writeJSON(w, http.StatusOK, attempt)
}

func (h *handlers) listAttempts(w http.ResponseWriter, r *http.Request) {
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
	attempts, err := h.app.Stores.Artifact.ListIntegrationAttempts(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}
