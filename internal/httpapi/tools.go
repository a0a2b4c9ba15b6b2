package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/kernel/scheduler"
	"github.com/tascade/tascade/internal/kernel/statemachine"
)

// toolCallRequest is the envelope every /v1/tools/{name} call accepts: a
// flat argument bag, shaped per tool. This mirrors the REST resources one
// level down so an agent can drive the kernel without a REST client.
type toolCallRequest struct {
	ProjectID string         `json:"project_id"`
	TaskID    string         `json:"task_id"`
	AgentID   string         `json:"agent_id"`
	Args      map[string]any `json:"args"`
}

// invokeTool dispatches a named tool call to the corresponding engine
// operation. It exists alongside the REST surface for MCP-style agent
// runtimes that prefer a single verb-per-call invocation shape over
// resource-oriented HTTP methods.
func (h *handlers) invokeTool(w http.ResponseWriter, r *http.Request) {
	name := pathVar(r, "name")
	var req toolCallRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	switch name {
	case "tasks.ready":
		if err := authorizeProject(r, req.ProjectID); err != nil {
			writeError(w, err)
			return
		}
		caps, err := scheduler.ParseCapabilities(req.Args["capabilities"])
		if err != nil {
			writeError(w, err)
			return
		}
		tasks, err := h.app.Scheduler.ListReady(r.Context(), req.ProjectID, req.AgentID, caps)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, tasks)

	case "tasks.context":
		task, err := h.app.Stores.Graph.GetTask(r.Context(), req.TaskID)
		if err != nil {
			writeNotFound(w, "task not found")
			return
		}
		if err := authorizeProject(r, task.ProjectID); err != nil {
			writeError(w, err)
			return
		}
		ancestorDepth, _ := req.Args["ancestor_depth"].(float64)
		dependentDepth, _ := req.Args["dependent_depth"].(float64)
		proj, err := h.app.Context.Get(r.Context(), req.TaskID, int(ancestorDepth), int(dependentDepth))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, proj)

	case "tasks.claim":
		task, err := h.app.Stores.Graph.GetTask(r.Context(), req.TaskID)
		if err != nil {
			writeNotFound(w, "task not found")
			return
		}
		if err := authorizeProject(r, task.ProjectID); err != nil {
			writeError(w, err)
			return
		}
		planVersion, _ := req.Args["plan_version"].(float64)
		lease, err := h.app.Lease.Claim(r.Context(), req.TaskID, req.AgentID, int(planVersion))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, lease)

	case "tasks.heartbeat":
		leaseID, _ := req.Args["lease_id"].(string)
		lease, err := h.app.Stores.Lease.GetLease(r.Context(), leaseID)
		if err != nil {
			writeNotFound(w, "lease not found")
			return
		}
		if err := authorizeProject(r, lease.ProjectID); err != nil {
			writeError(w, err)
			return
		}
		fencingToken, _ := req.Args["fencing_token"].(float64)
		seenPlanVersion, _ := req.Args["seen_plan_version"].(float64)
		updated, advisory, err := h.app.Lease.Heartbeat(r.Context(), leaseID, int64(fencingToken), int(seenPlanVersion))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, heartbeatResponse{Lease: updated, PlanAdvisory: advisory})

	case "tasks.transition":
		task, err := h.app.Stores.Graph.GetTask(r.Context(), req.TaskID)
		if err != nil {
			writeNotFound(w, "task not found")
			return
		}
		if err := authorizeProject(r, task.ProjectID); err != nil {
			writeError(w, err)
			return
		}
		to, _ := req.Args["to"].(string)
		force, _ := req.Args["force"].(bool)
		if force {
			if err := requireRole(r, domain.RoleAdmin, domain.RoleOperator); err != nil {
				writeError(w, err)
				return
			}
		}
		reviewedBy, _ := req.Args["reviewed_by"].(string)
		rationale, _ := req.Args["rationale"].(string)
		evidenceRefs := stringSliceArg(req.Args["evidence_refs"])
		updated, err := h.app.StateMachine.Transition(r.Context(), statemachine.TransitionInput{
			TaskID:       req.TaskID,
			To:           domain.TaskState(to),
			Actor:        req.AgentID,
			ReviewedBy:   reviewedBy,
			EvidenceRefs: evidenceRefs,
			Force:        force,
			Rationale:    rationale,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)

	case "tasks.submit_artifact":
		task, err := h.app.Stores.Graph.GetTask(r.Context(), req.TaskID)
		if err != nil {
			writeNotFound(w, "task not found")
			return
		}
		if err := authorizeProject(r, task.ProjectID); err != nil {
			writeError(w, err)
			return
		}
		leaseID, _ := req.Args["lease_id"].(string)
		fencingToken, _ := req.Args["fencing_token"].(float64)
		kind, _ := req.Args["kind"].(string)
		contentRef, _ := req.Args["content_ref"].(string)
		idempotencyKey, _ := req.Args["idempotency_key"].(string)
		touchedPaths := stringSliceArg(req.Args["touched_paths"])
		a, err := h.app.Integration.SubmitArtifact(r.Context(), domain.Artifact{
			TaskID:         req.TaskID,
			ProjectID:      task.ProjectID,
			LeaseID:        leaseID,
			FencingToken:   int64(fencingToken),
			AgentID:        req.AgentID,
			Kind:           domain.ArtifactKind(kind),
			ContentRef:     contentRef,
			TouchedPaths:   touchedPaths,
			IdempotencyKey: idempotencyKey,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, a)

	default:
		writeError(w, kerrors.New(kerrors.NotFound, "unknown tool %q", name))
	}
}

func stringSliceArg(v any) []string {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
