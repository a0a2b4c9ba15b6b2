package httpapi

import (
	"net/http"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/graph"
	"github.com/tascade/tascade/internal/storage"
)

type createTaskRequest struct {
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Priority        int              `json:"priority"`
	TaskClass       domain.TaskClass `json:"task_class"`
	CapabilityTags  []string         `json:"capability_tags"`
	ExpectedTouches []string         `json:"expected_touches"`
	ExclusivePaths  []string         `json:"exclusive_paths"`
	SharedPaths     []string         `json:"shared_paths"`
	WorkSpec        domain.WorkSpec  `json:"work_spec"`
}

func (h *handlers) createTask(w http.ResponseWriter, r *http.Request) {
	milestoneID := pathVar(r, "id")
	milestone, err := h.app.Stores.Graph.GetMilestone(r.Context(), milestoneID)
	if err != nil {
		writeNotFound(w, "milestone not found")
		return
	}
	if err := authorizeProject(r, milestone.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	var req createTaskRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := h.app.Graph.CreateTask(r.Context(), graph.CreateTaskInput{
		MilestoneID:     milestoneID,
		Title:           req.Title,
		Description:     req.Description,
		Priority:        req.Priority,
		TaskClass:       req.TaskClass,
		CapabilityTags:  req.CapabilityTags,
		ExpectedTouches: req.ExpectedTouches,
		ExclusivePaths:  req.ExclusivePaths,
		SharedPaths:     req.SharedPaths,
		WorkSpec:        req.WorkSpec,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (h *handlers) getTask(w http.ResponseWriter, r *http.Request) {
	ref := pathVar(r, "ref")
	projectID := r.URL.Query().Get("project_id")
	t, err := h.app.Graph.LookupTask(r.Context(), projectID, ref)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := authorizeProject(r, t.ProjectID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) listTasks(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	filter := storage.TaskFilter{
		PhaseID:     r.URL.Query().Get("phase_id"),
		MilestoneID: r.URL.Query().Get("milestone_id"),
		TaskClass:   domain.TaskClass(r.URL.Query().Get("task_class")),
	}
	if state := r.URL.Query().Get("state"); state != "" {
		filter.States = []domain.TaskState{domain.TaskState(state)}
	}
	tasks, err := h.app.Stores.Graph.ListTasks(r.Context(), projectID, filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

type changelogRequest struct {
	AuthorType  string `json:"author_type"`
	Author      string `json:"author"`
	EntryType   string `json:"entry_type"`
	Body        string `json:"body"`
	ArtifactRef string `json:"artifact_ref"`
}

func (h *handlers) appendChangelog(w http.ResponseWriter, r *http.Request) {
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
	var req changelogRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.app.Stores.Graph.AppendChangelog(r.Context(), domain.TaskChangelogEntry{
		TaskID:      taskID,
		AuthorType:  req.AuthorType,
		Author:      req.Author,
		EntryType:   req.EntryType,
		Body:        req.Body,
		ArtifactRef: req.ArtifactRef,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *handlers) listChangelog(w http.ResponseWriter, r *http.Request) {
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
	limit := parseIntQuery(r, "limit", 20)
	entries, err := h.app.Stores.Graph.ListChangelog(r.Context(), taskID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

type createDependencyRequest struct {
	FromTaskID string                 `json:"from_task_id"`
	ToTaskID   string                 `json:"to_task_id"`
	UnlockOn   domain.UnlockCriterion `json:"unlock_on"`
}

func (h *handlers) createDependency(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	var req createDependencyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}
	edge, err := h.app.Graph.CreateDependency(r.Context(), projectID, req.FromTaskID, req.ToTaskID, req.UnlockOn)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, edge)
}

func (h *handlers) listDependencies(w http.ResponseWriter, r *http.Request) {
	projectID := pathVar(r, "id")
	if err := authorizeProject(r, projectID); err != nil {
		writeError(w, err)
		return
	}
	edges, err := h.app.Stores.Graph.ListDependencyEdges(r.Context(), projectID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

func (h *handlers) getContext(w http.ResponseWriter, r *http.Request) {
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
	ancestorDepth := parseIntQuery(r, "ancestor_depth", 1)
	dependentDepth := parseIntQuery(r, "dependent_depth", 1)
	proj, err := h.app.Context.Get(r.Context(), taskID, ancestorDepth, dependentDepth)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proj)
}

func (h *handlers) getOpenBlockers(w http.ResponseWriter, r *http.Request) {
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
	blockers, err := h.app.Context.OpenBlockers(r.Context(), taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blockers)
}
