package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tascade/tascade/internal/app"
	"github.com/tascade/tascade/internal/config"
	"github.com/tascade/tascade/internal/domain"
)

func newTestRouter(t *testing.T) (*app.Application, http.Handler) {
	t.Helper()
	cfg := &config.Config{
		StoreBackend:     "memory",
		CacheLocalSize:   16,
		SweepInterval:    30 * time.Second,
		GateEvalInterval: time.Minute,
		LeaseTTL:         30 * time.Minute,
		ReservationTTL:   30 * time.Minute,
		AuthEnabled:      false,
		MetricsEnabled:   false,
	}
	application, err := app.New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	t.Cleanup(func() { application.Close() })
	return application, NewRouter(application, cfg)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response body (%s): %v", rec.Body.String(), err)
	}
}

// buildProject drives the REST surface end-to-end to stand up a project with
// a single ready task, exercising the project/phase/milestone/task resource
// chain the way a real caller would rather than poking storage directly.
func buildProject(t *testing.T, h http.Handler) (projectID, taskID string) {
	t.Helper()

	rec := doJSON(t, h, http.MethodPost, "/v1/projects", map[string]any{"name": "Demo", "short_id": "DEMO"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create project: status %d body %s", rec.Code, rec.Body.String())
	}
	var proj domain.Project
	decodeBody(t, rec, &proj)

	rec = doJSON(t, h, http.MethodPost, "/v1/projects/"+proj.ID+"/phases", map[string]any{"name": "Phase 1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create phase: status %d body %s", rec.Code, rec.Body.String())
	}
	var phase domain.Phase
	decodeBody(t, rec, &phase)

	rec = doJSON(t, h, http.MethodPost, "/v1/phases/"+phase.ID+"/milestones", map[string]any{"name": "M1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create milestone: status %d body %s", rec.Code, rec.Body.String())
	}
	var milestone domain.Milestone
	decodeBody(t, rec, &milestone)

	rec = doJSON(t, h, http.MethodPost, "/v1/milestones/"+milestone.ID+"/tasks", map[string]any{
		"title":      "Wire the thing up",
		"task_class": string(domain.ClassBackend),
		"work_spec": map[string]any{
			"objective":           "ship it",
			"acceptance_criteria": []string{"tests pass"},
		},
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create task: status %d body %s", rec.Code, rec.Body.String())
	}
	var task domain.Task
	decodeBody(t, rec, &task)

	return proj.ID, task.ID
}

func TestHealthzIsPublicWithoutBearer(t *testing.T) {
	_, h := newTestRouter(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected /healthz to be reachable without auth, got %d", rec.Code)
	}
}

func TestCreateProjectPhaseMilestoneTaskChain(t *testing.T) {
	_, h := newTestRouter(t)
	projectID, taskID := buildProject(t, h)
	if projectID == "" || taskID == "" {
		t.Fatalf("expected project and task to be created")
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/tasks/"+taskID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get task: status %d body %s", rec.Code, rec.Body.String())
	}
	var got domain.Task
	decodeBody(t, rec, &got)
	if got.State != domain.StateBacklog {
		t.Fatalf("expected a freshly created task to start in backlog, got %s", got.State)
	}
}

// TestClaimHeartbeatTransitionLifecycle drives a task from ready through a
// claim, a heartbeat, and an implemented transition over the REST surface.
func TestClaimHeartbeatTransitionLifecycle(t *testing.T) {
	application, h := newTestRouter(t)
	projectID, taskID := buildProject(t, h)

	task, err := application.Stores.Graph.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	task.State = domain.StateReady
	if _, err := application.Stores.Graph.UpdateTask(context.Background(), task); err != nil {
		t.Fatalf("move task to ready: %v", err)
	}

	rec := doJSON(t, h, http.MethodGet, "/v1/tasks/ready?project_id="+projectID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list ready: status %d body %s", rec.Code, rec.Body.String())
	}
	var ready []domain.Task
	decodeBody(t, rec, &ready)
	if len(ready) != 1 {
		t.Fatalf("expected exactly one ready task, got %d", len(ready))
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/claim", map[string]any{"agent_id": "agent-1", "plan_version": 1})
	if rec.Code != http.StatusOK {
		t.Fatalf("claim task: status %d body %s", rec.Code, rec.Body.String())
	}
	var lease domain.Lease
	decodeBody(t, rec, &lease)
	if lease.TaskID != taskID {
		t.Fatalf("expected lease for task %s, got %s", taskID, lease.TaskID)
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/heartbeat", map[string]any{
		"lease_id":      lease.ID,
		"fencing_token": lease.FencingToken,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("heartbeat: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/state", map[string]any{
		"to":    string(domain.StateInProgress),
		"actor": "agent-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition to in_progress: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/artifacts", map[string]any{
		"lease_id":      lease.ID,
		"fencing_token": lease.FencingToken,
		"agent_id":      "agent-1",
		"kind":          "diff",
		"content_ref":   "sha256:deadbeef",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("submit artifact: status %d body %s", rec.Code, rec.Body.String())
	}

	rec = doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/state", map[string]any{
		"to":            string(domain.StateImplemented),
		"actor":         "agent-1",
		"evidence_refs": []string{"sha256:deadbeef"},
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("transition to implemented: status %d body %s", rec.Code, rec.Body.String())
	}
	var transitioned domain.Task
	decodeBody(t, rec, &transitioned)
	if transitioned.State != domain.StateImplemented {
		t.Fatalf("expected task to reach implemented, got %s", transitioned.State)
	}
}

func TestTransitionRejectsMissingArtifactForImplemented(t *testing.T) {
	application, h := newTestRouter(t)
	_, taskID := buildProject(t, h)

	task, err := application.Stores.Graph.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	task.State = domain.StateInProgress
	if _, err := application.Stores.Graph.UpdateTask(context.Background(), task); err != nil {
		t.Fatalf("move task to in progress: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/state", map[string]any{
		"to":    string(domain.StateImplemented),
		"actor": "agent-1",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected implemented-without-artifact to be rejected with 422, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestInvokeToolReadyDispatchesToScheduler(t *testing.T) {
	application, h := newTestRouter(t)
	projectID, taskID := buildProject(t, h)

	task, err := application.Stores.Graph.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	task.State = domain.StateReady
	if _, err := application.Stores.Graph.UpdateTask(context.Background(), task); err != nil {
		t.Fatalf("move task to ready: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/tools/tasks.ready", map[string]any{
		"project_id": projectID,
		"agent_id":   "agent-1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("tool call tasks.ready: status %d body %s", rec.Code, rec.Body.String())
	}
	var tasks []domain.Task
	decodeBody(t, rec, &tasks)
	if len(tasks) != 1 || tasks[0].ID != taskID {
		t.Fatalf("expected tool call to surface the ready task, got %+v", tasks)
	}
}

func TestInvokeToolUnknownNameReturnsNotFound(t *testing.T) {
	_, h := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/tools/does.not.exist", map[string]any{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected unknown tool name to 404, got %d", rec.Code)
	}
}

func TestForceTransitionWithoutRationaleIsRejected(t *testing.T) {
	application, h := newTestRouter(t)
	_, taskID := buildProject(t, h)

	task, err := application.Stores.Graph.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	task.State = domain.StateInProgress
	if _, err := application.Stores.Graph.UpdateTask(context.Background(), task); err != nil {
		t.Fatalf("move task to in progress: %v", err)
	}

	rec := doJSON(t, h, http.MethodPost, "/v1/tasks/"+taskID+"/state", map[string]any{
		"to":    string(domain.StateAbandoned),
		"actor": "operator-1",
		"force": true,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected a rationale-less forced transition to be rejected with 422, got %d body %s", rec.Code, rec.Body.String())
	}
}

func TestGetUnknownTaskReturnsNotFoundEnvelope(t *testing.T) {
	_, h := newTestRouter(t)
	rec := doJSON(t, h, http.MethodGet, "/v1/tasks/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", rec.Code)
	}
	var envelope errorEnvelope
	decodeBody(t, rec, &envelope)
	if envelope.Error.Code == "" {
		t.Fatalf("expected a populated error envelope, got %+v", envelope)
	}
}

func TestUnknownFieldInRequestBodyIsRejected(t *testing.T) {
	_, h := newTestRouter(t)
	rec := doJSON(t, h, http.MethodPost, "/v1/projects", map[string]any{"name": "Demo", "short_id": "DEMO", "unexpected": true})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected strict JSON decoding to reject an unknown field, got %d body %s", rec.Code, rec.Body.String())
	}
}
