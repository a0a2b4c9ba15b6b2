package integration

import (
	"context"
	"testing"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/memory"
)

func newFixture(t *testing.T, state domain.TaskState) (*Engine, storage.Stores, domain.Task) {
	t.Helper()
	store := memory.New()
	stores := store.Stores()
	engine := New(stores.Graph, stores.Artifact, stores.Event)

	ctx := context.Background()
	proj, err := stores.Graph.CreateProject(ctx, domain.Project{Name: "Demo", ShortID: "DEMO", Status: domain.ProjectActive})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	task, err := stores.Graph.CreateTask(ctx, domain.Task{
		ProjectID: proj.ID,
		ShortID:   "P1.M1.T1",
		Title:     "task",
		State:     state,
		TaskClass: domain.ClassOther,
		WorkSpec:  domain.WorkSpec{Objective: "x", AcceptanceCriteria: []string{"y"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return engine, stores, task
}

func TestSubmitArtifactIsIdempotentByKey(t *testing.T) {
	engine, _, task := newFixture(t, domain.StateInProgress)
	ctx := context.Background()

	first, err := engine.SubmitArtifact(ctx, domain.Artifact{
		TaskID: task.ID, ProjectID: task.ProjectID, Kind: domain.ArtifactDiff,
		ContentRef: "ref-1", IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("submit artifact: %v", err)
	}

	second, err := engine.SubmitArtifact(ctx, domain.Artifact{
		TaskID: task.ID, ProjectID: task.ProjectID, Kind: domain.ArtifactDiff,
		ContentRef: "ref-2", IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("submit duplicate artifact: %v", err)
	}
	if second.ID != first.ID || second.ContentRef != first.ContentRef {
		t.Fatalf("expected a duplicate idempotency key to return the original artifact, got %+v", second)
	}
}

func TestEnqueueAttemptRequiresImplementedState(t *testing.T) {
	engine, _, task := newFixture(t, domain.StateInProgress)
	_, err := engine.EnqueueAttempt(context.Background(), domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID})
	if err == nil {
		t.Fatalf("expected enqueue to be rejected for a task not yet implemented")
	}
}

func TestEnqueueAttemptAssignsSequentialAttemptNumbers(t *testing.T) {
	engine, stores, task := newFixture(t, domain.StateImplemented)
	ctx := context.Background()

	first, err := engine.EnqueueAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID})
	if err != nil {
		t.Fatalf("enqueue first attempt: %v", err)
	}
	if first.Attempt != 1 {
		t.Fatalf("expected first attempt number 1, got %d", first.Attempt)
	}
	if _, err := stores.Artifact.ResolveIntegrationAttempt(ctx, first.ID, domain.IntegrationFailed, nil); err != nil {
		t.Fatalf("resolve first attempt: %v", err)
	}

	second, err := engine.EnqueueAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID})
	if err != nil {
		t.Fatalf("enqueue second attempt: %v", err)
	}
	if second.Attempt != 2 {
		t.Fatalf("expected second attempt number 2, got %d", second.Attempt)
	}
}

func TestNextPendingDequeuesOldestAndMarksRunning(t *testing.T) {
	engine, _, task := newFixture(t, domain.StateImplemented)
	ctx := context.Background()

	if _, err := engine.EnqueueAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID}); err != nil {
		t.Fatalf("enqueue attempt: %v", err)
	}

	a, ok, err := engine.NextPending(ctx)
	if err != nil {
		t.Fatalf("next pending: %v", err)
	}
	if !ok {
		t.Fatalf("expected a pending attempt")
	}
	if a.Status != domain.IntegrationRunning {
		t.Fatalf("expected dequeued attempt to move to running, got %s", a.Status)
	}

	_, ok, err = engine.NextPending(ctx)
	if err != nil {
		t.Fatalf("next pending (empty): %v", err)
	}
	if ok {
		t.Fatalf("expected the queue to be empty after dequeuing the only attempt")
	}
}

func TestResolveConflictMovesTaskToConflict(t *testing.T) {
	engine, stores, task := newFixture(t, domain.StateImplemented)
	ctx := context.Background()

	attempt, err := engine.EnqueueAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID})
	if err != nil {
		t.Fatalf("enqueue attempt: %v", err)
	}

	if _, err := engine.Resolve(ctx, attempt.ID, domain.IntegrationConflict, map[string]any{"reason": "merge conflict"}); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	updated, err := stores.Graph.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.State != domain.StateConflict {
		t.Fatalf("expected task to move to conflict, got %s", updated.State)
	}
}

func TestResolveFailedMovesTaskToBlocked(t *testing.T) {
	engine, stores, task := newFixture(t, domain.StateImplemented)
	ctx := context.Background()

	attempt, err := engine.EnqueueAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID})
	if err != nil {
		t.Fatalf("enqueue attempt: %v", err)
	}

	if _, err := engine.Resolve(ctx, attempt.ID, domain.IntegrationFailed, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	updated, err := stores.Graph.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.State != domain.StateBlocked {
		t.Fatalf("expected task to move to blocked, got %s", updated.State)
	}
}

func TestResolveSucceededLeavesTaskStateUnchanged(t *testing.T) {
	engine, stores, task := newFixture(t, domain.StateImplemented)
	ctx := context.Background()

	attempt, err := engine.EnqueueAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID})
	if err != nil {
		t.Fatalf("enqueue attempt: %v", err)
	}

	if _, err := engine.Resolve(ctx, attempt.ID, domain.IntegrationSucceeded, nil); err != nil {
		t.Fatalf("resolve: %v", err)
	}

	updated, err := stores.Graph.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.State != domain.StateImplemented {
		t.Fatalf("expected a successful integration to leave task state unchanged, got %s", updated.State)
	}
}
