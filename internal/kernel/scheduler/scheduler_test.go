package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/memory"
)

func newFixture(t *testing.T) (*Engine, storage.Stores, domain.Project) {
	t.Helper()
	store := memory.New()
	stores := store.Stores()
	engine := New(stores.Graph, stores.Lease, stores.Reservation)

	ctx := context.Background()
	proj, err := stores.Graph.CreateProject(ctx, domain.Project{Name: "Demo", ShortID: "DEMO", Status: domain.ProjectActive})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	return engine, stores, proj
}

func mustTask(t *testing.T, stores storage.Stores, proj domain.Project, mutate func(*domain.Task)) domain.Task {
	t.Helper()
	task := domain.Task{
		ProjectID: proj.ID,
		ShortID:   "P1.M1.T" + time.Now().Format("150405.000000000"),
		Title:     "task",
		State:     domain.StateReady,
		TaskClass: domain.ClassOther,
		WorkSpec:  domain.WorkSpec{Objective: "x", AcceptanceCriteria: []string{"y"}},
	}
	if mutate != nil {
		mutate(&task)
	}
	created, err := stores.Graph.CreateTask(context.Background(), task)
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return created
}

func TestParseCapabilitiesAcceptsStringAndSlice(t *testing.T) {
	got, err := ParseCapabilities("go, docker ,")
	if err != nil {
		t.Fatalf("parse comma string: %v", err)
	}
	if len(got) != 2 || got[0] != "go" || got[1] != "docker" {
		t.Fatalf("unexpected parse result: %v", got)
	}

	got, err = ParseCapabilities([]string{" go ", "", "rust"})
	if err != nil {
		t.Fatalf("parse slice: %v", err)
	}
	if len(got) != 2 || got[0] != "go" || got[1] != "rust" {
		t.Fatalf("unexpected parse result: %v", got)
	}

	if got, err := ParseCapabilities(nil); err != nil || got != nil {
		t.Fatalf("expected nil, nil for nil input, got %v, %v", got, err)
	}

	if _, err := ParseCapabilities(42); err == nil {
		t.Fatalf("expected error for unsupported type")
	}
}

func TestListReadyFiltersByCapabilitySubset(t *testing.T) {
	engine, stores, proj := newFixture(t)
	ctx := context.Background()

	matching := mustTask(t, stores, proj, func(task *domain.Task) {
		task.CapabilityTags = map[string]struct{}{"go": {}}
	})
	mismatch := mustTask(t, stores, proj, func(task *domain.Task) {
		task.CapabilityTags = map[string]struct{}{"rust": {}}
	})

	ready, err := engine.ListReady(ctx, proj.ID, "agent-1", []string{"go", "docker"})
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	ids := map[string]bool{}
	for _, task := range ready {
		ids[task.ID] = true
	}
	if !ids[matching.ID] {
		t.Fatalf("expected task with matching capability to be ready")
	}
	if ids[mismatch.ID] {
		t.Fatalf("did not expect task requiring an unheld capability to be ready")
	}
}

func TestListReadyHidesTasksWithActiveLease(t *testing.T) {
	engine, stores, proj := newFixture(t)
	ctx := context.Background()

	task := mustTask(t, stores, proj, nil)
	if _, err := stores.Lease.AcquireLease(ctx, domain.Lease{
		TaskID:    task.ID,
		AgentID:   "agent-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("acquire lease: %v", err)
	}

	ready, err := engine.ListReady(ctx, proj.ID, "agent-2", nil)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	for _, t2 := range ready {
		if t2.ID == task.ID {
			t.Fatalf("expected leased task to be hidden from ready queue")
		}
	}
}

func TestListReadyReservedTaskOnlyVisibleToReservingAgent(t *testing.T) {
	engine, stores, proj := newFixture(t)
	ctx := context.Background()

	task := mustTask(t, stores, proj, func(task *domain.Task) {
		task.State = domain.StateReserved
	})
	if _, err := stores.Reservation.CreateReservation(ctx, domain.TaskReservation{
		TaskID:    task.ID,
		AgentID:   "agent-1",
		ExpiresAt: time.Now().Add(time.Hour),
	}); err != nil {
		t.Fatalf("create reservation: %v", err)
	}

	readyForOwner, err := engine.ListReady(ctx, proj.ID, "agent-1", nil)
	if err != nil {
		t.Fatalf("list ready for owner: %v", err)
	}
	found := false
	for _, t2 := range readyForOwner {
		if t2.ID == task.ID {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected reserved task to be visible to the reserving agent")
	}

	readyForOther, err := engine.ListReady(ctx, proj.ID, "agent-2", nil)
	if err != nil {
		t.Fatalf("list ready for other agent: %v", err)
	}
	for _, t2 := range readyForOther {
		if t2.ID == task.ID {
			t.Fatalf("expected reserved task to be invisible to a non-assignee")
		}
	}
}

func TestListReadyRespectsUnsatisfiedDependencies(t *testing.T) {
	engine, stores, proj := newFixture(t)
	ctx := context.Background()

	blocker := mustTask(t, stores, proj, func(task *domain.Task) {
		task.State = domain.StateInProgress
	})
	blocked := mustTask(t, stores, proj, nil)

	if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{
		ProjectID:  proj.ID,
		FromTaskID: blocker.ID,
		ToTaskID:   blocked.ID,
		UnlockOn:   domain.UnlockOnImplemented,
	}); err != nil {
		t.Fatalf("create dependency edge: %v", err)
	}

	ready, err := engine.ListReady(ctx, proj.ID, "agent-1", nil)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	for _, task := range ready {
		if task.ID == blocked.ID {
			t.Fatalf("expected blocked task to be excluded while its dependency is unsatisfied")
		}
	}
}

func TestListReadyOrdersByPriorityThenCreatedAt(t *testing.T) {
	engine, stores, proj := newFixture(t)
	ctx := context.Background()

	low := mustTask(t, stores, proj, func(task *domain.Task) { task.Priority = 5 })
	high := mustTask(t, stores, proj, func(task *domain.Task) { task.Priority = 1 })

	ready, err := engine.ListReady(ctx, proj.ID, "agent-1", nil)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tasks, got %d", len(ready))
	}
	if ready[0].ID != high.ID || ready[1].ID != low.ID {
		t.Fatalf("expected higher-priority (lower number) task first, got order %v", ready)
	}
}

func TestListReadyAppliesContentionPenaltyAfterCreatedAt(t *testing.T) {
	engine, stores, proj := newFixture(t)
	ctx := context.Background()

	contended := mustTask(t, stores, proj, func(task *domain.Task) {
		task.ExclusivePaths = []string{"internal/hot.go"}
	})
	quiet := mustTask(t, stores, proj, func(task *domain.Task) {
		task.ExclusivePaths = []string{"internal/cold.go"}
	})
	busy := mustTask(t, stores, proj, func(task *domain.Task) {
		task.State = domain.StateInProgress
		task.ExclusivePaths = []string{"internal/hot.go"}
	})

	ready, err := engine.ListReady(ctx, proj.ID, "agent-1", nil)
	if err != nil {
		t.Fatalf("list ready: %v", err)
	}
	if len(ready) != 2 {
		t.Fatalf("expected 2 ready tasks, got %d", len(ready))
	}
	if ready[0].ID != contended.ID || ready[1].ID != quiet.ID {
		t.Fatalf("expected the earlier-created task first despite its contention penalty, got order %v", ready)
	}
	penalty := contentionPenalties(ready, []domain.Task{busy})
	if penalty[contended.ID] != 1 || penalty[quiet.ID] != 0 {
		t.Fatalf("expected penalty 1 for the contended task and 0 for the quiet one, got %v", penalty)
	}
}
