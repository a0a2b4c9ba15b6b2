package snapshot

import (
	"context"
	"testing"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage/memory"
)

func TestCaptureFreezesDependencyStateAndWorkSpec(t *testing.T) {
	store := memory.New()
	stores := store.Stores()
	engine := New(stores.Snapshot, stores.Graph)
	ctx := context.Background()

	proj, err := stores.Graph.CreateProject(ctx, domain.Project{Name: "Demo", ShortID: "DEMO", Status: domain.ProjectActive})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	dep, err := stores.Graph.CreateTask(ctx, domain.Task{
		ProjectID: proj.ID,
		ShortID:   "P1.M1.T1",
		Title:     "dependency",
		State:     domain.StateImplemented,
		TaskClass: domain.ClassOther,
		WorkSpec:  domain.WorkSpec{Objective: "a", AcceptanceCriteria: []string{"b"}},
	})
	if err != nil {
		t.Fatalf("create dependency task: %v", err)
	}
	task, err := stores.Graph.CreateTask(ctx, domain.Task{
		ProjectID: proj.ID,
		ShortID:   "P1.M1.T2",
		Title:     "main",
		State:     domain.StateClaimed,
		TaskClass: domain.ClassOther,
		WorkSpec:  domain.WorkSpec{Objective: "do x", AcceptanceCriteria: []string{"y"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{
		ProjectID:  proj.ID,
		FromTaskID: dep.ID,
		ToTaskID:   task.ID,
		UnlockOn:   domain.UnlockOnImplemented,
	}); err != nil {
		t.Fatalf("create dependency edge: %v", err)
	}

	lease := domain.Lease{ID: "lease-1", FencingToken: 7}
	snap, err := engine.Capture(ctx, task, lease, 3)
	if err != nil {
		t.Fatalf("capture: %v", err)
	}
	if snap.LeaseID != lease.ID || snap.FencingToken != lease.FencingToken || snap.PlanVersion != 3 {
		t.Fatalf("expected snapshot to bind lease id/fencing token/plan version, got %+v", snap)
	}
	if snap.WorkSpec.Objective != task.WorkSpec.Objective {
		t.Fatalf("expected snapshot to freeze the task's work spec")
	}
	if len(snap.Dependencies) != 1 || snap.Dependencies[0].TaskID != dep.ID || snap.Dependencies[0].State != domain.StateImplemented {
		t.Fatalf("expected snapshot to freeze predecessor state, got %+v", snap.Dependencies)
	}

	// Mutating the predecessor afterward must not retroactively change the snapshot.
	dep.State = domain.StateIntegrated
	if _, err := stores.Graph.UpdateTask(ctx, dep); err != nil {
		t.Fatalf("update dependency task: %v", err)
	}
	again, ok, err := engine.ForLease(ctx, lease.ID)
	if err != nil {
		t.Fatalf("for lease: %v", err)
	}
	if !ok {
		t.Fatalf("expected to find snapshot for lease")
	}
	if again.Dependencies[0].State != domain.StateImplemented {
		t.Fatalf("expected frozen snapshot dependency state to stay implemented, got %s", again.Dependencies[0].State)
	}
}

func TestForLeaseReturnsFalseWhenAbsent(t *testing.T) {
	store := memory.New()
	stores := store.Stores()
	engine := New(stores.Snapshot, stores.Graph)

	_, ok, err := engine.ForLease(context.Background(), "missing-lease")
	if err != nil {
		t.Fatalf("for lease: %v", err)
	}
	if ok {
		t.Fatalf("expected no snapshot to exist for an unknown lease")
	}
}
