package context

import (
	"context"
	"testing"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/memory"
)

func newFixture(t *testing.T) (*Engine, storage.Stores, domain.Project, domain.Milestone) {
	t.Helper()
	store := memory.New()
	stores := store.Stores()
	engine := New(stores.Graph, stores.Event)

	ctx := context.Background()
	proj, err := stores.Graph.CreateProject(ctx, domain.Project{Name: "Demo", ShortID: "DEMO", Status: domain.ProjectActive})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	phase, err := stores.Graph.CreatePhase(ctx, domain.Phase{ProjectID: proj.ID, Name: "Phase", Sequence: 1, ShortID: "P1"})
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	milestone, err := stores.Graph.CreateMilestone(ctx, domain.Milestone{PhaseID: phase.ID, ProjectID: proj.ID, Name: "M", Sequence: 1, ShortID: "P1.M1"})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	return engine, stores, proj, milestone
}

func mustTask(t *testing.T, stores storage.Stores, proj domain.Project, milestone domain.Milestone, shortID string) domain.Task {
	t.Helper()
	task, err := stores.Graph.CreateTask(context.Background(), domain.Task{
		ProjectID:   proj.ID,
		MilestoneID: milestone.ID,
		ShortID:     shortID,
		Title:       "task " + shortID,
		State:       domain.StateReady,
		TaskClass:   domain.ClassOther,
		WorkSpec:    domain.WorkSpec{Objective: "x", AcceptanceCriteria: []string{"y"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return task
}

func TestGetAssemblesPredecessorsSuccessorsAndSiblings(t *testing.T) {
	engine, stores, proj, milestone := newFixture(t)
	ctx := context.Background()

	pred := mustTask(t, stores, proj, milestone, "P1.M1.T1")
	main := mustTask(t, stores, proj, milestone, "P1.M1.T2")
	succ := mustTask(t, stores, proj, milestone, "P1.M1.T3")
	sibling := mustTask(t, stores, proj, milestone, "P1.M1.T4")

	if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{ProjectID: proj.ID, FromTaskID: pred.ID, ToTaskID: main.ID, UnlockOn: domain.UnlockOnImplemented}); err != nil {
		t.Fatalf("create pred edge: %v", err)
	}
	if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{ProjectID: proj.ID, FromTaskID: main.ID, ToTaskID: succ.ID, UnlockOn: domain.UnlockOnImplemented}); err != nil {
		t.Fatalf("create succ edge: %v", err)
	}

	got, err := engine.Get(ctx, main.ID, 1, 1)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Task.ID != main.ID {
		t.Fatalf("expected projection for the requested task")
	}
	if len(got.Predecessors) != 1 || got.Predecessors[0].TaskID != pred.ID {
		t.Fatalf("expected one predecessor, got %+v", got.Predecessors)
	}
	if len(got.Successors) != 1 || got.Successors[0].TaskID != succ.ID {
		t.Fatalf("expected one successor, got %+v", got.Successors)
	}
	siblingFound := false
	for _, s := range got.SiblingsInMilestone {
		if s.TaskID == sibling.ID {
			siblingFound = true
		}
		if s.TaskID == main.ID {
			t.Fatalf("expected the task itself to be excluded from its own sibling list")
		}
	}
	if !siblingFound {
		t.Fatalf("expected the milestone sibling to be included")
	}
}

func TestGetClampsDepthToMaxDepth(t *testing.T) {
	engine, stores, proj, milestone := newFixture(t)
	ctx := context.Background()

	tasks := make([]domain.Task, MaxDepth+3)
	for i := range tasks {
		tasks[i] = mustTask(t, stores, proj, milestone, "chain-"+string(rune('A'+i)))
	}
	for i := 1; i < len(tasks); i++ {
		if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{
			ProjectID: proj.ID, FromTaskID: tasks[i-1].ID, ToTaskID: tasks[i].ID, UnlockOn: domain.UnlockOnImplemented,
		}); err != nil {
			t.Fatalf("create edge %d: %v", i, err)
		}
	}

	last := tasks[len(tasks)-1]
	got, err := engine.Get(ctx, last.ID, MaxDepth+10, 0)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Predecessors) != MaxDepth {
		t.Fatalf("expected ancestor walk clamped to MaxDepth=%d, got %d", MaxDepth, len(got.Predecessors))
	}
}

func TestOpenBlockersReturnsOnlyBlockedAncestors(t *testing.T) {
	engine, stores, proj, milestone := newFixture(t)
	ctx := context.Background()

	blocker := mustTask(t, stores, proj, milestone, "P1.M1.T1")
	blocker.State = domain.StateBlocked
	if _, err := stores.Graph.UpdateTask(ctx, blocker); err != nil {
		t.Fatalf("update task: %v", err)
	}
	clean := mustTask(t, stores, proj, milestone, "P1.M1.T2")
	main := mustTask(t, stores, proj, milestone, "P1.M1.T3")

	if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{ProjectID: proj.ID, FromTaskID: blocker.ID, ToTaskID: main.ID, UnlockOn: domain.UnlockOnImplemented}); err != nil {
		t.Fatalf("create edge: %v", err)
	}
	if _, _, err := stores.Graph.CreateDependencyEdge(ctx, domain.DependencyEdge{ProjectID: proj.ID, FromTaskID: clean.ID, ToTaskID: main.ID, UnlockOn: domain.UnlockOnImplemented}); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	blocked, err := engine.OpenBlockers(ctx, main.ID)
	if err != nil {
		t.Fatalf("open blockers: %v", err)
	}
	if len(blocked) != 1 || blocked[0].TaskID != blocker.ID {
		t.Fatalf("expected exactly the blocked ancestor, got %+v", blocked)
	}
}
