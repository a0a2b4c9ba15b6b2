package graph

import (
	"context"
	"testing"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage/memory"
)

func newTestEngine() (*Engine, *memory.Store) {
	store := memory.New()
	return New(store.Stores().Graph), store
}

func validWorkSpec() domain.WorkSpec {
	return domain.WorkSpec{
		Objective:          "do the thing",
		AcceptanceCriteria: []string{"it works"},
	}
}

func mustMilestone(t *testing.T, e *Engine) (domain.Project, domain.Milestone) {
	t.Helper()
	ctx := context.Background()
	proj, err := e.CreateProject(ctx, "Demo", "DEMO")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	phase, err := e.CreatePhase(ctx, proj.ID, "Phase One")
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	milestone, err := e.CreateMilestone(ctx, phase.ID, "Milestone One")
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	return proj, milestone
}

func TestCreateProjectRequiresNameAndShortID(t *testing.T) {
	e, _ := newTestEngine()
	if _, err := e.CreateProject(context.Background(), "", "X"); err == nil {
		t.Fatalf("expected error for empty name")
	}
	if _, err := e.CreateProject(context.Background(), "Name", ""); err == nil {
		t.Fatalf("expected error for empty short id")
	}
}

func TestCreatePhaseAndMilestoneAllocateSequentialShortIDs(t *testing.T) {
	e, _ := newTestEngine()
	ctx := context.Background()
	proj, err := e.CreateProject(ctx, "Demo", "DEMO")
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	p1, err := e.CreatePhase(ctx, proj.ID, "Phase One")
	if err != nil {
		t.Fatalf("create phase 1: %v", err)
	}
	p2, err := e.CreatePhase(ctx, proj.ID, "Phase Two")
	if err != nil {
		t.Fatalf("create phase 2: %v", err)
	}
	if p1.ShortID != "P1" || p2.ShortID != "P2" {
		t.Fatalf("expected sequential phase short ids, got %q, %q", p1.ShortID, p2.ShortID)
	}

	m1, err := e.CreateMilestone(ctx, p1.ID, "M1")
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	if m1.ShortID != "P1.M1" {
		t.Fatalf("expected milestone short id P1.M1, got %q", m1.ShortID)
	}
}

func TestCreateTaskValidatesClassAndWorkSpec(t *testing.T) {
	e, _ := newTestEngine()
	_, milestone := mustMilestone(t, e)
	ctx := context.Background()

	if _, err := e.CreateTask(ctx, CreateTaskInput{MilestoneID: milestone.ID, Title: "T", WorkSpec: domain.WorkSpec{}}); err == nil {
		t.Fatalf("expected error for invalid work spec")
	}

	if _, err := e.CreateTask(ctx, CreateTaskInput{
		MilestoneID: milestone.ID,
		Title:       "T",
		TaskClass:   domain.TaskClass("not-a-class"),
		WorkSpec:    validWorkSpec(),
	}); err == nil {
		t.Fatalf("expected error for invalid task class")
	}

	task, err := e.CreateTask(ctx, CreateTaskInput{
		MilestoneID: milestone.ID,
		Title:       "Implement X",
		WorkSpec:    validWorkSpec(),
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if task.TaskClass != domain.ClassOther {
		t.Fatalf("expected default task class ClassOther, got %q", task.TaskClass)
	}
	if task.State != domain.StateBacklog {
		t.Fatalf("expected new task to start in backlog, got %q", task.State)
	}
	if task.ShortID != milestone.ShortID+".T1" {
		t.Fatalf("expected task short id %s.T1, got %q", milestone.ShortID, task.ShortID)
	}
}

func TestLookupTaskByShortIDRequiresProjectScope(t *testing.T) {
	e, _ := newTestEngine()
	proj, milestone := mustMilestone(t, e)
	ctx := context.Background()
	task, err := e.CreateTask(ctx, CreateTaskInput{MilestoneID: milestone.ID, Title: "T", WorkSpec: validWorkSpec()})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}

	if _, err := e.LookupTask(ctx, "", task.ShortID); err == nil {
		t.Fatalf("expected ambiguous-reference error without a project scope")
	}

	found, err := e.LookupTask(ctx, proj.ID, task.ShortID)
	if err != nil {
		t.Fatalf("lookup by short id: %v", err)
	}
	if found.ID != task.ID {
		t.Fatalf("expected to resolve the same task by short id")
	}

	found, err = e.LookupTask(ctx, proj.ID, task.ID)
	if err != nil {
		t.Fatalf("lookup by id: %v", err)
	}
	if found.ID != task.ID {
		t.Fatalf("expected to resolve the same task by id")
	}
}

func TestCreateDependencyRejectsCycles(t *testing.T) {
	e, _ := newTestEngine()
	proj, milestone := mustMilestone(t, e)
	ctx := context.Background()

	taskA, _ := e.CreateTask(ctx, CreateTaskInput{MilestoneID: milestone.ID, Title: "A", WorkSpec: validWorkSpec()})
	taskB, _ := e.CreateTask(ctx, CreateTaskInput{MilestoneID: milestone.ID, Title: "B", WorkSpec: validWorkSpec()})
	taskC, _ := e.CreateTask(ctx, CreateTaskInput{MilestoneID: milestone.ID, Title: "C", WorkSpec: validWorkSpec()})

	if _, err := e.CreateDependency(ctx, proj.ID, taskA.ID, taskB.ID, domain.UnlockOnImplemented); err != nil {
		t.Fatalf("create A->B: %v", err)
	}
	if _, err := e.CreateDependency(ctx, proj.ID, taskB.ID, taskC.ID, domain.UnlockOnImplemented); err != nil {
		t.Fatalf("create B->C: %v", err)
	}

	_, err := e.CreateDependency(ctx, proj.ID, taskC.ID, taskA.ID, domain.UnlockOnImplemented)
	if err == nil {
		t.Fatalf("expected cycle rejection for C->A")
	}
	kerr, ok := err.(*kerrors.Error)
	if !ok || kerr.Code != kerrors.DependencyCycle {
		t.Fatalf("expected DependencyCycle error, got %v", err)
	}
}

func TestCreateDependencyRejectsSelfEdge(t *testing.T) {
	e, _ := newTestEngine()
	_, milestone := mustMilestone(t, e)
	ctx := context.Background()
	task, _ := e.CreateTask(ctx, CreateTaskInput{MilestoneID: milestone.ID, Title: "A", WorkSpec: validWorkSpec()})

	_, err := e.CreateDependency(ctx, "", task.ID, task.ID, domain.UnlockOnImplemented)
	if err == nil {
		t.Fatalf("expected self-dependency to be rejected")
	}
}

func TestWouldCreateCycleDirectly(t *testing.T) {
	edges := []domain.DependencyEdge{
		{FromTaskID: "a", ToTaskID: "b"},
		{FromTaskID: "b", ToTaskID: "c"},
	}
	if !WouldCreateCycle(edges, "c", "a") {
		t.Fatalf("expected c->a to close a cycle over a->b->c")
	}
	if WouldCreateCycle(edges, "a", "d") {
		t.Fatalf("did not expect a->d to close a cycle")
	}
}
