package statemachine

import (
	"context"
	"testing"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage/memory"
)

func newTaskFixture(t *testing.T, initial domain.TaskState) (*Engine, *memory.Store, domain.Task) {
	t.Helper()
	store := memory.New()
	stores := store.Stores()
	engine := New(stores.Graph, stores.Artifact, stores.Gate, stores.Event)

	ctx := context.Background()
	proj, _ := stores.Graph.CreateProject(ctx, domain.Project{Name: "Demo", ShortID: "DEMO", Status: domain.ProjectActive})
	phase, _ := stores.Graph.CreatePhase(ctx, domain.Phase{ProjectID: proj.ID, Name: "Phase", Sequence: 1, ShortID: "P1"})
	milestone, _ := stores.Graph.CreateMilestone(ctx, domain.Milestone{PhaseID: phase.ID, ProjectID: proj.ID, Name: "M", Sequence: 1, ShortID: "P1.M1"})
	task, err := stores.Graph.CreateTask(ctx, domain.Task{
		ProjectID:   proj.ID,
		PhaseID:     phase.ID,
		MilestoneID: milestone.ID,
		ShortID:     "P1.M1.T1",
		Title:       "Do it",
		State:       initial,
		TaskClass:   domain.ClassOther,
		WorkSpec:    domain.WorkSpec{Objective: "x", AcceptanceCriteria: []string{"y"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return engine, store, task
}

func TestTransitionRejectsIllegalMoves(t *testing.T) {
	engine, _, task := newTaskFixture(t, domain.StateBacklog)
	_, err := engine.Transition(context.Background(), TransitionInput{TaskID: task.ID, To: domain.StateIntegrated, Actor: "agent-1"})
	if err == nil {
		t.Fatalf("expected backlog -> integrated to be rejected")
	}
	kerr, ok := err.(*kerrors.Error)
	if !ok || kerr.Code != kerrors.InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestTransitionIsNoopWhenAlreadyAtTarget(t *testing.T) {
	engine, _, task := newTaskFixture(t, domain.StateReady)
	updated, err := engine.Transition(context.Background(), TransitionInput{TaskID: task.ID, To: domain.StateReady, Actor: "agent-1"})
	if err != nil {
		t.Fatalf("no-op transition: %v", err)
	}
	if updated.State != domain.StateReady {
		t.Fatalf("expected state to remain ready")
	}
}

func TestTransitionEventRecordsOriginalFromState(t *testing.T) {
	engine, store, task := newTaskFixture(t, domain.StateBacklog)
	ctx := context.Background()
	if _, err := engine.Transition(ctx, TransitionInput{TaskID: task.ID, To: domain.StateReady, Actor: "agent-1"}); err != nil {
		t.Fatalf("transition: %v", err)
	}

	events, err := store.Stores().Event.ListRecent(ctx, task.ProjectID, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var found bool
	for _, e := range events {
		if e.Type != domain.EventTaskStateChanged {
			continue
		}
		found = true
		if e.Payload["from"] != string(domain.StateBacklog) {
			t.Fatalf("expected from=backlog, got %v", e.Payload["from"])
		}
		if e.Payload["to"] != string(domain.StateReady) {
			t.Fatalf("expected to=ready, got %v", e.Payload["to"])
		}
	}
	if !found {
		t.Fatalf("expected a task.state_changed event to be recorded")
	}
}

func TestAnyNonTerminalStateCanMoveToBlocked(t *testing.T) {
	engine, _, task := newTaskFixture(t, domain.StateBacklog)
	updated, err := engine.Transition(context.Background(), TransitionInput{TaskID: task.ID, To: domain.StateBlocked, Actor: "agent-1"})
	if err != nil {
		t.Fatalf("backlog -> blocked: %v", err)
	}
	if updated.State != domain.StateBlocked {
		t.Fatalf("expected blocked, got %s", updated.State)
	}
}

func TestImplementedRequiresAtLeastOneArtifact(t *testing.T) {
	engine, _, task := newTaskFixture(t, domain.StateInProgress)
	_, err := engine.Transition(context.Background(), TransitionInput{TaskID: task.ID, To: domain.StateImplemented, Actor: "agent-1"})
	if err == nil {
		t.Fatalf("expected in_progress -> implemented to require an artifact")
	}
}

func TestImplementedSucceedsOnceArtifactExists(t *testing.T) {
	engine, store, task := newTaskFixture(t, domain.StateInProgress)
	stores := store.Stores()
	ctx := context.Background()
	if _, _, err := stores.Artifact.SubmitArtifact(ctx, domain.Artifact{TaskID: task.ID, ProjectID: task.ProjectID, Kind: domain.ArtifactDiff, ContentRef: "ref"}); err != nil {
		t.Fatalf("submit artifact: %v", err)
	}
	updated, err := engine.Transition(ctx, TransitionInput{TaskID: task.ID, To: domain.StateImplemented, Actor: "agent-1"})
	if err != nil {
		t.Fatalf("in_progress -> implemented: %v", err)
	}
	if updated.State != domain.StateImplemented {
		t.Fatalf("expected implemented, got %s", updated.State)
	}
}

func TestIntegratedRequiresReviewerEvidenceGateAndIntegration(t *testing.T) {
	engine, store, task := newTaskFixture(t, domain.StateImplemented)
	stores := store.Stores()
	ctx := context.Background()

	in := TransitionInput{TaskID: task.ID, To: domain.StateIntegrated, Actor: "agent-1"}
	if _, err := engine.Transition(ctx, in); err == nil {
		t.Fatalf("expected missing reviewed_by to be rejected")
	}

	in.ReviewedBy = "agent-1"
	in.EvidenceRefs = []string{"artifact-1"}
	if _, err := engine.Transition(ctx, in); err == nil {
		t.Fatalf("expected self-review to be rejected")
	}

	in.ReviewedBy = "reviewer-1"
	if _, err := engine.Transition(ctx, in); err == nil {
		t.Fatalf("expected missing successful integration attempt to be rejected")
	}

	attempt, _, err := stores.Artifact.EnqueueIntegrationAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID, Status: domain.IntegrationPending})
	if err != nil {
		t.Fatalf("enqueue integration attempt: %v", err)
	}
	if _, err := stores.Artifact.ResolveIntegrationAttempt(ctx, attempt.ID, domain.IntegrationSucceeded, nil); err != nil {
		t.Fatalf("resolve integration attempt: %v", err)
	}

	updated, err := engine.Transition(ctx, in)
	if err != nil {
		t.Fatalf("implemented -> integrated: %v", err)
	}
	if updated.State != domain.StateIntegrated {
		t.Fatalf("expected integrated, got %s", updated.State)
	}
}

func TestIntegratedRequiresApprovedGateDecision(t *testing.T) {
	engine, store, task := newTaskFixture(t, domain.StateImplemented)
	stores := store.Stores()
	ctx := context.Background()

	rule, err := stores.Gate.CreateGateRule(ctx, domain.GateRule{
		ProjectID:  task.ProjectID,
		Name:       "security review",
		Trigger:    domain.GateOnTaskClass,
		MatchValue: string(task.TaskClass),
		Required:   true,
		Active:     true,
	})
	if err != nil {
		t.Fatalf("create gate rule: %v", err)
	}

	attempt, _, err := stores.Artifact.EnqueueIntegrationAttempt(ctx, domain.IntegrationAttempt{TaskID: task.ID, ProjectID: task.ProjectID, Status: domain.IntegrationPending})
	if err != nil {
		t.Fatalf("enqueue integration attempt: %v", err)
	}
	if _, err := stores.Artifact.ResolveIntegrationAttempt(ctx, attempt.ID, domain.IntegrationSucceeded, nil); err != nil {
		t.Fatalf("resolve integration attempt: %v", err)
	}

	in := TransitionInput{TaskID: task.ID, To: domain.StateIntegrated, Actor: "agent-1", ReviewedBy: "reviewer-1", EvidenceRefs: []string{"artifact-1"}}
	if _, err := engine.Transition(ctx, in); err == nil {
		t.Fatalf("expected unapproved gate rule to block integration")
	}

	link, err := stores.Gate.LinkCandidate(ctx, domain.GateCandidateLink{GateRuleID: rule.ID, TaskID: task.ID, ProjectID: task.ProjectID})
	if err != nil {
		t.Fatalf("link candidate: %v", err)
	}
	if _, err := stores.Gate.RecordDecision(ctx, domain.GateDecision{GateRuleID: rule.ID, ProjectID: task.ProjectID, Reviewer: "reviewer-1", Outcome: domain.GateApproved}, []string{link.ID}); err != nil {
		t.Fatalf("record gate decision: %v", err)
	}

	updated, err := engine.Transition(ctx, in)
	if err != nil {
		t.Fatalf("implemented -> integrated after approval: %v", err)
	}
	if updated.State != domain.StateIntegrated {
		t.Fatalf("expected integrated, got %s", updated.State)
	}
}

func TestForceTransitionRequiresRationale(t *testing.T) {
	engine, _, task := newTaskFixture(t, domain.StateImplemented)
	_, err := engine.Transition(context.Background(), TransitionInput{TaskID: task.ID, To: domain.StateIntegrated, Actor: "agent-1", Force: true})
	if err == nil {
		t.Fatalf("expected force transition without rationale to be rejected")
	}
}

func TestForceTransitionBypassesInvariants(t *testing.T) {
	engine, _, task := newTaskFixture(t, domain.StateImplemented)
	updated, err := engine.Transition(context.Background(), TransitionInput{
		TaskID: task.ID, To: domain.StateIntegrated, Actor: "operator-1", Force: true, Rationale: "manual override, ci is down",
	})
	if err != nil {
		t.Fatalf("forced transition: %v", err)
	}
	if updated.State != domain.StateIntegrated {
		t.Fatalf("expected integrated, got %s", updated.State)
	}
}
