package lease

import (
	"context"
	"testing"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/kernel/snapshot"
	"github.com/tascade/tascade/internal/storage"
	"github.com/tascade/tascade/internal/storage/memory"
)

func newTestFixture(t *testing.T, ttl time.Duration) (*Engine, storage.Stores, domain.Task) {
	t.Helper()
	store := memory.New()
	stores := store.Stores()
	snap := snapshot.New(stores.Snapshot, stores.Graph)
	engine := New(stores.Graph, stores.Lease, stores.Reservation, stores.Event, snap, ttl)

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
	task, err := stores.Graph.CreateTask(ctx, domain.Task{
		ProjectID:   proj.ID,
		PhaseID:     phase.ID,
		MilestoneID: milestone.ID,
		ShortID:     "P1.M1.T1",
		Title:       "Do it",
		State:       domain.StateReady,
		TaskClass:   domain.ClassOther,
		WorkSpec:    domain.WorkSpec{Objective: "x", AcceptanceCriteria: []string{"y"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	return engine, stores, task
}

func TestClaimMovesTaskToClaimedAndRejectsSecondClaim(t *testing.T) {
	engine, stores, task := newTestFixture(t, time.Hour)
	ctx := context.Background()

	l, err := engine.Claim(ctx, task.ID, "agent-1", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if l.FencingToken == 0 {
		t.Fatalf("expected a non-zero fencing token")
	}

	updated, err := stores.Graph.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.State != domain.StateClaimed {
		t.Fatalf("expected task to move to claimed, got %s", updated.State)
	}

	if _, err := engine.Claim(ctx, task.ID, "agent-2", 1); err == nil {
		t.Fatalf("expected second claim to be rejected")
	}
}

func TestClaimRejectsNonClaimableState(t *testing.T) {
	engine, stores, task := newTestFixture(t, time.Hour)
	ctx := context.Background()
	task.State = domain.StateBacklog
	if _, err := stores.Graph.UpdateTask(ctx, task); err != nil {
		t.Fatalf("update task: %v", err)
	}

	_, err := engine.Claim(ctx, task.ID, "agent-1", 1)
	if err == nil {
		t.Fatalf("expected claim from backlog to be rejected")
	}
	kerr, ok := err.(*kerrors.Error)
	if !ok || kerr.Code != kerrors.InvariantViolation {
		t.Fatalf("expected InvariantViolation, got %v", err)
	}
}

func TestHeartbeatRejectsStaleFencingToken(t *testing.T) {
	engine, _, task := newTestFixture(t, time.Hour)
	ctx := context.Background()
	l, err := engine.Claim(ctx, task.ID, "agent-1", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, _, err := engine.Heartbeat(ctx, l.ID, l.FencingToken+1, 0); err == nil {
		t.Fatalf("expected heartbeat with wrong fencing token to be rejected")
	}
	if _, _, err := engine.Heartbeat(ctx, l.ID, l.FencingToken, 0); err != nil {
		t.Fatalf("heartbeat with correct fencing token: %v", err)
	}
}

func TestHeartbeatAdvisesOnStalePlanVersion(t *testing.T) {
	engine, stores, task := newTestFixture(t, time.Hour)
	ctx := context.Background()
	l, err := engine.Claim(ctx, task.ID, "agent-1", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := stores.Graph.UpdateProjectPlanVersion(ctx, task.ProjectID, 4); err != nil {
		t.Fatalf("bump plan version: %v", err)
	}

	if _, advisory, err := engine.Heartbeat(ctx, l.ID, l.FencingToken, 0); err != nil || advisory != "" {
		t.Fatalf("seen_plan_version of 0 should skip the advisory check, got advisory %q err %v", advisory, err)
	}
	if _, advisory, err := engine.Heartbeat(ctx, l.ID, l.FencingToken, 3); err != nil || advisory != domain.PlanAdvisoryContinueWithNotice {
		t.Fatalf("expected continue_with_notice one version behind, got %q err %v", advisory, err)
	}
	if _, advisory, err := engine.Heartbeat(ctx, l.ID, l.FencingToken, 2); err != nil || advisory != domain.PlanAdvisoryRefresh {
		t.Fatalf("expected refresh two versions behind, got %q err %v", advisory, err)
	}
	if _, advisory, err := engine.Heartbeat(ctx, l.ID, l.FencingToken, 1); err != nil || advisory != domain.PlanAdvisoryHumanReview {
		t.Fatalf("expected human_review three versions behind, got %q err %v", advisory, err)
	}
}

func TestReleaseReturnsTaskToReady(t *testing.T) {
	engine, stores, task := newTestFixture(t, time.Hour)
	ctx := context.Background()
	l, err := engine.Claim(ctx, task.ID, "agent-1", 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := engine.Release(ctx, l.ID, "abandoned"); err != nil {
		t.Fatalf("release: %v", err)
	}

	updated, err := stores.Graph.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.State != domain.StateReady {
		t.Fatalf("expected task back to ready after release, got %s", updated.State)
	}
}

func TestSweepExpiredReturnsTaskToReady(t *testing.T) {
	engine, stores, task := newTestFixture(t, 5*time.Millisecond)
	ctx := context.Background()
	if _, err := engine.Claim(ctx, task.ID, "agent-1", 1); err != nil {
		t.Fatalf("claim: %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	count, err := engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("sweep expired: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 expired lease, got %d", count)
	}

	updated, err := stores.Graph.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if updated.State != domain.StateReady {
		t.Fatalf("expected task back to ready after expiry sweep, got %s", updated.State)
	}
}
