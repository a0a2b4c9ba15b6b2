package sweep

import (
	"context"
	"testing"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/gate"
	"github.com/tascade/tascade/internal/kernel/lease"
	"github.com/tascade/tascade/internal/kernel/reservation"
	"github.com/tascade/tascade/internal/kernel/snapshot"
	"github.com/tascade/tascade/internal/storage/memory"
)

func TestSweepExpiresLeasesAndReservations(t *testing.T) {
	store := memory.New()
	snaps := snapshot.New(store, store)
	leases := lease.New(store, store, store, store, snaps, time.Minute)
	resv := reservation.New(store, store, store)
	gates := gate.New(store, store, store)

	ctx := context.Background()
	project, err := store.CreateProject(ctx, domain.Project{Name: "p"})
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	phase, err := store.CreatePhase(ctx, domain.Phase{ProjectID: project.ID, Name: "ph"})
	if err != nil {
		t.Fatalf("create phase: %v", err)
	}
	milestone, err := store.CreateMilestone(ctx, domain.Milestone{ProjectID: project.ID, PhaseID: phase.ID, Name: "m"})
	if err != nil {
		t.Fatalf("create milestone: %v", err)
	}
	task, err := store.CreateTask(ctx, domain.Task{
		ProjectID: project.ID, PhaseID: phase.ID, MilestoneID: milestone.ID, Title: "t",
		TaskClass: domain.ClassBackend, WorkSpec: domain.WorkSpec{Objective: "o", AcceptanceCriteria: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if _, err := store.AcquireLease(ctx, domain.Lease{TaskID: task.ID, ProjectID: project.ID, AgentID: "a1", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("acquire already-expired lease: %v", err)
	}
	task2, err := store.CreateTask(ctx, domain.Task{
		ProjectID: project.ID, PhaseID: phase.ID, MilestoneID: milestone.ID, ShortID: "M1.T2", Title: "t2",
		TaskClass: domain.ClassBackend, WorkSpec: domain.WorkSpec{Objective: "o", AcceptanceCriteria: []string{"a"}},
	})
	if err != nil {
		t.Fatalf("create second task: %v", err)
	}
	if _, err := store.CreateReservation(ctx, domain.TaskReservation{TaskID: task2.ID, ProjectID: project.ID, AgentID: "a2", ExpiresAt: time.Now().Add(-time.Minute)}); err != nil {
		t.Fatalf("create already-expired reservation: %v", err)
	}

	ticker, err := New(leases, resv, gates, store, nil, "@every 1h", "@every 1h")
	if err != nil {
		t.Fatalf("new ticker: %v", err)
	}
	ticker.sweepExpiry()

	_, found, err := store.GetActiveLeaseForTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get active lease: %v", err)
	}
	if found {
		t.Fatalf("expected expired lease to have been swept")
	}

	_, held, err := store.GetActiveReservationForTask(ctx, task2.ID)
	if err != nil {
		t.Fatalf("get active reservation: %v", err)
	}
	if held {
		t.Fatalf("expected expired reservation to have been swept")
	}
}
