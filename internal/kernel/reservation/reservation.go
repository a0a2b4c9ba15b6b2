// Package reservation implements short-lived task holds between ready-queue
// selection and lease acquisition.
package reservation

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// DefaultTTL is used when Assign is called without an explicit ttl.
const DefaultTTL = 1800 * time.Second

// Engine implements the Reservation Manager component.
type Engine struct {
	graph storage.GraphStore
	resv  storage.ReservationStore
	lease storage.LeaseStore
	clock func() time.Time
}

// New returns a reservation Engine.
func New(graph storage.GraphStore, resv storage.ReservationStore, lease storage.LeaseStore) *Engine {
	return &Engine{graph: graph, resv: resv, lease: lease, clock: func() time.Time { return time.Now().UTC() }}
}

// Assign reserves task for assignee for ttl (DefaultTTL if zero), provided
// the task is in backlog or ready and has no active reservation or lease.
func (e *Engine) Assign(ctx context.Context, taskID, assignee string, ttl time.Duration) (domain.TaskReservation, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	task, err := e.graph.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskReservation{}, kerrors.New(kerrors.NotFound, "task %s not found", taskID)
	}
	if task.State != domain.StateBacklog && task.State != domain.StateReady {
		return domain.TaskReservation{}, kerrors.New(kerrors.InvariantViolation, "task %s cannot be reserved from state %s", task.ShortID, task.State)
	}
	if _, active, _ := e.lease.GetActiveLeaseForTask(ctx, taskID); active {
		return domain.TaskReservation{}, kerrors.New(kerrors.ReservationConflict, "task already has an active lease")
	}

	r, err := e.resv.CreateReservation(ctx, domain.TaskReservation{
		TaskID:    taskID,
		ProjectID: task.ProjectID,
		AgentID:   assignee,
		ExpiresAt: e.clock().Add(ttl),
	})
	if err != nil {
		return domain.TaskReservation{}, kerrors.New(kerrors.ReservationConflict, "task already reserved")
	}

	task.State = domain.StateReserved
	if _, err := e.graph.UpdateTask(ctx, task); err != nil {
		return domain.TaskReservation{}, kerrors.New(kerrors.Internal, "update task: %v", err)
	}
	return r, nil
}

// Release cancels an active reservation and returns its task to ready.
func (e *Engine) Release(ctx context.Context, reservationID string) (domain.TaskReservation, error) {
	r, err := e.resv.ReleaseReservation(ctx, reservationID)
	if err != nil {
		return domain.TaskReservation{}, kerrors.New(kerrors.NotFound, "reservation %s not found", reservationID)
	}
	if err := e.returnToReady(ctx, r.TaskID); err != nil {
		return domain.TaskReservation{}, err
	}
	return r, nil
}

// SweepExpired transitions every reservation past its TTL to expired and
// returns its task to ready.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.resv.ListExpired(ctx, e.clock())
	if err != nil {
		return 0, kerrors.New(kerrors.Internal, "list expired reservations: %v", err)
	}
	for _, r := range expired {
		if err := e.resv.ExpireReservation(ctx, r.ID); err != nil {
			continue
		}
		_ = e.returnToReady(ctx, r.TaskID)
	}
	return len(expired), nil
}

func (e *Engine) returnToReady(ctx context.Context, taskID string) error {
	task, err := e.graph.GetTask(ctx, taskID)
	if err != nil {
		return kerrors.New(kerrors.Internal, "get task: %v", err)
	}
	if task.State.Terminal() || task.State != domain.StateReserved {
		return nil
	}
	task.State = domain.StateReady
	if _, err := e.graph.UpdateTask(ctx, task); err != nil {
		return kerrors.New(kerrors.Internal, "return task to ready: %v", err)
	}
	return nil
}
