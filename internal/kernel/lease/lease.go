// Package lease implements claim, heartbeat, release, and expiry-sweep
// semantics for task leases, including fencing-token enforcement.
package lease

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/kernel/snapshot"
	"github.com/tascade/tascade/internal/storage"
)

// DefaultTTL is used when a caller does not specify a lease duration.
const DefaultTTL = 30 * time.Minute

// Engine implements the Lease Manager component.
type Engine struct {
	graph        storage.GraphStore
	leases       storage.LeaseStore
	reservations storage.ReservationStore
	events       storage.EventStore
	snapshots    *snapshot.Engine
	ttl          time.Duration
	clock        func() time.Time
}

// New returns a lease Engine. ttl of 0 uses DefaultTTL.
func New(graph storage.GraphStore, leases storage.LeaseStore, reservations storage.ReservationStore, events storage.EventStore, snapshots *snapshot.Engine, ttl time.Duration) *Engine {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{graph: graph, leases: leases, reservations: reservations, events: events, snapshots: snapshots, ttl: ttl, clock: func() time.Time { return time.Now().UTC() }}
}

// Claim acquires a lease for task on behalf of agentID, provided the task is
// ready (or reserved to this agent) and unblocked. It mints a fencing token,
// moves the task to claimed, captures an execution snapshot, and appends a
// task.claimed event.
func (e *Engine) Claim(ctx context.Context, taskID, agentID string, planVersion int) (domain.Lease, error) {
	task, err := e.graph.GetTask(ctx, taskID)
	if err != nil {
		return domain.Lease{}, kerrors.New(kerrors.NotFound, "task %s not found", taskID)
	}

	switch task.State {
	case domain.StateReady:
		// no reservation to honor
	case domain.StateReserved:
		resv, ok, err := e.reservations.GetActiveReservationForTask(ctx, taskID)
		if err != nil {
			return domain.Lease{}, kerrors.New(kerrors.Internal, "get reservation: %v", err)
		}
		if !ok || resv.AgentID != agentID {
			return domain.Lease{}, kerrors.New(kerrors.ReservationConflict, "task is reserved for another agent")
		}
	default:
		return domain.Lease{}, kerrors.New(kerrors.InvariantViolation, "task %s is not claimable from state %s", task.ShortID, task.State)
	}

	if _, active, err := e.leases.GetActiveLeaseForTask(ctx, taskID); err != nil {
		return domain.Lease{}, kerrors.New(kerrors.Internal, "check active lease: %v", err)
	} else if active {
		return domain.Lease{}, kerrors.New(kerrors.ReservationConflict, "task already has an active lease")
	}

	now := e.clock()
	l, err := e.leases.AcquireLease(ctx, domain.Lease{
		TaskID:    taskID,
		ProjectID: task.ProjectID,
		AgentID:   agentID,
		ExpiresAt: now.Add(e.ttl),
	})
	if err != nil {
		return domain.Lease{}, kerrors.New(kerrors.ReservationConflict, "acquire lease: %v", err)
	}

	if task.State == domain.StateReserved {
		if resv, ok, _ := e.reservations.GetActiveReservationForTask(ctx, taskID); ok {
			_, _ = e.reservations.ConvertReservation(ctx, resv.ID)
		}
	}

	task.State = domain.StateClaimed
	if _, err := e.graph.UpdateTask(ctx, task); err != nil {
		return domain.Lease{}, kerrors.New(kerrors.Internal, "update task: %v", err)
	}

	if e.snapshots != nil {
		if _, err := e.snapshots.Capture(ctx, task, l, planVersion); err != nil {
			return domain.Lease{}, err
		}
	}

	_, _ = e.events.Append(ctx, domain.Event{
		ProjectID: task.ProjectID,
		Type:      domain.EventLeaseAcquired,
		Subject:   task.ID,
		Payload:   map[string]any{"lease_id": l.ID, "agent_id": agentID, "fencing_token": l.FencingToken},
	})

	return l, nil
}

// Heartbeat extends an active lease's expiry, rejecting stale or mismatched
// fencing tokens. seenPlanVersion is the plan version the agent last synced
// against; when it trails the project's current plan version, Heartbeat
// returns a PlanAdvisory alongside the refreshed lease instead of forcing an
// abort. seenPlanVersion of 0 means the caller didn't report one, and no
// advisory is computed.
func (e *Engine) Heartbeat(ctx context.Context, leaseID string, fencingToken int64, seenPlanVersion int) (domain.Lease, domain.PlanAdvisory, error) {
	l, err := e.leases.Heartbeat(ctx, leaseID, fencingToken, e.clock().Add(e.ttl))
	if err != nil {
		return domain.Lease{}, "", kerrors.New(kerrors.LeaseStale, "heartbeat rejected for lease %s", leaseID)
	}

	var advisory domain.PlanAdvisory
	if seenPlanVersion > 0 {
		project, err := e.graph.GetProject(ctx, l.ProjectID)
		if err == nil && seenPlanVersion < project.CurrentPlanVersion {
			switch delta := project.CurrentPlanVersion - seenPlanVersion; {
			case delta >= 3:
				advisory = domain.PlanAdvisoryHumanReview
			case delta >= 2:
				advisory = domain.PlanAdvisoryRefresh
			default:
				advisory = domain.PlanAdvisoryContinueWithNotice
			}
		}
	}
	return l, advisory, nil
}

// Release ends a lease early, returning the task to ready unless it has
// already reached a terminal state.
func (e *Engine) Release(ctx context.Context, leaseID, reason string) (domain.Lease, error) {
	l, err := e.leases.ReleaseLease(ctx, leaseID, reason)
	if err != nil {
		return domain.Lease{}, kerrors.New(kerrors.NotFound, "lease %s not found", leaseID)
	}
	if err := e.returnTaskToReady(ctx, l.TaskID); err != nil {
		return domain.Lease{}, err
	}
	_, _ = e.events.Append(ctx, domain.Event{
		ProjectID: l.ProjectID,
		Type:      domain.EventLeaseReleased,
		Subject:   l.TaskID,
		Payload:   map[string]any{"lease_id": l.ID, "reason": reason},
	})
	return l, nil
}

// SweepExpired moves every lease past its expiry into the expired state and
// returns affected tasks to ready. Intended to be called on a bounded
// interval by internal/sweep.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	expired, err := e.leases.ListExpiredActive(ctx, e.clock())
	if err != nil {
		return 0, kerrors.New(kerrors.Internal, "list expired leases: %v", err)
	}
	for _, l := range expired {
		if err := e.leases.ExpireLease(ctx, l.ID); err != nil {
			continue
		}
		_ = e.returnTaskToReady(ctx, l.TaskID)
		_, _ = e.events.Append(ctx, domain.Event{
			ProjectID: l.ProjectID,
			Type:      domain.EventLeaseExpired,
			Subject:   l.TaskID,
			Payload:   map[string]any{"lease_id": l.ID},
		})
	}
	return len(expired), nil
}

func (e *Engine) returnTaskToReady(ctx context.Context, taskID string) error {
	task, err := e.graph.GetTask(ctx, taskID)
	if err != nil {
		return kerrors.New(kerrors.Internal, "get task: %v", err)
	}
	if task.State.Terminal() || task.State == domain.StateReady {
		return nil
	}
	task.State = domain.StateReady
	if _, err := e.graph.UpdateTask(ctx, task); err != nil {
		return kerrors.New(kerrors.Internal, "return task to ready: %v", err)
	}
	return nil
}
