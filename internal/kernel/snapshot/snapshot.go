// Package snapshot implements the Execution Snapshot Store: an immutable
// record of the work spec and graph context a task was claimed
// under, so a later plan change cannot alter an in-flight agent's contract.
package snapshot

import (
	"context"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// Engine captures and retrieves execution snapshots.
type Engine struct {
	snapshots storage.SnapshotStore
	graph     storage.GraphStore
}

// New returns a snapshot Engine.
func New(snapshots storage.SnapshotStore, graph storage.GraphStore) *Engine {
	return &Engine{snapshots: snapshots, graph: graph}
}

// Capture writes an immutable snapshot of task's current work spec and
// dependency context, bound to lease l at planVersion. Called once per lease
// at claim time; the resulting record is never mutated afterward.
func (e *Engine) Capture(ctx context.Context, task domain.Task, l domain.Lease, planVersion int) (domain.TaskExecutionSnapshot, error) {
	deps, err := e.graph.ListEdgesTo(ctx, task.ID)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, kerrors.New(kerrors.Internal, "list edges: %v", err)
	}
	var frozen []domain.TaskExecutionSnapshotDependency
	for _, edge := range deps {
		pred, err := e.graph.GetTask(ctx, edge.FromTaskID)
		if err != nil {
			continue
		}
		frozen = append(frozen, domain.TaskExecutionSnapshotDependency{
			TaskID:  pred.ID,
			ShortID: pred.ShortID,
			State:   pred.State,
		})
	}
	return e.snapshots.CreateSnapshot(ctx, domain.TaskExecutionSnapshot{
		TaskID:       task.ID,
		ProjectID:    task.ProjectID,
		LeaseID:      l.ID,
		FencingToken: l.FencingToken,
		PlanVersion:  planVersion,
		WorkSpec:     task.WorkSpec,
		Dependencies: frozen,
	})
}

// ForLease returns the snapshot bound to leaseID, if one exists.
func (e *Engine) ForLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, bool, error) {
	snap, ok, err := e.snapshots.GetSnapshotForLease(ctx, leaseID)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, false, kerrors.New(kerrors.Internal, "get snapshot: %v", err)
	}
	return snap, ok, nil
}
