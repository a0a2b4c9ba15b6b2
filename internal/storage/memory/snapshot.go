package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
)

func (s *Store) CreateSnapshot(ctx context.Context, snap domain.TaskExecutionSnapshot) (domain.TaskExecutionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if snap.ID == "" {
		snap.ID = newID()
	}
	snap.CreatedAt = time.Now().UTC()
	s.snapshots[snap.ID] = snap
	s.snapshotByLease[snap.LeaseID] = snap.ID
	return snap, nil
}

func (s *Store) GetSnapshotForLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.snapshotByLease[leaseID]
	if !ok {
		return domain.TaskExecutionSnapshot{}, false, nil
	}
	return s.snapshots[id], true, nil
}

func (s *Store) ListSnapshotsForTask(ctx context.Context, taskID string) ([]domain.TaskExecutionSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TaskExecutionSnapshot
	for _, snap := range s.snapshots {
		if snap.TaskID == taskID {
			out = append(out, snap)
		}
	}
	return out, nil
}
