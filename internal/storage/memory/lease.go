package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) AcquireLease(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existingID, ok := s.activeLeaseByTask[l.TaskID]; ok {
		if existing := s.leases[existingID]; existing.Status == domain.LeaseActive {
			return domain.Lease{}, storage.ErrAmbiguous
		}
	}

	s.fencingCounter[l.TaskID]++
	l.FencingToken = s.fencingCounter[l.TaskID]
	if l.ID == "" {
		l.ID = newID()
	}
	l.Status = domain.LeaseActive
	l.CreatedAt = time.Now().UTC()
	l.HeartbeatAt = l.CreatedAt
	s.leases[l.ID] = l
	s.activeLeaseByTask[l.TaskID] = l.ID
	return l, nil
}

func (s *Store) GetLease(ctx context.Context, id string) (domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.leases[id]
	if !ok {
		return domain.Lease{}, storage.ErrNotFound
	}
	return l, nil
}

func (s *Store) GetActiveLeaseForTask(ctx context.Context, taskID string) (domain.Lease, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeLeaseByTask[taskID]
	if !ok {
		return domain.Lease{}, false, nil
	}
	l := s.leases[id]
	if l.Status != domain.LeaseActive {
		return domain.Lease{}, false, nil
	}
	return l, true, nil
}

func (s *Store) Heartbeat(ctx context.Context, leaseID string, fencingToken int64, newExpiry time.Time) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[leaseID]
	if !ok {
		return domain.Lease{}, storage.ErrNotFound
	}
	if l.FencingToken != fencingToken {
		return domain.Lease{}, storage.ErrAmbiguous
	}
	if l.Status != domain.LeaseActive {
		return domain.Lease{}, storage.ErrAmbiguous
	}
	if newExpiry.After(l.ExpiresAt) {
		l.ExpiresAt = newExpiry
	}
	l.HeartbeatAt = time.Now().UTC()
	s.leases[leaseID] = l
	return l, nil
}

func (s *Store) ReleaseLease(ctx context.Context, leaseID string, reason string) (domain.Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[leaseID]
	if !ok {
		return domain.Lease{}, storage.ErrNotFound
	}
	l.Status = domain.LeaseReleased
	l.ReleaseReason = reason
	l.ReleasedAt = time.Now().UTC()
	s.leases[leaseID] = l
	if s.activeLeaseByTask[l.TaskID] == leaseID {
		delete(s.activeLeaseByTask, l.TaskID)
	}
	return l, nil
}

func (s *Store) ListExpiredActive(ctx context.Context, asOf time.Time) ([]domain.Lease, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Lease
	for _, l := range s.leases {
		if l.Expired(asOf) {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) ExpireLease(ctx context.Context, leaseID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.leases[leaseID]
	if !ok {
		return storage.ErrNotFound
	}
	l.Status = domain.LeaseExpired
	l.ReleasedAt = time.Now().UTC()
	s.leases[leaseID] = l
	if s.activeLeaseByTask[l.TaskID] == leaseID {
		delete(s.activeLeaseByTask, l.TaskID)
	}
	return nil
}
