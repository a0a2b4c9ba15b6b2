package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreateReservation(ctx context.Context, r domain.TaskReservation) (domain.TaskReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existingID, ok := s.activeReservationByTask[r.TaskID]; ok {
		if existing := s.reservations[existingID]; existing.Status == domain.ReservationHeld {
			return domain.TaskReservation{}, storage.ErrAmbiguous
		}
	}
	if r.ID == "" {
		r.ID = newID()
	}
	r.Status = domain.ReservationHeld
	r.CreatedAt = time.Now().UTC()
	s.reservations[r.ID] = r
	s.activeReservationByTask[r.TaskID] = r.ID
	return r, nil
}

func (s *Store) GetActiveReservationForTask(ctx context.Context, taskID string) (domain.TaskReservation, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.activeReservationByTask[taskID]
	if !ok {
		return domain.TaskReservation{}, false, nil
	}
	r := s.reservations[id]
	if r.Status != domain.ReservationHeld {
		return domain.TaskReservation{}, false, nil
	}
	return r, true, nil
}

func (s *Store) ConvertReservation(ctx context.Context, reservationID string) (domain.TaskReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.TaskReservation{}, storage.ErrNotFound
	}
	r.Status = domain.ReservationConverted
	s.reservations[reservationID] = r
	delete(s.activeReservationByTask, r.TaskID)
	return r, nil
}

func (s *Store) ReleaseReservation(ctx context.Context, reservationID string) (domain.TaskReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return domain.TaskReservation{}, storage.ErrNotFound
	}
	r.Status = domain.ReservationReleased
	s.reservations[reservationID] = r
	if s.activeReservationByTask[r.TaskID] == reservationID {
		delete(s.activeReservationByTask, r.TaskID)
	}
	return r, nil
}

func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]domain.TaskReservation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TaskReservation
	for _, r := range s.reservations {
		if r.Expired(asOf) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *Store) ExpireReservation(ctx context.Context, reservationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[reservationID]
	if !ok {
		return storage.ErrNotFound
	}
	r.Status = domain.ReservationExpired
	s.reservations[reservationID] = r
	if s.activeReservationByTask[r.TaskID] == reservationID {
		delete(s.activeReservationByTask, r.TaskID)
	}
	return nil
}
