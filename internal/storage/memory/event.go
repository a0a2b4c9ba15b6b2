package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
)

func (s *Store) Append(ctx context.Context, e domain.Event) (domain.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	s.eventSeq[e.ProjectID]++
	e.Sequence = s.eventSeq[e.ProjectID]
	e.CreatedAt = time.Now().UTC()
	s.events[e.ProjectID] = append(s.events[e.ProjectID], e)
	return e, nil
}

func (s *Store) ListSince(ctx context.Context, projectID string, sinceSeq int64, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Event
	for _, e := range s.events[projectID] {
		if e.Sequence <= sinceSeq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) ListRecent(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.events[projectID]
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	out := make([]domain.Event, limit)
	for i := 0; i < limit; i++ {
		out[i] = all[len(all)-1-i]
	}
	return out, nil
}
