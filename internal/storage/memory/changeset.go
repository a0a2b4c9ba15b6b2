package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreatePlanVersion(ctx context.Context, v domain.PlanVersion) (domain.PlanVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = time.Now().UTC()
	s.planVersions[v.ProjectID] = append(s.planVersions[v.ProjectID], v)
	return v, nil
}

func (s *Store) GetCurrentPlanVersion(ctx context.Context, projectID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.planVersions[projectID]
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1].Version, nil
}

func (s *Store) ProposeChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cs.ID == "" {
		cs.ID = newID()
	}
	cs.Status = domain.ChangeSetProposed
	cs.CreatedAt = time.Now().UTC()
	s.changeSets[cs.ID] = cs
	return cs, nil
}

func (s *Store) GetChangeSet(ctx context.Context, id string) (domain.PlanChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cs, ok := s.changeSets[id]
	if !ok {
		return domain.PlanChangeSet{}, storage.ErrNotFound
	}
	return cs, nil
}

func (s *Store) MarkChangeSetApplied(ctx context.Context, id string, resultVersion int) (domain.PlanChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.changeSets[id]
	if !ok {
		return domain.PlanChangeSet{}, storage.ErrNotFound
	}
	cs.Status = domain.ChangeSetApplied
	cs.ResultVersion = resultVersion
	cs.AppliedAt = time.Now().UTC()
	s.changeSets[id] = cs
	return cs, nil
}

func (s *Store) MarkChangeSetRejected(ctx context.Context, id string, reason string) (domain.PlanChangeSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.changeSets[id]
	if !ok {
		return domain.PlanChangeSet{}, storage.ErrNotFound
	}
	cs.Status = domain.ChangeSetRejected
	s.changeSets[id] = cs
	return cs, nil
}

func (s *Store) ListChangeSets(ctx context.Context, projectID string) ([]domain.PlanChangeSet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.PlanChangeSet
	for _, cs := range s.changeSets {
		if cs.ProjectID == projectID {
			out = append(out, cs)
		}
	}
	return out, nil
}
