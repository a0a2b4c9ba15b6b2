package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreateGateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == "" {
		r.ID = newID()
	}
	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	s.gateRules[r.ID] = r
	return r, nil
}

func (s *Store) GetGateRule(ctx context.Context, id string) (domain.GateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.gateRules[id]
	if !ok {
		return domain.GateRule{}, storage.ErrNotFound
	}
	return r, nil
}

func (s *Store) ListGateRules(ctx context.Context, projectID string, activeOnly bool) ([]domain.GateRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GateRule
	for _, r := range s.gateRules {
		if r.ProjectID != projectID {
			continue
		}
		if activeOnly && !r.Active {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) UpdateGateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.gateRules[r.ID]
	if !ok {
		return domain.GateRule{}, storage.ErrNotFound
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	s.gateRules[r.ID] = r
	return r, nil
}

func (s *Store) LinkCandidate(ctx context.Context, l domain.GateCandidateLink) (domain.GateCandidateLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if l.ID == "" {
		l.ID = newID()
	}
	l.CreatedAt = time.Now().UTC()
	s.candidateLinks[l.ID] = l
	return l, nil
}

func (s *Store) ListUnresolvedCandidates(ctx context.Context, gateRuleID string) ([]domain.GateCandidateLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GateCandidateLink
	for _, l := range s.candidateLinks {
		if l.GateRuleID == gateRuleID && !l.Resolved() {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) ListCandidatesForTask(ctx context.Context, taskID string) ([]domain.GateCandidateLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.GateCandidateLink
	for _, l := range s.candidateLinks {
		if l.TaskID == taskID {
			out = append(out, l)
		}
	}
	return out, nil
}

func (s *Store) RecordDecision(ctx context.Context, d domain.GateDecision, candidateIDs []string) (domain.GateDecision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = newID()
	}
	d.CreatedAt = time.Now().UTC()
	s.decisions[d.ID] = d
	for _, cid := range candidateIDs {
		link, ok := s.candidateLinks[cid]
		if !ok {
			continue
		}
		link.DecisionID = d.ID
		s.candidateLinks[cid] = link
	}
	return d, nil
}

func (s *Store) HasApprovedDecision(ctx context.Context, taskID string, gateRuleID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, l := range s.candidateLinks {
		if l.TaskID != taskID || l.GateRuleID != gateRuleID || l.DecisionID == "" {
			continue
		}
		if d, ok := s.decisions[l.DecisionID]; ok && (d.Outcome == domain.GateApproved || d.Outcome == domain.GateApprovedWithRisk) {
			return true, nil
		}
	}
	return false, nil
}
