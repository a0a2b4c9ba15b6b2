package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) SubmitArtifact(ctx context.Context, a domain.Artifact) (domain.Artifact, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.IdempotencyKey != "" {
		if id, ok := s.artifactIdemKeys[a.IdempotencyKey]; ok {
			return s.artifacts[id], false, nil
		}
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()
	s.artifacts[a.ID] = a
	if a.IdempotencyKey != "" {
		s.artifactIdemKeys[a.IdempotencyKey] = a.ID
	}
	return a, true, nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[id]
	if !ok {
		return domain.Artifact{}, storage.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListArtifactsForTask(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Artifact
	for _, a := range s.artifacts {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *Store) EnqueueIntegrationAttempt(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.IdempotencyKey != "" {
		if id, ok := s.attemptIdemKeys[a.IdempotencyKey]; ok {
			return s.attempts[id], false, nil
		}
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.Status = domain.IntegrationPending
	a.CreatedAt = time.Now().UTC()
	s.attempts[a.ID] = a
	if a.IdempotencyKey != "" {
		s.attemptIdemKeys[a.IdempotencyKey] = a.ID
	}
	return a, true, nil
}

func (s *Store) NextPendingIntegration(ctx context.Context) (domain.IntegrationAttempt, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var oldest *domain.IntegrationAttempt
	for id, a := range s.attempts {
		if a.Status != domain.IntegrationPending {
			continue
		}
		if oldest == nil || a.CreatedAt.Before(oldest.CreatedAt) {
			cp := s.attempts[id]
			oldest = &cp
		}
	}
	if oldest == nil {
		return domain.IntegrationAttempt{}, false, nil
	}
	oldest.Status = domain.IntegrationRunning
	oldest.StartedAt = time.Now().UTC()
	s.attempts[oldest.ID] = *oldest
	return *oldest, true, nil
}

func (s *Store) ResolveIntegrationAttempt(ctx context.Context, id string, status domain.IntegrationStatus, diagnostics map[string]any) (domain.IntegrationAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[id]
	if !ok {
		return domain.IntegrationAttempt{}, storage.ErrNotFound
	}
	a.Status = status
	a.Diagnostics = diagnostics
	a.FinishedAt = time.Now().UTC()
	s.attempts[id] = a
	return a, nil
}

func (s *Store) ListIntegrationAttempts(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.IntegrationAttempt
	for _, a := range s.attempts {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	return out, nil
}
