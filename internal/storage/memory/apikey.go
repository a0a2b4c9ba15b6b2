package memory

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreateAPIKey(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if k.ID == "" {
		k.ID = newID()
	}
	k.CreatedAt = time.Now().UTC()
	s.apiKeys[k.ID] = k
	return k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hashedKey string) (domain.ApiKey, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, k := range s.apiKeys {
		if k.HashedKey == hashedKey {
			return k, true, nil
		}
	}
	return domain.ApiKey{}, false, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.Revoked = true
	s.apiKeys[id] = k
	return nil
}

func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return storage.ErrNotFound
	}
	k.LastUsedAt = at
	s.apiKeys[id] = k
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]domain.ApiKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ApiKey, 0, len(s.apiKeys))
	for _, k := range s.apiKeys {
		out = append(out, k)
	}
	return out, nil
}
