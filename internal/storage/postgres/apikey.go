package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreateAPIKey(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error) {
	if k.ID == "" {
		k.ID = newID()
	}
	k.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, name, hashed_key, role, project_ids, revoked, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, k.ID, k.Name, k.HashedKey, k.Role, pq.Array(k.ProjectIDs), k.Revoked, k.CreatedAt)
	if err != nil {
		return domain.ApiKey{}, fmt.Errorf("insert api key: %w", err)
	}
	return k, nil
}

const apiKeySelect = `
	SELECT id, name, hashed_key, role, project_ids, revoked, created_at, COALESCE(last_used_at, 'epoch'::timestamptz)
	FROM api_keys`

func scanAPIKey(row *sql.Row) (domain.ApiKey, error) {
	var k domain.ApiKey
	var projectIDs []string
	err := row.Scan(&k.ID, &k.Name, &k.HashedKey, &k.Role, pq.Array(&projectIDs), &k.Revoked, &k.CreatedAt, &k.LastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ApiKey{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.ApiKey{}, fmt.Errorf("scan api key: %w", err)
	}
	k.ProjectIDs = projectIDs
	return k, nil
}

func (s *Store) GetAPIKeyByHash(ctx context.Context, hashedKey string) (domain.ApiKey, bool, error) {
	k, err := scanAPIKey(s.db.QueryRowContext(ctx, apiKeySelect+" WHERE hashed_key = $1", hashedKey))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.ApiKey{}, false, nil
	}
	if err != nil {
		return domain.ApiKey{}, false, err
	}
	return k, true, nil
}

func (s *Store) RevokeAPIKey(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET revoked = true WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("revoke api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) TouchLastUsed(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("touch api key: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListAPIKeys(ctx context.Context) ([]domain.ApiKey, error) {
	rows, err := s.db.QueryContext(ctx, apiKeySelect+" ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.ApiKey
	for rows.Next() {
		var k domain.ApiKey
		var projectIDs []string
		if err := rows.Scan(&k.ID, &k.Name, &k.HashedKey, &k.Role, pq.Array(&projectIDs), &k.Revoked, &k.CreatedAt, &k.LastUsedAt); err != nil {
			return nil, err
		}
		k.ProjectIDs = projectIDs
		out = append(out, k)
	}
	return out, rows.Err()
}
