package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) SubmitArtifact(ctx context.Context, a domain.Artifact) (domain.Artifact, bool, error) {
	if a.IdempotencyKey != "" {
		existing, err := scanArtifact(s.db.QueryRowContext(ctx, artifactSelect+" WHERE idempotency_key = $1", a.IdempotencyKey))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return domain.Artifact{}, false, err
		}
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.CreatedAt = time.Now().UTC()
	var idemKey any
	if a.IdempotencyKey != "" {
		idemKey = a.IdempotencyKey
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artifacts (id, task_id, project_id, lease_id, fencing_token, agent_id, kind, content_ref, touched_paths, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, a.ID, a.TaskID, a.ProjectID, a.LeaseID, a.FencingToken, a.AgentID, a.Kind, a.ContentRef, pq.Array(a.TouchedPaths), idemKey, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && a.IdempotencyKey != "" {
			existing, getErr := scanArtifact(s.db.QueryRowContext(ctx, artifactSelect+" WHERE idempotency_key = $1", a.IdempotencyKey))
			return existing, false, getErr
		}
		return domain.Artifact{}, false, fmt.Errorf("insert artifact: %w", err)
	}
	return a, true, nil
}

const artifactSelect = `
	SELECT id, task_id, project_id, lease_id, fencing_token, agent_id, kind, content_ref, touched_paths,
	       COALESCE(idempotency_key, ''), created_at
	FROM artifacts`

func scanArtifact(row *sql.Row) (domain.Artifact, error) {
	var a domain.Artifact
	var touched []string
	err := row.Scan(&a.ID, &a.TaskID, &a.ProjectID, &a.LeaseID, &a.FencingToken, &a.AgentID, &a.Kind,
		&a.ContentRef, pq.Array(&touched), &a.IdempotencyKey, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Artifact{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Artifact{}, fmt.Errorf("scan artifact: %w", err)
	}
	a.TouchedPaths = touched
	return a, nil
}

func (s *Store) GetArtifact(ctx context.Context, id string) (domain.Artifact, error) {
	return scanArtifact(s.db.QueryRowContext(ctx, artifactSelect+" WHERE id = $1", id))
}

func (s *Store) ListArtifactsForTask(ctx context.Context, taskID string) ([]domain.Artifact, error) {
	rows, err := s.db.QueryContext(ctx, artifactSelect+" WHERE task_id = $1 ORDER BY created_at", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		var touched []string
		if err := rows.Scan(&a.ID, &a.TaskID, &a.ProjectID, &a.LeaseID, &a.FencingToken, &a.AgentID, &a.Kind,
			&a.ContentRef, pq.Array(&touched), &a.IdempotencyKey, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.TouchedPaths = touched
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) EnqueueIntegrationAttempt(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, bool, error) {
	if a.IdempotencyKey != "" {
		existing, err := scanAttempt(s.db.QueryRowContext(ctx, attemptSelect+" WHERE idempotency_key = $1", a.IdempotencyKey))
		if err == nil {
			return existing, false, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return domain.IntegrationAttempt{}, false, err
		}
	}
	if a.ID == "" {
		a.ID = newID()
	}
	a.Status = domain.IntegrationPending
	a.CreatedAt = time.Now().UTC()
	diagnostics, err := json.Marshal(a.Diagnostics)
	if err != nil {
		return domain.IntegrationAttempt{}, false, fmt.Errorf("marshal diagnostics: %w", err)
	}
	var idemKey any
	if a.IdempotencyKey != "" {
		idemKey = a.IdempotencyKey
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO integration_attempts (id, artifact_id, task_id, project_id, status, attempt, diagnostics, idempotency_key, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, a.ID, a.ArtifactID, a.TaskID, a.ProjectID, a.Status, a.Attempt, diagnostics, idemKey, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) && a.IdempotencyKey != "" {
			existing, getErr := scanAttempt(s.db.QueryRowContext(ctx, attemptSelect+" WHERE idempotency_key = $1", a.IdempotencyKey))
			return existing, false, getErr
		}
		return domain.IntegrationAttempt{}, false, fmt.Errorf("insert integration attempt: %w", err)
	}
	return a, true, nil
}

const attemptSelect = `
	SELECT id, artifact_id, task_id, project_id, status, attempt, diagnostics, COALESCE(idempotency_key, ''),
	       COALESCE(started_at, 'epoch'::timestamptz), COALESCE(finished_at, 'epoch'::timestamptz), created_at
	FROM integration_attempts`

func scanAttempt(row *sql.Row) (domain.IntegrationAttempt, error) {
	var a domain.IntegrationAttempt
	var diagnostics []byte
	err := row.Scan(&a.ID, &a.ArtifactID, &a.TaskID, &a.ProjectID, &a.Status, &a.Attempt, &diagnostics,
		&a.IdempotencyKey, &a.StartedAt, &a.FinishedAt, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IntegrationAttempt{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.IntegrationAttempt{}, fmt.Errorf("scan integration attempt: %w", err)
	}
	if len(diagnostics) > 0 {
		if err := json.Unmarshal(diagnostics, &a.Diagnostics); err != nil {
			return domain.IntegrationAttempt{}, fmt.Errorf("unmarshal diagnostics: %w", err)
		}
	}
	return a, nil
}

// NextPendingIntegration dequeues the oldest pending attempt, grounded on
// the FOR UPDATE SKIP LOCKED pattern so concurrent integration workers never
// both claim the same attempt and never block on one another.
func (s *Store) NextPendingIntegration(ctx context.Context) (domain.IntegrationAttempt, bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.IntegrationAttempt{}, false, fmt.Errorf("begin dequeue tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	row := tx.QueryRowContext(ctx, attemptSelect+`
		WHERE status = $1 ORDER BY created_at LIMIT 1 FOR UPDATE SKIP LOCKED
	`, domain.IntegrationPending)
	a, err := scanAttempt(row)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.IntegrationAttempt{}, false, nil
	}
	if err != nil {
		return domain.IntegrationAttempt{}, false, err
	}

	a.Status = domain.IntegrationRunning
	a.StartedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `UPDATE integration_attempts SET status = $2, started_at = $3 WHERE id = $1`, a.ID, a.Status, a.StartedAt)
	if err != nil {
		return domain.IntegrationAttempt{}, false, fmt.Errorf("mark attempt running: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.IntegrationAttempt{}, false, fmt.Errorf("commit dequeue tx: %w", err)
	}
	committed = true
	return a, true, nil
}

func (s *Store) ResolveIntegrationAttempt(ctx context.Context, id string, status domain.IntegrationStatus, diagnostics map[string]any) (domain.IntegrationAttempt, error) {
	payload, err := json.Marshal(diagnostics)
	if err != nil {
		return domain.IntegrationAttempt{}, fmt.Errorf("marshal diagnostics: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE integration_attempts SET status = $2, diagnostics = $3, finished_at = now() WHERE id = $1
	`, id, status, payload)
	if err != nil {
		return domain.IntegrationAttempt{}, fmt.Errorf("resolve integration attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.IntegrationAttempt{}, storage.ErrNotFound
	}
	return scanAttempt(s.db.QueryRowContext(ctx, attemptSelect+" WHERE id = $1", id))
}

func (s *Store) ListIntegrationAttempts(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, attemptSelect+" WHERE task_id = $1 ORDER BY created_at", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.IntegrationAttempt
	for rows.Next() {
		var a domain.IntegrationAttempt
		var diagnostics []byte
		if err := rows.Scan(&a.ID, &a.ArtifactID, &a.TaskID, &a.ProjectID, &a.Status, &a.Attempt, &diagnostics,
			&a.IdempotencyKey, &a.StartedAt, &a.FinishedAt, &a.CreatedAt); err != nil {
			return nil, err
		}
		if len(diagnostics) > 0 {
			if err := json.Unmarshal(diagnostics, &a.Diagnostics); err != nil {
				return nil, fmt.Errorf("unmarshal diagnostics: %w", err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}
