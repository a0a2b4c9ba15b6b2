package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

// AcquireLease holds a per-task advisory lock for the duration of the
// conflict check plus insert, so two agents racing to claim the same task
// never both observe "no active lease".
func (s *Store) AcquireLease(ctx context.Context, l domain.Lease) (domain.Lease, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("begin acquire lease tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, l.TaskID); err != nil {
		return domain.Lease{}, fmt.Errorf("acquire task lock: %w", err)
	}

	var activeCount int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM leases WHERE task_id = $1 AND status = $2`, l.TaskID, domain.LeaseActive).Scan(&activeCount)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("check active lease: %w", err)
	}
	if activeCount > 0 {
		return domain.Lease{}, storage.ErrAmbiguous
	}

	var fencingToken int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO task_fencing_counters (task_id, counter) VALUES ($1, 1)
		ON CONFLICT (task_id) DO UPDATE SET counter = task_fencing_counters.counter + 1
		RETURNING counter
	`, l.TaskID).Scan(&fencingToken)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("mint fencing token: %w", err)
	}

	if l.ID == "" {
		l.ID = newID()
	}
	l.FencingToken = fencingToken
	l.Status = domain.LeaseActive
	now := time.Now().UTC()
	l.CreatedAt, l.HeartbeatAt = now, now

	_, err = tx.ExecContext(ctx, `
		INSERT INTO leases (id, task_id, project_id, agent_id, fencing_token, status, heartbeat_at, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, l.ID, l.TaskID, l.ProjectID, l.AgentID, l.FencingToken, l.Status, l.HeartbeatAt, l.ExpiresAt, l.CreatedAt)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("insert lease: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Lease{}, fmt.Errorf("commit acquire lease tx: %w", err)
	}
	committed = true
	return l, nil
}

const leaseSelect = `
	SELECT id, task_id, project_id, agent_id, fencing_token, status, heartbeat_at, expires_at,
	       created_at, COALESCE(released_at, 'epoch'::timestamptz), COALESCE(release_reason, '')
	FROM leases`

func scanLease(row *sql.Row) (domain.Lease, error) {
	var l domain.Lease
	err := row.Scan(&l.ID, &l.TaskID, &l.ProjectID, &l.AgentID, &l.FencingToken, &l.Status,
		&l.HeartbeatAt, &l.ExpiresAt, &l.CreatedAt, &l.ReleasedAt, &l.ReleaseReason)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lease{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Lease{}, fmt.Errorf("scan lease: %w", err)
	}
	return l, nil
}

func (s *Store) GetLease(ctx context.Context, id string) (domain.Lease, error) {
	return scanLease(s.db.QueryRowContext(ctx, leaseSelect+" WHERE id = $1", id))
}

func (s *Store) GetActiveLeaseForTask(ctx context.Context, taskID string) (domain.Lease, bool, error) {
	l, err := scanLease(s.db.QueryRowContext(ctx, leaseSelect+" WHERE task_id = $1 AND status = $2", taskID, domain.LeaseActive))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Lease{}, false, nil
	}
	if err != nil {
		return domain.Lease{}, false, err
	}
	return l, true, nil
}

func (s *Store) Heartbeat(ctx context.Context, leaseID string, fencingToken int64, newExpiry time.Time) (domain.Lease, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases SET heartbeat_at = now(), expires_at = GREATEST(expires_at, $3)
		WHERE id = $1 AND fencing_token = $2 AND status = $4
	`, leaseID, fencingToken, newExpiry, domain.LeaseActive)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("heartbeat: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		if _, err := s.GetLease(ctx, leaseID); errors.Is(err, storage.ErrNotFound) {
			return domain.Lease{}, storage.ErrNotFound
		}
		return domain.Lease{}, storage.ErrAmbiguous
	}
	return s.GetLease(ctx, leaseID)
}

func (s *Store) ReleaseLease(ctx context.Context, leaseID string, reason string) (domain.Lease, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE leases SET status = $2, release_reason = $3, released_at = now() WHERE id = $1
	`, leaseID, domain.LeaseReleased, reason)
	if err != nil {
		return domain.Lease{}, fmt.Errorf("release lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Lease{}, storage.ErrNotFound
	}
	return s.GetLease(ctx, leaseID)
}

func (s *Store) ListExpiredActive(ctx context.Context, asOf time.Time) ([]domain.Lease, error) {
	rows, err := s.db.QueryContext(ctx, leaseSelect+" WHERE status = $1 AND expires_at < $2", domain.LeaseActive, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Lease
	for rows.Next() {
		var l domain.Lease
		if err := rows.Scan(&l.ID, &l.TaskID, &l.ProjectID, &l.AgentID, &l.FencingToken, &l.Status,
			&l.HeartbeatAt, &l.ExpiresAt, &l.CreatedAt, &l.ReleasedAt, &l.ReleaseReason); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (s *Store) ExpireLease(ctx context.Context, leaseID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE leases SET status = $2, released_at = now() WHERE id = $1`, leaseID, domain.LeaseExpired)
	if err != nil {
		return fmt.Errorf("expire lease: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
