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

// CreateReservation holds the same per-task advisory lock AcquireLease uses,
// so a reservation and a lease claim against the same task never race.
func (s *Store) CreateReservation(ctx context.Context, r domain.TaskReservation) (domain.TaskReservation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.TaskReservation{}, fmt.Errorf("begin create reservation tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, r.TaskID); err != nil {
		return domain.TaskReservation{}, fmt.Errorf("acquire task lock: %w", err)
	}

	var heldCount int
	err = tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations WHERE task_id = $1 AND status = $2`, r.TaskID, domain.ReservationHeld).Scan(&heldCount)
	if err != nil {
		return domain.TaskReservation{}, fmt.Errorf("check held reservation: %w", err)
	}
	if heldCount > 0 {
		return domain.TaskReservation{}, storage.ErrAmbiguous
	}

	if r.ID == "" {
		r.ID = newID()
	}
	r.Status = domain.ReservationHeld
	r.CreatedAt = time.Now().UTC()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO reservations (id, task_id, project_id, agent_id, status, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, r.ID, r.TaskID, r.ProjectID, r.AgentID, r.Status, r.ExpiresAt, r.CreatedAt)
	if err != nil {
		return domain.TaskReservation{}, fmt.Errorf("insert reservation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.TaskReservation{}, fmt.Errorf("commit create reservation tx: %w", err)
	}
	committed = true
	return r, nil
}

const reservationSelect = `SELECT id, task_id, project_id, agent_id, status, expires_at, created_at FROM reservations`

func scanReservation(row *sql.Row) (domain.TaskReservation, error) {
	var r domain.TaskReservation
	err := row.Scan(&r.ID, &r.TaskID, &r.ProjectID, &r.AgentID, &r.Status, &r.ExpiresAt, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskReservation{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.TaskReservation{}, fmt.Errorf("scan reservation: %w", err)
	}
	return r, nil
}

func (s *Store) GetActiveReservationForTask(ctx context.Context, taskID string) (domain.TaskReservation, bool, error) {
	r, err := scanReservation(s.db.QueryRowContext(ctx, reservationSelect+" WHERE task_id = $1 AND status = $2", taskID, domain.ReservationHeld))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.TaskReservation{}, false, nil
	}
	if err != nil {
		return domain.TaskReservation{}, false, err
	}
	return r, true, nil
}

func (s *Store) ConvertReservation(ctx context.Context, reservationID string) (domain.TaskReservation, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reservations SET status = $2 WHERE id = $1`, reservationID, domain.ReservationConverted)
	if err != nil {
		return domain.TaskReservation{}, fmt.Errorf("convert reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.TaskReservation{}, storage.ErrNotFound
	}
	return scanReservation(s.db.QueryRowContext(ctx, reservationSelect+" WHERE id = $1", reservationID))
}

func (s *Store) ReleaseReservation(ctx context.Context, reservationID string) (domain.TaskReservation, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE reservations SET status = $2 WHERE id = $1`, reservationID, domain.ReservationReleased)
	if err != nil {
		return domain.TaskReservation{}, fmt.Errorf("release reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.TaskReservation{}, storage.ErrNotFound
	}
	return scanReservation(s.db.QueryRowContext(ctx, reservationSelect+" WHERE id = $1", reservationID))
}

func (s *Store) ListExpired(ctx context.Context, asOf time.Time) ([]domain.TaskReservation, error) {
	rows, err := s.db.QueryContext(ctx, reservationSelect+" WHERE status = $1 AND expires_at < $2", domain.ReservationHeld, asOf)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskReservation
	for rows.Next() {
		var r domain.TaskReservation
		if err := rows.Scan(&r.ID, &r.TaskID, &r.ProjectID, &r.AgentID, &r.Status, &r.ExpiresAt, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) ExpireReservation(ctx context.Context, reservationID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE reservations SET status = $2 WHERE id = $1`, reservationID, domain.ReservationExpired)
	if err != nil {
		return fmt.Errorf("expire reservation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
