package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/domain"
)

// Append assigns the next per-project sequence number with the same
// ON CONFLICT counter-increment idiom used for lease fencing tokens, so
// concurrent appends to the same project never collide on sequence.
func (s *Store) Append(ctx context.Context, e domain.Event) (domain.Event, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return domain.Event{}, fmt.Errorf("marshal event payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Event{}, fmt.Errorf("begin append event tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO event_sequences (project_id, counter) VALUES ($1, 1)
		ON CONFLICT (project_id) DO UPDATE SET counter = event_sequences.counter + 1
		RETURNING counter
	`, e.ProjectID).Scan(&e.Sequence)
	if err != nil {
		return domain.Event{}, fmt.Errorf("mint event sequence: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events (id, project_id, sequence, type, subject, payload, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, e.ID, e.ProjectID, e.Sequence, e.Type, e.Subject, payload, e.CreatedAt)
	if err != nil {
		return domain.Event{}, fmt.Errorf("insert event: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Event{}, fmt.Errorf("commit append event tx: %w", err)
	}
	committed = true
	return e, nil
}

const eventSelect = `SELECT id, project_id, sequence, type, subject, payload, created_at FROM events`

func (s *Store) ListSince(ctx context.Context, projectID string, sinceSeq int64, limit int) ([]domain.Event, error) {
	query := eventSelect + " WHERE project_id = $1 AND sequence > $2 ORDER BY sequence"
	args := []any{projectID, sinceSeq}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events since: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func (s *Store) ListRecent(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, eventSelect+" WHERE project_id = $1 ORDER BY sequence DESC LIMIT $2", projectID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent events: %w", err)
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]domain.Event, error) {
	var out []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Sequence, &e.Type, &e.Subject, &payload, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &e.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal event payload: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
