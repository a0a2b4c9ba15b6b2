package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreatePlanVersion(ctx context.Context, v domain.PlanVersion) (domain.PlanVersion, error) {
	if v.ID == "" {
		v.ID = newID()
	}
	v.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO plan_versions (id, project_id, version, summary, created_at) VALUES ($1,$2,$3,$4,$5)
	`, v.ID, v.ProjectID, v.Version, v.Summary, v.CreatedAt)
	if err != nil {
		return domain.PlanVersion{}, fmt.Errorf("insert plan version: %w", err)
	}
	return v, nil
}

func (s *Store) GetCurrentPlanVersion(ctx context.Context, projectID string) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(version) FROM plan_versions WHERE project_id = $1
	`, projectID).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("get current plan version: %w", err)
	}
	return int(version.Int64), nil
}

func (s *Store) ProposeChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error) {
	if cs.ID == "" {
		cs.ID = newID()
	}
	cs.Status = domain.ChangeSetProposed
	cs.CreatedAt = time.Now().UTC()
	ops, err := json.Marshal(cs.Operations)
	if err != nil {
		return domain.PlanChangeSet{}, fmt.Errorf("marshal operations: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO plan_changesets (id, project_id, base_version, result_version, operations, materiality, status, proposed_by, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, cs.ID, cs.ProjectID, cs.BaseVersion, cs.ResultVersion, ops, cs.Materiality, cs.Status, cs.ProposedBy, cs.CreatedAt)
	if err != nil {
		return domain.PlanChangeSet{}, fmt.Errorf("insert changeset: %w", err)
	}
	return cs, nil
}

const changeSetSelect = `
	SELECT id, project_id, base_version, result_version, operations, materiality, status, proposed_by,
	       created_at, COALESCE(applied_at, 'epoch'::timestamptz)
	FROM plan_changesets`

func scanChangeSet(row *sql.Row) (domain.PlanChangeSet, error) {
	var cs domain.PlanChangeSet
	var ops []byte
	err := row.Scan(&cs.ID, &cs.ProjectID, &cs.BaseVersion, &cs.ResultVersion, &ops, &cs.Materiality,
		&cs.Status, &cs.ProposedBy, &cs.CreatedAt, &cs.AppliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.PlanChangeSet{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.PlanChangeSet{}, fmt.Errorf("scan changeset: %w", err)
	}
	if len(ops) > 0 {
		if err := json.Unmarshal(ops, &cs.Operations); err != nil {
			return domain.PlanChangeSet{}, fmt.Errorf("unmarshal operations: %w", err)
		}
	}
	return cs, nil
}

func (s *Store) GetChangeSet(ctx context.Context, id string) (domain.PlanChangeSet, error) {
	return scanChangeSet(s.db.QueryRowContext(ctx, changeSetSelect+" WHERE id = $1", id))
}

func (s *Store) MarkChangeSetApplied(ctx context.Context, id string, resultVersion int) (domain.PlanChangeSet, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE plan_changesets SET status = $2, result_version = $3, applied_at = now() WHERE id = $1
	`, id, domain.ChangeSetApplied, resultVersion)
	if err != nil {
		return domain.PlanChangeSet{}, fmt.Errorf("mark changeset applied: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.PlanChangeSet{}, storage.ErrNotFound
	}
	return s.GetChangeSet(ctx, id)
}

func (s *Store) MarkChangeSetRejected(ctx context.Context, id string, reason string) (domain.PlanChangeSet, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE plan_changesets SET status = $2 WHERE id = $1`, id, domain.ChangeSetRejected)
	if err != nil {
		return domain.PlanChangeSet{}, fmt.Errorf("mark changeset rejected: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.PlanChangeSet{}, storage.ErrNotFound
	}
	_ = reason // recorded via the task changelog by the calling engine, not on the changeset row
	return s.GetChangeSet(ctx, id)
}

func (s *Store) ListChangeSets(ctx context.Context, projectID string) ([]domain.PlanChangeSet, error) {
	rows, err := s.db.QueryContext(ctx, changeSetSelect+" WHERE project_id = $1 ORDER BY created_at", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.PlanChangeSet
	for rows.Next() {
		var cs domain.PlanChangeSet
		var ops []byte
		if err := rows.Scan(&cs.ID, &cs.ProjectID, &cs.BaseVersion, &cs.ResultVersion, &ops, &cs.Materiality,
			&cs.Status, &cs.ProposedBy, &cs.CreatedAt, &cs.AppliedAt); err != nil {
			return nil, err
		}
		if len(ops) > 0 {
			if err := json.Unmarshal(ops, &cs.Operations); err != nil {
				return nil, fmt.Errorf("unmarshal operations: %w", err)
			}
		}
		out = append(out, cs)
	}
	return out, rows.Err()
}
