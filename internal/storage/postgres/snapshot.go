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

func (s *Store) CreateSnapshot(ctx context.Context, snap domain.TaskExecutionSnapshot) (domain.TaskExecutionSnapshot, error) {
	if snap.ID == "" {
		snap.ID = newID()
	}
	snap.CreatedAt = time.Now().UTC()
	workSpec, err := json.Marshal(snap.WorkSpec)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, fmt.Errorf("marshal work spec: %w", err)
	}
	deps, err := json.Marshal(snap.Dependencies)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, fmt.Errorf("marshal dependencies: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO task_execution_snapshots (id, task_id, project_id, lease_id, fencing_token, plan_version, work_spec, dependencies, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, snap.ID, snap.TaskID, snap.ProjectID, snap.LeaseID, snap.FencingToken, snap.PlanVersion, workSpec, deps, snap.CreatedAt)
	if err != nil {
		return domain.TaskExecutionSnapshot{}, fmt.Errorf("insert snapshot: %w", err)
	}
	return snap, nil
}

const snapshotSelect = `
	SELECT id, task_id, project_id, lease_id, fencing_token, plan_version, work_spec, dependencies, created_at
	FROM task_execution_snapshots`

func scanSnapshot(row *sql.Row) (domain.TaskExecutionSnapshot, error) {
	var snap domain.TaskExecutionSnapshot
	var workSpec, deps []byte
	err := row.Scan(&snap.ID, &snap.TaskID, &snap.ProjectID, &snap.LeaseID, &snap.FencingToken,
		&snap.PlanVersion, &workSpec, &deps, &snap.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TaskExecutionSnapshot{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.TaskExecutionSnapshot{}, fmt.Errorf("scan snapshot: %w", err)
	}
	if len(workSpec) > 0 {
		if err := json.Unmarshal(workSpec, &snap.WorkSpec); err != nil {
			return domain.TaskExecutionSnapshot{}, fmt.Errorf("unmarshal work spec: %w", err)
		}
	}
	if len(deps) > 0 {
		if err := json.Unmarshal(deps, &snap.Dependencies); err != nil {
			return domain.TaskExecutionSnapshot{}, fmt.Errorf("unmarshal dependencies: %w", err)
		}
	}
	return snap, nil
}

func (s *Store) GetSnapshotForLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, bool, error) {
	snap, err := scanSnapshot(s.db.QueryRowContext(ctx, snapshotSelect+" WHERE lease_id = $1", leaseID))
	if errors.Is(err, storage.ErrNotFound) {
		return domain.TaskExecutionSnapshot{}, false, nil
	}
	if err != nil {
		return domain.TaskExecutionSnapshot{}, false, err
	}
	return snap, true, nil
}

func (s *Store) ListSnapshotsForTask(ctx context.Context, taskID string) ([]domain.TaskExecutionSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, snapshotSelect+" WHERE task_id = $1 ORDER BY created_at", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskExecutionSnapshot
	for rows.Next() {
		var snap domain.TaskExecutionSnapshot
		var workSpec, deps []byte
		if err := rows.Scan(&snap.ID, &snap.TaskID, &snap.ProjectID, &snap.LeaseID, &snap.FencingToken,
			&snap.PlanVersion, &workSpec, &deps, &snap.CreatedAt); err != nil {
			return nil, err
		}
		if len(workSpec) > 0 {
			if err := json.Unmarshal(workSpec, &snap.WorkSpec); err != nil {
				return nil, fmt.Errorf("unmarshal work spec: %w", err)
			}
		}
		if len(deps) > 0 {
			if err := json.Unmarshal(deps, &snap.Dependencies); err != nil {
				return nil, fmt.Errorf("unmarshal dependencies: %w", err)
			}
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}
