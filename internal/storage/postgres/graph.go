package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

// querier is satisfied by both *sql.DB and *sql.Tx, letting every query
// method below run unmodified whether it executes standalone or inside the
// transaction ApplyChangeSet opens.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func newID() string { return uuid.NewString() }

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	return createProject(ctx, s.db, p)
}

func createProject(ctx context.Context, q querier, p domain.Project) (domain.Project, error) {
	if p.ID == "" {
		p.ID = newID()
	}
	p.Status = domain.ProjectActive
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	_, err := q.ExecContext(ctx, `
		INSERT INTO projects (id, short_id, name, status, current_plan_version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, p.ID, p.ShortID, p.Name, p.Status, p.CurrentPlanVersion, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, projectSelect+" WHERE id = $1", id))
}

func (s *Store) GetProjectByShortID(ctx context.Context, shortID string) (domain.Project, error) {
	return scanProject(s.db.QueryRowContext(ctx, projectSelect+" WHERE short_id = $1", shortID))
}

const projectSelect = `SELECT id, short_id, name, status, current_plan_version, created_at, updated_at FROM projects`

func scanProject(row *sql.Row) (domain.Project, error) {
	var p domain.Project
	err := row.Scan(&p.ID, &p.ShortID, &p.Name, &p.Status, &p.CurrentPlanVersion, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Project{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Project{}, fmt.Errorf("scan project: %w", err)
	}
	return p, nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := s.db.QueryContext(ctx, projectSelect+" ORDER BY created_at")
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		if err := rows.Scan(&p.ID, &p.ShortID, &p.Name, &p.Status, &p.CurrentPlanVersion, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan project row: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) UpdateProjectPlanVersion(ctx context.Context, projectID string, version int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE projects SET current_plan_version = $2, updated_at = now() WHERE id = $1`, projectID, version)
	return err
}

func (s *Store) CreatePhase(ctx context.Context, ph domain.Phase) (domain.Phase, error) {
	return createPhase(ctx, s.db, ph)
}

func createPhase(ctx context.Context, q querier, ph domain.Phase) (domain.Phase, error) {
	if ph.ID == "" {
		ph.ID = newID()
	}
	now := time.Now().UTC()
	ph.CreatedAt, ph.UpdatedAt = now, now
	row := q.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM phases WHERE project_id = $1
	`, ph.ProjectID)
	if err := row.Scan(&ph.Sequence); err != nil {
		return domain.Phase{}, fmt.Errorf("next phase sequence: %w", err)
	}
	ph.ShortID = fmt.Sprintf("P%d", ph.Sequence)
	_, err := q.ExecContext(ctx, `
		INSERT INTO phases (id, short_id, project_id, name, sequence, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, ph.ID, ph.ShortID, ph.ProjectID, ph.Name, ph.Sequence, ph.CreatedAt, ph.UpdatedAt)
	if err != nil {
		return domain.Phase{}, fmt.Errorf("insert phase: %w", err)
	}
	return ph, nil
}

const phaseSelect = `SELECT id, short_id, project_id, name, sequence, created_at, updated_at FROM phases`

func (s *Store) GetPhase(ctx context.Context, id string) (domain.Phase, error) {
	row := s.db.QueryRowContext(ctx, phaseSelect+" WHERE id = $1", id)
	var ph domain.Phase
	err := row.Scan(&ph.ID, &ph.ShortID, &ph.ProjectID, &ph.Name, &ph.Sequence, &ph.CreatedAt, &ph.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Phase{}, storage.ErrNotFound
	}
	return ph, err
}

func (s *Store) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	rows, err := s.db.QueryContext(ctx, phaseSelect+" WHERE project_id = $1 ORDER BY sequence", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Phase
	for rows.Next() {
		var ph domain.Phase
		if err := rows.Scan(&ph.ID, &ph.ShortID, &ph.ProjectID, &ph.Name, &ph.Sequence, &ph.CreatedAt, &ph.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, ph)
	}
	return out, rows.Err()
}

func (s *Store) CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	return createMilestone(ctx, s.db, m)
}

func createMilestone(ctx context.Context, q querier, m domain.Milestone) (domain.Milestone, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	var phaseShort string
	if err := q.QueryRowContext(ctx, `SELECT short_id FROM phases WHERE id = $1`, m.PhaseID).Scan(&phaseShort); err != nil {
		return domain.Milestone{}, fmt.Errorf("lookup phase short id: %w", err)
	}
	row := q.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM milestones WHERE phase_id = $1`, m.PhaseID)
	if err := row.Scan(&m.Sequence); err != nil {
		return domain.Milestone{}, fmt.Errorf("next milestone sequence: %w", err)
	}
	m.ShortID = fmt.Sprintf("%s.M%d", phaseShort, m.Sequence)
	_, err := q.ExecContext(ctx, `
		INSERT INTO milestones (id, short_id, phase_id, project_id, name, sequence, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, m.ID, m.ShortID, m.PhaseID, m.ProjectID, m.Name, m.Sequence, m.CreatedAt, m.UpdatedAt)
	if err != nil {
		return domain.Milestone{}, fmt.Errorf("insert milestone: %w", err)
	}
	return m, nil
}

const milestoneSelect = `SELECT id, short_id, phase_id, project_id, name, sequence, created_at, updated_at FROM milestones`

func (s *Store) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	row := s.db.QueryRowContext(ctx, milestoneSelect+" WHERE id = $1", id)
	var m domain.Milestone
	err := row.Scan(&m.ID, &m.ShortID, &m.PhaseID, &m.ProjectID, &m.Name, &m.Sequence, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Milestone{}, storage.ErrNotFound
	}
	return m, err
}

func (s *Store) ListMilestones(ctx context.Context, phaseID string) ([]domain.Milestone, error) {
	rows, err := s.db.QueryContext(ctx, milestoneSelect+" WHERE phase_id = $1 ORDER BY sequence", phaseID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Milestone
	for rows.Next() {
		var m domain.Milestone
		if err := rows.Scan(&m.ID, &m.ShortID, &m.PhaseID, &m.ProjectID, &m.Name, &m.Sequence, &m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func capabilityKeys(tags map[string]struct{}) []string {
	out := make([]string, 0, len(tags))
	for k := range tags {
		out = append(out, k)
	}
	return out
}

func capabilitySet(keys []string) map[string]struct{} {
	if len(keys) == 0 {
		return nil
	}
	out := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		out[k] = struct{}{}
	}
	return out
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	return createTask(ctx, s.db, t)
}

func createTask(ctx context.Context, q querier, t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	if t.State == "" {
		t.State = domain.StateBacklog
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	if t.MilestoneID != "" {
		var milestoneShort string
		if err := q.QueryRowContext(ctx, `SELECT short_id FROM milestones WHERE id = $1`, t.MilestoneID).Scan(&milestoneShort); err != nil {
			return domain.Task{}, fmt.Errorf("lookup milestone short id: %w", err)
		}
		var seq int
		if err := q.QueryRowContext(ctx, `SELECT COUNT(*) + 1 FROM tasks WHERE milestone_id = $1`, t.MilestoneID).Scan(&seq); err != nil {
			return domain.Task{}, fmt.Errorf("next task sequence: %w", err)
		}
		t.ShortID = fmt.Sprintf("%s.T%d", milestoneShort, seq)
	}
	workSpec, err := json.Marshal(t.WorkSpec)
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal work spec: %w", err)
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO tasks
			(id, short_id, project_id, phase_id, milestone_id, title, description, state, priority,
			 task_class, capability_tags, expected_touches, exclusive_paths, shared_paths, work_spec,
			 introduced_in_plan, deprecated_in_plan, version, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
	`, t.ID, t.ShortID, t.ProjectID, t.PhaseID, t.MilestoneID, t.Title, t.Description, t.State, t.Priority,
		t.TaskClass, pq.Array(capabilityKeys(t.CapabilityTags)), pq.Array(t.ExpectedTouches),
		pq.Array(t.ExclusivePaths), pq.Array(t.SharedPaths), workSpec,
		t.IntroducedInPlan, t.DeprecatedInPlan, t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("insert task: %w", err)
	}
	return t, nil
}

const taskSelect = `
	SELECT id, short_id, project_id, phase_id, milestone_id, title, description, state, priority,
	       task_class, capability_tags, expected_touches, exclusive_paths, shared_paths, work_spec,
	       introduced_in_plan, deprecated_in_plan, version, created_at, updated_at
	FROM tasks`

func scanTask(row *sql.Row) (domain.Task, error) {
	var t domain.Task
	var capTags, touches, exclusive, shared []string
	var workSpec []byte
	err := row.Scan(&t.ID, &t.ShortID, &t.ProjectID, &t.PhaseID, &t.MilestoneID, &t.Title, &t.Description,
		&t.State, &t.Priority, &t.TaskClass, pq.Array(&capTags), pq.Array(&touches), pq.Array(&exclusive),
		pq.Array(&shared), &workSpec, &t.IntroducedInPlan, &t.DeprecatedInPlan, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Task{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Task{}, fmt.Errorf("scan task: %w", err)
	}
	t.CapabilityTags = capabilitySet(capTags)
	t.ExpectedTouches, t.ExclusivePaths, t.SharedPaths = touches, exclusive, shared
	if len(workSpec) > 0 {
		if err := json.Unmarshal(workSpec, &t.WorkSpec); err != nil {
			return domain.Task{}, fmt.Errorf("unmarshal work spec: %w", err)
		}
	}
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+" WHERE id = $1", id))
}

func (s *Store) GetTaskByShortID(ctx context.Context, projectID, shortID string) (domain.Task, error) {
	return scanTask(s.db.QueryRowContext(ctx, taskSelect+" WHERE project_id = $1 AND short_id = $2", projectID, shortID))
}

func (s *Store) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]domain.Task, error) {
	return listTasks(ctx, s.db, projectID, filter)
}

func listTasks(ctx context.Context, q querier, projectID string, filter storage.TaskFilter) ([]domain.Task, error) {
	query := taskSelect + " WHERE project_id = $1"
	args := []any{projectID}
	if filter.PhaseID != "" {
		args = append(args, filter.PhaseID)
		query += fmt.Sprintf(" AND phase_id = $%d", len(args))
	}
	if filter.MilestoneID != "" {
		args = append(args, filter.MilestoneID)
		query += fmt.Sprintf(" AND milestone_id = $%d", len(args))
	}
	if filter.TaskClass != "" {
		args = append(args, filter.TaskClass)
		query += fmt.Sprintf(" AND task_class = $%d", len(args))
	}
	if len(filter.States) > 0 {
		states := make([]string, len(filter.States))
		for i, st := range filter.States {
			states[i] = string(st)
		}
		args = append(args, pq.Array(states))
		query += fmt.Sprintf(" AND state = ANY($%d)", len(args))
	}
	query += " ORDER BY short_id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var out []domain.Task
	for rows.Next() {
		var t domain.Task
		var capTags, touches, exclusive, shared []string
		var workSpec []byte
		if err := rows.Scan(&t.ID, &t.ShortID, &t.ProjectID, &t.PhaseID, &t.MilestoneID, &t.Title, &t.Description,
			&t.State, &t.Priority, &t.TaskClass, pq.Array(&capTags), pq.Array(&touches), pq.Array(&exclusive),
			pq.Array(&shared), &workSpec, &t.IntroducedInPlan, &t.DeprecatedInPlan, &t.Version, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		t.CapabilityTags = capabilitySet(capTags)
		t.ExpectedTouches, t.ExclusivePaths, t.SharedPaths = touches, exclusive, shared
		if len(workSpec) > 0 {
			if err := json.Unmarshal(workSpec, &t.WorkSpec); err != nil {
				return nil, fmt.Errorf("unmarshal work spec: %w", err)
			}
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	return updateTask(ctx, s.db, t)
}

func updateTask(ctx context.Context, q querier, t domain.Task) (domain.Task, error) {
	t.UpdatedAt = time.Now().UTC()
	t.Version++
	workSpec, err := json.Marshal(t.WorkSpec)
	if err != nil {
		return domain.Task{}, fmt.Errorf("marshal work spec: %w", err)
	}
	res, err := q.ExecContext(ctx, `
		UPDATE tasks SET
			title = $2, description = $3, state = $4, priority = $5, task_class = $6,
			capability_tags = $7, expected_touches = $8, exclusive_paths = $9, shared_paths = $10,
			work_spec = $11, deprecated_in_plan = $12, version = $13, updated_at = $14
		WHERE id = $1
	`, t.ID, t.Title, t.Description, t.State, t.Priority, t.TaskClass,
		pq.Array(capabilityKeys(t.CapabilityTags)), pq.Array(t.ExpectedTouches),
		pq.Array(t.ExclusivePaths), pq.Array(t.SharedPaths), workSpec, t.DeprecatedInPlan, t.Version, t.UpdatedAt)
	if err != nil {
		return domain.Task{}, fmt.Errorf("update task: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) CreateDependencyEdge(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, bool, error) {
	return createDependencyEdge(ctx, s.db, e)
}

// createDependencyEdge is idempotent on (from_task_id, to_task_id, unlock_on):
// a duplicate insert returns the existing row with created=false.
func createDependencyEdge(ctx context.Context, q querier, e domain.DependencyEdge) (domain.DependencyEdge, bool, error) {
	var existingID string
	err := q.QueryRowContext(ctx, `
		SELECT id FROM dependency_edges
		WHERE from_task_id = $1 AND to_task_id = $2 AND unlock_on = $3 AND removed_in_plan = 0
	`, e.FromTaskID, e.ToTaskID, e.UnlockOn).Scan(&existingID)
	if err == nil {
		existing, getErr := getDependencyEdge(ctx, q, existingID)
		return existing, false, getErr
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.DependencyEdge{}, false, fmt.Errorf("check existing edge: %w", err)
	}

	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	_, err = q.ExecContext(ctx, `
		INSERT INTO dependency_edges (id, project_id, from_task_id, to_task_id, unlock_on, plan_version, removed_in_plan, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,0,$7)
	`, e.ID, e.ProjectID, e.FromTaskID, e.ToTaskID, e.UnlockOn, e.PlanVersion, e.CreatedAt)
	if err != nil {
		return domain.DependencyEdge{}, false, fmt.Errorf("insert edge: %w", err)
	}
	return e, true, nil
}

const edgeSelect = `SELECT id, project_id, from_task_id, to_task_id, unlock_on, plan_version, removed_in_plan, created_at FROM dependency_edges`

func getDependencyEdge(ctx context.Context, q querier, id string) (domain.DependencyEdge, error) {
	row := q.QueryRowContext(ctx, edgeSelect+" WHERE id = $1", id)
	var e domain.DependencyEdge
	err := row.Scan(&e.ID, &e.ProjectID, &e.FromTaskID, &e.ToTaskID, &e.UnlockOn, &e.PlanVersion, &e.RemovedInPlan, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DependencyEdge{}, storage.ErrNotFound
	}
	return e, err
}

func (s *Store) RemoveDependencyEdge(ctx context.Context, edgeID string, removedInPlan int) error {
	return removeDependencyEdge(ctx, s.db, edgeID, removedInPlan)
}

func removeDependencyEdge(ctx context.Context, q querier, edgeID string, removedInPlan int) error {
	res, err := q.ExecContext(ctx, `UPDATE dependency_edges SET removed_in_plan = $2 WHERE id = $1 AND removed_in_plan = 0`, edgeID, removedInPlan)
	if err != nil {
		return fmt.Errorf("remove edge: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListDependencyEdges(ctx context.Context, projectID string) ([]domain.DependencyEdge, error) {
	return listDependencyEdges(ctx, s.db, projectID)
}

func listDependencyEdges(ctx context.Context, q querier, projectID string) ([]domain.DependencyEdge, error) {
	rows, err := q.QueryContext(ctx, edgeSelect+" WHERE project_id = $1 AND removed_in_plan = 0", projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *Store) ListEdgesFrom(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, edgeSelect+" WHERE from_task_id = $1 AND removed_in_plan = 0", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func (s *Store) ListEdgesTo(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	rows, err := s.db.QueryContext(ctx, edgeSelect+" WHERE to_task_id = $1 AND removed_in_plan = 0", taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEdges(rows)
}

func scanEdges(rows *sql.Rows) ([]domain.DependencyEdge, error) {
	var out []domain.DependencyEdge
	for rows.Next() {
		var e domain.DependencyEdge
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.FromTaskID, &e.ToTaskID, &e.UnlockOn, &e.PlanVersion, &e.RemovedInPlan, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendChangelog(ctx context.Context, e domain.TaskChangelogEntry) (domain.TaskChangelogEntry, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO task_changelog (id, task_id, author_type, author, entry_type, body, artifact_ref, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, e.ID, e.TaskID, e.AuthorType, e.Author, e.EntryType, e.Body, e.ArtifactRef, e.CreatedAt)
	if err != nil {
		return domain.TaskChangelogEntry{}, fmt.Errorf("insert changelog entry: %w", err)
	}
	return e, nil
}

func (s *Store) ListChangelog(ctx context.Context, taskID string, limit int) ([]domain.TaskChangelogEntry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, author_type, author, entry_type, body, artifact_ref, created_at
		FROM task_changelog WHERE task_id = $1 ORDER BY created_at DESC LIMIT $2
	`, taskID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TaskChangelogEntry
	for rows.Next() {
		var e domain.TaskChangelogEntry
		if err := rows.Scan(&e.ID, &e.TaskID, &e.AuthorType, &e.Author, &e.EntryType, &e.Body, &e.ArtifactRef, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ApplyChangeSet runs fn inside a serializable transaction. It takes no
// advisory lock: concurrent changeset applies against the same project are
// kept apart only by the serializable isolation level, under which one of
// two conflicting transactions fails at commit. A panic or returned error
// rolls the whole transaction back.
func (s *Store) ApplyChangeSet(ctx context.Context, fn func(tx storage.GraphTx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin changeset tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(&pgGraphTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit changeset tx: %w", err)
	}
	committed = true
	return nil
}

// pgGraphTx implements storage.GraphTx against a live *sql.Tx.
type pgGraphTx struct {
	tx *sql.Tx
}

func (t *pgGraphTx) CreatePhase(ctx context.Context, ph domain.Phase) (domain.Phase, error) {
	return createPhase(ctx, t.tx, ph)
}

func (t *pgGraphTx) CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	return createMilestone(ctx, t.tx, m)
}

func (t *pgGraphTx) CreateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	return createTask(ctx, t.tx, task)
}

func (t *pgGraphTx) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return scanTask(t.tx.QueryRowContext(ctx, taskSelect+" WHERE id = $1", id))
}

func (t *pgGraphTx) UpdateTask(ctx context.Context, task domain.Task) (domain.Task, error) {
	return updateTask(ctx, t.tx, task)
}

func (t *pgGraphTx) CreateDependencyEdge(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, bool, error) {
	return createDependencyEdge(ctx, t.tx, e)
}

func (t *pgGraphTx) RemoveDependencyEdge(ctx context.Context, edgeID string, removedInPlan int) error {
	return removeDependencyEdge(ctx, t.tx, edgeID, removedInPlan)
}

func (t *pgGraphTx) ListDependencyEdges(ctx context.Context, projectID string) ([]domain.DependencyEdge, error) {
	return listDependencyEdges(ctx, t.tx, projectID)
}

func (t *pgGraphTx) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]domain.Task, error) {
	return listTasks(ctx, t.tx, projectID, filter)
}

// ReleaseLeaseForTask releases the task's active lease within the changeset
// transaction, used when a material modification invalidates a claimed task.
func (t *pgGraphTx) ReleaseLeaseForTask(ctx context.Context, taskID, reason string) error {
	_, err := t.tx.ExecContext(ctx, `
		UPDATE leases SET status = $3, released_at = now(), release_reason = $2
		WHERE task_id = $1 AND status = 'active'
	`, taskID, reason, domain.LeaseReleased)
	return err
}
