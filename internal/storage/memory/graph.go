package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

func (s *Store) CreateProject(ctx context.Context, p domain.Project) (domain.Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == "" {
		p.ID = newID()
	}
	now := time.Now().UTC()
	p.CreatedAt, p.UpdatedAt = now, now
	s.projects[p.ID] = p
	s.projectsByShort[p.ShortID] = p.ID
	return p, nil
}

func (s *Store) GetProject(ctx context.Context, id string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.projects[id]
	if !ok {
		return domain.Project{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetProjectByShortID(ctx context.Context, shortID string) (domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.projectsByShort[shortID]
	if !ok {
		return domain.Project{}, storage.ErrNotFound
	}
	return s.projects[id], nil
}

func (s *Store) ListProjects(ctx context.Context) ([]domain.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Project, 0, len(s.projects))
	for _, p := range s.projects {
		out = append(out, p)
	}
	return out, nil
}

func (s *Store) UpdateProjectPlanVersion(ctx context.Context, projectID string, version int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return storage.ErrNotFound
	}
	p.CurrentPlanVersion = version
	p.UpdatedAt = time.Now().UTC()
	s.projects[projectID] = p
	return nil
}

func (s *Store) CreatePhase(ctx context.Context, ph domain.Phase) (domain.Phase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createPhaseLocked(ph)
}

func (s *Store) createPhaseLocked(ph domain.Phase) (domain.Phase, error) {
	if ph.ID == "" {
		ph.ID = newID()
	}
	now := time.Now().UTC()
	ph.CreatedAt, ph.UpdatedAt = now, now
	s.phases[ph.ID] = ph
	return ph, nil
}

func (s *Store) GetPhase(ctx context.Context, id string) (domain.Phase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.phases[id]
	if !ok {
		return domain.Phase{}, storage.ErrNotFound
	}
	return p, nil
}

func (s *Store) ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Phase
	for _, p := range s.phases {
		if p.ProjectID == projectID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createMilestoneLocked(m)
}

func (s *Store) createMilestoneLocked(m domain.Milestone) (domain.Milestone, error) {
	if m.ID == "" {
		m.ID = newID()
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	s.milestones[m.ID] = m
	return m, nil
}

func (s *Store) GetMilestone(ctx context.Context, id string) (domain.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.milestones[id]
	if !ok {
		return domain.Milestone{}, storage.ErrNotFound
	}
	return m, nil
}

func (s *Store) ListMilestones(ctx context.Context, phaseID string) ([]domain.Milestone, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Milestone
	for _, m := range s.milestones {
		if m.PhaseID == phaseID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *Store) CreateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createTaskLocked(t)
}

func (s *Store) createTaskLocked(t domain.Task) (domain.Task, error) {
	if t.ID == "" {
		t.ID = newID()
	}
	now := time.Now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now
	t.Version = 1
	s.tasks[t.ID] = t
	s.tasksByShort[t.ProjectID+"/"+t.ShortID] = t.ID
	return t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getTaskLocked(id)
}

func (s *Store) getTaskLocked(id string) (domain.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return domain.Task{}, storage.ErrNotFound
	}
	return t, nil
}

func (s *Store) GetTaskByShortID(ctx context.Context, projectID, shortID string) (domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.tasksByShort[projectID+"/"+shortID]
	if !ok {
		return domain.Task{}, storage.ErrNotFound
	}
	return s.tasks[id], nil
}

func (s *Store) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listTasksLocked(projectID, filter), nil
}

func (s *Store) listTasksLocked(projectID string, filter storage.TaskFilter) []domain.Task {
	var out []domain.Task
	for _, t := range s.tasks {
		if t.ProjectID != projectID {
			continue
		}
		if filter.PhaseID != "" && t.PhaseID != filter.PhaseID {
			continue
		}
		if filter.MilestoneID != "" && t.MilestoneID != filter.MilestoneID {
			continue
		}
		if filter.TaskClass != "" && t.TaskClass != filter.TaskClass {
			continue
		}
		if len(filter.States) > 0 {
			match := false
			for _, st := range filter.States {
				if t.State == st {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, t)
	}
	return out
}

func (s *Store) UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateTaskLocked(t)
}

func (s *Store) updateTaskLocked(t domain.Task) (domain.Task, error) {
	existing, ok := s.tasks[t.ID]
	if !ok {
		return domain.Task{}, storage.ErrNotFound
	}
	t.CreatedAt = existing.CreatedAt
	t.UpdatedAt = time.Now().UTC()
	t.Version = existing.Version + 1
	s.tasks[t.ID] = t
	return t, nil
}

// edgeKey uniquely identifies an edge by (from, to, unlock_on) for the
// idempotent-creation invariant.
func edgeKey(from, to string, unlock domain.UnlockCriterion) string {
	return fmt.Sprintf("%s|%s|%s", from, to, unlock)
}

func (s *Store) CreateDependencyEdge(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createDependencyEdgeLocked(e)
}

func (s *Store) createDependencyEdgeLocked(e domain.DependencyEdge) (domain.DependencyEdge, bool, error) {
	want := edgeKey(e.FromTaskID, e.ToTaskID, e.UnlockOn)
	for _, existing := range s.edges {
		if existing.RemovedInPlan != 0 {
			continue
		}
		if edgeKey(existing.FromTaskID, existing.ToTaskID, existing.UnlockOn) == want {
			return existing, false, nil
		}
	}
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	s.edges[e.ID] = e
	return e, true, nil
}

func (s *Store) RemoveDependencyEdge(ctx context.Context, edgeID string, removedInPlan int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeDependencyEdgeLocked(edgeID, removedInPlan)
}

func (s *Store) removeDependencyEdgeLocked(edgeID string, removedInPlan int) error {
	e, ok := s.edges[edgeID]
	if !ok {
		return storage.ErrNotFound
	}
	e.RemovedInPlan = removedInPlan
	s.edges[edgeID] = e
	return nil
}

func (s *Store) ListDependencyEdges(ctx context.Context, projectID string) ([]domain.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.listDependencyEdgesLocked(projectID), nil
}

func (s *Store) listDependencyEdgesLocked(projectID string) []domain.DependencyEdge {
	var out []domain.DependencyEdge
	for _, e := range s.edges {
		if e.ProjectID == projectID && e.RemovedInPlan == 0 {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) ListEdgesFrom(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DependencyEdge
	for _, e := range s.edges {
		if e.FromTaskID == taskID && e.RemovedInPlan == 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) ListEdgesTo(ctx context.Context, taskID string) ([]domain.DependencyEdge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.DependencyEdge
	for _, e := range s.edges {
		if e.ToTaskID == taskID && e.RemovedInPlan == 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Store) AppendChangelog(ctx context.Context, e domain.TaskChangelogEntry) (domain.TaskChangelogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = newID()
	}
	e.CreatedAt = time.Now().UTC()
	s.changelog = append(s.changelog, e)
	return e, nil
}

func (s *Store) ListChangelog(ctx context.Context, taskID string, limit int) ([]domain.TaskChangelogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TaskChangelogEntry
	for i := len(s.changelog) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if s.changelog[i].TaskID == taskID {
			out = append(out, s.changelog[i])
		}
	}
	return out, nil
}

// ApplyChangeSet runs fn under the single store-wide write lock so the batch
// of operations appears atomic to readers. The maps fn can mutate are copied
// first and restored if fn returns an error, so a failed batch leaves no
// partial writes; the error is propagated so the changeset engine marks the
// attempt rejected.
func (s *Store) ApplyChangeSet(ctx context.Context, fn func(storage.GraphTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.snapshotMaps()
	tx := &graphTx{s: s}
	if err := fn(tx); err != nil {
		s.restoreMaps(snapshot)
		return err
	}
	return nil
}

// mapSnapshot is a shallow copy of every map ApplyChangeSet's callback can
// mutate, taken before the callback runs and restored verbatim on error.
type mapSnapshot struct {
	phases       map[string]domain.Phase
	milestones   map[string]domain.Milestone
	tasks        map[string]domain.Task
	tasksByShort map[string]string
	edges        map[string]domain.DependencyEdge
	activeLeaseByTask map[string]string
	leases       map[string]domain.Lease
}

func (s *Store) snapshotMaps() mapSnapshot {
	cp := func(m map[string]domain.Phase) map[string]domain.Phase {
		out := make(map[string]domain.Phase, len(m))
		for k, v := range m {
			out[k] = v
		}
		return out
	}
	_ = cp
	snap := mapSnapshot{
		phases:            make(map[string]domain.Phase, len(s.phases)),
		milestones:        make(map[string]domain.Milestone, len(s.milestones)),
		tasks:             make(map[string]domain.Task, len(s.tasks)),
		tasksByShort:      make(map[string]string, len(s.tasksByShort)),
		edges:             make(map[string]domain.DependencyEdge, len(s.edges)),
		activeLeaseByTask: make(map[string]string, len(s.activeLeaseByTask)),
		leases:            make(map[string]domain.Lease, len(s.leases)),
	}
	for k, v := range s.phases {
		snap.phases[k] = v
	}
	for k, v := range s.milestones {
		snap.milestones[k] = v
	}
	for k, v := range s.tasks {
		snap.tasks[k] = v
	}
	for k, v := range s.tasksByShort {
		snap.tasksByShort[k] = v
	}
	for k, v := range s.edges {
		snap.edges[k] = v
	}
	for k, v := range s.activeLeaseByTask {
		snap.activeLeaseByTask[k] = v
	}
	for k, v := range s.leases {
		snap.leases[k] = v
	}
	return snap
}

func (s *Store) restoreMaps(snap mapSnapshot) {
	s.phases = snap.phases
	s.milestones = snap.milestones
	s.tasks = snap.tasks
	s.tasksByShort = snap.tasksByShort
	s.edges = snap.edges
	s.activeLeaseByTask = snap.activeLeaseByTask
	s.leases = snap.leases
}

// graphTx implements storage.GraphTx against the already-locked store
// underneath ApplyChangeSet.
type graphTx struct {
	s *Store
}

func (t *graphTx) CreatePhase(ctx context.Context, ph domain.Phase) (domain.Phase, error) {
	return t.s.createPhaseLocked(ph)
}

func (t *graphTx) CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error) {
	return t.s.createMilestoneLocked(m)
}

func (t *graphTx) CreateTask(ctx context.Context, tk domain.Task) (domain.Task, error) {
	return t.s.createTaskLocked(tk)
}

func (t *graphTx) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return t.s.getTaskLocked(id)
}

func (t *graphTx) UpdateTask(ctx context.Context, tk domain.Task) (domain.Task, error) {
	return t.s.updateTaskLocked(tk)
}

func (t *graphTx) CreateDependencyEdge(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, bool, error) {
	return t.s.createDependencyEdgeLocked(e)
}

func (t *graphTx) RemoveDependencyEdge(ctx context.Context, edgeID string, removedInPlan int) error {
	return t.s.removeDependencyEdgeLocked(edgeID, removedInPlan)
}

func (t *graphTx) ListDependencyEdges(ctx context.Context, projectID string) ([]domain.DependencyEdge, error) {
	return t.s.listDependencyEdgesLocked(projectID), nil
}

func (t *graphTx) ListTasks(ctx context.Context, projectID string, filter storage.TaskFilter) ([]domain.Task, error) {
	return t.s.listTasksLocked(projectID, filter), nil
}

func (t *graphTx) ReleaseLeaseForTask(ctx context.Context, taskID, reason string) error {
	leaseID, ok := t.s.activeLeaseByTask[taskID]
	if !ok {
		return nil
	}
	l := t.s.leases[leaseID]
	l.Status = domain.LeaseReleased
	l.ReleaseReason = reason
	l.ReleasedAt = time.Now().UTC()
	t.s.leases[leaseID] = l
	delete(t.s.activeLeaseByTask, taskID)
	return nil
}
