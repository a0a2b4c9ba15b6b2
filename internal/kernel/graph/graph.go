// Package graph implements project/phase/milestone/task creation, short-id
// allocation, dependency-edge management, and cycle detection — the
// foundation every other kernel package builds on.
package graph

import (
	"context"
	"fmt"
	"strings"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// Engine implements the Graph Store component.
type Engine struct {
	store storage.GraphStore
}

// New returns a graph Engine backed by store.
func New(store storage.GraphStore) *Engine {
	return &Engine{store: store}
}

// CreateProject allocates a project with a caller-supplied short id (the
// project's short id has no parent scope to derive from).
func (e *Engine) CreateProject(ctx context.Context, name, shortID string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	shortID = strings.TrimSpace(shortID)
	if name == "" || shortID == "" {
		return domain.Project{}, kerrors.New(kerrors.InvalidWorkSpec, "name and short_id are required")
	}
	return e.store.CreateProject(ctx, domain.Project{
		Name:    name,
		ShortID: shortID,
		Status:  domain.ProjectActive,
	})
}

// CreatePhase allocates the next sequential phase short id under projectID.
func (e *Engine) CreatePhase(ctx context.Context, projectID, name string) (domain.Phase, error) {
	proj, err := e.store.GetProject(ctx, projectID)
	if err != nil {
		return domain.Phase{}, notFoundOrInternal(err, "project")
	}
	existing, err := e.store.ListPhases(ctx, proj.ID)
	if err != nil {
		return domain.Phase{}, kerrors.New(kerrors.Internal, "list phases: %v", err)
	}
	seq := len(existing) + 1
	return e.store.CreatePhase(ctx, domain.Phase{
		ProjectID: proj.ID,
		Name:      strings.TrimSpace(name),
		Sequence:  seq,
		ShortID:   fmt.Sprintf("P%d", seq),
	})
}

// CreateMilestone allocates the next sequential milestone short id under phaseID.
func (e *Engine) CreateMilestone(ctx context.Context, phaseID, name string) (domain.Milestone, error) {
	phase, err := e.store.GetPhase(ctx, phaseID)
	if err != nil {
		return domain.Milestone{}, kerrors.New(kerrors.IdentifierParentRequired, "phase %s not found", phaseID)
	}
	existing, err := e.store.ListMilestones(ctx, phase.ID)
	if err != nil {
		return domain.Milestone{}, kerrors.New(kerrors.Internal, "list milestones: %v", err)
	}
	seq := len(existing) + 1
	return e.store.CreateMilestone(ctx, domain.Milestone{
		PhaseID:   phase.ID,
		ProjectID: phase.ProjectID,
		Name:      strings.TrimSpace(name),
		Sequence:  seq,
		ShortID:   fmt.Sprintf("%s.M%d", phase.ShortID, seq),
	})
}

// CreateTaskInput is the validated payload for creating a task.
type CreateTaskInput struct {
	MilestoneID     string
	Title           string
	Description     string
	Priority        int
	TaskClass       domain.TaskClass
	CapabilityTags  []string
	ExpectedTouches []string
	ExclusivePaths  []string
	SharedPaths     []string
	WorkSpec        domain.WorkSpec
}

// CreateTask allocates the next sequential task short id under the
// milestone, validating class and work spec shape.
func (e *Engine) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	if in.MilestoneID == "" {
		return domain.Task{}, kerrors.New(kerrors.IdentifierParentRequired, "milestone_id is required")
	}
	milestone, err := e.store.GetMilestone(ctx, in.MilestoneID)
	if err != nil {
		return domain.Task{}, kerrors.New(kerrors.IdentifierParentRequired, "milestone %s not found", in.MilestoneID)
	}
	if in.TaskClass == "" {
		in.TaskClass = domain.ClassOther
	}
	if !domain.ValidTaskClass(in.TaskClass) {
		return domain.Task{}, kerrors.New(kerrors.InvalidTaskClass, "unrecognized task class %q", in.TaskClass)
	}
	if strings.TrimSpace(in.Title) == "" {
		return domain.Task{}, kerrors.New(kerrors.InvalidWorkSpec, "title is required")
	}
	if !in.WorkSpec.Valid() {
		return domain.Task{}, kerrors.New(kerrors.InvalidWorkSpec, "work_spec requires objective and acceptance_criteria")
	}

	existing, err := e.store.ListTasks(ctx, milestone.ProjectID, storage.TaskFilter{MilestoneID: milestone.ID})
	if err != nil {
		return domain.Task{}, kerrors.New(kerrors.Internal, "list tasks: %v", err)
	}
	seq := len(existing) + 1

	tags := make(map[string]struct{}, len(in.CapabilityTags))
	for _, t := range in.CapabilityTags {
		t = strings.TrimSpace(t)
		if t != "" {
			tags[t] = struct{}{}
		}
	}

	currentPlan := 1 // the engine does not own plan versioning; callers update this via changeset engine.

	return e.store.CreateTask(ctx, domain.Task{
		ProjectID:        milestone.ProjectID,
		PhaseID:          milestone.PhaseID,
		MilestoneID:      milestone.ID,
		ShortID:          fmt.Sprintf("%s.T%d", milestone.ShortID, seq),
		Title:            strings.TrimSpace(in.Title),
		Description:      in.Description,
		State:            domain.StateBacklog,
		Priority:         in.Priority,
		TaskClass:        in.TaskClass,
		CapabilityTags:   tags,
		ExpectedTouches:  in.ExpectedTouches,
		ExclusivePaths:   in.ExclusivePaths,
		SharedPaths:      in.SharedPaths,
		WorkSpec:         in.WorkSpec,
		IntroducedInPlan: currentPlan,
	})
}

// LookupTask resolves ref as either an opaque id or a short id scoped to
// projectID. When projectID is empty only opaque ids resolve; any other ref
// is rejected as an ambiguous reference.
func (e *Engine) LookupTask(ctx context.Context, projectID, ref string) (domain.Task, error) {
	if ref == "" {
		return domain.Task{}, kerrors.New(kerrors.InvalidWorkSpec, "task reference is required")
	}
	if projectID != "" {
		if t, err := e.store.GetTaskByShortID(ctx, projectID, ref); err == nil {
			return t, nil
		}
	}
	if t, err := e.store.GetTask(ctx, ref); err == nil {
		return t, nil
	}
	if projectID == "" {
		return domain.Task{}, kerrors.New(kerrors.AmbiguousReference, "short id %q requires a project scope", ref)
	}
	return domain.Task{}, kerrors.New(kerrors.NotFound, "task %q not found", ref)
}

// CreateDependency adds a directed edge from fromTaskID to toTaskID,
// rejecting it if it would close a cycle over the currently active edges.
// Idempotent by (from, to, unlock_on): a duplicate returns the existing edge.
func (e *Engine) CreateDependency(ctx context.Context, projectID, fromTaskID, toTaskID string, unlockOn domain.UnlockCriterion) (domain.DependencyEdge, error) {
	if fromTaskID == toTaskID {
		return domain.DependencyEdge{}, kerrors.New(kerrors.DependencyCycle, "a task cannot depend on itself")
	}
	if unlockOn != domain.UnlockOnImplemented && unlockOn != domain.UnlockOnIntegrated {
		return domain.DependencyEdge{}, kerrors.New(kerrors.InvalidWorkSpec, "unknown unlock_on %q", unlockOn)
	}
	edges, err := e.store.ListDependencyEdges(ctx, projectID)
	if err != nil {
		return domain.DependencyEdge{}, kerrors.New(kerrors.Internal, "list edges: %v", err)
	}
	if WouldCreateCycle(edges, fromTaskID, toTaskID) {
		return domain.DependencyEdge{}, kerrors.New(kerrors.DependencyCycle, "edge %s -> %s would close a cycle", fromTaskID, toTaskID)
	}
	edge, _, err := e.store.CreateDependencyEdge(ctx, domain.DependencyEdge{
		ProjectID:  projectID,
		FromTaskID: fromTaskID,
		ToTaskID:   toTaskID,
		UnlockOn:   unlockOn,
	})
	if err != nil {
		return domain.DependencyEdge{}, kerrors.New(kerrors.Internal, "create edge: %v", err)
	}
	return edge, nil
}

// WouldCreateCycle reports whether adding the edge from->to to the given
// active edge set would introduce a cycle, via depth-first search from "to"
// looking for a path back to "from".
func WouldCreateCycle(edges []domain.DependencyEdge, from, to string) bool {
	adjacency := make(map[string][]string, len(edges))
	for _, e := range edges {
		adjacency[e.FromTaskID] = append(adjacency[e.FromTaskID], e.ToTaskID)
	}
	visited := make(map[string]bool)
	var dfs func(node string) bool
	dfs = func(node string) bool {
		if node == from {
			return true
		}
		if visited[node] {
			return false
		}
		visited[node] = true
		for _, next := range adjacency[node] {
			if dfs(next) {
				return true
			}
		}
		return false
	}
	return dfs(to)
}

func notFoundOrInternal(err error, kind string) error {
	if err == storage.ErrNotFound {
		return kerrors.New(kerrors.NotFound, "%s not found", kind)
	}
	return kerrors.New(kerrors.Internal, "%s: %v", kind, err)
}
