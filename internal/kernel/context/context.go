// Package context implements the Context Projection component: a
// read-optimized bundle of a task's graph neighborhood and recent
// activity.
package context

import (
	"context"
	"sort"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// MaxDepth bounds ancestor_depth / dependent_depth to prevent a pathological
// request from walking the entire graph.
const MaxDepth = 5

// Engine assembles TaskContextProjection values.
type Engine struct {
	graph  storage.GraphStore
	events storage.EventStore
}

// New returns a context Engine.
func New(graph storage.GraphStore, events storage.EventStore) *Engine {
	return &Engine{graph: graph, events: events}
}

// Get assembles the projection for taskID, walking up to ancestorDepth edges
// upstream and dependentDepth edges downstream.
func (e *Engine) Get(ctx context.Context, taskID string, ancestorDepth, dependentDepth int) (domain.TaskContextProjection, error) {
	if ancestorDepth > MaxDepth {
		ancestorDepth = MaxDepth
	}
	if dependentDepth > MaxDepth {
		dependentDepth = MaxDepth
	}
	task, err := e.graph.GetTask(ctx, taskID)
	if err != nil {
		return domain.TaskContextProjection{}, kerrors.New(kerrors.NotFound, "task %s not found", taskID)
	}

	predecessors, err := e.walk(ctx, taskID, ancestorDepth, true)
	if err != nil {
		return domain.TaskContextProjection{}, err
	}
	successors, err := e.walk(ctx, taskID, dependentDepth, false)
	if err != nil {
		return domain.TaskContextProjection{}, err
	}

	var siblings []domain.TaskContextNeighbor
	if task.MilestoneID != "" {
		sibs, err := e.graph.ListTasks(ctx, task.ProjectID, storage.TaskFilter{MilestoneID: task.MilestoneID})
		if err != nil {
			return domain.TaskContextProjection{}, kerrors.New(kerrors.Internal, "list siblings: %v", err)
		}
		for _, s := range sibs {
			if s.ID == task.ID {
				continue
			}
			siblings = append(siblings, toNeighbor(s, ""))
		}
	}

	changelog, err := e.graph.ListChangelog(ctx, taskID, 20)
	if err != nil {
		return domain.TaskContextProjection{}, kerrors.New(kerrors.Internal, "list changelog: %v", err)
	}

	return domain.TaskContextProjection{
		Task:                task,
		Predecessors:        predecessors,
		Successors:          successors,
		SiblingsInMilestone: siblings,
		RecentChangelog:     changelog,
	}, nil
}

// walk traverses dependency edges up to depth hops, upstream if upstream is
// true (via incoming edges) else downstream (via outgoing edges),
// deterministically ordered by edge-insertion order then short id.
func (e *Engine) walk(ctx context.Context, taskID string, depth int, upstream bool) ([]domain.TaskContextNeighbor, error) {
	var out []domain.TaskContextNeighbor
	frontier := []string{taskID}
	visited := map[string]bool{taskID: true}
	for d := 0; d < depth; d++ {
		var next []string
		for _, id := range frontier {
			var edges []domain.DependencyEdge
			var err error
			if upstream {
				edges, err = e.graph.ListEdgesTo(ctx, id)
			} else {
				edges, err = e.graph.ListEdgesFrom(ctx, id)
			}
			if err != nil {
				return nil, kerrors.New(kerrors.Internal, "walk edges: %v", err)
			}
			shortID := func(edge domain.DependencyEdge) string {
				id := edge.ToTaskID
				if upstream {
					id = edge.FromTaskID
				}
				t, _ := e.graph.GetTask(ctx, id)
				return t.ShortID
			}
			sort.SliceStable(edges, func(i, j int) bool {
				if !edges[i].CreatedAt.Equal(edges[j].CreatedAt) {
					return edges[i].CreatedAt.Before(edges[j].CreatedAt)
				}
				return shortID(edges[i]) < shortID(edges[j])
			})
			for _, edge := range edges {
				neighborID := edge.FromTaskID
				if !upstream {
					neighborID = edge.ToTaskID
				}
				if visited[neighborID] {
					continue
				}
				visited[neighborID] = true
				neighbor, err := e.graph.GetTask(ctx, neighborID)
				if err != nil {
					continue
				}
				out = append(out, toNeighbor(neighbor, edge.UnlockOn))
				next = append(next, neighborID)
			}
		}
		frontier = next
	}
	return out, nil
}

func toNeighbor(t domain.Task, unlockOn domain.UnlockCriterion) domain.TaskContextNeighbor {
	return domain.TaskContextNeighbor{
		TaskID:   t.ID,
		ShortID:  t.ShortID,
		Title:    t.Title,
		State:    t.State,
		UnlockOn: unlockOn,
	}
}

// OpenBlockers returns every ancestor of taskID (within MaxDepth) currently
// in the blocked state.
func (e *Engine) OpenBlockers(ctx context.Context, taskID string) ([]domain.TaskContextNeighbor, error) {
	ancestors, err := e.walk(ctx, taskID, MaxDepth, true)
	if err != nil {
		return nil, err
	}
	var blocked []domain.TaskContextNeighbor
	for _, a := range ancestors {
		if a.State == domain.StateBlocked {
			blocked = append(blocked, a)
		}
	}
	return blocked, nil
}
