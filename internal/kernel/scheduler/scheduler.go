// Package scheduler implements the ready-queue computation: which tasks are
// eligible for a given agent, in what order.
package scheduler

import (
	"context"
	"sort"
	"strings"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// Engine computes the ready queue directly against current graph and lease
// state on every call rather than maintaining a cached materialized view
// (see DESIGN.md's Open Question 3 decision): a project's task count is
// small enough that an on-read scan is both simpler and never stale.
type Engine struct {
	graph storage.GraphStore
	lease storage.LeaseStore
	resv  storage.ReservationStore
}

// New returns a scheduler Engine.
func New(graph storage.GraphStore, lease storage.LeaseStore, resv storage.ReservationStore) *Engine {
	return &Engine{graph: graph, lease: lease, resv: resv}
}

// ParseCapabilities accepts either an already-split slice or a single
// comma-delimited string and normalizes both into a trimmed slice, per the
// scheduler's accepted-shapes rule.
func ParseCapabilities(raw any) ([]string, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []string:
		out := make([]string, 0, len(v))
		for _, s := range v {
			s = strings.TrimSpace(s)
			if s != "" {
				out = append(out, s)
			}
		}
		return out, nil
	case string:
		if strings.TrimSpace(v) == "" {
			return nil, nil
		}
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				out = append(out, p)
			}
		}
		return out, nil
	default:
		return nil, kerrors.New(kerrors.InvalidCapabilities, "capabilities must be a string or an array of strings")
	}
}

// ListReady returns the ready queue for agentID in projectID, filtered to
// tasks whose capability_tags are a subset of capabilities (when provided),
// ordered by priority ascending, then created_at ascending, then exclusive-path
// contention penalty ascending, then short id.
func (e *Engine) ListReady(ctx context.Context, projectID, agentID string, capabilities []string) ([]domain.Task, error) {
	tasks, err := e.graph.ListTasks(ctx, projectID, storage.TaskFilter{
		States: []domain.TaskState{domain.StateReady, domain.StateReserved},
	})
	if err != nil {
		return nil, kerrors.New(kerrors.Internal, "list tasks: %v", err)
	}

	capSet := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		capSet[c] = struct{}{}
	}

	var candidates []domain.Task
	for _, t := range tasks {
		if t.State == domain.StateReserved {
			resv, ok, err := e.resv.GetActiveReservationForTask(ctx, t.ID)
			if err != nil || !ok || resv.AgentID != agentID {
				continue // reserved tasks are invisible to non-assignees
			}
		}
		if _, active, err := e.lease.GetActiveLeaseForTask(ctx, t.ID); err == nil && active {
			continue
		}
		if len(capSet) > 0 && !isSubset(t.CapabilityTags, capSet) {
			continue
		}
		satisfied, err := e.dependenciesSatisfied(ctx, t)
		if err != nil {
			return nil, err
		}
		if !satisfied {
			continue
		}
		candidates = append(candidates, t)
	}

	inFlight, err := e.graph.ListTasks(ctx, projectID, storage.TaskFilter{
		States: []domain.TaskState{domain.StateClaimed, domain.StateInProgress},
	})
	if err != nil {
		return nil, kerrors.New(kerrors.Internal, "list in-flight tasks: %v", err)
	}

	penalty := contentionPenalties(candidates, inFlight)

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		if penalty[a.ID] != penalty[b.ID] {
			return penalty[a.ID] < penalty[b.ID]
		}
		return a.ShortID < b.ShortID
	})

	return candidates, nil
}

func (e *Engine) dependenciesSatisfied(ctx context.Context, t domain.Task) (bool, error) {
	incoming, err := e.graph.ListEdgesTo(ctx, t.ID)
	if err != nil {
		return false, kerrors.New(kerrors.Internal, "list incoming edges: %v", err)
	}
	for _, edge := range incoming {
		pred, err := e.graph.GetTask(ctx, edge.FromTaskID)
		if err != nil {
			return false, kerrors.New(kerrors.Internal, "get predecessor: %v", err)
		}
		if !edge.UnlockOn.Satisfied(pred.State) {
			return false, nil
		}
	}
	return true, nil
}

func isSubset(tags map[string]struct{}, capabilities map[string]struct{}) bool {
	for t := range tags {
		if _, ok := capabilities[t]; !ok {
			return false
		}
	}
	return true
}

// contentionPenalties computes, per candidate, the count of exclusive-path
// overlaps with any in-flight (claimed/in_progress) task — a deterministic
// tertiary tie-break applied only after priority and created_at (DESIGN.md
// Open Question 1).
func contentionPenalties(candidates, inFlight []domain.Task) map[string]int {
	penalty := make(map[string]int, len(candidates))
	for _, c := range candidates {
		count := 0
		for _, busy := range inFlight {
			count += overlapCount(c.ExclusivePaths, busy.ExclusivePaths)
		}
		penalty[c.ID] = count
	}
	return penalty
}

func overlapCount(a, b []string) int {
	set := make(map[string]struct{}, len(b))
	for _, p := range b {
		set[p] = struct{}{}
	}
	n := 0
	for _, p := range a {
		if _, ok := set[p]; ok {
			n++
		}
	}
	return n
}
