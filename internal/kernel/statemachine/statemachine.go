// Package statemachine enforces the task lifecycle transition table and its
// commit-time invariants.
package statemachine

import (
	"context"
	"strings"
	"time"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// transitions maps a state to the set of states it may move to under the
// normal (non-force, non-lease-loss) path. blocked/conflict/cancelled are
// reachable from any non-terminal state and are handled separately in
// allowed().
var transitions = map[domain.TaskState][]domain.TaskState{
	domain.StateBacklog:     {domain.StateReady},
	domain.StateReady:       {domain.StateReserved, domain.StateClaimed},
	domain.StateReserved:    {domain.StateReady, domain.StateClaimed},
	domain.StateClaimed:     {domain.StateReady, domain.StateInProgress, domain.StateAbandoned},
	domain.StateInProgress:  {domain.StateImplemented, domain.StateAbandoned},
	domain.StateImplemented: {domain.StateIntegrated},
	domain.StateConflict:    {domain.StateReady, domain.StateBlocked},
	domain.StateBlocked:     {domain.StateReady},
}

func allowed(from, to domain.TaskState) bool {
	if from.Terminal() {
		return false
	}
	if to == domain.StateBlocked || to == domain.StateConflict || to == domain.StateCancelled {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Engine applies task transitions, checking both the transition table and
// the per-transition invariants for that transition.
type Engine struct {
	graph     storage.GraphStore
	artifacts storage.ArtifactStore
	gates     storage.GateStore
	events    storage.EventStore
}

// New returns a statemachine Engine.
func New(graph storage.GraphStore, artifacts storage.ArtifactStore, gates storage.GateStore, events storage.EventStore) *Engine {
	return &Engine{graph: graph, artifacts: artifacts, gates: gates, events: events}
}

// TransitionInput carries the actor-supplied context a transition needs to
// satisfy its invariants.
type TransitionInput struct {
	TaskID       string
	To           domain.TaskState
	Actor        string
	ReviewedBy   string
	EvidenceRefs []string
	Force        bool
	Rationale    string
}

// Transition moves a task to a new state, enforcing the transition table and
// the invariants that apply to the specific (from, to) pair. On success the
// new task row and a task.state_changed event are both persisted.
func (e *Engine) Transition(ctx context.Context, in TransitionInput) (domain.Task, error) {
	task, err := e.graph.GetTask(ctx, in.TaskID)
	if err != nil {
		return domain.Task{}, kerrors.New(kerrors.NotFound, "task %s not found", in.TaskID)
	}
	if task.State == in.To {
		return task, nil
	}
	if !allowed(task.State, in.To) {
		return domain.Task{}, kerrors.New(kerrors.InvariantViolation, "illegal transition %s -> %s", task.State, in.To).
			WithDetails(map[string]any{"task_id": task.ID, "from": string(task.State), "to": string(in.To)})
	}
	if in.Force && strings.TrimSpace(in.Rationale) == "" {
		return domain.Task{}, kerrors.New(kerrors.InvariantViolation, "force transition requires a rationale")
	}

	if !in.Force {
		if err := e.checkInvariants(ctx, task, in); err != nil {
			return domain.Task{}, err
		}
	}

	from := task.State
	task.State = in.To
	updated, err := e.graph.UpdateTask(ctx, task)
	if err != nil {
		return domain.Task{}, kerrors.New(kerrors.Internal, "update task: %v", err)
	}

	payload := map[string]any{
		"from":  string(from),
		"to":    string(in.To),
		"actor": in.Actor,
	}
	if in.Force {
		payload["forced"] = true
		payload["rationale"] = in.Rationale
	}
	if _, err := e.events.Append(ctx, domain.Event{
		ProjectID: task.ProjectID,
		Type:      domain.EventTaskStateChanged,
		Subject:   task.ID,
		Payload:   payload,
	}); err != nil {
		// Event publishing failures never propagate to clients; the
		// outbox replay reconciles missed events on the next sweep.
		_ = err
	}
	return updated, nil
}

func (e *Engine) checkInvariants(ctx context.Context, task domain.Task, in TransitionInput) error {
	switch {
	case task.State == domain.StateInProgress && in.To == domain.StateImplemented:
		return e.checkImplementedInvariant(ctx, task)
	case task.State == domain.StateImplemented && in.To == domain.StateIntegrated:
		return e.checkIntegratedInvariant(ctx, task, in)
	}
	return nil
}

func (e *Engine) checkImplementedInvariant(ctx context.Context, task domain.Task) error {
	artifacts, err := e.artifacts.ListArtifactsForTask(ctx, task.ID)
	if err != nil {
		return kerrors.New(kerrors.Internal, "list artifacts: %v", err)
	}
	if len(artifacts) == 0 {
		return kerrors.New(kerrors.InvariantViolation, "in_progress -> implemented requires at least one artifact")
	}
	return nil
}

func (e *Engine) checkIntegratedInvariant(ctx context.Context, task domain.Task, in TransitionInput) error {
	if in.ReviewedBy == "" {
		return kerrors.New(kerrors.InvariantViolation, "implemented -> integrated requires reviewed_by")
	}
	if in.ReviewedBy == in.Actor {
		return kerrors.New(kerrors.InvariantViolation, "self-review is forbidden")
	}
	if len(in.EvidenceRefs) == 0 {
		return kerrors.New(kerrors.InvariantViolation, "implemented -> integrated requires evidence_refs")
	}

	rules, err := e.gates.ListGateRules(ctx, task.ProjectID, true)
	if err != nil {
		return kerrors.New(kerrors.Internal, "list gate rules: %v", err)
	}
	for _, rule := range rules {
		if !ruleAppliesToTask(rule, task) {
			continue
		}
		approved, err := e.gates.HasApprovedDecision(ctx, task.ID, rule.ID)
		if err != nil {
			return kerrors.New(kerrors.Internal, "check gate decision: %v", err)
		}
		if !approved {
			return kerrors.New(kerrors.InvariantViolation, "gate rule %q has no approved decision for this task", rule.Name)
		}
	}

	attempts, err := e.artifacts.ListIntegrationAttempts(ctx, task.ID)
	if err != nil {
		return kerrors.New(kerrors.Internal, "list integration attempts: %v", err)
	}
	hasSuccess := false
	for _, a := range attempts {
		if a.Status == domain.IntegrationSucceeded {
			hasSuccess = true
			break
		}
	}
	if !hasSuccess {
		return kerrors.New(kerrors.InvariantViolation, "implemented -> integrated requires a terminal successful integration attempt")
	}
	return nil
}

func ruleAppliesToTask(rule domain.GateRule, task domain.Task) bool {
	switch rule.Trigger {
	case domain.GateOnTaskClass:
		return string(task.TaskClass) == rule.MatchValue
	case domain.GateOnPathPrefix:
		for _, p := range task.ExpectedTouches {
			if strings.HasPrefix(p, rule.MatchValue) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// now is a seam so tests can control timestamps without reaching into the
// standard library clock from multiple packages.
var now = func() time.Time { return time.Now().UTC() }
