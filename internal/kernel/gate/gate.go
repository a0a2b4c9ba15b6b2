// Package gate implements the Gate Policy Engine: rule matching against
// candidate tasks, gate task generation, and decision recording.
package gate

import (
	"context"
	"fmt"
	"sort"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// MaxCandidatesPerGate bounds a single gate's candidate batch when a rule
// does not specify its own cap.
const MaxCandidatesPerGate = 25

// Engine evaluates gate rules and records decisions.
type Engine struct {
	graph  storage.GraphStore
	gates  storage.GateStore
	events storage.EventStore
}

// New returns a gate Engine.
func New(graph storage.GraphStore, gates storage.GateStore, events storage.EventStore) *Engine {
	return &Engine{graph: graph, gates: gates, events: events}
}

// CreateRule persists a new gate rule.
func (e *Engine) CreateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error) {
	r.Active = true
	return e.gates.CreateGateRule(ctx, r)
}

// Evaluate checks every active rule in projectID against current tasks and
// links newly matching candidates that are not already linked. It enforces
// "at most one active (unresolved) gate batch per rule" by skipping a rule
// that already has unresolved candidates linked.
func (e *Engine) Evaluate(ctx context.Context, projectID string) ([]domain.GateCandidateLink, error) {
	rules, err := e.gates.ListGateRules(ctx, projectID, true)
	if err != nil {
		return nil, kerrors.New(kerrors.Internal, "list gate rules: %v", err)
	}
	tasks, err := e.graph.ListTasks(ctx, projectID, storage.TaskFilter{})
	if err != nil {
		return nil, kerrors.New(kerrors.Internal, "list tasks: %v", err)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ShortID < tasks[j].ShortID })

	var created []domain.GateCandidateLink
	for _, rule := range rules {
		unresolved, err := e.gates.ListUnresolvedCandidates(ctx, rule.ID)
		if err != nil {
			return nil, kerrors.New(kerrors.Internal, "list unresolved candidates: %v", err)
		}
		if len(unresolved) > 0 {
			continue
		}
		already := make(map[string]bool)
		for _, t := range tasks {
			existing, _ := e.gates.ListCandidatesForTask(ctx, t.ID)
			for _, l := range existing {
				if l.GateRuleID == rule.ID {
					already[t.ID] = true
				}
			}
		}
		var matched []domain.Task
		for _, t := range tasks {
			if len(matched) >= MaxCandidatesPerGate {
				break
			}
			if already[t.ID] || t.State != domain.StateImplemented {
				continue
			}
			if !matches(rule, t) {
				continue
			}
			matched = append(matched, t)
		}
		if len(matched) == 0 {
			continue
		}
		gateTask, err := e.createGateTask(ctx, rule, matched)
		if err != nil {
			return nil, err
		}
		for _, t := range matched {
			link, err := e.gates.LinkCandidate(ctx, domain.GateCandidateLink{
				GateRuleID: rule.ID,
				TaskID:     t.ID,
				GateTaskID: gateTask.ID,
				ProjectID:  projectID,
			})
			if err != nil {
				return nil, kerrors.New(kerrors.Internal, "link candidate: %v", err)
			}
			created = append(created, link)
		}
	}
	return created, nil
}

// createGateTask creates the synthetic review_gate/merge_gate task that a
// matched batch of candidates is reviewed against. It reaches integrated
// only once a GateDecision is recorded against it in RecordDecision.
func (e *Engine) createGateTask(ctx context.Context, rule domain.GateRule, candidates []domain.Task) (domain.Task, error) {
	milestone, err := e.graph.GetMilestone(ctx, candidates[0].MilestoneID)
	if err != nil {
		return domain.Task{}, kerrors.New(kerrors.Internal, "get milestone for gate task: %v", err)
	}
	existing, err := e.graph.ListTasks(ctx, milestone.ProjectID, storage.TaskFilter{MilestoneID: milestone.ID})
	if err != nil {
		return domain.Task{}, kerrors.New(kerrors.Internal, "list tasks for gate short id: %v", err)
	}
	seq := len(existing) + 1

	class := domain.ClassReviewGate
	if rule.Trigger == domain.GateOnMilestoneEnd {
		class = domain.ClassMergeGate
	}
	touches := make([]string, 0, len(candidates))
	for _, c := range candidates {
		touches = append(touches, c.ID)
	}
	return e.graph.CreateTask(ctx, domain.Task{
		ProjectID:       milestone.ProjectID,
		PhaseID:         milestone.PhaseID,
		MilestoneID:     milestone.ID,
		ShortID:         fmt.Sprintf("%s.T%d", milestone.ShortID, seq),
		Title:           fmt.Sprintf("Gate: %s", rule.Name),
		State:           domain.StateBacklog,
		TaskClass:       class,
		ExpectedTouches: touches,
		WorkSpec: domain.WorkSpec{
			Objective:          fmt.Sprintf("Record a gate decision for %d candidate task(s) against rule %q", len(candidates), rule.Name),
			AcceptanceCriteria: []string{"gate_decision recorded"},
		},
	})
}

func matches(rule domain.GateRule, t domain.Task) bool {
	switch rule.Trigger {
	case domain.GateOnTaskClass:
		return string(t.TaskClass) == rule.MatchValue
	case domain.GateOnPathPrefix:
		for _, p := range t.ExpectedTouches {
			if len(p) >= len(rule.MatchValue) && p[:len(rule.MatchValue)] == rule.MatchValue {
				return true
			}
		}
	}
	return false
}

// RecordDecision appends a decision against the gate's candidate tasks
// (candidateTaskIDs, as returned by Evaluate's links), transitions rejected
// candidates to blocked, and resolves the synthetic gate task each
// candidate was batched under: integrated on approved/approved_with_risk,
// blocked on rejected.
func (e *Engine) RecordDecision(ctx context.Context, gateRuleID, reviewer string, outcome domain.GateDecisionOutcome, notes string, candidateTaskIDs []string) (domain.GateDecision, error) {
	if reviewer == "" {
		return domain.GateDecision{}, kerrors.New(kerrors.InvariantViolation, "reviewer is required")
	}
	rule, err := e.gates.GetGateRule(ctx, gateRuleID)
	if err != nil {
		return domain.GateDecision{}, kerrors.New(kerrors.NotFound, "gate rule %s not found", gateRuleID)
	}

	var linksByTask = make(map[string][]domain.GateCandidateLink, len(candidateTaskIDs))
	var linkIDs []string
	for _, taskID := range candidateTaskIDs {
		links, err := e.gates.ListCandidatesForTask(ctx, taskID)
		if err != nil {
			return domain.GateDecision{}, kerrors.New(kerrors.Internal, "list candidates for task: %v", err)
		}
		for _, l := range links {
			if l.GateRuleID != gateRuleID {
				continue
			}
			linksByTask[taskID] = append(linksByTask[taskID], l)
			linkIDs = append(linkIDs, l.ID)
		}
	}

	d, err := e.gates.RecordDecision(ctx, domain.GateDecision{
		GateRuleID: gateRuleID,
		ProjectID:  rule.ProjectID,
		Reviewer:   reviewer,
		Outcome:    outcome,
		Notes:      notes,
	}, linkIDs)
	if err != nil {
		return domain.GateDecision{}, kerrors.New(kerrors.Internal, "record decision: %v", err)
	}

	if outcome == domain.GateRejected {
		for _, taskID := range candidateTaskIDs {
			if len(linksByTask[taskID]) == 0 {
				continue
			}
			task, err := e.graph.GetTask(ctx, taskID)
			if err != nil || task.State.Terminal() {
				continue
			}
			task.State = domain.StateBlocked
			_, _ = e.graph.UpdateTask(ctx, task)
		}
	}

	gateTaskIDs := make(map[string]bool)
	for _, links := range linksByTask {
		for _, l := range links {
			if l.GateTaskID != "" {
				gateTaskIDs[l.GateTaskID] = true
			}
		}
	}
	for gateTaskID := range gateTaskIDs {
		gateTask, err := e.graph.GetTask(ctx, gateTaskID)
		if err != nil || gateTask.State.Terminal() {
			continue
		}
		switch outcome {
		case domain.GateApproved, domain.GateApprovedWithRisk:
			gateTask.State = domain.StateIntegrated
		case domain.GateRejected:
			gateTask.State = domain.StateBlocked
		default:
			continue
		}
		_, _ = e.graph.UpdateTask(ctx, gateTask)
	}

	_, _ = e.events.Append(ctx, domain.Event{
		ProjectID: rule.ProjectID,
		Type:      domain.EventGateDecisionRecorded,
		Subject:   d.ID,
		Payload:   map[string]any{"gate_rule_id": gateRuleID, "outcome": string(outcome), "reviewer": reviewer},
	})
	return d, nil
}
