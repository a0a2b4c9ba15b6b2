// Package changeset implements the Plan Changeset Engine: validating and
// atomically applying batches of graph mutations, computing
// materiality, and invalidating in-flight work affected by a material
// change.
package changeset

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/graph"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// Engine implements propose/preview/apply for plan changesets.
type Engine struct {
	graphStore storage.GraphStore
	changeSets storage.ChangeSetStore
	resv       storage.ReservationStore
	events     storage.EventStore
}

// New returns a changeset Engine.
func New(graphStore storage.GraphStore, changeSets storage.ChangeSetStore, resv storage.ReservationStore, events storage.EventStore) *Engine {
	return &Engine{graphStore: graphStore, changeSets: changeSets, resv: resv, events: events}
}

// ImpactPreview summarizes what applying a changeset would do, without
// mutating anything. Validation is pure and idempotent.
type ImpactPreview struct {
	NewlyReady      []string // task ids
	NewlyBlocked    []string
	MaterialTasks   []string
	NonMaterialTasks []string
	WouldCycle      bool
}

// Propose validates operations structurally (rejecting anything that would
// introduce a cycle) and records the changeset in "proposed" status.
func (e *Engine) Propose(ctx context.Context, projectID string, baseVersion int, ops []domain.Operation, proposedBy string) (domain.PlanChangeSet, ImpactPreview, error) {
	preview, err := e.Preview(ctx, projectID, ops)
	if err != nil {
		return domain.PlanChangeSet{}, ImpactPreview{}, err
	}
	if preview.WouldCycle {
		return domain.PlanChangeSet{}, preview, kerrors.New(kerrors.DependencyCycle, "changeset would introduce a dependency cycle")
	}
	materiality := domain.MaterialityNone
	if len(preview.MaterialTasks) > 0 {
		materiality = classifyOverall(ops)
	}
	cs, err := e.changeSets.ProposeChangeSet(ctx, domain.PlanChangeSet{
		ProjectID:   projectID,
		BaseVersion: baseVersion,
		Operations:  ops,
		Materiality: materiality,
		ProposedBy:  proposedBy,
	})
	if err != nil {
		return domain.PlanChangeSet{}, preview, kerrors.New(kerrors.Internal, "propose changeset: %v", err)
	}
	return cs, preview, nil
}

// Preview computes the impact of ops against the current graph state without
// persisting anything.
func (e *Engine) Preview(ctx context.Context, projectID string, ops []domain.Operation) (ImpactPreview, error) {
	edges, err := e.graphStore.ListDependencyEdges(ctx, projectID)
	if err != nil {
		return ImpactPreview{}, kerrors.New(kerrors.Internal, "list edges: %v", err)
	}
	preview := ImpactPreview{}
	for _, op := range ops {
		if op.Kind != domain.OpAddDependency {
			continue
		}
		from, _ := op.Payload["from_task_id"].(string)
		to, _ := op.Payload["to_task_id"].(string)
		if graph.WouldCreateCycle(edges, from, to) {
			preview.WouldCycle = true
		}
		edges = append(edges, domain.DependencyEdge{FromTaskID: from, ToTaskID: to})
	}
	for _, op := range ops {
		switch op.Kind {
		case domain.OpModifyTask:
			taskID, _ := op.Payload["task_id"].(string)
			if isMaterialModify(op.Payload) {
				preview.MaterialTasks = append(preview.MaterialTasks, taskID)
			} else {
				preview.NonMaterialTasks = append(preview.NonMaterialTasks, taskID)
			}
		case domain.OpAddDependency, domain.OpRemoveDependency:
			if taskID, ok := op.Payload["to_task_id"].(string); ok {
				preview.MaterialTasks = append(preview.MaterialTasks, taskID)
			}
		}
	}
	return preview, nil
}

// isMaterialModify reports whether a modify_task payload touches any field
// classified as material: work_spec, acceptance criteria,
// dependency set, capability tags, task_class, exclusive/shared paths.
// priority and cosmetic description changes are non-material.
func isMaterialModify(payload map[string]any) bool {
	materialFields := []string{"work_spec", "acceptance_criteria", "capability_tags", "task_class", "exclusive_paths", "shared_paths"}
	for _, f := range materialFields {
		if _, ok := payload[f]; ok {
			return true
		}
	}
	return false
}

func classifyOverall(ops []domain.Operation) domain.Materiality {
	for _, op := range ops {
		if op.Kind == domain.OpModifyTask && isMaterialModify(op.Payload) {
			return domain.MaterialityMajor
		}
		if op.Kind == domain.OpAddDependency || op.Kind == domain.OpRemoveDependency || op.Kind == domain.OpRemoveTask {
			return domain.MaterialityMajor
		}
	}
	return domain.MaterialityMinor
}

// Apply executes a proposed changeset's operations in a single atomic
// transaction: re-checks base_plan_version, executes
// operations in order, classifies materiality per touched task, invalidates
// reserved/claimed tasks affected by a material change, leaves in_progress
// tasks untouched, and bumps the project's plan version.
func (e *Engine) Apply(ctx context.Context, changeSetID string) (domain.PlanChangeSet, error) {
	cs, err := e.changeSets.GetChangeSet(ctx, changeSetID)
	if err != nil {
		return domain.PlanChangeSet{}, kerrors.New(kerrors.NotFound, "changeset %s not found", changeSetID)
	}
	current, err := e.changeSets.GetCurrentPlanVersion(ctx, cs.ProjectID)
	if err != nil {
		return domain.PlanChangeSet{}, kerrors.New(kerrors.Internal, "get current plan version: %v", err)
	}
	if cs.BaseVersion != current {
		return domain.PlanChangeSet{}, kerrors.New(kerrors.PlanStale, "changeset base_version %d does not match current %d", cs.BaseVersion, current)
	}

	newVersion := current + 1

	var invalidated []string
	applyErr := e.graphStore.ApplyChangeSet(ctx, func(tx storage.GraphTx) error {
		for _, op := range cs.Operations {
			if err := applyOperation(ctx, tx, cs.ProjectID, op, newVersion); err != nil {
				return err
			}
		}
		touched, err := materialTaskIDs(cs.Operations)
		if err != nil {
			return err
		}
		for _, taskID := range touched {
			task, err := tx.GetTask(ctx, taskID)
			if err != nil {
				continue
			}
			switch task.State {
			case domain.StateReserved:
				task.State = domain.StateReady
				if _, err := tx.UpdateTask(ctx, task); err != nil {
					return err
				}
				invalidated = append(invalidated, taskID)
			case domain.StateClaimed:
				if err := tx.ReleaseLeaseForTask(ctx, taskID, "material_replan"); err != nil {
					return err
				}
				task.State = domain.StateReady
				if _, err := tx.UpdateTask(ctx, task); err != nil {
					return err
				}
				invalidated = append(invalidated, taskID)
			}
			// in_progress tasks are left untouched: the agent finishes under
			// its pre-captured execution snapshot.
		}
		return nil
	})
	if applyErr != nil {
		_, _ = e.changeSets.MarkChangeSetRejected(ctx, cs.ID, applyErr.Error())
		if kerr, ok := applyErr.(*kerrors.Error); ok {
			return domain.PlanChangeSet{}, kerr
		}
		return domain.PlanChangeSet{}, kerrors.New(kerrors.Internal, "apply changeset: %v", applyErr)
	}

	if _, err := e.changeSets.CreatePlanVersion(ctx, domain.PlanVersion{
		ProjectID: cs.ProjectID,
		Version:   newVersion,
		Summary:   fmt.Sprintf("changeset %s", cs.ID),
	}); err != nil {
		return domain.PlanChangeSet{}, kerrors.New(kerrors.Internal, "create plan version: %v", err)
	}
	if err := e.graphStore.UpdateProjectPlanVersion(ctx, cs.ProjectID, newVersion); err != nil {
		return domain.PlanChangeSet{}, kerrors.New(kerrors.Internal, "bump plan version: %v", err)
	}

	applied, err := e.changeSets.MarkChangeSetApplied(ctx, cs.ID, newVersion)
	if err != nil {
		return domain.PlanChangeSet{}, kerrors.New(kerrors.Internal, "mark applied: %v", err)
	}

	_, _ = e.events.Append(ctx, domain.Event{
		ProjectID: cs.ProjectID,
		Type:      domain.EventChangeSetApplied,
		Subject:   cs.ID,
		Payload:   map[string]any{"result_version": newVersion, "invalidated_tasks": invalidated},
	})
	return applied, nil
}

func materialTaskIDs(ops []domain.Operation) ([]string, error) {
	var out []string
	for _, op := range ops {
		if op.Kind == domain.OpModifyTask && isMaterialModify(op.Payload) {
			if id, ok := op.Payload["task_id"].(string); ok {
				out = append(out, id)
			}
		}
	}
	return out, nil
}

func applyOperation(ctx context.Context, tx storage.GraphTx, projectID string, op domain.Operation, planVersion int) error {
	switch op.Kind {
	case domain.OpAddTask:
		t, err := taskFromPayload(projectID, op.Payload)
		if err != nil {
			return err
		}
		t.IntroducedInPlan = planVersion
		_, err = tx.CreateTask(ctx, t)
		return err
	case domain.OpRemoveTask:
		taskID, _ := op.Payload["task_id"].(string)
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return kerrors.New(kerrors.NotFound, "task %s not found", taskID)
		}
		task.DeprecatedInPlan = planVersion
		task.State = domain.StateCancelled
		_, err = tx.UpdateTask(ctx, task)
		return err
	case domain.OpAddPhase:
		name, _ := op.Payload["name"].(string)
		if name == "" {
			return kerrors.New(kerrors.InvalidWorkSpec, "add_phase requires name")
		}
		seq, _ := op.Payload["sequence"].(float64)
		_, err := tx.CreatePhase(ctx, domain.Phase{ProjectID: projectID, Name: name, Sequence: int(seq)})
		return err
	case domain.OpAddMilestone:
		name, _ := op.Payload["name"].(string)
		if name == "" {
			return kerrors.New(kerrors.InvalidWorkSpec, "add_milestone requires name")
		}
		phaseID, _ := op.Payload["phase_id"].(string)
		seq, _ := op.Payload["sequence"].(float64)
		_, err := tx.CreateMilestone(ctx, domain.Milestone{ProjectID: projectID, PhaseID: phaseID, Name: name, Sequence: int(seq)})
		return err
	case domain.OpModifyTask:
		taskID, _ := op.Payload["task_id"].(string)
		task, err := tx.GetTask(ctx, taskID)
		if err != nil {
			return kerrors.New(kerrors.NotFound, "task %s not found", taskID)
		}
		if err := applyModifications(&task, op.Payload); err != nil {
			return err
		}
		_, err = tx.UpdateTask(ctx, task)
		return err
	case domain.OpAddDependency:
		from, _ := op.Payload["from_task_id"].(string)
		to, _ := op.Payload["to_task_id"].(string)
		unlock, _ := op.Payload["unlock_on"].(string)
		if unlock == "" {
			unlock = string(domain.UnlockOnImplemented)
		}
		edges, err := tx.ListDependencyEdges(ctx, projectID)
		if err != nil {
			return err
		}
		if graph.WouldCreateCycle(edges, from, to) {
			return kerrors.New(kerrors.DependencyCycle, "edge %s -> %s would close a cycle", from, to)
		}
		_, _, err = tx.CreateDependencyEdge(ctx, domain.DependencyEdge{
			ProjectID:  projectID,
			FromTaskID: from,
			ToTaskID:   to,
			UnlockOn:   domain.UnlockCriterion(unlock),
		})
		return err
	case domain.OpRemoveDependency:
		edgeID, _ := op.Payload["edge_id"].(string)
		return tx.RemoveDependencyEdge(ctx, edgeID, 1)
	default:
		return kerrors.New(kerrors.InvalidWorkSpec, "unsupported operation kind %q", op.Kind)
	}
}

func taskFromPayload(projectID string, payload map[string]any) (domain.Task, error) {
	title, _ := payload["title"].(string)
	if title == "" {
		return domain.Task{}, kerrors.New(kerrors.InvalidWorkSpec, "add_task requires title")
	}
	milestoneID, _ := payload["milestone_id"].(string)
	return domain.Task{
		ProjectID:   projectID,
		MilestoneID: milestoneID,
		Title:       title,
		State:       domain.StateBacklog,
		TaskClass:   domain.ClassOther,
	}, nil
}

func applyModifications(task *domain.Task, payload map[string]any) error {
	if v, ok := payload["priority"].(float64); ok {
		task.Priority = int(v)
	}
	if v, ok := payload["description"].(string); ok {
		task.Description = v
	}
	if v, ok := payload["title"].(string); ok && v != "" {
		task.Title = v
	}
	if v, ok := payload["task_class"].(string); ok && v != "" {
		task.TaskClass = domain.TaskClass(v)
	}
	if v, ok := payload["exclusive_paths"]; ok {
		task.ExclusivePaths = toStringSlice(v)
	}
	if v, ok := payload["shared_paths"]; ok {
		task.SharedPaths = toStringSlice(v)
	}
	if v, ok := payload["capability_tags"]; ok {
		tags := toStringSlice(v)
		set := make(map[string]struct{}, len(tags))
		for _, t := range tags {
			t = strings.TrimSpace(t)
			if t != "" {
				set[t] = struct{}{}
			}
		}
		task.CapabilityTags = set
	}
	if v, ok := payload["acceptance_criteria"]; ok {
		task.WorkSpec.AcceptanceCriteria = toStringSlice(v)
	}
	if v, ok := payload["work_spec"]; ok {
		ws, err := workSpecFromPayload(v)
		if err != nil {
			return kerrors.New(kerrors.InvalidWorkSpec, "modify_task work_spec: %v", err)
		}
		task.WorkSpec = ws
	}
	return nil
}

func workSpecFromPayload(v any) (domain.WorkSpec, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return domain.WorkSpec{}, err
	}
	var ws domain.WorkSpec
	if err := json.Unmarshal(b, &ws); err != nil {
		return domain.WorkSpec{}, err
	}
	return ws, nil
}

func toStringSlice(v any) []string {
	arr, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(arr))
	for _, item := range arr {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
