// Package integration implements the Artifact + Integration Queue:
// append-only artifact submission and ordered integration attempt
// processing.
package integration

import (
	"context"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// Engine implements artifact submission and integration attempt lifecycle.
type Engine struct {
	graph     storage.GraphStore
	artifacts storage.ArtifactStore
	events    storage.EventStore
}

// New returns an integration Engine.
func New(graph storage.GraphStore, artifacts storage.ArtifactStore, events storage.EventStore) *Engine {
	return &Engine{graph: graph, artifacts: artifacts, events: events}
}

// SubmitArtifact appends an artifact for taskID. Idempotent by
// IdempotencyKey: a duplicate key returns the original artifact.
func (e *Engine) SubmitArtifact(ctx context.Context, a domain.Artifact) (domain.Artifact, error) {
	task, err := e.graph.GetTask(ctx, a.TaskID)
	if err != nil {
		return domain.Artifact{}, kerrors.New(kerrors.NotFound, "task %s not found", a.TaskID)
	}
	created, isNew, err := e.artifacts.SubmitArtifact(ctx, a)
	if err != nil {
		return domain.Artifact{}, kerrors.New(kerrors.Internal, "submit artifact: %v", err)
	}
	if isNew {
		_, _ = e.events.Append(ctx, domain.Event{
			ProjectID: task.ProjectID,
			Type:      domain.EventArtifactSubmitted,
			Subject:   task.ID,
			Payload:   map[string]any{"artifact_id": created.ID, "kind": string(created.Kind)},
		})
	}
	return created, nil
}

// EnqueueAttempt enqueues an integration attempt for a task currently in
// implemented. Idempotent by IdempotencyKey.
func (e *Engine) EnqueueAttempt(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, error) {
	task, err := e.graph.GetTask(ctx, a.TaskID)
	if err != nil {
		return domain.IntegrationAttempt{}, kerrors.New(kerrors.NotFound, "task %s not found", a.TaskID)
	}
	if task.State != domain.StateImplemented {
		return domain.IntegrationAttempt{}, kerrors.New(kerrors.InvariantViolation, "task %s must be implemented to enqueue an integration attempt", task.ShortID)
	}
	prior, err := e.artifacts.ListIntegrationAttempts(ctx, task.ID)
	if err != nil {
		return domain.IntegrationAttempt{}, kerrors.New(kerrors.Internal, "list attempts: %v", err)
	}
	a.Attempt = len(prior) + 1
	created, _, err := e.artifacts.EnqueueIntegrationAttempt(ctx, a)
	if err != nil {
		return domain.IntegrationAttempt{}, kerrors.New(kerrors.Internal, "enqueue attempt: %v", err)
	}
	return created, nil
}

// NextPending dequeues the oldest pending attempt across all tasks,
// transitioning it to running. Used by a processing worker; returns ok=false
// when the queue is empty.
func (e *Engine) NextPending(ctx context.Context) (domain.IntegrationAttempt, bool, error) {
	a, ok, err := e.artifacts.NextPendingIntegration(ctx)
	if err != nil {
		return domain.IntegrationAttempt{}, false, kerrors.New(kerrors.Internal, "dequeue attempt: %v", err)
	}
	return a, ok, nil
}

// Resolve records a terminal result for an integration attempt, transitioning
// the attempt's task to conflict or blocked on a failing outcome.
func (e *Engine) Resolve(ctx context.Context, attemptID string, status domain.IntegrationStatus, diagnostics map[string]any) (domain.IntegrationAttempt, error) {
	a, err := e.artifacts.ResolveIntegrationAttempt(ctx, attemptID, status, diagnostics)
	if err != nil {
		return domain.IntegrationAttempt{}, kerrors.New(kerrors.NotFound, "integration attempt %s not found", attemptID)
	}
	task, err := e.graph.GetTask(ctx, a.TaskID)
	if err != nil {
		return a, nil
	}
	switch status {
	case domain.IntegrationConflict:
		task.State = domain.StateConflict
		_, _ = e.graph.UpdateTask(ctx, task)
	case domain.IntegrationFailed:
		task.State = domain.StateBlocked
		_, _ = e.graph.UpdateTask(ctx, task)
	}
	_, _ = e.events.Append(ctx, domain.Event{
		ProjectID: task.ProjectID,
		Type:      domain.EventIntegrationResolved,
		Subject:   task.ID,
		Payload:   map[string]any{"attempt_id": a.ID, "status": string(status)},
	})
	return a, nil
}
