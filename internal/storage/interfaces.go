// Package storage defines the persistence boundary for the kernel. Each
// interface groups operations for one aggregate; compound operations that
// must enforce a cross-row invariant (claim, apply, transition) are modeled
// as single atomic methods so the implementation owns its own transaction
// boundary instead of leaking it to callers.
package storage

import (
	"context"
	"time"

	"github.com/tascade/tascade/internal/domain"
)

// GraphStore persists projects, phases, milestones, tasks, and dependency
// edges, plus the short-id <-> id resolution table.
type GraphStore interface {
	CreateProject(ctx context.Context, p domain.Project) (domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	GetProjectByShortID(ctx context.Context, shortID string) (domain.Project, error)
	ListProjects(ctx context.Context) ([]domain.Project, error)
	UpdateProjectPlanVersion(ctx context.Context, projectID string, version int) error

	CreatePhase(ctx context.Context, ph domain.Phase) (domain.Phase, error)
	GetPhase(ctx context.Context, id string) (domain.Phase, error)
	ListPhases(ctx context.Context, projectID string) ([]domain.Phase, error)

	CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error)
	GetMilestone(ctx context.Context, id string) (domain.Milestone, error)
	ListMilestones(ctx context.Context, phaseID string) ([]domain.Milestone, error)

	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	GetTaskByShortID(ctx context.Context, projectID, shortID string) (domain.Task, error)
	ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)

	CreateDependencyEdge(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, bool, error)
	RemoveDependencyEdge(ctx context.Context, edgeID string, removedInPlan int) error
	ListDependencyEdges(ctx context.Context, projectID string) ([]domain.DependencyEdge, error)
	ListEdgesFrom(ctx context.Context, taskID string) ([]domain.DependencyEdge, error)
	ListEdgesTo(ctx context.Context, taskID string) ([]domain.DependencyEdge, error)

	AppendChangelog(ctx context.Context, e domain.TaskChangelogEntry) (domain.TaskChangelogEntry, error)
	ListChangelog(ctx context.Context, taskID string, limit int) ([]domain.TaskChangelogEntry, error)

	// ApplyChangeSet runs fn against a storage handle that commits all writes
	// atomically, or rolls back entirely if fn returns an error. Used by the
	// changeset engine to enforce invariant 6 (all-or-nothing apply).
	ApplyChangeSet(ctx context.Context, fn func(tx GraphTx) error) error
}

// GraphTx is the subset of GraphStore exposed inside an ApplyChangeSet
// callback; it mirrors the write paths a changeset operation needs.
type GraphTx interface {
	CreatePhase(ctx context.Context, ph domain.Phase) (domain.Phase, error)
	CreateMilestone(ctx context.Context, m domain.Milestone) (domain.Milestone, error)
	CreateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	GetTask(ctx context.Context, id string) (domain.Task, error)
	UpdateTask(ctx context.Context, t domain.Task) (domain.Task, error)
	CreateDependencyEdge(ctx context.Context, e domain.DependencyEdge) (domain.DependencyEdge, bool, error)
	RemoveDependencyEdge(ctx context.Context, edgeID string, removedInPlan int) error
	ListDependencyEdges(ctx context.Context, projectID string) ([]domain.DependencyEdge, error)
	ListTasks(ctx context.Context, projectID string, filter TaskFilter) ([]domain.Task, error)
	ReleaseLeaseForTask(ctx context.Context, taskID, reason string) error
}

// TaskFilter narrows ListTasks results. Zero values mean "no filter" for
// that field.
type TaskFilter struct {
	PhaseID     string
	MilestoneID string
	States      []domain.TaskState
	TaskClass   domain.TaskClass
}

// LeaseStore persists leases and their fencing token sequence.
type LeaseStore interface {
	// AcquireLease atomically verifies no active lease/reservation conflicts
	// and creates one, minting the next fencing token for taskID.
	AcquireLease(ctx context.Context, l domain.Lease) (domain.Lease, error)
	GetLease(ctx context.Context, id string) (domain.Lease, error)
	GetActiveLeaseForTask(ctx context.Context, taskID string) (domain.Lease, bool, error)
	Heartbeat(ctx context.Context, leaseID string, fencingToken int64, newExpiry time.Time) (domain.Lease, error)
	ReleaseLease(ctx context.Context, leaseID string, reason string) (domain.Lease, error)
	ListExpiredActive(ctx context.Context, asOf time.Time) ([]domain.Lease, error)
	ExpireLease(ctx context.Context, leaseID string) error
}

// ReservationStore persists short-lived task reservations.
type ReservationStore interface {
	CreateReservation(ctx context.Context, r domain.TaskReservation) (domain.TaskReservation, error)
	GetActiveReservationForTask(ctx context.Context, taskID string) (domain.TaskReservation, bool, error)
	ConvertReservation(ctx context.Context, reservationID string) (domain.TaskReservation, error)
	ReleaseReservation(ctx context.Context, reservationID string) (domain.TaskReservation, error)
	ListExpired(ctx context.Context, asOf time.Time) ([]domain.TaskReservation, error)
	ExpireReservation(ctx context.Context, reservationID string) error
}

// ArtifactStore persists artifact submissions and integration attempts.
type ArtifactStore interface {
	SubmitArtifact(ctx context.Context, a domain.Artifact) (domain.Artifact, bool, error)
	GetArtifact(ctx context.Context, id string) (domain.Artifact, error)
	ListArtifactsForTask(ctx context.Context, taskID string) ([]domain.Artifact, error)

	EnqueueIntegrationAttempt(ctx context.Context, a domain.IntegrationAttempt) (domain.IntegrationAttempt, bool, error)
	NextPendingIntegration(ctx context.Context) (domain.IntegrationAttempt, bool, error)
	ResolveIntegrationAttempt(ctx context.Context, id string, status domain.IntegrationStatus, diagnostics map[string]any) (domain.IntegrationAttempt, error)
	ListIntegrationAttempts(ctx context.Context, taskID string) ([]domain.IntegrationAttempt, error)
}

// GateStore persists gate rules, candidate links, and decisions.
type GateStore interface {
	CreateGateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error)
	GetGateRule(ctx context.Context, id string) (domain.GateRule, error)
	ListGateRules(ctx context.Context, projectID string, activeOnly bool) ([]domain.GateRule, error)
	UpdateGateRule(ctx context.Context, r domain.GateRule) (domain.GateRule, error)

	LinkCandidate(ctx context.Context, l domain.GateCandidateLink) (domain.GateCandidateLink, error)
	ListUnresolvedCandidates(ctx context.Context, gateRuleID string) ([]domain.GateCandidateLink, error)
	ListCandidatesForTask(ctx context.Context, taskID string) ([]domain.GateCandidateLink, error)

	RecordDecision(ctx context.Context, d domain.GateDecision, candidateIDs []string) (domain.GateDecision, error)
	HasApprovedDecision(ctx context.Context, taskID string, gateRuleID string) (bool, error)
}

// ChangeSetStore persists plan versions and changesets.
type ChangeSetStore interface {
	CreatePlanVersion(ctx context.Context, v domain.PlanVersion) (domain.PlanVersion, error)
	GetCurrentPlanVersion(ctx context.Context, projectID string) (int, error)

	ProposeChangeSet(ctx context.Context, cs domain.PlanChangeSet) (domain.PlanChangeSet, error)
	GetChangeSet(ctx context.Context, id string) (domain.PlanChangeSet, error)
	MarkChangeSetApplied(ctx context.Context, id string, resultVersion int) (domain.PlanChangeSet, error)
	MarkChangeSetRejected(ctx context.Context, id string, reason string) (domain.PlanChangeSet, error)
	ListChangeSets(ctx context.Context, projectID string) ([]domain.PlanChangeSet, error)
}

// SnapshotStore persists immutable execution snapshots.
type SnapshotStore interface {
	CreateSnapshot(ctx context.Context, s domain.TaskExecutionSnapshot) (domain.TaskExecutionSnapshot, error)
	GetSnapshotForLease(ctx context.Context, leaseID string) (domain.TaskExecutionSnapshot, bool, error)
	ListSnapshotsForTask(ctx context.Context, taskID string) ([]domain.TaskExecutionSnapshot, error)
}

// EventStore persists the append-only, per-project sequenced event log.
type EventStore interface {
	Append(ctx context.Context, e domain.Event) (domain.Event, error)
	ListSince(ctx context.Context, projectID string, sinceSeq int64, limit int) ([]domain.Event, error)
	ListRecent(ctx context.Context, projectID string, limit int) ([]domain.Event, error)
}

// APIKeyStore persists bearer credentials.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, k domain.ApiKey) (domain.ApiKey, error)
	GetAPIKeyByHash(ctx context.Context, hashedKey string) (domain.ApiKey, bool, error)
	RevokeAPIKey(ctx context.Context, id string) error
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
	ListAPIKeys(ctx context.Context) ([]domain.ApiKey, error)
}

// Stores bundles every storage interface the application needs. A single
// concrete value (memory.Store or postgres.Store) implements all of them.
type Stores struct {
	Graph       GraphStore
	Lease       LeaseStore
	Reservation ReservationStore
	Artifact    ArtifactStore
	Gate        GateStore
	ChangeSet   ChangeSetStore
	Snapshot    SnapshotStore
	Event       EventStore
	APIKey      APIKeyStore
}
