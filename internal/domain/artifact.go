package domain

import "time"

// ArtifactKind classifies what an artifact represents.
type ArtifactKind string

const (
	ArtifactDiff       ArtifactKind = "diff"
	ArtifactPatchset   ArtifactKind = "patchset"
	ArtifactReport     ArtifactKind = "report"
	ArtifactTestResult ArtifactKind = "test_result"
)

// Artifact is a submission produced by an agent against a task, queued for
// integration.
type Artifact struct {
	ID             string
	TaskID         string
	ProjectID      string
	LeaseID        string
	FencingToken   int64
	AgentID        string
	Kind           ArtifactKind
	ContentRef     string // opaque storage pointer: blob URI, patch hash, etc.
	TouchedPaths   []string
	IdempotencyKey string
	CreatedAt      time.Time
}

// IntegrationStatus is the lifecycle state of an IntegrationAttempt.
type IntegrationStatus string

const (
	IntegrationPending   IntegrationStatus = "pending"
	IntegrationRunning   IntegrationStatus = "running"
	IntegrationSucceeded IntegrationStatus = "succeeded"
	IntegrationFailed    IntegrationStatus = "failed"
	IntegrationConflict  IntegrationStatus = "conflict"
)

// IntegrationAttempt is one try at merging an artifact into the integration
// branch/target.
type IntegrationAttempt struct {
	ID             string
	ArtifactID     string
	TaskID         string
	ProjectID      string
	Status         IntegrationStatus
	Attempt        int
	Diagnostics    map[string]any
	IdempotencyKey string
	StartedAt      time.Time
	FinishedAt     time.Time
	CreatedAt      time.Time
}

// Terminal reports whether the attempt has reached a final outcome.
func (a IntegrationAttempt) Terminal() bool {
	switch a.Status {
	case IntegrationSucceeded, IntegrationFailed, IntegrationConflict:
		return true
	}
	return false
}
