package domain

import "time"

// GateTrigger identifies what condition a gate rule watches for.
type GateTrigger string

const (
	GateOnTaskClass    GateTrigger = "task_class"
	GateOnPathPrefix   GateTrigger = "path_prefix"
	GateOnMilestoneEnd GateTrigger = "milestone_end"
)

// GateRule defines a review checkpoint: when its trigger matches a task,
// candidates accumulate against it until a human or delegated reviewer
// records a decision.
type GateRule struct {
	ID         string
	ProjectID  string
	Name       string
	Trigger    GateTrigger
	MatchValue string // task class name, path prefix, or milestone short id
	Required   bool
	Active     bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// GateDecisionOutcome is the verdict recorded against a gate candidate.
type GateDecisionOutcome string

const (
	GateApproved         GateDecisionOutcome = "approved"
	GateApprovedWithRisk GateDecisionOutcome = "approved_with_risk"
	GateRejected         GateDecisionOutcome = "rejected"
	GateChangesRequested GateDecisionOutcome = "changes_requested"
)

// GateDecision is a recorded verdict against one or more candidates linked to
// a gate rule.
type GateDecision struct {
	ID         string
	GateRuleID string
	ProjectID  string
	Reviewer   string
	Outcome    GateDecisionOutcome
	Notes      string
	CreatedAt  time.Time
}

// GateCandidateLink associates a task (and optionally a specific artifact)
// with a gate rule it triggered, pending a decision. GateTaskID points at
// the synthetic review_gate/merge_gate task created for the batch this
// candidate was linked into.
type GateCandidateLink struct {
	ID         string
	GateRuleID string
	TaskID     string
	ArtifactID string
	ProjectID  string
	GateTaskID string
	DecisionID string // empty until resolved
	CreatedAt  time.Time
}

// Resolved reports whether this candidate has a recorded decision.
func (l GateCandidateLink) Resolved() bool {
	return l.DecisionID != ""
}
