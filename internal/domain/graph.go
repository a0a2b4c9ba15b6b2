// Package domain holds the entity types of the orchestration kernel: plain
// structs with light validation helpers, no persistence or business logic.
package domain

import "time"

// ProjectStatus is the lifecycle state of a Project.
type ProjectStatus string

const (
	ProjectActive   ProjectStatus = "active"
	ProjectArchived ProjectStatus = "archived"
)

// Project is the root container for phases, milestones, and tasks.
type Project struct {
	ID                 string
	ShortID            string
	Name               string
	Status             ProjectStatus
	CurrentPlanVersion int
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Phase is a top-level grouping under a project, ordered by Sequence.
type Phase struct {
	ID        string
	ShortID   string // "P<n>"
	ProjectID string
	Name      string
	Sequence  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Milestone groups tasks under a phase, ordered by Sequence.
type Milestone struct {
	ID        string
	ShortID   string // "P<n>.M<m>"
	PhaseID   string
	ProjectID string
	Name      string
	Sequence  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TaskClass categorizes a task for routing, gating, and capability matching.
type TaskClass string

const (
	ClassArchitecture TaskClass = "architecture"
	ClassDBSchema     TaskClass = "db_schema"
	ClassSecurity     TaskClass = "security"
	ClassCrossCutting TaskClass = "cross_cutting"
	ClassReviewGate   TaskClass = "review_gate"
	ClassMergeGate    TaskClass = "merge_gate"
	ClassFrontend     TaskClass = "frontend"
	ClassBackend      TaskClass = "backend"
	ClassCRUD         TaskClass = "crud"
	ClassOther        TaskClass = "other"
)

// ValidTaskClass reports whether c is one of the recognized task classes.
func ValidTaskClass(c TaskClass) bool {
	switch c {
	case ClassArchitecture, ClassDBSchema, ClassSecurity, ClassCrossCutting,
		ClassReviewGate, ClassMergeGate, ClassFrontend, ClassBackend, ClassCRUD, ClassOther:
		return true
	}
	return false
}

// TaskState is a node in the task lifecycle state machine (see
// internal/kernel/statemachine for the transition table).
type TaskState string

const (
	StateBacklog     TaskState = "backlog"
	StateReady       TaskState = "ready"
	StateReserved    TaskState = "reserved"
	StateClaimed     TaskState = "claimed"
	StateInProgress  TaskState = "in_progress"
	StateImplemented TaskState = "implemented"
	StateIntegrated  TaskState = "integrated"
	StateBlocked     TaskState = "blocked"
	StateConflict    TaskState = "conflict"
	StateAbandoned   TaskState = "abandoned"
	StateCancelled   TaskState = "cancelled"
)

// Terminal reports whether a task in this state can never transition again.
func (s TaskState) Terminal() bool {
	switch s {
	case StateIntegrated, StateCancelled:
		return true
	}
	return false
}

// WorkSpec is the structured contract an agent executes against. Extra holds
// fields the kernel does not interpret, validated only for well-formedness at
// ingress and preserved verbatim thereafter.
type WorkSpec struct {
	Objective          string         `json:"objective"`
	Constraints        []string       `json:"constraints,omitempty"`
	AcceptanceCriteria []string       `json:"acceptance_criteria"`
	Interfaces         []string       `json:"interfaces,omitempty"`
	PathHints          []string       `json:"path_hints,omitempty"`
	Extra              map[string]any `json:"extra,omitempty"`
}

// Valid reports whether the work spec carries the minimum required fields.
func (w WorkSpec) Valid() bool {
	return w.Objective != "" && len(w.AcceptanceCriteria) > 0
}

// Task is the unit of work scheduled, leased, and advanced through the state
// machine.
type Task struct {
	ID                  string
	ShortID             string // "P<n>.M<m>.T<t>"
	ProjectID           string
	PhaseID             string
	MilestoneID         string
	Title               string
	Description         string
	State               TaskState
	Priority            int
	TaskClass           TaskClass
	CapabilityTags      map[string]struct{}
	ExpectedTouches     []string
	ExclusivePaths      []string
	SharedPaths         []string
	WorkSpec            WorkSpec
	IntroducedInPlan    int
	DeprecatedInPlan    int // 0 means not deprecated
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// UnlockCriterion is the condition under which a dependency edge's target
// becomes eligible.
type UnlockCriterion string

const (
	UnlockOnImplemented UnlockCriterion = "implemented"
	UnlockOnIntegrated  UnlockCriterion = "integrated"
)

// Satisfied reports whether a predecessor in the given state satisfies this
// unlock criterion.
func (u UnlockCriterion) Satisfied(predecessorState TaskState) bool {
	switch u {
	case UnlockOnImplemented:
		return predecessorState == StateImplemented || predecessorState == StateIntegrated
	case UnlockOnIntegrated:
		return predecessorState == StateIntegrated
	}
	return false
}

// DependencyEdge is a directed edge between two tasks in a project's
// dependency graph.
type DependencyEdge struct {
	ID            string
	ProjectID     string
	FromTaskID    string // predecessor
	ToTaskID      string // successor, unlocked per UnlockOn
	UnlockOn      UnlockCriterion
	PlanVersion   int // the plan version this edge became active in
	RemovedInPlan int // 0 means still active
	CreatedAt     time.Time
}

// TaskChangelogEntry is an append-only note attached to a task.
type TaskChangelogEntry struct {
	ID          string
	TaskID      string
	AuthorType  string // "agent" | "human" | "system"
	Author      string
	EntryType   string // "note" | "status" | "handoff"
	Body        string
	ArtifactRef string
	CreatedAt   time.Time
}
