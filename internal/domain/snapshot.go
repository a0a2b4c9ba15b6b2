package domain

import "time"

// TaskExecutionSnapshot is the immutable contract handed to an agent at
// lease-acquisition time: the task's full work spec plus the graph context
// as it existed at that moment, frozen so later plan changes cannot alter an
// in-flight agent's instructions.
type TaskExecutionSnapshot struct {
	ID           string
	TaskID       string
	ProjectID    string
	LeaseID      string
	FencingToken int64
	PlanVersion  int
	WorkSpec     WorkSpec
	Dependencies []TaskExecutionSnapshotDependency
	CreatedAt    time.Time
}

// TaskExecutionSnapshotDependency is a frozen reference to a predecessor
// task's state as observed at snapshot time.
type TaskExecutionSnapshotDependency struct {
	TaskID  string
	ShortID string
	State   TaskState
}
