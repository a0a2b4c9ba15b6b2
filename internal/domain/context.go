package domain

import "time"

// TaskContextProjection is the read-optimized bundle returned to an agent
// asking "what do I need to know to work on this task": the task itself,
// its immediate neighborhood in the graph, and recent changelog activity.
type TaskContextProjection struct {
	Task                Task
	Predecessors        []TaskContextNeighbor
	Successors          []TaskContextNeighbor
	SiblingsInMilestone []TaskContextNeighbor
	RecentChangelog     []TaskChangelogEntry
	GeneratedAt         time.Time
}

// TaskContextNeighbor is a trimmed view of a related task, enough to reason
// about ordering and status without pulling the full record.
type TaskContextNeighbor struct {
	TaskID   string
	ShortID  string
	Title    string
	State    TaskState
	UnlockOn UnlockCriterion
}
