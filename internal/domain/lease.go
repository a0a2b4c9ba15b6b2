package domain

import "time"

// LeaseStatus is the lifecycle state of a Lease.
type LeaseStatus string

const (
	LeaseActive     LeaseStatus = "active"
	LeaseReleased   LeaseStatus = "released"
	LeaseExpired    LeaseStatus = "expired"
	LeaseSuperseded LeaseStatus = "superseded"
)

// Lease grants an agent exclusive execution rights over a task. FencingToken
// is a strictly increasing integer minted per task; storage writes made under
// a lease must be rejected once a later token has been issued.
type Lease struct {
	ID              string
	TaskID          string
	ProjectID       string
	AgentID         string
	FencingToken    int64
	Status          LeaseStatus
	HeartbeatAt     time.Time
	ExpiresAt       time.Time
	CreatedAt       time.Time
	ReleasedAt      time.Time
	ReleaseReason   string
}

// Expired reports whether the lease's heartbeat grace period has elapsed as
// of asOf.
func (l Lease) Expired(asOf time.Time) bool {
	return l.Status == LeaseActive && asOf.After(l.ExpiresAt)
}

// PlanAdvisory is returned on a heartbeat whose seen_plan_version trails the
// project's current plan version. It never forces an abort; the agent
// decides how to act on it.
type PlanAdvisory string

const (
	// PlanAdvisoryContinueWithNotice means the agent is one plan bump
	// behind; it may keep working and just take note.
	PlanAdvisoryContinueWithNotice PlanAdvisory = "continue_with_notice"
	// PlanAdvisoryRefresh means the agent should re-read its task context
	// before continuing.
	PlanAdvisoryRefresh PlanAdvisory = "refresh"
	// PlanAdvisoryHumanReview means the drift is large enough that a human
	// should look at the task before the agent proceeds further.
	PlanAdvisoryHumanReview PlanAdvisory = "human_review"
)

// ReservationStatus is the lifecycle state of a TaskReservation.
type ReservationStatus string

const (
	ReservationHeld      ReservationStatus = "held"
	ReservationConverted ReservationStatus = "converted" // became a lease
	ReservationExpired   ReservationStatus = "expired"
	ReservationReleased  ReservationStatus = "released"
)

// TaskReservation is a short-lived hold on a task between ready-queue
// selection and lease acquisition, preventing two agents from racing to
// claim the same task.
type TaskReservation struct {
	ID        string
	TaskID    string
	ProjectID string
	AgentID   string
	Status    ReservationStatus
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the reservation's TTL has elapsed as of asOf.
func (r TaskReservation) Expired(asOf time.Time) bool {
	return r.Status == ReservationHeld && asOf.After(r.ExpiresAt)
}
