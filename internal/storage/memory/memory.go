// Package memory implements internal/storage's interfaces entirely in
// process memory, guarded by one RWMutex shared across every aggregate. It
// backs unit tests and the STORE_BACKEND=memory mode of the coordinator binary.
package memory

import (
	"sync"

	"github.com/google/uuid"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage"
)

var (
	_ storage.GraphStore       = (*Store)(nil)
	_ storage.LeaseStore       = (*Store)(nil)
	_ storage.ReservationStore = (*Store)(nil)
	_ storage.ArtifactStore    = (*Store)(nil)
	_ storage.GateStore        = (*Store)(nil)
	_ storage.ChangeSetStore   = (*Store)(nil)
	_ storage.SnapshotStore    = (*Store)(nil)
	_ storage.EventStore       = (*Store)(nil)
	_ storage.APIKeyStore      = (*Store)(nil)
)

// Store bundles all in-memory aggregate stores behind storage's interface
// set, all of it under the one embedded mutex below.
type Store struct {
	mu sync.RWMutex

	projects        map[string]domain.Project
	projectsByShort map[string]string // shortID -> id
	phases          map[string]domain.Phase
	milestones      map[string]domain.Milestone
	tasks           map[string]domain.Task
	tasksByShort    map[string]string // projectID+"/"+shortID -> id
	edges           map[string]domain.DependencyEdge
	changelog       []domain.TaskChangelogEntry

	leases           map[string]domain.Lease
	activeLeaseByTask map[string]string // taskID -> leaseID
	fencingCounter   map[string]int64

	reservations           map[string]domain.TaskReservation
	activeReservationByTask map[string]string

	artifacts        map[string]domain.Artifact
	artifactIdemKeys map[string]string // idempotencyKey -> artifactID
	attempts         map[string]domain.IntegrationAttempt
	attemptIdemKeys  map[string]string

	gateRules      map[string]domain.GateRule
	candidateLinks map[string]domain.GateCandidateLink
	decisions      map[string]domain.GateDecision

	planVersions map[string][]domain.PlanVersion // projectID -> versions
	changeSets   map[string]domain.PlanChangeSet

	snapshots          map[string]domain.TaskExecutionSnapshot
	snapshotByLease    map[string]string

	events   map[string][]domain.Event // projectID -> ordered events
	eventSeq map[string]int64

	apiKeys map[string]domain.ApiKey
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		projects:                make(map[string]domain.Project),
		projectsByShort:         make(map[string]string),
		phases:                  make(map[string]domain.Phase),
		milestones:              make(map[string]domain.Milestone),
		tasks:                   make(map[string]domain.Task),
		tasksByShort:            make(map[string]string),
		edges:                   make(map[string]domain.DependencyEdge),
		leases:                  make(map[string]domain.Lease),
		activeLeaseByTask:       make(map[string]string),
		fencingCounter:          make(map[string]int64),
		reservations:            make(map[string]domain.TaskReservation),
		activeReservationByTask: make(map[string]string),
		artifacts:               make(map[string]domain.Artifact),
		artifactIdemKeys:        make(map[string]string),
		attempts:                make(map[string]domain.IntegrationAttempt),
		attemptIdemKeys:         make(map[string]string),
		gateRules:               make(map[string]domain.GateRule),
		candidateLinks:          make(map[string]domain.GateCandidateLink),
		decisions:               make(map[string]domain.GateDecision),
		planVersions:            make(map[string][]domain.PlanVersion),
		changeSets:              make(map[string]domain.PlanChangeSet),
		snapshots:               make(map[string]domain.TaskExecutionSnapshot),
		snapshotByLease:         make(map[string]string),
		events:                  make(map[string][]domain.Event),
		eventSeq:                make(map[string]int64),
		apiKeys:                 make(map[string]domain.ApiKey),
	}
}

func newID() string { return uuid.NewString() }

// Stores bundles this memory store into storage.Stores, satisfying every
// aggregate interface with the same underlying instance.
func (s *Store) Stores() storage.Stores {
	return storage.Stores{
		Graph:       s,
		Lease:       s,
		Reservation: s,
		Artifact:    s,
		Gate:        s,
		ChangeSet:   s,
		Snapshot:    s,
		Event:       s,
		APIKey:      s,
	}
}
