// Package postgres implements the kernel's storage interfaces against
// PostgreSQL, grounded on the transactional shape of
// internal/app/jam/store_pg.go: BeginTx, a deferred Rollback, explicit
// Commit on the success path, and FOR UPDATE SKIP LOCKED for queue dequeue.
package postgres

import (
	"database/sql"

	"github.com/tascade/tascade/internal/storage"
)

// Store implements every storage.*Store interface against a single
// PostgreSQL database handle.
type Store struct {
	db *sql.DB
}

// New returns a Postgres-backed Store. Callers own db's lifecycle.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Stores bundles s into the application-wide storage.Stores value.
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
