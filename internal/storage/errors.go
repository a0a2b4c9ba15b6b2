package storage

import "errors"

// ErrNotFound is returned by Get* methods when no row matches. Callers
// translate it into a kerrors.NotFound at the kernel boundary.
var ErrNotFound = errors.New("storage: not found")

// ErrAmbiguous is returned when a task already holds the single active
// record of a kind (an active lease or a held reservation), and by lease
// heartbeats whose fencing token or lease status does not match.
var ErrAmbiguous = errors.New("storage: ambiguous reference")
