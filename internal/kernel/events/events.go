// Package events implements the append-only Event Log / Outbox:
// sequence-cursor reads for replay-based consumers.
package events

import (
	"context"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/kernel/kerrors"
	"github.com/tascade/tascade/internal/storage"
)

// DefaultPageSize and MaxPageSize bound how many events a single read
// returns (SPEC_FULL.md's supplemented event-replay endpoint).
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Reader provides sequence-cursor access to a project's event log.
type Reader struct {
	store storage.EventStore
}

// New returns an event log Reader.
func New(store storage.EventStore) *Reader {
	return &Reader{store: store}
}

// Since returns events strictly after sinceSeq, oldest first, capped by
// limit (DefaultPageSize when 0, never more than MaxPageSize).
func (r *Reader) Since(ctx context.Context, projectID string, sinceSeq int64, limit int) ([]domain.Event, error) {
	limit = clampLimit(limit)
	events, err := r.store.ListSince(ctx, projectID, sinceSeq, limit)
	if err != nil {
		return nil, kerrors.New(kerrors.Internal, "list events since %d: %v", sinceSeq, err)
	}
	return events, nil
}

// Recent returns the most recently appended events, newest first.
func (r *Reader) Recent(ctx context.Context, projectID string, limit int) ([]domain.Event, error) {
	limit = clampLimit(limit)
	events, err := r.store.ListRecent(ctx, projectID, limit)
	if err != nil {
		return nil, kerrors.New(kerrors.Internal, "list recent events: %v", err)
	}
	return events, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageSize
	}
	if limit > MaxPageSize {
		return MaxPageSize
	}
	return limit
}
