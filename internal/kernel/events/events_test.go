package events

import (
	"context"
	"testing"

	"github.com/tascade/tascade/internal/domain"
	"github.com/tascade/tascade/internal/storage/memory"
)

func appendN(t *testing.T, reader *Reader, store *memory.Store, projectID string, n int) {
	t.Helper()
	stores := store.Stores()
	for i := 0; i < n; i++ {
		if _, err := stores.Event.Append(context.Background(), domain.Event{ProjectID: projectID, Type: domain.EventTaskStateChanged}); err != nil {
			t.Fatalf("append event %d: %v", i, err)
		}
	}
}

func TestSinceReturnsOnlyEventsAfterCursorOldestFirst(t *testing.T) {
	store := memory.New()
	reader := New(store.Stores().Event)
	appendN(t, reader, store, "proj-1", 5)

	got, err := reader.Since(context.Background(), "proj-1", 2, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 events after sequence 2, got %d", len(got))
	}
	if got[0].Sequence != 3 || got[len(got)-1].Sequence != 5 {
		t.Fatalf("expected oldest-first sequences 3..5, got %+v", got)
	}
}

func TestSinceClampsLimitToDefaultAndMax(t *testing.T) {
	store := memory.New()
	reader := New(store.Stores().Event)
	appendN(t, reader, store, "proj-1", DefaultPageSize+10)

	got, err := reader.Since(context.Background(), "proj-1", 0, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != DefaultPageSize {
		t.Fatalf("expected default page size %d, got %d", DefaultPageSize, len(got))
	}

	got, err = reader.Since(context.Background(), "proj-1", 0, MaxPageSize+50)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != MaxPageSize {
		t.Fatalf("expected capped page size %d, got %d", MaxPageSize, len(got))
	}
}

func TestRecentReturnsNewestFirst(t *testing.T) {
	store := memory.New()
	reader := New(store.Stores().Event)
	appendN(t, reader, store, "proj-1", 3)

	got, err := reader.Recent(context.Background(), "proj-1", 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events, got %d", len(got))
	}
	if got[0].Sequence != 3 || got[1].Sequence != 2 {
		t.Fatalf("expected newest-first sequences 3, 2, got %+v", got)
	}
}

func TestEventsScopedPerProject(t *testing.T) {
	store := memory.New()
	reader := New(store.Stores().Event)
	appendN(t, reader, store, "proj-1", 2)
	appendN(t, reader, store, "proj-2", 1)

	got, err := reader.Since(context.Background(), "proj-1", 0, 0)
	if err != nil {
		t.Fatalf("since: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected only proj-1's 2 events, got %d", len(got))
	}
}
