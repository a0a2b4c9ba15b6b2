package app

import (
	"context"
	"testing"
	"time"

	"github.com/tascade/tascade/internal/config"
)

func TestNewWithMemoryBackend(t *testing.T) {
	cfg := &config.Config{
		StoreBackend:     "memory",
		CacheLocalSize:   16,
		SweepInterval:    30 * time.Second,
		GateEvalInterval: time.Minute,
		LeaseTTL:         30 * time.Minute,
		ReservationTTL:   30 * time.Minute,
	}

	application, err := New(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("new application: %v", err)
	}
	defer application.Close()

	if application.Graph == nil || application.Scheduler == nil || application.Lease == nil {
		t.Fatalf("expected engines to be wired")
	}
	if application.Auth == nil {
		t.Fatalf("expected auth manager to be wired")
	}
	if application.Sweep == nil {
		t.Fatalf("expected sweep ticker to be wired")
	}
}

func TestNewRejectsUnknownBackend(t *testing.T) {
	cfg := &config.Config{StoreBackend: "bogus"}
	if _, err := New(context.Background(), cfg, nil); err == nil {
		t.Fatalf("expected unknown store backend to error")
	}
}
