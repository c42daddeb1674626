package registry

import (
	"testing"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

func sampleConfig(id oracle.FeedId) feed.Config {
	return feed.Config{
		ID:               id,
		Name:             "BTC/USD",
		Aggregator:       feed.Average,
		ReportIntervalMS: 3000,
		QuorumPercentage: 50,
	}
}

func TestRegisterIsIdempotentOnEqualConfig(t *testing.T) {
	r := New()
	cfg := sampleConfig(1)

	if err := r.Register(cfg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(cfg); err != nil {
		t.Fatalf("idempotent re-register should succeed, got: %v", err)
	}
	if r.Count() != 1 {
		t.Fatalf("count = %d, want 1", r.Count())
	}
}

func TestRegisterConflictingConfigFails(t *testing.T) {
	r := New()
	cfg := sampleConfig(1)
	if err := r.Register(cfg); err != nil {
		t.Fatalf("first register: %v", err)
	}

	conflicting := cfg
	conflicting.QuorumPercentage = 90
	if err := r.Register(conflicting); err != ErrAlreadyRegistered {
		t.Fatalf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRemoveUnknownFails(t *testing.T) {
	r := New()
	if err := r.Remove(42); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetAndKnownAndKeys(t *testing.T) {
	r := New()
	cfg := sampleConfig(7)
	if err := r.Register(cfg); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !r.Known(7) {
		t.Fatal("expected feed 7 to be known after registration")
	}
	got, ok := r.Get(7)
	if !ok || got.ID != 7 {
		t.Fatalf("Get(7) = (%+v, %v)", got, ok)
	}

	keys := r.Keys()
	if len(keys) != 1 || keys[0] != 7 {
		t.Fatalf("Keys() = %v, want [7]", keys)
	}

	if err := r.Remove(7); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if r.Known(7) {
		t.Fatal("expected feed 7 to be unknown after removal")
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	r := New()
	if err := r.Register(sampleConfig(1)); err != nil {
		t.Fatalf("register: %v", err)
	}

	snap := r.Snapshot()
	delete(snap, 1)

	if !r.Known(1) {
		t.Fatal("mutating the snapshot must not affect the registry")
	}
}
