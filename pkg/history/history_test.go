package history

import (
	"testing"

	"github.com/blocksense-network/sequencer/pkg/oracle"
)

func TestRingOverwritesOldestOnFull(t *testing.T) {
	h := New(3)
	for i := 0; i < 5; i++ {
		h.Push(1, Entry{Value: oracle.NumericalValue(float64(i))})
	}
	if got := h.Len(1); got != 3 {
		t.Fatalf("Len = %d, want 3 (capped at capacity)", got)
	}
	last, ok := h.Last(1)
	if !ok || last.Value.Numerical != 4 {
		t.Fatalf("Last = %+v, want value 4", last)
	}
	entries := h.LastN(1, 3)
	want := []float64{2, 3, 4}
	if len(entries) != 3 {
		t.Fatalf("LastN returned %d entries, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Value.Numerical != want[i] {
			t.Errorf("entries[%d] = %v, want %v", i, e.Value.Numerical, want[i])
		}
	}
}

func TestLastOnEmptyFeedIsNotOK(t *testing.T) {
	h := New(10)
	if _, ok := h.Last(42); ok {
		t.Fatal("expected no entry for a feed with no pushes")
	}
}

func TestLastNClampsToAvailableCount(t *testing.T) {
	h := New(100)
	h.Push(1, Entry{Value: oracle.NumericalValue(1)})
	h.Push(1, Entry{Value: oracle.NumericalValue(2)})

	got := h.LastN(1, 50)
	if len(got) != 2 {
		t.Fatalf("LastN(50) with 2 entries pushed = %d, want 2", len(got))
	}
}

func TestDefaultCapacityUsedWhenNonPositive(t *testing.T) {
	h := New(0)
	if h.capacity != DefaultCapacity {
		t.Fatalf("capacity = %d, want %d", h.capacity, DefaultCapacity)
	}
}
