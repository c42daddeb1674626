package slot

import (
	"testing"
	"time"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
	"github.com/blocksense-network/sequencer/pkg/registry"
)

func TestCurrentSlotComputesBoundariesFromGenesis(t *testing.T) {
	reg := registry.New()
	genesis := time.UnixMilli(1_000_000)
	cfg := feed.Config{
		ID:                    1,
		ReportIntervalMS:      3000,
		FirstReportStartTime:  genesis,
	}
	if err := reg.Register(cfg); err != nil {
		t.Fatalf("register: %v", err)
	}

	tr := NewTracker(reg, nil)

	start, end, idx, ok := tr.CurrentSlot(1, oracle.Timestamp(genesis.UnixMilli()+3500))
	if !ok {
		t.Fatal("expected a valid slot")
	}
	if idx != 1 {
		t.Fatalf("slot index = %d, want 1", idx)
	}
	wantStart := oracle.Timestamp(genesis.UnixMilli() + 3000)
	wantEnd := oracle.Timestamp(genesis.UnixMilli() + 6000)
	if start != wantStart || end != wantEnd {
		t.Fatalf("slot bounds = [%d, %d), want [%d, %d)", start, end, wantStart, wantEnd)
	}
}

func TestCurrentSlotBeforeGenesisIsNotOK(t *testing.T) {
	reg := registry.New()
	genesis := time.UnixMilli(1_000_000)
	if err := reg.Register(feed.Config{ID: 1, ReportIntervalMS: 3000, FirstReportStartTime: genesis}); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr := NewTracker(reg, nil)

	if _, _, _, ok := tr.CurrentSlot(1, oracle.Timestamp(genesis.UnixMilli()-1)); ok {
		t.Fatal("expected no valid slot before genesis")
	}
}

func TestCurrentSlotUnknownFeed(t *testing.T) {
	tr := NewTracker(registry.New(), nil)
	if _, _, _, ok := tr.CurrentSlot(99, oracle.Now()); ok {
		t.Fatal("expected no valid slot for an unregistered feed")
	}
}

func TestCurrentSlotOneshotAlwaysSlotZero(t *testing.T) {
	reg := registry.New()
	genesis := time.UnixMilli(1_000_000)
	if err := reg.Register(feed.Config{ID: 1, ReportIntervalMS: 0, FirstReportStartTime: genesis}); err != nil {
		t.Fatalf("register: %v", err)
	}
	tr := NewTracker(reg, nil)

	_, _, idx, ok := tr.CurrentSlot(1, oracle.Timestamp(genesis.UnixMilli()+999_999))
	if !ok {
		t.Fatal("expected a valid slot for a oneshot feed")
	}
	if idx != 0 {
		t.Fatalf("oneshot slot index = %d, want 0", idx)
	}
}
