// Package slot is the Slot Time Tracker and Feed Slot Processor (§4.C/§4.D).
package slot

import (
	"time"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/util"
)

// Mode distinguishes a repeating feed from a single-shot one.
type Mode uint8

const (
	Periodic Mode = iota
	Oneshot
)

// Tracker computes slot boundaries for every registered feed from its
// FirstReportStartTime/ReportIntervalMS (§4.C).
type Tracker struct {
	reg   *registry.Registry
	clock util.Clock
}

func NewTracker(reg *registry.Registry, clock util.Clock) *Tracker {
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Tracker{reg: reg, clock: clock}
}

func modeOf(cfg feed.Config) Mode {
	if cfg.ReportIntervalMS == 0 {
		return Oneshot
	}
	return Periodic
}

// CurrentSlot returns [start, end) and the 0-based slot index containing
// now, implementing votestore.SlotResolver. ok is false if the feed is
// unknown or now precedes the feed's first slot.
func (t *Tracker) CurrentSlot(feedID oracle.FeedId, now oracle.Timestamp) (start, end oracle.Timestamp, slot int64, ok bool) {
	cfg, found := t.reg.Get(feedID)
	if !found {
		return 0, 0, 0, false
	}

	first := oracle.Timestamp(cfg.FirstReportStartTime.UnixMilli())
	if now < first {
		return 0, 0, 0, false
	}
	if modeOf(cfg) == Oneshot {
		return first, oracle.Timestamp(1<<62 - 1), 0, true
	}

	interval := int64(cfg.ReportIntervalMS)
	elapsed := int64(now) - int64(first)
	idx := elapsed / interval
	startMS := int64(first) + idx*interval
	return oracle.Timestamp(startMS), oracle.Timestamp(startMS + interval), idx, true
}

// AwaitEndOfCurrentSlot blocks until the current slot for feedID closes, or
// the context-less deadline computed from the clock elapses. Returns the
// slot index that just closed.
func (t *Tracker) AwaitEndOfCurrentSlot(feedID oracle.FeedId) (int64, bool) {
	_, end, slot, ok := t.CurrentSlot(feedID, oracle.Now())
	if !ok {
		return 0, false
	}
	wait := time.Duration(int64(end)-int64(oracle.Now())) * time.Millisecond
	if wait > 0 {
		<-t.clock.After(wait)
	}
	return slot, true
}
