package slot

import (
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/history"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/votestore"
)

func TestQuorumReached(t *testing.T) {
	cases := []struct {
		votes, reporters int
		quorumPercentage float32
		want             bool
	}{
		{votes: 2, reporters: 5, quorumPercentage: 60, want: false}, // ceil(3) = 3, 2 < 3
		{votes: 3, reporters: 5, quorumPercentage: 60, want: true},
		{votes: 1, reporters: 1000, quorumPercentage: 0.1, want: true}, // ceil(1) = 1
		{votes: 0, reporters: 0, quorumPercentage: 0, want: false},     // zero reporters never reach quorum
	}
	for _, c := range cases {
		got := quorumReached(c.votes, c.reporters, c.quorumPercentage)
		if got != c.want {
			t.Errorf("quorumReached(%d, %d, %v) = %v, want %v", c.votes, c.reporters, c.quorumPercentage, got, c.want)
		}
	}
}

func TestShouldSkipValueSkipsSmallNumericalDeviationWithoutHeartbeat(t *testing.T) {
	p := &Processor{}
	cfg := feed.Config{SkipPublishIfLessThenPercentage: 1.0}

	skip := p.shouldSkipValue(cfg, oracle.NumericalValue(100.5), oracle.NumericalValue(100), true)
	if !skip {
		t.Fatal("expected skip: deviation 0.5% < threshold 1% and no heartbeat configured")
	}
}

func TestShouldSkipValueNeverSkipsWithoutPreviousAggregate(t *testing.T) {
	p := &Processor{}
	cfg := feed.Config{SkipPublishIfLessThenPercentage: 50}

	skip := p.shouldSkipValue(cfg, oracle.NumericalValue(100), oracle.FeedValue{}, false)
	if skip {
		t.Fatal("must never skip when there is no previous aggregate")
	}
}

func TestShouldSkipValueNeverSkipsNonNumerical(t *testing.T) {
	p := &Processor{}
	cfg := feed.Config{SkipPublishIfLessThenPercentage: 100}

	skip := p.shouldSkipValue(cfg, oracle.TextValue("a"), oracle.TextValue("a"), true)
	if skip {
		t.Fatal("text feeds must never be skipped by the deviation rule")
	}
}

func TestShouldSkipValueDoesNotSkipLargeDeviation(t *testing.T) {
	p := &Processor{}
	cfg := feed.Config{SkipPublishIfLessThenPercentage: 1.0}

	skip := p.shouldSkipValue(cfg, oracle.NumericalValue(110), oracle.NumericalValue(100), true)
	if skip {
		t.Fatal("a 10% deviation must not be skipped when the threshold is 1%")
	}
}

func TestShouldSkipValueHeartbeatForcesPublishAfterElapsed(t *testing.T) {
	p := &Processor{}
	heartbeat := uint64(1000)
	cfg := feed.Config{SkipPublishIfLessThenPercentage: 100, AlwaysPublishHeartbeatMS: &heartbeat}

	// everPublished is false (zero value), so the heartbeat clause
	// "hasn't elapsed" must be treated as false -> do not skip.
	skip := p.shouldSkipValue(cfg, oracle.NumericalValue(100.1), oracle.NumericalValue(100), true)
	if skip {
		t.Fatal("must not skip before any publish has ever happened, even with a heartbeat configured")
	}
}

type allowAllReporters struct{}

func (allowAllReporters) Known(oracle.ReporterId) bool                          { return true }
func (allowAllReporters) Verify(oracle.ReporterId, oracle.DataFeedPayload) bool { return true }

type fixedRoster int

func (f fixedRoster) CountFor(oracle.FeedId) int { return int(f) }

type capturingSink struct{ updates []oracle.VotedFeedUpdate }

func (s *capturingSink) PushUpdate(u oracle.VotedFeedUpdate) { s.updates = append(s.updates, u) }

func newNumericalFeedSetup(t *testing.T, quorumPercentage float32) (*registry.Registry, *Tracker, *votestore.Store) {
	t.Helper()
	reg := registry.New()
	cfg := feed.Config{
		ID:                   1,
		ValueType:            oracle.KindNumerical,
		Aggregator:           feed.Average,
		ReportIntervalMS:     1_000_000_000,
		FirstReportStartTime: time.Now().Add(-time.Second),
		QuorumPercentage:     quorumPercentage,
	}
	if err := reg.Register(cfg); err != nil {
		t.Fatalf("register: %v", err)
	}
	tracker := NewTracker(reg, nil)
	store := votestore.New(reg, allowAllReporters{}, tracker)
	return reg, tracker, store
}

func pushPayload(t *testing.T, store *votestore.Store, reporter oracle.ReporterId, value oracle.FeedValue) {
	t.Helper()
	outcome := store.Push(oracle.DataFeedPayload{
		Meta: oracle.PayloadMetaData{ReporterID: reporter, FeedID: 1, Timestamp: oracle.Now()},
		Result: oracle.OkResult(value),
	})
	if !outcome.Accepted {
		t.Fatalf("push reporter %d: rejected with reason %q", reporter, outcome.Reason)
	}
}

// TestCloseSlotDropsValueTypeMismatchedVotesBeforeQuorum reproduces §4.D
// step 3 / §8 invariant 5: a vote whose value kind doesn't match the feed's
// declared type must be dropped before quorum is counted and before it can
// reach the aggregator, not silently folded into the numerical average.
func TestCloseSlotDropsValueTypeMismatchedVotesBeforeQuorum(t *testing.T) {
	reg, tracker, store := newNumericalFeedSetup(t, 50)
	pushPayload(t, store, 1, oracle.NumericalValue(100))
	pushPayload(t, store, 2, oracle.TextValue("not-a-number"))

	sink := &capturingSink{}
	proc := NewProcessor(1, reg, tracker, store, fixedRoster(2), history.New(history.DefaultCapacity), sink, zap.NewNop())

	_, _, slotIdx, ok := tracker.CurrentSlot(1, oracle.Now())
	if !ok {
		t.Fatal("expected a valid current slot")
	}
	proc.closeSlot(slotIdx)

	if len(sink.updates) != 1 {
		t.Fatalf("expected exactly one published update (the mismatched vote dropped), got %d", len(sink.updates))
	}
	if sink.updates[0].Value.Numerical != 100 {
		t.Fatalf("published value = %v, want 100 (unskewed by the mismatched vote)", sink.updates[0].Value.Numerical)
	}
}

// TestCloseSlotFailsQuorumWhenOnlyMismatchedVotesPresent reproduces the same
// invariant from the other side: if every vote is the wrong kind, quorum
// must fail rather than ever reaching the aggregator.
func TestCloseSlotFailsQuorumWhenOnlyMismatchedVotesPresent(t *testing.T) {
	reg, tracker, store := newNumericalFeedSetup(t, 50)
	pushPayload(t, store, 1, oracle.TextValue("wrong-kind"))

	sink := &capturingSink{}
	proc := NewProcessor(1, reg, tracker, store, fixedRoster(1), history.New(history.DefaultCapacity), sink, zap.NewNop())

	_, _, slotIdx, ok := tracker.CurrentSlot(1, oracle.Now())
	if !ok {
		t.Fatal("expected a valid current slot")
	}
	proc.closeSlot(slotIdx)

	if len(sink.updates) != 0 {
		t.Fatalf("expected no published update when every vote is the wrong kind, got %d", len(sink.updates))
	}
}
