package publisher

import (
	"testing"

	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/adfs"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

func newTestPublisher(t *testing.T, cfg Config) *Publisher {
	t.Helper()
	reg := registry.New()
	if err := reg.Register(feed.Config{ID: 1, Decimals: 18, SkipPublishIfLessThenPercentage: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Register(feed.Config{ID: 2, Decimals: 18, SkipPublishIfLessThenPercentage: 1}); err != nil {
		t.Fatalf("register: %v", err)
	}
	cfg.Network = "ETH1"
	return New(cfg, reg, zap.NewNop(), nil, nil)
}

func TestFilterByAllowListEmptyAllowsAll(t *testing.T) {
	p := newTestPublisher(t, Config{})
	updates := []oracle.VotedFeedUpdate{{FeedID: 1}, {FeedID: 2}}
	got := p.filterByAllowList(updates)
	if len(got) != 2 {
		t.Fatalf("got %d updates, want 2 (empty allow-list allows all)", len(got))
	}
}

func TestFilterByAllowListRestricts(t *testing.T) {
	p := newTestPublisher(t, Config{AllowFeeds: map[oracle.FeedId]bool{1: true}})
	updates := []oracle.VotedFeedUpdate{{FeedID: 1}, {FeedID: 2}}
	got := p.filterByAllowList(updates)
	if len(got) != 1 || got[0].FeedID != 1 {
		t.Fatalf("got %+v, want only feed 1", got)
	}
}

func TestSetEnabledTogglesDisabledStatus(t *testing.T) {
	p := newTestPublisher(t, Config{})
	if p.Status() != AwaitingFirstUpdate {
		t.Fatalf("initial status = %v, want AwaitingFirstUpdate", p.Status())
	}
	p.SetEnabled(false)
	if p.Status() != Disabled {
		t.Fatalf("status after disable = %v, want Disabled", p.Status())
	}
	p.SetEnabled(true)
	if p.Status() != AwaitingFirstUpdate {
		t.Fatalf("status after re-enable = %v, want AwaitingFirstUpdate", p.Status())
	}
}

func TestSetEnabledReenableDoesNotClobberSucceeded(t *testing.T) {
	p := newTestPublisher(t, Config{})
	p.markSucceeded([]oracle.VotedFeedUpdate{{FeedID: 1, Value: oracle.NumericalValue(1)}})
	p.SetEnabled(true) // already enabled: must be a no-op
	if p.Status() != LastUpdateSucceeded {
		t.Fatalf("status = %v, want LastUpdateSucceeded preserved", p.Status())
	}
}

func TestMarkSucceededBumpsRoundsModuloMaxHistory(t *testing.T) {
	p := newTestPublisher(t, Config{})
	p.mu.Lock()
	p.rounds[1] = adfs.MaxHistoryElementsPerFeed - 1
	p.mu.Unlock()

	p.markSucceeded([]oracle.VotedFeedUpdate{{FeedID: 1, Value: oracle.NumericalValue(1)}})

	p.mu.Lock()
	got := p.rounds[1]
	p.mu.Unlock()
	if got != 0 {
		t.Fatalf("round after wraparound = %d, want 0", got)
	}
}

func TestSkipRuleSuppressesSmallDeviation(t *testing.T) {
	p := newTestPublisher(t, Config{})
	if p.skip(1.0, nil, oracle.NumericalValue(100.1), oracle.NumericalValue(100), true, 0) != true {
		t.Fatal("expected skip: 0.1% deviation under 1% threshold, no heartbeat")
	}
}

func TestSkipRuleNeverSkipsFirstPublish(t *testing.T) {
	p := newTestPublisher(t, Config{})
	if p.skip(100, nil, oracle.NumericalValue(100), oracle.FeedValue{}, false, 0) != false {
		t.Fatal("must never skip when there is no previous value for this network")
	}
}

func TestFilterBySkipRuleDropsUnchangedFeedOnly(t *testing.T) {
	p := newTestPublisher(t, Config{})
	p.markSucceeded([]oracle.VotedFeedUpdate{
		{FeedID: 1, Value: oracle.NumericalValue(100)},
		{FeedID: 2, Value: oracle.NumericalValue(100)},
	})

	updates := []oracle.VotedFeedUpdate{
		{FeedID: 1, Value: oracle.NumericalValue(100.05)}, // within 1% threshold -> skip
		{FeedID: 2, Value: oracle.NumericalValue(150)},    // large move -> keep
	}
	got := p.filterBySkipRule(updates)
	if len(got) != 1 || got[0].FeedID != 2 {
		t.Fatalf("filterBySkipRule = %+v, want only feed 2", got)
	}
}
