package reporter

import (
	"testing"

	"go.uber.org/zap"

	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
	"github.com/blocksense-network/sequencer/pkg/oracle"
)

func newTestReporterForTolerance(t *testing.T) *Reporter {
	t.Helper()
	signer, err := sequencercrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	return New(Config{
		ReporterID: 1,
		Signer:     signer,
		Log:        zap.NewNop(),
	}, nil)
}

// TestWithinToleranceRejectsBatch reproduces scenario S6: the reporter's last
// vote for feed 11 is 549.5, the sequencer proposes 555.5 (~1.09% deviation),
// which exceeds the default 0.5% tolerance.
func TestWithinToleranceRejectsBatch(t *testing.T) {
	r := newTestReporterForTolerance(t)
	r.mu.Lock()
	r.latestVotes[11] = oracle.NumericalValue(549.5)
	r.mu.Unlock()

	c := NewSecondRoundCoSigner(r, nil, nil, nil, zap.NewNop())

	updates := []oracle.VotedFeedUpdate{{FeedID: 11, Value: oracle.NumericalValue(555.5)}}
	if c.withinTolerance(updates) {
		t.Fatal("expected the batch to be rejected: deviation exceeds the default 0.5% tolerance")
	}
}

func TestWithinToleranceAcceptsSmallDeviation(t *testing.T) {
	r := newTestReporterForTolerance(t)
	r.mu.Lock()
	r.latestVotes[11] = oracle.NumericalValue(100)
	r.mu.Unlock()

	c := NewSecondRoundCoSigner(r, nil, nil, nil, zap.NewNop())

	updates := []oracle.VotedFeedUpdate{{FeedID: 11, Value: oracle.NumericalValue(100.1)}}
	if !c.withinTolerance(updates) {
		t.Fatal("expected a 0.1% deviation to be within the default 0.5% tolerance")
	}
}

func TestWithinToleranceUsesPerFeedOverride(t *testing.T) {
	r := newTestReporterForTolerance(t)
	r.mu.Lock()
	r.latestVotes[11] = oracle.NumericalValue(100)
	r.mu.Unlock()

	c := NewSecondRoundCoSigner(r, nil, nil, map[oracle.FeedId]float64{11: 5}, zap.NewNop())

	updates := []oracle.VotedFeedUpdate{{FeedID: 11, Value: oracle.NumericalValue(103)}}
	if !c.withinTolerance(updates) {
		t.Fatal("expected a 3% deviation to be within a 5% per-feed override tolerance")
	}
}

func TestWithinToleranceSkipsFeedsWithNoLocalVote(t *testing.T) {
	r := newTestReporterForTolerance(t)
	c := NewSecondRoundCoSigner(r, nil, nil, nil, zap.NewNop())

	updates := []oracle.VotedFeedUpdate{{FeedID: 99, Value: oracle.NumericalValue(1000)}}
	if !c.withinTolerance(updates) {
		t.Fatal("a feed with no local vote to compare against must not block the batch")
	}
}
