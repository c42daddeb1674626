package ledger

import (
	"testing"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

func TestHeaderSerializeRoundTrip(t *testing.T) {
	hdr := Header{
		IssuerID:              "sequencer-1",
		BlockHeight:           42,
		PrevBlockHash:         Hash{1, 2, 3},
		FeedUpdatesMerkleRoot: Hash{4, 5, 6},
		TimestampMS:           oracle.Timestamp(1700000000123),
	}
	got, err := DeserializeHeader(SerializeHeader(hdr))
	if err != nil {
		t.Fatalf("DeserializeHeader: %v", err)
	}
	if got != hdr {
		t.Fatalf("round trip mismatch:\n got  %+v\n want %+v", got, hdr)
	}
}

func TestFeedActionsSerializeRoundTrip(t *testing.T) {
	heartbeat := uint64(60000)
	actions := FeedActions{
		NewFeeds: []feed.Config{
			{
				ID:                       1,
				Name:                     "BTC/USD",
				Description:              "bitcoin in dollars",
				ValueType:                oracle.KindNumerical,
				Aggregator:               feed.Median,
				Decimals:                 18,
				Stride:                   1,
				ReportIntervalMS:         3000,
				QuorumPercentage:         60,
				SkipPublishIfLessThenPercentage: 0.1,
				AlwaysPublishHeartbeatMS: &heartbeat,
			},
			{
				ID:         2,
				Name:       "ETH/USD",
				Aggregator: feed.Average,
				Decimals:   18,
			},
		},
		FeedIDsToRemove: []oracle.FeedId{9, 10, 11},
	}

	got, err := DeserializeFeedActions(SerializeFeedActions(actions))
	if err != nil {
		t.Fatalf("DeserializeFeedActions: %v", err)
	}
	if len(got.NewFeeds) != len(actions.NewFeeds) {
		t.Fatalf("new feeds count mismatch: got %d want %d", len(got.NewFeeds), len(actions.NewFeeds))
	}
	for i := range actions.NewFeeds {
		if !got.NewFeeds[i].Equal(actions.NewFeeds[i]) {
			t.Fatalf("feed %d mismatch:\n got  %+v\n want %+v", i, got.NewFeeds[i], actions.NewFeeds[i])
		}
	}
	if len(got.FeedIDsToRemove) != 3 {
		t.Fatalf("feed_ids_to_remove mismatch: %v", got.FeedIDsToRemove)
	}
}

func TestHeaderHashChainLinkage(t *testing.T) {
	genesis := Header{IssuerID: "seq", BlockHeight: 1, PrevBlockHash: GenesisPrevHash}
	next := Header{IssuerID: "seq", BlockHeight: 2, PrevBlockHash: HeaderHash(genesis)}
	if next.PrevBlockHash != HeaderHash(genesis) {
		t.Fatal("expected next block's prev hash to equal genesis header hash")
	}
}
