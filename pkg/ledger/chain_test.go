package ledger

import (
	"testing"

	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

func TestCreateAndAppendBlockMonotonicHeights(t *testing.T) {
	chain, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	first, err := chain.CreateAndAppendBlock("issuer-1", nil, nil, Hash{}, 1000)
	if err != nil {
		t.Fatalf("first block: %v", err)
	}
	if first.Header.BlockHeight != 1 {
		t.Fatalf("genesis height = %d, want 1", first.Header.BlockHeight)
	}
	if first.Header.PrevBlockHash != GenesisPrevHash {
		t.Fatalf("genesis prev hash must be the fixed constant")
	}

	second, err := chain.CreateAndAppendBlock("issuer-1", nil, nil, Hash{}, 2000)
	if err != nil {
		t.Fatalf("second block: %v", err)
	}
	if second.Header.BlockHeight != 2 {
		t.Fatalf("second height = %d, want 2", second.Header.BlockHeight)
	}
	if second.Header.PrevBlockHash != HeaderHash(first.Header) {
		t.Fatalf("second prev hash must equal merkle root (header hash) of block 1")
	}

	height, ok := chain.LatestBlockHeight()
	if !ok || height != 2 {
		t.Fatalf("LatestBlockHeight = (%d, %v), want (2, true)", height, ok)
	}
}

func TestAddNextBlockRejectsHeightGap(t *testing.T) {
	chain, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	bad := Block{Header: Header{BlockHeight: 2, PrevBlockHash: GenesisPrevHash}}
	if err := chain.AddNextBlock(bad); err == nil {
		t.Fatal("expected BlockInvariantViolation for a non-genesis first block")
	}
}

func TestAddNextBlockRejectsBadParentLinkage(t *testing.T) {
	chain, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if _, err := chain.CreateAndAppendBlock("issuer-1", nil, nil, Hash{}, 1000); err != nil {
		t.Fatalf("first block: %v", err)
	}

	bad := Block{Header: Header{BlockHeight: 2, PrevBlockHash: Hash{0xff}}}
	if err := chain.AddNextBlock(bad); err == nil {
		t.Fatal("expected BlockInvariantViolation for mismatched prev_block_hash")
	}
}

func TestCreateAndAppendBlockRejectsTooManyNewFeeds(t *testing.T) {
	chain, err := New(nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	newFeeds := make([]feed.Config, MaxNewFeedsPerBlock+1)
	if _, err := chain.CreateAndAppendBlock("issuer-1", newFeeds, nil, Hash{}, 1000); err == nil {
		t.Fatal("expected BlockInvariantViolation for new_feeds exceeding the per-block cap")
	}
}
