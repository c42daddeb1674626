package adfs

import (
	"encoding/hex"
	"testing"

	"github.com/blocksense-network/sequencer/pkg/oracle"
)

func mustHex(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("bad hex literal %q: %v", s, err)
	}
	return b
}

// TestEncodeGolden reproduces the S5 scenario byte-for-byte.
func TestEncodeGolden(t *testing.T) {
	batch := BatchedAggregates{
		BlockHeight: 1234567890,
		Updates: []Update{
			{FeedID: 1, Bytes: mustHex(t, "12343267643573")},
			{FeedID: 2, Bytes: mustHex(t, "2456")},
			{FeedID: 3, Bytes: mustHex(t, "3678")},
			{FeedID: 4, Bytes: mustHex(t, "4890")},
			{FeedID: 5, Bytes: mustHex(t, "5abc")},
		},
	}
	feedInfo := map[oracle.FeedId]FeedInfo{
		1: {Stride: 1, Decimals: 18},
		2: {Stride: 0, Decimals: 18},
		3: {Stride: 0, Decimals: 18},
		4: {Stride: 0, Decimals: 18},
		5: {Stride: 0, Decimals: 18},
	}
	rounds := map[oracle.FeedId]uint64{1: 6, 2: 5, 3: 4, 4: 3, 5: 2}

	got, err := Encode(batch, feedInfo, rounds)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	want := "0000000000499602d2000000050102400c0107123432676435730002400501022456000260040102367800028003010248900002a00201025abc010000000000000500040003000200000000000000000000000000000000000000000e80000000000000000000000000000000000600000000000000000000000000000000000000000000000000000000"

	if hex.EncodeToString(got) != want {
		t.Fatalf("encoding mismatch:\n got  %x\n want %s", got, want)
	}
}

// TestEncodeRoundTableCarriesNonBatchNeighbourRounds reproduces §8 invariant
// 3: a feed sharing a 16-feed round-table row with an updated feed, but not
// itself updated this batch, must decode to its own last-published round
// (round-1, since `rounds` holds the round about to be assigned next), not
// 0. Feeds 0 and 1 share row 0; only feed 1 is in this batch.
func TestEncodeRoundTableCarriesNonBatchNeighbourRounds(t *testing.T) {
	batch := BatchedAggregates{
		BlockHeight: 1,
		Updates: []Update{
			{FeedID: 1, Bytes: mustHex(t, "01")},
		},
	}
	feedInfo := map[oracle.FeedId]FeedInfo{
		0: {Stride: 0, Decimals: 18},
		1: {Stride: 0, Decimals: 18},
	}
	rounds := map[oracle.FeedId]uint64{0: 7, 1: 3}

	got, err := Encode(batch, feedInfo, rounds)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	row := got[len(got)-32:]
	feed0Round := uint16(row[0])<<8 | uint16(row[1])
	feed1Round := uint16(row[2])<<8 | uint16(row[3])
	if feed0Round != 6 {
		t.Fatalf("neighbour feed 0 round = %d, want 6 (7-1, not dropped to 0)", feed0Round)
	}
	if feed1Round != 3 {
		t.Fatalf("batch feed 1 round = %d, want 3 (its own round, unmodified)", feed1Round)
	}
}

func TestEncodeValueTooLargeForStride(t *testing.T) {
	batch := BatchedAggregates{
		BlockHeight: 1,
		Updates: []Update{
			{FeedID: 1, Bytes: make([]byte, 64)}, // stride 0 max width is 32
		},
	}
	feedInfo := map[oracle.FeedId]FeedInfo{1: {Stride: 0, Decimals: 18}}
	rounds := map[oracle.FeedId]uint64{1: 0}

	if _, err := Encode(batch, feedInfo, rounds); err == nil {
		t.Fatal("expected an error for an over-width value")
	}
}

func TestEncodeNumericalFixedPoint(t *testing.T) {
	got := EncodeNumerical(1.5, 2)
	want := []byte{0x96} // 150
	if hex.EncodeToString(got) != hex.EncodeToString(want) {
		t.Fatalf("EncodeNumerical(1.5, 2) = %x, want %x", got, want)
	}
}
