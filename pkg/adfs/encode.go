// Package adfs is the ADFS Calldata Encoder (§4.H): a byte-exact, packed
// on-chain calldata format for a batch of feed updates plus a round table,
// ported from original_source's adfs_gen_calldata.rs.
package adfs

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"github.com/blocksense-network/sequencer/pkg/oracle"
)

// MaxHistoryElementsPerFeed bounds the per-feed round counter's period.
const MaxHistoryElementsPerFeed = 8192

// strideSizes maps a stride (0..=7) to its record width in bytes.
var strideSizes = map[uint8]int{
	0: 32, 1: 64, 2: 128, 3: 256, 4: 512, 5: 1024, 6: 2048, 7: 4096,
}

// Selector is the 4-byte EVM contract-method selector ADFS calldata is
// prepended with when wrapping into transaction input data.
var Selector = [4]byte{0x1a, 0x2d, 0x80, 0xac}

// FeedInfo is the registry's per-feed ADFS parameters.
type FeedInfo struct {
	Stride   uint8
	Decimals uint8
}

// Update is one feed's already-encoded value; its round counter is taken
// from Encode's rounds map.
type Update struct {
	FeedID oracle.FeedId
	Bytes  []byte // the feed's value, already encoded per its value type and decimals
}

// BatchedAggregates is the encoder's input: a block height and the updates
// it commits.
type BatchedAggregates struct {
	BlockHeight uint64
	Updates     []Update
}

// EncodeNumerical converts a numerical value to its fixed-point
// big-endian byte encoding for the given decimals, e.g. value=1.5,
// decimals=2 -> 150 -> 0x96.
func EncodeNumerical(value float64, decimals uint8) []byte {
	scale := new(big.Float).SetFloat64(1)
	ten := big.NewFloat(10)
	for i := uint8(0); i < decimals; i++ {
		scale.Mul(scale, ten)
	}
	scaled := new(big.Float).Mul(big.NewFloat(value), scale)
	i, _ := scaled.Int(nil)
	if i.Sign() < 0 {
		i = new(big.Int).Neg(i)
	}
	return truncateLeadingZeroBytes(i.Bytes())
}

func truncateLeadingZeroBytes(b []byte) []byte {
	i := 0
	for i < len(b) && b[i] == 0 {
		i++
	}
	if i == len(b) {
		return []byte{0}
	}
	return b[i:]
}

// Encode serializes a batch into the packed ADFS wire format (§4.H).
// feedInfo should cover every registered feed, not just the ones in this
// batch: a batch feed's round-table row also carries its 15 neighbours'
// last-published rounds, and their stride is looked up here too. rounds
// supplies every feed's round counter (pre-modulo; Encode applies
// `mod 8192`).
func Encode(batch BatchedAggregates, feedInfo map[oracle.FeedId]FeedInfo, rounds map[oracle.FeedId]uint64) ([]byte, error) {
	out := make([]byte, 0, 13+len(batch.Updates)*40)

	out = append(out, 0x00)

	var heightBuf [8]byte
	binary.BigEndian.PutUint64(heightBuf[:], batch.BlockHeight)
	out = append(out, heightBuf[:]...)

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(batch.Updates)))
	out = append(out, lenBuf[:]...)

	info := make(map[oracle.FeedId]touched, len(batch.Updates))

	for _, u := range batch.Updates {
		fi, ok := feedInfo[u.FeedID]
		stride := uint8(0) // unregistered feed: legacy one-shot 32-byte record
		if ok {
			stride = fi.Stride
		}
		round := rounds[u.FeedID] % MaxHistoryElementsPerFeed

		stridePow := new(big.Int).Lsh(big.NewInt(1), uint(stride))
		id := big.NewInt(int64(u.FeedID))
		idShifted := new(big.Int).Lsh(id, 13)
		withRound := new(big.Int).Add(idShifted, big.NewInt(int64(round)))
		index := new(big.Int).Mul(withRound, stridePow)
		indexBytes := truncateLeadingZeroBytes(index.Bytes())

		strideSize, ok := strideSizes[stride]
		if !ok {
			return nil, fmt.Errorf("adfs: unsupported stride %d for feed %d", stride, u.FeedID)
		}
		if len(u.Bytes) > strideSize {
			return nil, fmt.Errorf("adfs: value of %d bytes exceeds stride size %d for feed %d", len(u.Bytes), strideSize, u.FeedID)
		}
		bytesLenBuf := truncateLeadingZeroBytes(big.NewInt(int64(len(u.Bytes))).Bytes())

		out = append(out, stride)
		out = append(out, byte(len(indexBytes)))
		out = append(out, indexBytes...)
		out = append(out, byte(len(bytesLenBuf)))
		out = append(out, bytesLenBuf...)
		out = append(out, u.Bytes...)

		info[u.FeedID] = touched{stride: stride, round: round}
	}

	out = append(out, encodeRoundTable(batch.Updates, info, feedInfo, rounds)...)
	return out, nil
}

type touched struct {
	stride uint8
	round  uint64
}

// neighbourFeedIDs returns the 16 feed ids sharing id's round-table row
// (feed_id - feed_id%16 .. +16), mirroring get_neighbour_feed_ids.
func neighbourFeedIDs(id oracle.FeedId) []oracle.FeedId {
	begin := id - id%16
	out := make([]oracle.FeedId, 16)
	for i := range out {
		out[i] = begin + oracle.FeedId(i)
	}
	return out
}

// encodeRoundTable packs the per-feed round counters into 32-byte rows of
// 16 feeds each, row index = (2^115 * stride + feed_id) / 16, each feed's
// 16-bit round overlaid at its 2-byte-aligned slot within the row. Every
// touched feed's full 16-feed neighbourhood is written, not just the feeds
// present in this batch: a neighbour absent from the batch still occupies a
// slot in the row and must decode to its last-published round (round-1,
// since `rounds` holds the round about to be assigned to the NEXT publish),
// or 0 if it has never published (§4.H, §8 invariant 3).
func encodeRoundTable(updates []Update, info map[oracle.FeedId]touched, feedInfo map[oracle.FeedId]FeedInfo, rounds map[oracle.FeedId]uint64) []byte {
	rows := make(map[string]*[32]byte)
	rowIndex := make(map[string]*big.Int)

	twoTo115 := new(big.Int).Lsh(big.NewInt(1), 115)
	seen := make(map[oracle.FeedId]bool)

	for _, u := range updates {
		for _, n := range neighbourFeedIDs(u.FeedID) {
			if seen[n] {
				continue
			}
			seen[n] = true

			var stride uint8
			var round uint64
			if t, ok := info[n]; ok {
				stride = t.stride
				round = t.round
			} else {
				if fi, ok := feedInfo[n]; ok {
					stride = fi.Stride
				}
				round = rounds[n] % MaxHistoryElementsPerFeed
				if round > 0 {
					round--
				}
			}

			idx := new(big.Int).Mul(twoTo115, big.NewInt(int64(stride)))
			idx.Add(idx, big.NewInt(int64(n)))
			idx.Div(idx, big.NewInt(16))
			key := idx.String()

			row, ok := rows[key]
			if !ok {
				row = &[32]byte{}
				rows[key] = row
				rowIndex[key] = idx
			}

			slotPosition := int(n) % 16
			pos := slotPosition * 2
			var roundBuf [8]byte
			binary.BigEndian.PutUint64(roundBuf[:], round)
			row[pos] = roundBuf[6]
			row[pos+1] = roundBuf[7]
		}
	}

	keys := make([]string, 0, len(rows))
	for k := range rows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return rowIndex[keys[i]].Cmp(rowIndex[keys[j]]) < 0 })

	var out []byte
	for _, k := range keys {
		idx := rowIndex[k]
		idxBytes := truncateLeadingZeroBytes(idx.Bytes())
		out = append(out, byte(len(idxBytes)))
		out = append(out, idxBytes...)
		out = append(out, rows[k][:]...)
	}
	return out
}
