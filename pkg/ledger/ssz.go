// SSZ-style wire serialization for Header and FeedActions (§4.F, §6): fixed-
// width big-endian integers, fixed-size byte arrays, length-prefixed
// variable fields, optional fields carrying a 0/1 presence byte. Distinct
// from HeaderHash, which hashes the same fields for chain linkage; this is
// what travels on the block bus (§6 "hex(ssz-serialized header)").
package ledger

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

func float32Bytes(f float32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], math.Float32bits(f))
	return buf[:]
}

func float32FromBytes(b []byte) float32 {
	return math.Float32frombits(binary.BigEndian.Uint32(b))
}

func timeFromUnixMilli(ms uint64) time.Time {
	return time.UnixMilli(int64(ms))
}

func putUint16Prefixed(out []byte, s string) []byte {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(s)))
	out = append(out, n[:]...)
	return append(out, []byte(s)...)
}

func readUint16Prefixed(b []byte) (string, []byte, error) {
	if len(b) < 2 {
		return "", nil, fmt.Errorf("ledger: truncated length prefix")
	}
	n := binary.BigEndian.Uint16(b[:2])
	b = b[2:]
	if len(b) < int(n) {
		return "", nil, fmt.Errorf("ledger: truncated string field")
	}
	return string(b[:n]), b[n:], nil
}

// SerializeHeader encodes hdr as: issuer_id (u16-len-prefixed) ||
// block_height (u64 BE) || prev_block_hash (32) || feed_updates_merkle_root
// (32) || timestamp_ms (u64 BE, two's complement via uint64 cast).
func SerializeHeader(hdr Header) []byte {
	out := make([]byte, 0, 2+len(hdr.IssuerID)+8+32+32+8)
	out = putUint16Prefixed(out, hdr.IssuerID)

	var height [8]byte
	binary.BigEndian.PutUint64(height[:], hdr.BlockHeight)
	out = append(out, height[:]...)

	out = append(out, hdr.PrevBlockHash[:]...)
	out = append(out, hdr.FeedUpdatesMerkleRoot[:]...)

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(hdr.TimestampMS))
	out = append(out, ts[:]...)
	return out
}

// DeserializeHeader is SerializeHeader's inverse (§8 round-trip law).
func DeserializeHeader(b []byte) (Header, error) {
	issuerID, b, err := readUint16Prefixed(b)
	if err != nil {
		return Header{}, err
	}
	if len(b) < 8+32+32+8 {
		return Header{}, fmt.Errorf("ledger: truncated header")
	}
	height := binary.BigEndian.Uint64(b[:8])
	b = b[8:]

	var prevHash, root Hash
	copy(prevHash[:], b[:32])
	b = b[32:]
	copy(root[:], b[:32])
	b = b[32:]

	ts := binary.BigEndian.Uint64(b[:8])

	return Header{
		IssuerID:              issuerID,
		BlockHeight:           height,
		PrevBlockHash:         prevHash,
		FeedUpdatesMerkleRoot: root,
		TimestampMS:           oracle.Timestamp(ts),
	}, nil
}

func serializeOptionalU64(out []byte, v *uint64) []byte {
	if v == nil {
		return append(out, 0)
	}
	out = append(out, 1)
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], *v)
	return append(out, buf[:]...)
}

func readOptionalU64(b []byte) (*uint64, []byte, error) {
	if len(b) < 1 {
		return nil, nil, fmt.Errorf("ledger: truncated presence byte")
	}
	present := b[0]
	b = b[1:]
	if present == 0 {
		return nil, b, nil
	}
	if len(b) < 8 {
		return nil, nil, fmt.Errorf("ledger: truncated optional u64")
	}
	v := binary.BigEndian.Uint64(b[:8])
	return &v, b[8:], nil
}

func serializeFeedConfig(out []byte, cfg feed.Config) []byte {
	var id [4]byte
	binary.BigEndian.PutUint32(id[:], uint32(cfg.ID))
	out = append(out, id[:]...)
	out = putUint16Prefixed(out, cfg.Name)
	out = putUint16Prefixed(out, cfg.Description)
	out = append(out, byte(cfg.ValueType))
	out = putUint16Prefixed(out, string(cfg.Aggregator))
	out = append(out, cfg.Decimals, cfg.Stride)

	var interval [8]byte
	binary.BigEndian.PutUint64(interval[:], cfg.ReportIntervalMS)
	out = append(out, interval[:]...)

	var first [8]byte
	binary.BigEndian.PutUint64(first[:], uint64(cfg.FirstReportStartTime.UnixMilli()))
	out = append(out, first[:]...)

	out = append(out, float32Bytes(cfg.QuorumPercentage)...)
	out = append(out, float32Bytes(cfg.SkipPublishIfLessThenPercentage)...)
	out = serializeOptionalU64(out, cfg.AlwaysPublishHeartbeatMS)
	return out
}

func deserializeFeedConfig(b []byte) (feed.Config, []byte, error) {
	if len(b) < 4 {
		return feed.Config{}, nil, fmt.Errorf("ledger: truncated feed id")
	}
	id := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	name, b, err := readUint16Prefixed(b)
	if err != nil {
		return feed.Config{}, nil, err
	}
	desc, b, err := readUint16Prefixed(b)
	if err != nil {
		return feed.Config{}, nil, err
	}
	if len(b) < 1 {
		return feed.Config{}, nil, fmt.Errorf("ledger: truncated value type")
	}
	valueType := oracle.FeedValueKind(b[0])
	b = b[1:]

	agg, b, err := readUint16Prefixed(b)
	if err != nil {
		return feed.Config{}, nil, err
	}
	if len(b) < 2 {
		return feed.Config{}, nil, fmt.Errorf("ledger: truncated decimals/stride")
	}
	decimals, stride := b[0], b[1]
	b = b[2:]

	if len(b) < 16 {
		return feed.Config{}, nil, fmt.Errorf("ledger: truncated interval/first-start")
	}
	interval := binary.BigEndian.Uint64(b[:8])
	first := binary.BigEndian.Uint64(b[8:16])
	b = b[16:]

	if len(b) < 8 {
		return feed.Config{}, nil, fmt.Errorf("ledger: truncated percentages")
	}
	quorum := float32FromBytes(b[:4])
	skip := float32FromBytes(b[4:8])
	b = b[8:]

	heartbeat, b, err := readOptionalU64(b)
	if err != nil {
		return feed.Config{}, nil, err
	}

	cfg := feed.Config{
		ID:                              oracle.FeedId(id),
		Name:                            name,
		Description:                     desc,
		ValueType:                       valueType,
		Aggregator:                      feed.AggregatorKind(agg),
		Decimals:                        decimals,
		Stride:                          stride,
		ReportIntervalMS:                interval,
		FirstReportStartTime:            timeFromUnixMilli(first),
		QuorumPercentage:                quorum,
		SkipPublishIfLessThenPercentage: skip,
		AlwaysPublishHeartbeatMS:        heartbeat,
	}
	return cfg, b, nil
}

// SerializeFeedActions encodes a.NewFeeds and a.FeedIDsToRemove as u32-
// count-prefixed sequences (§3 FeedActions).
func SerializeFeedActions(a FeedActions) []byte {
	out := make([]byte, 0, 64)
	var newCount [4]byte
	binary.BigEndian.PutUint32(newCount[:], uint32(len(a.NewFeeds)))
	out = append(out, newCount[:]...)
	for _, cfg := range a.NewFeeds {
		out = serializeFeedConfig(out, cfg)
	}

	var delCount [4]byte
	binary.BigEndian.PutUint32(delCount[:], uint32(len(a.FeedIDsToRemove)))
	out = append(out, delCount[:]...)
	for _, id := range a.FeedIDsToRemove {
		var idBuf [4]byte
		binary.BigEndian.PutUint32(idBuf[:], uint32(id))
		out = append(out, idBuf[:]...)
	}
	return out
}

// DeserializeFeedActions is SerializeFeedActions's inverse.
func DeserializeFeedActions(b []byte) (FeedActions, error) {
	if len(b) < 4 {
		return FeedActions{}, fmt.Errorf("ledger: truncated new_feeds count")
	}
	newCount := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	newFeeds := make([]feed.Config, 0, newCount)
	for i := uint32(0); i < newCount; i++ {
		cfg, rest, err := deserializeFeedConfig(b)
		if err != nil {
			return FeedActions{}, err
		}
		newFeeds = append(newFeeds, cfg)
		b = rest
	}

	if len(b) < 4 {
		return FeedActions{}, fmt.Errorf("ledger: truncated feed_ids_to_remove count")
	}
	delCount := binary.BigEndian.Uint32(b[:4])
	b = b[4:]

	ids := make([]oracle.FeedId, 0, delCount)
	for i := uint32(0); i < delCount; i++ {
		if len(b) < 4 {
			return FeedActions{}, fmt.Errorf("ledger: truncated feed id")
		}
		ids = append(ids, oracle.FeedId(binary.BigEndian.Uint32(b[:4])))
		b = b[4:]
	}

	return FeedActions{NewFeeds: newFeeds, FeedIDsToRemove: ids}, nil
}
