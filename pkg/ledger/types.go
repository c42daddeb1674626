// Package ledger is the Block DB (§3 Block, §4.F): the sequencer's own
// append-only chain, distinct from any external blockchain it publishes to.
// A block's payload records feed-registry membership changes only — value
// updates are committed by their merkle root and forwarded to publishers
// over a separate channel, never stored in the chain itself. Header hashing
// follows the teacher's consensus.HashOfBlock style: a fixed field layout
// concatenated big-endian and hashed with sha256.
package ledger

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// Hash is a 32-byte block or merkle-root digest.
type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }

// GenesisPrevHash is the fixed prev_block_hash constant for the first block
// (height 1), per §3.
var GenesisPrevHash Hash

// MaxNewFeedsPerBlock and MaxFeedIDsToRemovePerBlock bound FeedActions, per
// §3: "FeedActions { new_feeds[≤64], feed_ids_to_remove[≤64] }".
const (
	MaxNewFeedsPerBlock        = 64
	MaxFeedIDsToRemovePerBlock = 64
)

// FeedActions is one block's payload: feed-registry membership changes
// committed alongside that block, not the feed values voted on in it.
type FeedActions struct {
	NewFeeds        []feed.Config
	FeedIDsToRemove []oracle.FeedId
}

// Header is a block's fixed-width metadata, everything that is hashed.
type Header struct {
	IssuerID              string
	BlockHeight           uint64 // strictly increasing from 1
	PrevBlockHash         Hash
	FeedUpdatesMerkleRoot Hash
	TimestampMS           oracle.Timestamp
}

// Block is one entry of the internal chain.
type Block struct {
	Header  Header
	Actions FeedActions
}

// MerkleRootOfUpdates commits a block's concurrent feed-value updates into a
// single root (§3 feed_updates_merkle_root). The values themselves are never
// stored in FeedActions; only this digest is, so the chain can still attest
// to exactly which updates were issued alongside it. Update count is
// typically small (one per feed per slot window), so a simple sequential
// sha256 fold is used rather than a full tree.
func MerkleRootOfUpdates(updates []oracle.VotedFeedUpdate) Hash {
	h := sha256.New()
	for _, u := range updates {
		var feedID [4]byte
		binary.BigEndian.PutUint32(feedID[:], uint32(u.FeedID))
		h.Write(feedID[:])

		var ts [8]byte
		binary.BigEndian.PutUint64(ts[:], uint64(u.EndSlotTimestamp))
		h.Write(ts[:])

		h.Write([]byte(u.Value.String()))
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

// HeaderHash hashes a header's fixed fields, in field order. A block's
// prev_block_hash is the HeaderHash of its parent (§3: "prev hash = merkle
// root of previous header").
func HeaderHash(hdr Header) Hash {
	h := sha256.New()

	h.Write([]byte(hdr.IssuerID))

	var height [8]byte
	binary.BigEndian.PutUint64(height[:], hdr.BlockHeight)
	h.Write(height[:])

	h.Write(hdr.PrevBlockHash[:])
	h.Write(hdr.FeedUpdatesMerkleRoot[:])

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(hdr.TimestampMS))
	h.Write(ts[:])

	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}
