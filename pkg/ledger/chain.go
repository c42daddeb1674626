package ledger

import (
	"fmt"
	"sync"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// Backend persists blocks beyond process lifetime; PebbleBackend is the
// concrete implementation, a nil Backend means in-memory only.
type Backend interface {
	SaveBlock(b Block) error
	LoadAll() ([]Block, error)
}

// Chain is the in-process view of the internal chain: height-sequential,
// parent-hash-linked blocks, optionally mirrored to a Backend.
type Chain struct {
	mu      sync.RWMutex
	blocks  []Block
	backend Backend
}

// New creates an empty chain, or replays one from backend if given.
func New(backend Backend) (*Chain, error) {
	c := &Chain{backend: backend}
	if backend == nil {
		return c, nil
	}
	existing, err := backend.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("ledger: replay from backend: %w", err)
	}
	c.blocks = existing
	return c, nil
}

// CreateAndAppendBlock builds and appends the next block (§4.E/§4.F):
// block_height = parent height + 1 (1 for genesis), prev_block_hash = the
// HeaderHash of the parent header (GenesisPrevHash for the first block).
// newFeeds and removedIDs become the block's FeedActions; updatesMerkleRoot
// commits the value updates issued alongside it, without storing them.
func (c *Chain) CreateAndAppendBlock(issuerID string, newFeeds []feed.Config, removedIDs []oracle.FeedId, updatesMerkleRoot Hash, now oracle.Timestamp) (Block, error) {
	if len(newFeeds) > MaxNewFeedsPerBlock {
		return Block{}, oracle.NewFeedError(oracle.ErrBlockInvariantViolation,
			fmt.Sprintf("new_feeds exceeds %d entries", MaxNewFeedsPerBlock))
	}
	if len(removedIDs) > MaxFeedIDsToRemovePerBlock {
		return Block{}, oracle.NewFeedError(oracle.ErrBlockInvariantViolation,
			fmt.Sprintf("feed_ids_to_remove exceeds %d entries", MaxFeedIDsToRemovePerBlock))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	height := uint64(1)
	prevHash := GenesisPrevHash
	if n := len(c.blocks); n > 0 {
		parent := c.blocks[n-1]
		height = parent.Header.BlockHeight + 1
		prevHash = HeaderHash(parent.Header)
	}

	hdr := Header{
		IssuerID:              issuerID,
		BlockHeight:           height,
		PrevBlockHash:         prevHash,
		FeedUpdatesMerkleRoot: updatesMerkleRoot,
		TimestampMS:           now,
	}
	block := Block{
		Header: hdr,
		Actions: FeedActions{
			NewFeeds:        newFeeds,
			FeedIDsToRemove: removedIDs,
		},
	}

	if err := c.appendLocked(block); err != nil {
		return Block{}, err
	}
	return block, nil
}

// AddNextBlock appends a block received from elsewhere (e.g. a bus
// subscriber replicating another sequencer's chain), validating height and
// parent linkage (§8 invariant: block chain is append-only and
// height-sequential).
func (c *Chain) AddNextBlock(b Block) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.appendLocked(b)
}

func (c *Chain) appendLocked(b Block) error {
	n := len(c.blocks)
	if n == 0 {
		if b.Header.BlockHeight != 1 {
			return oracle.NewFeedError(oracle.ErrBlockInvariantViolation,
				fmt.Sprintf("genesis block must have height 1, got %d", b.Header.BlockHeight))
		}
		if b.Header.PrevBlockHash != GenesisPrevHash {
			return oracle.NewFeedError(oracle.ErrBlockInvariantViolation, "genesis block must carry the fixed prev_block_hash constant")
		}
	} else {
		parent := c.blocks[n-1]
		if b.Header.BlockHeight != parent.Header.BlockHeight+1 {
			return oracle.NewFeedError(oracle.ErrBlockInvariantViolation,
				fmt.Sprintf("expected height %d, got %d", parent.Header.BlockHeight+1, b.Header.BlockHeight))
		}
		if b.Header.PrevBlockHash != HeaderHash(parent.Header) {
			return oracle.NewFeedError(oracle.ErrBlockInvariantViolation, "prev_block_hash does not match parent header hash")
		}
	}

	if c.backend != nil {
		if err := c.backend.SaveBlock(b); err != nil {
			return fmt.Errorf("ledger: persist block %d: %w", b.Header.BlockHeight, err)
		}
	}
	c.blocks = append(c.blocks, b)
	return nil
}

func (c *Chain) LatestBlockHeight() (uint64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return 0, false
	}
	return c.blocks[len(c.blocks)-1].Header.BlockHeight, true
}

func (c *Chain) HeaderByHeight(height uint64) (Header, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks {
		if b.Header.BlockHeight == height {
			return b.Header, true
		}
	}
	return Header{}, false
}

func (c *Chain) BlockByHeight(height uint64) (Block, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, b := range c.blocks {
		if b.Header.BlockHeight == height {
			return b, true
		}
	}
	return Block{}, false
}
