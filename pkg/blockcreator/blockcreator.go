// Package blockcreator is the Block Creator (§4.E): a single actor with
// three inputs — a block-period timer, the aggregated_updates channel fed by
// every feed processor, and the feed_management_cmd channel fed by the
// registry's admin surface. It buffers both kinds of input, cuts a block on
// each tick (or an explicit Flush), appends it to the internal chain, applies
// feed-management commands to the live registry, and hands value-updates to
// publishers — dropping under sustained backpressure rather than growing
// memory without bound.
package blockcreator

import (
	"time"

	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/ledger"
	"github.com/blocksense-network/sequencer/pkg/metrics"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// AssetUpdatesInBlock is the hard cap on a single block's value-update
// commitment, regardless of a configured max_feed_updates_to_batch (§4.E:
// "further capped by hard max ASSET_UPDATES_IN_BLOCK").
const AssetUpdatesInBlock = 4096

// maxBacklogUpdates bounds the VecDeque overflow queue for value-updates that
// arrive once the current block's updates buffer is full (§4.E, §9 Open
// Question 2).
const maxBacklogUpdates = 16384

// maxOutBuffer bounds how many not-yet-consumed BatchedUpdate/block values
// this actor queues for its downstream readers before dropping new ones.
const maxOutBuffer = 4

// Registry is the subset of registry.Registry the Block Creator applies
// feed-management commands to once their block has been appended.
type Registry interface {
	Register(cfg feed.Config) error
	Remove(id oracle.FeedId) error
}

// ManagementCommand controls the actor's own lifecycle.
type ManagementCommand int

const (
	CmdTerminate ManagementCommand = iota
	CmdFlush
)

// FeedCommandKind distinguishes the two feed-management operations a block
// may carry (§3: "FeedActions { new_feeds[≤64], feed_ids_to_remove[≤64] }").
type FeedCommandKind int

const (
	FeedCommandAdd FeedCommandKind = iota
	FeedCommandRemove
)

// FeedCommand is one feed-registry membership change, submitted over the
// feed_management_cmd channel.
type FeedCommand struct {
	Kind     FeedCommandKind
	NewFeed  feed.Config
	RemoveID oracle.FeedId
}

// BatchedUpdate is one block's worth of value-updates, handed to publishers
// (§4.G input: "BatchedAggregates { block_height, updates[] }").
type BatchedUpdate struct {
	BlockHeight uint64
	Updates     []oracle.VotedFeedUpdate
}

// Creator accumulates updates and feed-management commands, and cuts a new
// block on each tick or Flush.
type Creator struct {
	chain    *ledger.Chain
	reg      Registry
	issuerID string
	log      *zap.Logger
	tickerMS time.Duration

	updates  chan oracle.VotedFeedUpdate
	feedCmds chan FeedCommand
	cmds     chan ManagementCommand
	out      chan BatchedUpdate
	blocks   chan ledger.Block

	pending         []oracle.VotedFeedUpdate
	backlog         []oracle.VotedFeedUpdate
	newFeeds        []feed.Config
	feedIDsToDelete []oracle.FeedId

	maxFeedUpdatesToBatch int
}

// New builds a Creator. maxFeedUpdatesToBatch is clamped to
// AssetUpdatesInBlock if it exceeds it.
func New(chain *ledger.Chain, reg Registry, issuerID string, log *zap.Logger, tick time.Duration, maxFeedUpdatesToBatch int) *Creator {
	if maxFeedUpdatesToBatch <= 0 || maxFeedUpdatesToBatch > AssetUpdatesInBlock {
		if maxFeedUpdatesToBatch > AssetUpdatesInBlock {
			log.Warn("max_feed_updates_to_batch above hard cap, reducing",
				zap.Int("configured", maxFeedUpdatesToBatch), zap.Int("cap", AssetUpdatesInBlock))
		}
		maxFeedUpdatesToBatch = AssetUpdatesInBlock
	}
	return &Creator{
		chain:                 chain,
		reg:                   reg,
		issuerID:              issuerID,
		log:                   log,
		tickerMS:              tick,
		updates:               make(chan oracle.VotedFeedUpdate, 4096),
		feedCmds:              make(chan FeedCommand, 64),
		cmds:                  make(chan ManagementCommand),
		out:                   make(chan BatchedUpdate, maxOutBuffer),
		blocks:                make(chan ledger.Block, maxOutBuffer),
		maxFeedUpdatesToBatch: maxFeedUpdatesToBatch,
	}
}

// PushUpdate implements slot.Sink; feed processors call this from their own
// goroutines.
func (c *Creator) PushUpdate(update oracle.VotedFeedUpdate) {
	c.updates <- update
}

// SubmitFeedCommand queues a feed-registry membership change to be included
// in the next block and, once appended, applied to the live registry.
func (c *Creator) SubmitFeedCommand(cmd FeedCommand) {
	c.feedCmds <- cmd
}

func (c *Creator) Terminate() { c.cmds <- CmdTerminate }
func (c *Creator) Flush()     { c.cmds <- CmdFlush }

// Out is the channel publishers subscribe to for value-updates.
func (c *Creator) Out() <-chan BatchedUpdate { return c.out }

// Blocks is the channel the block-bus publisher subscribes to for
// broadcasting headers and feed actions (§6 block bus message).
func (c *Creator) Blocks() <-chan ledger.Block { return c.blocks }

// Run is the actor loop: accumulate updates and feed commands, cut a block on
// every tick (or on an explicit Flush), stop on Terminate.
func (c *Creator) Run() {
	ticker := time.NewTicker(c.tickerMS)
	defer ticker.Stop()

	for {
		select {
		case u := <-c.updates:
			c.enqueueUpdate(u)

		case fc := <-c.feedCmds:
			c.enqueueFeedCommand(fc)

		case cmd := <-c.cmds:
			switch cmd {
			case CmdTerminate:
				return
			case CmdFlush:
				c.cutBlock()
			}

		case <-ticker.C:
			c.cutBlock()
		}
	}
}

func (c *Creator) enqueueUpdate(u oracle.VotedFeedUpdate) {
	if len(c.pending) < c.maxFeedUpdatesToBatch {
		c.pending = append(c.pending, u)
		return
	}
	if len(c.backlog) >= maxBacklogUpdates {
		metrics.BacklogOverflow.WithLabelValues("updates").Inc()
		c.log.Warn("value-update backlog full, dropping update", zap.Uint32("feed_id", uint32(u.FeedID)))
		return
	}
	c.backlog = append(c.backlog, u)
}

func (c *Creator) enqueueFeedCommand(fc FeedCommand) {
	switch fc.Kind {
	case FeedCommandAdd:
		if len(c.newFeeds) >= ledger.MaxNewFeedsPerBlock {
			c.log.Warn("new_feeds buffer full, dropping feed registration", zap.Uint32("feed_id", uint32(fc.NewFeed.ID)))
			return
		}
		c.newFeeds = append(c.newFeeds, fc.NewFeed)
	case FeedCommandRemove:
		if len(c.feedIDsToDelete) >= ledger.MaxFeedIDsToRemovePerBlock {
			c.log.Warn("feed_ids_to_remove buffer full, dropping feed removal", zap.Uint32("feed_id", uint32(fc.RemoveID)))
			return
		}
		c.feedIDsToDelete = append(c.feedIDsToDelete, fc.RemoveID)
	}
}

func (c *Creator) cutBlock() {
	if len(c.pending) == 0 && len(c.newFeeds) == 0 && len(c.feedIDsToDelete) == 0 {
		return
	}
	updates := c.pending
	newFeeds := c.newFeeds
	removedIDs := c.feedIDsToDelete
	c.pending = nil
	c.newFeeds = nil
	c.feedIDsToDelete = nil

	root := ledger.MerkleRootOfUpdates(updates)
	block, err := c.chain.CreateAndAppendBlock(c.issuerID, newFeeds, removedIDs, root, oracle.Now())
	if err != nil {
		c.log.Error("block creation failed", zap.Error(err))
		return
	}
	metrics.BlocksCreated.Inc()

	c.applyFeedCommands(newFeeds, removedIDs)
	c.refillFromBacklog()

	select {
	case c.blocks <- block:
	default:
		metrics.BacklogOverflow.WithLabelValues("blocks").Inc()
		c.log.Warn("block bus backlog full, dropping block", zap.Uint64("height", block.Header.BlockHeight))
	}

	if len(updates) == 0 {
		return
	}
	select {
	case c.out <- BatchedUpdate{BlockHeight: block.Header.BlockHeight, Updates: updates}:
	default:
		metrics.BacklogOverflow.WithLabelValues("internal").Inc()
		c.log.Warn("block creator backlog full, dropping batch", zap.Uint64("height", block.Header.BlockHeight))
	}
}

// applyFeedCommands pushes a successfully-appended block's membership
// changes into the live registry (§4.E: "forward feed-management commands to
// the registry").
func (c *Creator) applyFeedCommands(newFeeds []feed.Config, removedIDs []oracle.FeedId) {
	for _, cfg := range newFeeds {
		if err := c.reg.Register(cfg); err != nil {
			c.log.Error("registry rejected new feed from appended block", zap.Uint32("feed_id", uint32(cfg.ID)), zap.Error(err))
		}
	}
	for _, id := range removedIDs {
		if err := c.reg.Remove(id); err != nil {
			c.log.Error("registry rejected feed removal from appended block", zap.Uint32("feed_id", uint32(id)), zap.Error(err))
		}
	}
}

func (c *Creator) refillFromBacklog() {
	if len(c.backlog) == 0 {
		return
	}
	room := c.maxFeedUpdatesToBatch - len(c.pending)
	if room <= 0 {
		return
	}
	if room > len(c.backlog) {
		room = len(c.backlog)
	}
	c.pending = append(c.pending, c.backlog[:room]...)
	c.backlog = c.backlog[room:]
}
