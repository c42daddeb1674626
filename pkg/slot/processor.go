package slot

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/aggregate"
	"github.com/blocksense-network/sequencer/pkg/history"
	"github.com/blocksense-network/sequencer/pkg/metrics"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/votestore"
)

// ReporterRoster answers how many reporters are currently eligible to vote
// on a feed, for the quorum computation.
type ReporterRoster interface {
	CountFor(feedID oracle.FeedId) int
}

// Sink receives committed updates for the block creator.
type Sink interface {
	PushUpdate(update oracle.VotedFeedUpdate)
}

// Processor is one feed's slot-close actor (§4.D): on every slot boundary it
// drains the vote store, aggregates, applies the skip-publish rule, and
// forwards survivors to a Sink.
type Processor struct {
	feedID  oracle.FeedId
	reg     *registry.Registry
	tracker *Tracker
	store   *votestore.Store
	roster  ReporterRoster
	hist    *history.History
	sink    Sink
	log     *zap.Logger

	mu            sync.Mutex
	lastPublishMS oracle.Timestamp
	everPublished bool

	quit chan struct{}
}

func NewProcessor(
	feedID oracle.FeedId,
	reg *registry.Registry,
	tracker *Tracker,
	store *votestore.Store,
	roster ReporterRoster,
	hist *history.History,
	sink Sink,
	log *zap.Logger,
) *Processor {
	return &Processor{
		feedID:  feedID,
		reg:     reg,
		tracker: tracker,
		store:   store,
		roster:  roster,
		hist:    hist,
		sink:    sink,
		log:     log,
		quit:    make(chan struct{}),
	}
}

// Run blocks, closing out one slot per iteration, until Terminate is called.
func (p *Processor) Run() {
	for {
		select {
		case <-p.quit:
			return
		default:
		}
		slot, ok := p.tracker.AwaitEndOfCurrentSlot(p.feedID)
		if !ok {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		p.closeSlot(slot)
	}
}

func (p *Processor) Terminate() { close(p.quit) }

// quorumReached implements §3: v >= ceil(quorum_percentage/100 * n), with
// zero reporters always failing quorum (Open Question 3).
func quorumReached(votes, reporters int, quorumPercentage float32) bool {
	if reporters == 0 {
		return false
	}
	required := math.Ceil(float64(quorumPercentage) / 100 * float64(reporters))
	return float64(votes) >= required
}

func (p *Processor) closeSlot(slot int64) {
	cfg, ok := p.reg.Get(p.feedID)
	if !ok {
		return
	}

	votes := p.store.Drain(p.feedID, slot)
	reporters := p.roster.CountFor(p.feedID)
	metrics.AggregatorInputSize.WithLabelValues(metrics.FeedLabel(uint32(p.feedID))).Observe(float64(len(votes)))

	// §4.D step 3: drop votes whose value-kind doesn't match the feed's
	// declared type before counting quorum or feeding the aggregator,
	// which otherwise either panics on or miscounts a mismatched kind.
	values := make([]oracle.FeedValue, 0, len(votes))
	for _, payload := range votes {
		if !payload.Result.IsOk() {
			continue
		}
		if payload.Result.Value.Kind != cfg.ValueType {
			metrics.VotesRejected.WithLabelValues(metrics.FeedLabel(uint32(p.feedID)), string(oracle.ErrValueTypeMismatch)).Inc()
			continue
		}
		values = append(values, payload.Result.Value)
	}

	if !quorumReached(len(values), reporters, cfg.QuorumPercentage) {
		metrics.QuorumFailures.WithLabelValues(metrics.FeedLabel(uint32(p.feedID))).Inc()
		return
	}
	if len(values) == 0 {
		metrics.QuorumFailures.WithLabelValues(metrics.FeedLabel(uint32(p.feedID))).Inc()
		return
	}

	candidate, err := aggregate.For(cfg.Aggregator).Aggregate(values)
	if err != nil {
		p.log.Warn("aggregation failed", zap.Uint32("feed_id", uint32(p.feedID)), zap.Error(err))
		return
	}

	_, _ = aggregate.AnomalyScore(p.hist.LastN(p.feedID, 200), candidate) // informational only

	_, end, _, _ := p.tracker.CurrentSlot(p.feedID, oracle.Now())
	endSlotTimestamp := end

	// "previous aggregate" is the ring's last entry BEFORE this slot's
	// candidate is pushed — distinct from the last entry actually emitted
	// to the block creator, which is tracked separately as lastPublishMS.
	previous, hasPrevious := p.hist.Last(p.feedID)
	p.hist.Push(p.feedID, history.Entry{Value: candidate, EndSlotTimestamp: endSlotTimestamp})

	if p.shouldSkipValue(cfg, candidate, previous.Value, hasPrevious) {
		metrics.SkippedPublish.WithLabelValues(metrics.FeedLabel(uint32(p.feedID))).Inc()
		return
	}

	p.sink.PushUpdate(oracle.VotedFeedUpdate{
		FeedID:           p.feedID,
		Value:            candidate,
		EndSlotTimestamp: endSlotTimestamp,
	})

	p.mu.Lock()
	p.lastPublishMS = oracle.Now()
	p.everPublished = true
	p.mu.Unlock()
}

// shouldSkipValue implements the skip-publish rule (§4.D step 8): suppress
// publication when the candidate deviates from the previous aggregate by
// less than skip_publish_if_less_then_percentage AND the heartbeat
// (measured from the last actual publish, not the last aggregation) hasn't
// elapsed.
func (p *Processor) shouldSkipValue(cfg feed.Config, candidate, previous oracle.FeedValue, hasPrevious bool) bool {
	if !hasPrevious {
		return false
	}
	if candidate.Kind != oracle.KindNumerical || previous.Kind != oracle.KindNumerical {
		return false
	}
	if previous.Numerical == 0 {
		return false
	}
	deviation := math.Abs((candidate.Numerical - previous.Numerical) / previous.Numerical * 100)
	if deviation >= float64(cfg.SkipPublishIfLessThenPercentage) {
		return false
	}

	if cfg.AlwaysPublishHeartbeatMS == nil {
		return true
	}

	p.mu.Lock()
	last := p.lastPublishMS
	everPublished := p.everPublished
	p.mu.Unlock()
	if !everPublished {
		return false
	}
	elapsed := int64(oracle.Now()) - int64(last)
	return elapsed < int64(*cfg.AlwaysPublishHeartbeatMS)
}
