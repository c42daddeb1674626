// Package votestore is the Vote Store (§4.B): per-feed map slot -> {reporter
// id -> signed result}, first-vote-wins admission.
package votestore

import (
	"sync"

	"github.com/blocksense-network/sequencer/pkg/oracle"
)

// RejectReason names why a vote was rejected (§4.B, §8 invariant 1).
type RejectReason string

const (
	RejectUnknownFeed     RejectReason = "UnknownFeed"
	RejectUnknownReporter RejectReason = "UnknownReporter"
	RejectBadSignature    RejectReason = "BadSignature"
	RejectStale           RejectReason = "Stale"
	RejectFuture          RejectReason = "Future"
	RejectDuplicate       RejectReason = "Duplicate"
)

// PushOutcome is the result of one Push call.
type PushOutcome struct {
	Accepted bool
	Reason   RejectReason
}

func accepted() PushOutcome              { return PushOutcome{Accepted: true} }
func rejected(r RejectReason) PushOutcome { return PushOutcome{Reason: r} }

// FeedLookup answers whether a feed id is registered.
type FeedLookup interface {
	Known(id oracle.FeedId) bool
}

// ReporterLookup answers whether a reporter id is configured and verifies a
// payload's signature against that reporter's registered public key.
type ReporterLookup interface {
	Known(id oracle.ReporterId) bool
	Verify(id oracle.ReporterId, payload oracle.DataFeedPayload) bool
}

// SlotResolver answers the [start, end) bounds and index of a feed's
// current slot, implemented by pkg/slot.Tracker.
type SlotResolver interface {
	CurrentSlot(feedID oracle.FeedId, now oracle.Timestamp) (start, end oracle.Timestamp, slot int64, ok bool)
}

type slotVotes map[oracle.ReporterId]oracle.DataFeedPayload

// Store is the Vote Store.
type Store struct {
	mu    sync.Mutex
	feeds FeedLookup
	reps  ReporterLookup
	slots SlotResolver
	votes map[oracle.FeedId]map[int64]slotVotes
}

func New(feeds FeedLookup, reps ReporterLookup, slots SlotResolver) *Store {
	return &Store{
		feeds: feeds,
		reps:  reps,
		slots: slots,
		votes: make(map[oracle.FeedId]map[int64]slotVotes),
	}
}

// Push admits or rejects a single signed report (§4.B, §8 invariant 1): a
// vote is accepted iff slot_start <= timestamp < slot_end for the feed's
// current slot AND no vote from that reporter has been accepted in this slot
// AND the signature verifies.
func (s *Store) Push(payload oracle.DataFeedPayload) PushOutcome {
	feedID := payload.Meta.FeedID
	reporterID := payload.Meta.ReporterID

	if !s.feeds.Known(feedID) {
		return rejected(RejectUnknownFeed)
	}
	if !s.reps.Known(reporterID) {
		return rejected(RejectUnknownReporter)
	}

	start, end, slot, ok := s.slots.CurrentSlot(feedID, oracle.Now())
	if !ok {
		return rejected(RejectUnknownFeed)
	}
	if payload.Meta.Timestamp < start {
		return rejected(RejectStale)
	}
	if payload.Meta.Timestamp >= end {
		return rejected(RejectFuture)
	}
	if !s.reps.Verify(reporterID, payload) {
		return rejected(RejectBadSignature)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bySlot, ok := s.votes[feedID]
	if !ok {
		bySlot = make(map[int64]slotVotes)
		s.votes[feedID] = bySlot
	}
	votes, ok := bySlot[slot]
	if !ok {
		votes = make(slotVotes)
		bySlot[slot] = votes
	}
	// First store wins: the mutex above serializes concurrent pushes for the
	// same (feed, slot, reporter), and this existence check makes every
	// later push for that key a Duplicate rejection.
	if _, exists := votes[reporterID]; exists {
		return rejected(RejectDuplicate)
	}
	votes[reporterID] = payload
	return accepted()
}

// Drain returns and clears the accumulated votes for (feed, slot).
func (s *Store) Drain(feedID oracle.FeedId, slot int64) map[oracle.ReporterId]oracle.DataFeedPayload {
	s.mu.Lock()
	defer s.mu.Unlock()

	bySlot, ok := s.votes[feedID]
	if !ok {
		return nil
	}
	votes, ok := bySlot[slot]
	if !ok {
		return nil
	}
	delete(bySlot, slot)
	return votes
}
