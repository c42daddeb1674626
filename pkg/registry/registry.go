// Package registry is the Feed Registry (§4.A): an in-memory feed id ->
// metadata table with hot add/remove, modeled after the teacher's
// MarketRegistry (RWMutex-guarded map, copy-out-on-read).
package registry

import (
	"errors"
	"sync"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

var (
	ErrAlreadyRegistered = errors.New("feed already registered with a conflicting config")
	ErrNotFound          = errors.New("feed not found")
)

// Registry is the linearizable feed id -> FeedConfig table.
type Registry struct {
	mu    sync.RWMutex
	feeds map[oracle.FeedId]feed.Config
}

func New() *Registry {
	return &Registry{feeds: make(map[oracle.FeedId]feed.Config)}
}

// Register is idempotent on (id, config) equality; a conflicting
// re-registration of an existing id fails with ErrAlreadyRegistered.
func (r *Registry) Register(cfg feed.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if existing, ok := r.feeds[cfg.ID]; ok {
		if existing.Equal(cfg) {
			return nil
		}
		return ErrAlreadyRegistered
	}
	r.feeds[cfg.ID] = cfg
	return nil
}

// Remove deletes a feed; fails with ErrNotFound if absent.
func (r *Registry) Remove(id oracle.FeedId) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.feeds[id]; !ok {
		return ErrNotFound
	}
	delete(r.feeds, id)
	return nil
}

// Get returns a read-only snapshot of one feed's config.
func (r *Registry) Get(id oracle.FeedId) (feed.Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.feeds[id]
	return cfg, ok
}

// Known implements votestore.FeedLookup.
func (r *Registry) Known(id oracle.FeedId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.feeds[id]
	return ok
}

// Keys returns every registered feed id.
func (r *Registry) Keys() []oracle.FeedId {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]oracle.FeedId, 0, len(r.feeds))
	for id := range r.feeds {
		keys = append(keys, id)
	}
	return keys
}

// Snapshot returns a consistent point-in-time copy of the whole registry, so
// a multi-feed operation (a slot computation, the ADFS encoder) sees one
// coherent view for its whole duration.
func (r *Registry) Snapshot() map[oracle.FeedId]feed.Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[oracle.FeedId]feed.Config, len(r.feeds))
	for id, cfg := range r.feeds {
		out[id] = cfg
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.feeds)
}
