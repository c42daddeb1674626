// Package reporter is the Reporter Loop (§4.J): it ticks each configured
// oracle-script component on its own interval, signs and batches the
// resulting values to the sequencer's HTTP ingest, and co-signs second-round
// Safe batches after independently re-verifying them.
package reporter

import (
	"context"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// ValueUpdate is one value an oracle-script component reported for a feed.
type ValueUpdate struct {
	ID    oracle.FeedId
	Value oracle.FeedValue
}

// Payload is an invocation's result (§4.J step 2: "Payload { values: [...] }").
type Payload struct {
	Values []ValueUpdate
}

// Capabilities names the side-effecting resources an invocation is allowed
// to use (network fetch, a exchange API key, ...); the shape is
// component-specific so it is carried as an opaque string map.
type Capabilities map[string]string

// Invoker is the contract an oracle-script component implements
// (`handle_oracle_request` in the original): given the feeds it's
// responsible for and its capabilities, it returns freshly observed values.
type Invoker interface {
	Invoke(ctx context.Context, dataFeeds []feed.Config, capabilities Capabilities) (Payload, error)
}
