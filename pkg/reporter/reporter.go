package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
	"github.com/blocksense-network/sequencer/pkg/metrics"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// Component is one configured oracle-script component (§4.J step 1-2).
type Component struct {
	Name         string
	Interval     time.Duration
	DataFeeds    []feed.Config
	Capabilities Capabilities
	Invoker      Invoker
}

// Config is the reporter's own identity and wiring.
type Config struct {
	ReporterID      oracle.ReporterId
	Signer          *sequencercrypto.Signer
	SequencerBaseURL string
	HTTPClient      *http.Client
	Log             *zap.Logger
}

// Reporter runs one interval-scheduled tick loop per configured component
// and keeps a local cache of each feed's latest successfully posted vote,
// consulted by the second-round tolerance check (§4.J steps 3-4).
type Reporter struct {
	cfg        Config
	components []Component

	mu          sync.RWMutex
	latestVotes map[oracle.FeedId]oracle.FeedValue
}

func New(cfg Config, components []Component) *Reporter {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Reporter{
		cfg:         cfg,
		components:  components,
		latestVotes: make(map[oracle.FeedId]oracle.FeedValue),
	}
}

// Run starts one goroutine per component and blocks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range r.components {
		wg.Add(1)
		go func(c Component) {
			defer wg.Done()
			r.runComponent(ctx, c)
		}(c)
	}
	wg.Wait()
}

func (r *Reporter) runComponent(ctx context.Context, c Component) {
	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.tick(ctx, c)
		}
	}
}

func (r *Reporter) tick(ctx context.Context, c Component) {
	start := time.Now()
	payload, err := c.Invoker.Invoke(ctx, c.DataFeeds, c.Capabilities)
	metrics.ReporterInvokeDuration.WithLabelValues(c.Name).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.ReporterInvokeFailures.WithLabelValues(c.Name).Inc()
		r.cfg.Log.Warn("reporter: component invocation failed", zap.String("component", c.Name), zap.Error(err))
		return
	}

	now := oracle.Now()
	batch := make([]oracle.DataFeedPayload, 0, len(payload.Values))
	for _, v := range payload.Values {
		msg := oracle.SigningMessage(v.ID, now, v.Value)
		sig, err := r.cfg.Signer.SignMessage(msg)
		if err != nil {
			r.cfg.Log.Warn("reporter: sign failed", zap.String("component", c.Name), zap.Uint32("feed_id", uint32(v.ID)), zap.Error(err))
			continue
		}
		batch = append(batch, oracle.DataFeedPayload{
			Meta: oracle.PayloadMetaData{
				ReporterID: r.cfg.ReporterID,
				FeedID:     v.ID,
				Timestamp:  now,
			},
			Result:    oracle.OkResult(v.Value),
			Signature: sig,
		})
	}
	if len(batch) == 0 {
		return
	}

	if err := r.postBatch(ctx, batch); err != nil {
		r.cfg.Log.Warn("reporter: post_reports_batch failed", zap.String("component", c.Name), zap.Error(err))
		return
	}

	r.mu.Lock()
	for _, v := range payload.Values {
		r.latestVotes[v.ID] = v.Value
	}
	r.mu.Unlock()
}

func (r *Reporter) postBatch(ctx context.Context, batch []oracle.DataFeedPayload) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("reporter: marshal batch: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.cfg.SequencerBaseURL+"/post_reports_batch", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("reporter: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.cfg.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("reporter: send batch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("reporter: sequencer rejected batch: status %d", resp.StatusCode)
	}
	return nil
}

// LatestVote returns the reporter's own last successfully posted value for
// feedID, used by the second-round tolerance check.
func (r *Reporter) LatestVote(feedID oracle.FeedId) (oracle.FeedValue, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.latestVotes[feedID]
	return v, ok
}
