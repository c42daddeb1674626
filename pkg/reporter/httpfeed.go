package reporter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// HTTPInvoker is a built-in oracle-script component: one GET request per
// feed against the URL in its Resources["url"] entry, expecting a JSON body
// shaped {"price": <number>} — the Go-idiomatic stand-in for the
// crypto-price-feeds component's per-exchange fetch-then-VWAP pipeline
// (original_source's fetch_prices.rs/vwap.rs); cross-exchange VWAP already
// has no counterpart here since aggregation across reporters happens in
// pkg/aggregate, so a single source per feed is all this component needs to
// supply.
type HTTPInvoker struct {
	Client *http.Client
}

func NewHTTPInvoker() *HTTPInvoker {
	return &HTTPInvoker{Client: &http.Client{Timeout: 5 * time.Second}}
}

type priceResponse struct {
	Price float64 `json:"price"`
}

func (h *HTTPInvoker) Invoke(ctx context.Context, dataFeeds []feed.Config, capabilities Capabilities) (Payload, error) {
	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		values  []ValueUpdate
		firstErr error
	)

	for _, df := range dataFeeds {
		url, ok := df.Resources["url"]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(id oracle.FeedId, url string) {
			defer wg.Done()
			v, err := h.fetchOne(ctx, url, capabilities)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("feed %d: %w", id, err)
				}
				return
			}
			values = append(values, ValueUpdate{ID: id, Value: v})
		}(df.ID, url)
	}
	wg.Wait()

	if len(values) == 0 && firstErr != nil {
		return Payload{}, firstErr
	}
	return Payload{Values: values}, nil
}

func (h *HTTPInvoker) fetchOne(ctx context.Context, url string, capabilities Capabilities) (oracle.FeedValue, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return oracle.FeedValue{}, err
	}
	if apiKey, ok := capabilities["api_key"]; ok {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return oracle.FeedValue{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return oracle.FeedValue{}, fmt.Errorf("status %d", resp.StatusCode)
	}

	var body priceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return oracle.FeedValue{}, fmt.Errorf("decode response: %w", err)
	}
	return oracle.NumericalValue(body.Price), nil
}
