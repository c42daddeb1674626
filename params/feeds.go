package params

import (
	"fmt"
	"time"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// FeedsConfigEntry is one entry of feeds_config.json, the on-disk mirror of
// feed.Config (§3 FeedConfig, §6).
type FeedsConfigEntry struct {
	ID                              uint32            `json:"id"`
	Name                            string            `json:"name"`
	Description                     string            `json:"description"`
	ValueType                       string            `json:"value_type"`
	Aggregator                      string            `json:"aggregator"`
	Decimals                        uint8             `json:"decimals"`
	Stride                          uint8             `json:"stride"`
	ReportIntervalMS                uint64            `json:"report_interval_ms"`
	FirstReportStartTime            int64             `json:"first_report_start_time_ms"`
	QuorumPercentage                float32           `json:"quorum_percentage"`
	SkipPublishIfLessThenPercentage float32           `json:"skip_publish_if_less_then_percentage"`
	AlwaysPublishHeartbeatMS        *uint64           `json:"always_publish_heartbeat_ms,omitempty"`
	Resources                       map[string]string `json:"resources,omitempty"`
}

func parseValueKind(s string) (oracle.FeedValueKind, error) {
	switch s {
	case "", "Numerical":
		return oracle.KindNumerical, nil
	case "Text":
		return oracle.KindText, nil
	case "Bytes":
		return oracle.KindBytes, nil
	default:
		return 0, fmt.Errorf("unknown value_type %q", s)
	}
}

// ToFeedConfig converts a disk entry into the registry's in-memory Config,
// validating it in the process (§3: "invariants validated at load time;
// violations are fatal").
func (e FeedsConfigEntry) ToFeedConfig() (feed.Config, error) {
	kind, err := parseValueKind(e.ValueType)
	if err != nil {
		return feed.Config{}, fmt.Errorf("feed %d: %w", e.ID, err)
	}

	cfg := feed.Config{
		ID:                              oracle.FeedId(e.ID),
		Name:                            e.Name,
		Description:                     e.Description,
		ValueType:                       kind,
		Aggregator:                      feed.AggregatorKind(e.Aggregator),
		Decimals:                        e.Decimals,
		Stride:                          e.Stride,
		ReportIntervalMS:                e.ReportIntervalMS,
		FirstReportStartTime:            time.UnixMilli(e.FirstReportStartTime),
		QuorumPercentage:                e.QuorumPercentage,
		SkipPublishIfLessThenPercentage: e.SkipPublishIfLessThenPercentage,
		AlwaysPublishHeartbeatMS:        e.AlwaysPublishHeartbeatMS,
		Resources:                       e.Resources,
	}
	if err := cfg.Validate(); err != nil {
		return feed.Config{}, err
	}
	return cfg, nil
}
