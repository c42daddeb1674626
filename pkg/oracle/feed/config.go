// Package feed holds FeedConfig, the Feed Registry's entity type.
package feed

import (
	"fmt"
	"time"

	"github.com/blocksense-network/sequencer/pkg/oracle"
)

// AggregatorKind is the closed sum type of supported aggregators.
type AggregatorKind string

const (
	Average      AggregatorKind = "Average"
	Median       AggregatorKind = "Median"
	MajorityVote AggregatorKind = "MajorityVote"
)

const maxHeartbeatMS = uint64(24 * 60 * 60 * 1000)

// Config is a registered feed's metadata (§3 FeedConfig).
type Config struct {
	ID                              oracle.FeedId
	Name                            string
	Description                     string
	ValueType                       oracle.FeedValueKind
	Aggregator                      AggregatorKind
	Decimals                        uint8
	Stride                          uint8 // 0..=7; record width = 32 * 2^stride bytes
	ReportIntervalMS                uint64
	FirstReportStartTime            time.Time
	QuorumPercentage                float32 // 0..=100
	SkipPublishIfLessThenPercentage float32 // 0..=100
	AlwaysPublishHeartbeatMS        *uint64 // optional, <= 24h
	Resources                       map[string]string
}

// Validate enforces §3's invariants; callers treat a violation as fatal at
// load time.
func (c Config) Validate() error {
	if c.ReportIntervalMS == 0 {
		return fmt.Errorf("feed %d: report_interval_ms must be > 0", c.ID)
	}
	if c.Stride > 7 {
		return fmt.Errorf("feed %d: stride must be 0..=7, got %d", c.ID, c.Stride)
	}
	if c.QuorumPercentage < 0 || c.QuorumPercentage > 100 {
		return fmt.Errorf("feed %d: quorum_percentage must be 0..=100, got %v", c.ID, c.QuorumPercentage)
	}
	if c.SkipPublishIfLessThenPercentage < 0 || c.SkipPublishIfLessThenPercentage > 100 {
		return fmt.Errorf("feed %d: skip_publish_if_less_then_percentage must be 0..=100", c.ID)
	}
	if c.AlwaysPublishHeartbeatMS != nil && *c.AlwaysPublishHeartbeatMS > maxHeartbeatMS {
		return fmt.Errorf("feed %d: always_publish_heartbeat_ms must be <= 24h", c.ID)
	}
	switch c.Aggregator {
	case Average, Median, MajorityVote:
	default:
		return fmt.Errorf("feed %d: unknown aggregator kind %q", c.ID, c.Aggregator)
	}
	return nil
}

// RecordWidth is the ADFS record width in bytes: 32 * 2^stride.
func (c Config) RecordWidth() int {
	return 32 << c.Stride
}

// Equal compares the fields that govern aggregation and publishing (ID, Name,
// ValueType, Aggregator, Decimals, Stride, ReportIntervalMS, the two
// percentages and the heartbeat), used by the registry's idempotent
// re-registration check. Description, FirstReportStartTime and Resources are
// not compared.
func (c Config) Equal(other Config) bool {
	if c.AlwaysPublishHeartbeatMS == nil || other.AlwaysPublishHeartbeatMS == nil {
		if c.AlwaysPublishHeartbeatMS != other.AlwaysPublishHeartbeatMS {
			return false
		}
	} else if *c.AlwaysPublishHeartbeatMS != *other.AlwaysPublishHeartbeatMS {
		return false
	}
	return c.ID == other.ID &&
		c.Name == other.Name &&
		c.ValueType == other.ValueType &&
		c.Aggregator == other.Aggregator &&
		c.Decimals == other.Decimals &&
		c.Stride == other.Stride &&
		c.ReportIntervalMS == other.ReportIntervalMS &&
		c.QuorumPercentage == other.QuorumPercentage &&
		c.SkipPublishIfLessThenPercentage == other.SkipPublishIfLessThenPercentage
}
