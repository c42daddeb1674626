// Package aggregate implements the three feed aggregators (§3 Aggregator,
// §4.D step 5), ported from original_source/libs/feed_registry/src/aggregate.rs.
package aggregate

import (
	"sort"

	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
)

// Aggregator reduces a slot's accepted votes to a single value.
type Aggregator interface {
	Aggregate(values []oracle.FeedValue) (oracle.FeedValue, error)
}

// For selects the aggregator implementation named by kind.
func For(kind feed.AggregatorKind) Aggregator {
	switch kind {
	case feed.Median:
		return medianAggregator{}
	case feed.MajorityVote:
		return majorityVoteAggregator{}
	default:
		return averageAggregator{}
	}
}

type averageAggregator struct{}

// Aggregate computes the arithmetic mean. Matching the Rust source, the
// divisor is the total number of input values, not just the ones that were
// numerical — a vote of the wrong kind contributes 0 to the sum but still
// counts toward the divisor.
func (averageAggregator) Aggregate(values []oracle.FeedValue) (oracle.FeedValue, error) {
	if len(values) == 0 {
		return oracle.FeedValue{}, oracle.NewFeedError(oracle.ErrAggregatorInput, "no values to average")
	}
	var sum float64
	for _, v := range values {
		if v.Kind == oracle.KindNumerical {
			sum += v.Numerical
		}
	}
	return oracle.NumericalValue(sum / float64(len(values))), nil
}

type medianAggregator struct{}

func (medianAggregator) Aggregate(values []oracle.FeedValue) (oracle.FeedValue, error) {
	if len(values) == 0 {
		return oracle.FeedValue{}, oracle.NewFeedError(oracle.ErrAggregatorInput, "no values to take the median of")
	}
	nums := make([]float64, 0, len(values))
	for _, v := range values {
		if v.Kind == oracle.KindNumerical {
			nums = append(nums, v.Numerical)
		}
	}
	if len(nums) == 0 {
		return oracle.FeedValue{}, oracle.NewFeedError(oracle.ErrAggregatorInput, "no numerical values to take the median of")
	}
	sort.Float64s(nums)
	mid := len(nums) / 2
	if len(nums)%2 == 1 {
		return oracle.NumericalValue(nums[mid]), nil
	}
	return oracle.NumericalValue((nums[mid-1] + nums[mid]) / 2), nil
}

type majorityVoteAggregator struct{}

// Aggregate returns the most frequent Text value. Ties are broken by first
// appearance, a deliberate departure from the Rust source's HashMap-order
// tie-break (which is effectively arbitrary).
func (majorityVoteAggregator) Aggregate(values []oracle.FeedValue) (oracle.FeedValue, error) {
	if len(values) == 0 {
		return oracle.FeedValue{}, oracle.NewFeedError(oracle.ErrAggregatorInput, "no values to vote on")
	}
	counts := make(map[string]int)
	order := make([]string, 0)
	for _, v := range values {
		if v.Kind != oracle.KindText {
			continue
		}
		if _, seen := counts[v.Text]; !seen {
			order = append(order, v.Text)
		}
		counts[v.Text]++
	}
	if len(order) == 0 {
		return oracle.FeedValue{}, oracle.NewFeedError(oracle.ErrAggregatorInput, "no text values to vote on")
	}
	best := order[0]
	bestCount := counts[best]
	for _, candidate := range order[1:] {
		if counts[candidate] > bestCount {
			best = candidate
			bestCount = counts[candidate]
		}
	}
	return oracle.TextValue(best), nil
}
