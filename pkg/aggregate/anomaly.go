package aggregate

import (
	"math"

	"github.com/blocksense-network/sequencer/pkg/history"
	"github.com/blocksense-network/sequencer/pkg/oracle"
)

// MinHistoryForAnomalyDetection is the minimum number of prior numerical
// aggregates required before a z-score is computed at all.
const MinHistoryForAnomalyDetection = 100

// AnomalyScore returns the z-score of candidate against the mean/stddev of
// the feed's numerical history, and false if there isn't enough history to
// judge. This is informational only (§9 Open Question 1): nothing in
// pkg/slot consults it before committing an aggregate.
func AnomalyScore(past []history.Entry, candidate oracle.FeedValue) (score float64, ok bool) {
	if candidate.Kind != oracle.KindNumerical {
		return 0, false
	}
	nums := make([]float64, 0, len(past))
	for _, e := range past {
		if e.Value.Kind == oracle.KindNumerical {
			nums = append(nums, e.Value.Numerical)
		}
	}
	if len(nums) < MinHistoryForAnomalyDetection {
		return 0, false
	}

	var sum float64
	for _, v := range nums {
		sum += v
	}
	mean := sum / float64(len(nums))

	var variance float64
	for _, v := range nums {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(nums))
	stddev := math.Sqrt(variance)
	if stddev == 0 {
		return 0, true
	}
	return (candidate.Numerical - mean) / stddev, true
}
