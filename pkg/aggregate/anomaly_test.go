package aggregate

import (
	"testing"

	"github.com/blocksense-network/sequencer/pkg/history"
	"github.com/blocksense-network/sequencer/pkg/oracle"
)

func flatHistory(n int, value float64) []history.Entry {
	out := make([]history.Entry, n)
	for i := range out {
		out[i] = history.Entry{Value: oracle.NumericalValue(value)}
	}
	return out
}

func TestAnomalyScoreInsufficientHistory(t *testing.T) {
	past := flatHistory(MinHistoryForAnomalyDetection-1, 100)
	_, ok := AnomalyScore(past, oracle.NumericalValue(100))
	if ok {
		t.Fatal("expected ok=false with fewer than MinHistoryForAnomalyDetection entries")
	}
}

func TestAnomalyScoreZeroStddevReturnsZero(t *testing.T) {
	past := flatHistory(MinHistoryForAnomalyDetection, 100)
	score, ok := AnomalyScore(past, oracle.NumericalValue(100))
	if !ok {
		t.Fatal("expected ok=true with enough history")
	}
	if score != 0 {
		t.Fatalf("score = %v, want 0 when stddev is 0", score)
	}
}

func TestAnomalyScoreNonNumericalCandidate(t *testing.T) {
	past := flatHistory(MinHistoryForAnomalyDetection, 100)
	_, ok := AnomalyScore(past, oracle.TextValue("x"))
	if ok {
		t.Fatal("expected ok=false for a non-numerical candidate")
	}
}

func TestAnomalyScoreDetectsOutlier(t *testing.T) {
	past := make([]history.Entry, MinHistoryForAnomalyDetection)
	for i := range past {
		v := 99.0
		if i%2 == 0 {
			v = 101.0
		}
		past[i] = history.Entry{Value: oracle.NumericalValue(v)}
	}
	score, ok := AnomalyScore(past, oracle.NumericalValue(1000))
	if !ok {
		t.Fatal("expected ok=true")
	}
	if score <= 5 {
		t.Fatalf("score = %v, want a large positive z-score for a gross outlier", score)
	}
}
