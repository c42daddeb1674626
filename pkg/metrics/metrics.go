// Package metrics exposes internal-only prometheus counters/gauges. No HTTP
// endpoint is mounted anywhere in this module (spec.md §1 Non-goal); these
// are registered against a private registry so a future operator surface
// can scrape them without this package having an opinion on transport.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

var Registry = prometheus.NewRegistry()

var (
	VotesAccepted = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequencer_votes_accepted_total",
		Help: "Votes accepted into the vote store, by feed.",
	}, []string{"feed_id"})

	VotesRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequencer_votes_rejected_total",
		Help: "Votes rejected by the vote store, by feed and reason.",
	}, []string{"feed_id", "reason"})

	QuorumFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequencer_quorum_failures_total",
		Help: "Slots that closed without reaching quorum, by feed.",
	}, []string{"feed_id"})

	AggregatorInputSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "sequencer_aggregator_input_size",
		Help:    "Number of votes fed into the aggregator per slot.",
		Buckets: prometheus.LinearBuckets(0, 1, 10),
	}, []string{"feed_id"})

	SkippedPublish = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequencer_skipped_publish_total",
		Help: "Aggregates suppressed by the skip-publish rule, by feed.",
	}, []string{"feed_id"})

	BacklogOverflow = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequencer_backlog_overflow_total",
		Help: "Updates, blocks or batches dropped on a full block creator backlog or output buffer, or on a full publisher channel; labelled by what was dropped or by network.",
	}, []string{"network"})

	BlocksCreated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sequencer_blocks_created_total",
		Help: "Internal chain blocks created.",
	})

	PublishAttempts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sequencer_publish_attempts_total",
		Help: "Batch publish attempts, by network and outcome.",
	}, []string{"network", "outcome"})

	ReporterInvokeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "reporter_invoke_duration_seconds",
		Help:    "Wall-clock duration of one oracle-script component invocation, by component.",
		Buckets: prometheus.DefBuckets,
	}, []string{"component"})

	ReporterInvokeFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reporter_invoke_failures_total",
		Help: "Oracle-script component invocations that errored, by component.",
	}, []string{"component"})

	ReporterSecondRoundMismatch = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "reporter_second_round_mismatch_total",
		Help: "Second-round batches a reporter refused to co-sign, by network and reason.",
	}, []string{"network", "reason"})
)

func init() {
	Registry.MustRegister(
		VotesAccepted,
		VotesRejected,
		QuorumFailures,
		AggregatorInputSize,
		SkippedPublish,
		BacklogOverflow,
		BlocksCreated,
		PublishAttempts,
		ReporterInvokeDuration,
		ReporterInvokeFailures,
		ReporterSecondRoundMismatch,
	)
}

func FeedLabel(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
