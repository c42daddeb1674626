// Package oracle holds the core data model shared by the sequencer and the
// reporter: feed/reporter identifiers, the tagged value union, per-vote
// results, and the signed payload shapes that flow between them.
package oracle

import (
	"fmt"
	"time"
)

// FeedId identifies a registered feed.
type FeedId uint32

// ReporterId identifies a configured reporter.
type ReporterId uint64

// Timestamp is milliseconds since the Unix epoch. The source models this as
// a 128-bit quantity "to accommodate long horizons"; an int64 millisecond
// count already reaches year 292 million and matches every other timestamp
// in the teacher's codebase (time.Now().UnixMilli()), so that's what's used
// here instead of a wider, non-idiomatic type.
type Timestamp int64

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp { return Timestamp(time.Now().UnixMilli()) }

func (t Timestamp) Time() time.Time { return time.UnixMilli(int64(t)) }

// FeedValueKind tags the variant held by a FeedValue.
type FeedValueKind uint8

const (
	KindNumerical FeedValueKind = iota
	KindText
	KindBytes
)

func (k FeedValueKind) String() string {
	switch k {
	case KindNumerical:
		return "Numerical"
	case KindText:
		return "Text"
	case KindBytes:
		return "Bytes"
	default:
		return "Unknown"
	}
}

// FeedValue is the tagged union { Numerical(f64) | Text(string) | Bytes(bytes) }.
type FeedValue struct {
	Kind      FeedValueKind
	Numerical float64
	Text      string
	Bytes     []byte
}

func NumericalValue(v float64) FeedValue { return FeedValue{Kind: KindNumerical, Numerical: v} }
func TextValue(v string) FeedValue       { return FeedValue{Kind: KindText, Text: v} }
func BytesValue(v []byte) FeedValue      { return FeedValue{Kind: KindBytes, Bytes: v} }

func (v FeedValue) String() string {
	switch v.Kind {
	case KindNumerical:
		return fmt.Sprintf("%v", v.Numerical)
	case KindText:
		return v.Text
	case KindBytes:
		return fmt.Sprintf("0x%x", v.Bytes)
	default:
		return "<invalid>"
	}
}

// Equal compares two values for the skip-publish / history comparisons.
func (v FeedValue) Equal(other FeedValue) bool {
	if v.Kind != other.Kind {
		return false
	}
	switch v.Kind {
	case KindNumerical:
		return v.Numerical == other.Numerical
	case KindText:
		return v.Text == other.Text
	case KindBytes:
		return string(v.Bytes) == string(other.Bytes)
	default:
		return false
	}
}

// ErrorKind enumerates the sequencer-wide error kinds (not types) from the
// failure-semantics design.
type ErrorKind string

const (
	ErrConfigInvalid          ErrorKind = "ConfigInvalid"
	ErrUnknownFeed            ErrorKind = "UnknownFeed"
	ErrUnknownReporter        ErrorKind = "UnknownReporter"
	ErrBadSignature           ErrorKind = "BadSignature"
	ErrStaleVote              ErrorKind = "StaleVote"
	ErrFutureVote             ErrorKind = "FutureVote"
	ErrDuplicateVote          ErrorKind = "DuplicateVote"
	ErrValueTypeMismatch      ErrorKind = "ValueTypeMismatch"
	ErrAggregatorInput        ErrorKind = "AggregatorInput"
	ErrQuorumNotReached       ErrorKind = "QuorumNotReached"
	ErrBlockInvariantViolation ErrorKind = "BlockInvariantViolation"
	ErrRpcTimeout             ErrorKind = "RpcTimeout"
	ErrRpcRejected            ErrorKind = "RpcRejected"
	ErrReceiptError           ErrorKind = "ReceiptError"
	ErrSecondRoundMismatch    ErrorKind = "SecondRoundMismatch"
	ErrChannelSendFailure     ErrorKind = "ChannelSendFailure"
)

// FeedError carries an error kind tag plus a human-readable detail.
type FeedError struct {
	Kind   ErrorKind
	Detail string
}

func (e *FeedError) Error() string { return fmt.Sprintf("%s: %s", e.Kind, e.Detail) }

func NewFeedError(kind ErrorKind, detail string) *FeedError {
	return &FeedError{Kind: kind, Detail: detail}
}

// FeedResult is Result<FeedValue, FeedError>: either a value or an error.
type FeedResult struct {
	Value FeedValue
	Err   *FeedError
}

func OkResult(v FeedValue) FeedResult    { return FeedResult{Value: v} }
func ErrResult(e *FeedError) FeedResult  { return FeedResult{Err: e} }
func (r FeedResult) IsOk() bool          { return r.Err == nil }

// PayloadMetaData carries the provenance of a single reported value.
type PayloadMetaData struct {
	ReporterID ReporterId `json:"reporter_id"`
	FeedID     FeedId     `json:"feed_id"`
	Timestamp  Timestamp  `json:"timestamp"`
}

// DataFeedPayload is a single signed report as it arrives over HTTP ingest.
// The signature covers feed_id || timestamp (big-endian) || value bytes,
// computed by SigningMessage.
type DataFeedPayload struct {
	Meta      PayloadMetaData `json:"meta"`
	Result    FeedResult      `json:"result"`
	Signature []byte          `json:"signature"`
}

// SigningMessage builds the byte string a reporter signs for one payload:
// feed_id (4 bytes BE) || timestamp (8 bytes BE) || value bytes (§4.J step 3).
func SigningMessage(feedID FeedId, timestamp Timestamp, value FeedValue) []byte {
	buf := make([]byte, 0, 12+32)
	buf = append(buf,
		byte(feedID>>24), byte(feedID>>16), byte(feedID>>8), byte(feedID))
	ts := uint64(timestamp)
	buf = append(buf,
		byte(ts>>56), byte(ts>>48), byte(ts>>40), byte(ts>>32),
		byte(ts>>24), byte(ts>>16), byte(ts>>8), byte(ts))
	switch value.Kind {
	case KindNumerical:
		buf = append(buf, []byte(fmt.Sprintf("%g", value.Numerical))...)
	case KindText:
		buf = append(buf, []byte(value.Text)...)
	case KindBytes:
		buf = append(buf, value.Bytes...)
	}
	return buf
}

// VotedFeedUpdate is the output of a slot processor: an aggregated value
// ready for the block creator.
type VotedFeedUpdate struct {
	FeedID           FeedId    `json:"feed_id"`
	Value            FeedValue `json:"value"`
	EndSlotTimestamp Timestamp `json:"end_slot_timestamp"`
}
