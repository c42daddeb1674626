// Package bus is Block Stream I/O (§4.J "Block Stream I/O", §6 wire
// formats): publishes generated blocks on the "blockchain" Kafka topic and
// second-round Safe-tx proposals on "aggregation_consensus", and subscribes
// to both so a reporter or a peer sequencer can follow along. Grounded on
// original_source's block_creator.rs/blocks_reader.rs, which do the
// equivalent over rdkafka; segmentio/kafka-go is the pure-Go idiomatic
// substitute (no cgo librdkafka dependency), per DESIGN.md.
package bus

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/ledger"
	"github.com/blocksense-network/sequencer/pkg/publisher"
)

const (
	BlockchainTopic          = "blockchain"
	AggregationConsensusTopic = "aggregation_consensus"
)

// blockMessage is the JSON object published on BlockchainTopic (§6).
type blockMessage struct {
	BlockHeader string `json:"BlockHeader"`
	FeedActions string `json:"FeedActions"`
}

// Bus owns one writer per topic and any reader goroutines subscribed to
// them. A Bus built by New("") (no Kafka endpoint configured) is a valid no-op
// publisher, matching original_source's "no kafka_endpoint set" warn-and-skip
// path; a nil *Bus is not.
type Bus struct {
	addr string
	log  *zap.Logger

	blocks     *kafka.Writer
	secondRound *kafka.Writer
}

// New dials no connections eagerly; kafka.Writer connects lazily on first
// write. addr == "" yields a Bus whose publish methods are no-ops.
func New(addr string, log *zap.Logger) *Bus {
	if addr == "" {
		return &Bus{log: log}
	}
	return &Bus{
		addr: addr,
		log:  log,
		blocks: &kafka.Writer{
			Addr:     kafka.TCP(addr),
			Topic:    BlockchainTopic,
			Balancer: &kafka.LeastBytes{},
		},
		secondRound: &kafka.Writer{
			Addr:     kafka.TCP(addr),
			Topic:    AggregationConsensusTopic,
			Balancer: &kafka.LeastBytes{},
		},
	}
}

func (b *Bus) Close() error {
	if b.blocks == nil {
		return nil
	}
	if err := b.blocks.Close(); err != nil {
		return err
	}
	return b.secondRound.Close()
}

// PublishBlock serializes block.Header/Actions per pkg/ledger's SSZ-style
// encoding and sends the {BlockHeader, FeedActions} JSON envelope (§6).
func (b *Bus) PublishBlock(ctx context.Context, block ledger.Block) error {
	if b.blocks == nil {
		if b.log != nil {
			b.log.Warn("no kafka endpoint set to stream blocks")
		}
		return nil
	}

	msg := blockMessage{
		BlockHeader: hex.EncodeToString(ledger.SerializeHeader(block.Header)),
		FeedActions: hex.EncodeToString(ledger.SerializeFeedActions(block.Actions)),
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("bus: marshal block message: %w", err)
	}
	return b.blocks.WriteMessages(ctx, kafka.Message{Value: payload})
}

// PublishSecondRound implements publisher.BatchBroadcaster: it sends the
// proposed Safe transaction for reporters to co-sign on
// AggregationConsensusTopic (§4.G two-round mode, §6).
func (b *Bus) PublishSecondRound(batch publisher.SecondRoundBatch) error {
	if b.secondRound == nil {
		if b.log != nil {
			b.log.Warn("no kafka endpoint set to stream second-round batches")
		}
		return nil
	}
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("bus: marshal second-round batch: %w", err)
	}
	return b.secondRound.WriteMessages(context.Background(), kafka.Message{Value: payload})
}

// BlockReader subscribes to BlockchainTopic and decodes each message back
// into a ledger.Block for replay by a peer sequencer (§4.J "Block Stream
// I/O": "subscribes to peer sequencer blocks and replays their
// feed-registry commands").
type BlockReader struct {
	reader *kafka.Reader
	log    *zap.Logger
}

func NewBlockReader(addr, groupID string, log *zap.Logger) *BlockReader {
	return &BlockReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{addr},
			Topic:   BlockchainTopic,
			GroupID: groupID,
		}),
		log: log,
	}
}

func (r *BlockReader) Close() error { return r.reader.Close() }

// Next blocks until the next block message arrives, decodes it, and returns
// it. Callers typically loop this and feed the result to ledger.Chain's
// AddNextBlock plus the registry's feed-management replay.
func (r *BlockReader) Next(ctx context.Context) (ledger.Block, error) {
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("bus: read block message: %w", err)
	}

	var msg blockMessage
	if err := json.Unmarshal(m.Value, &msg); err != nil {
		return ledger.Block{}, fmt.Errorf("bus: unmarshal block message: %w", err)
	}

	hdrBytes, err := hex.DecodeString(msg.BlockHeader)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("bus: decode BlockHeader hex: %w", err)
	}
	hdr, err := ledger.DeserializeHeader(hdrBytes)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("bus: deserialize header: %w", err)
	}

	actionsBytes, err := hex.DecodeString(msg.FeedActions)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("bus: decode FeedActions hex: %w", err)
	}
	actions, err := ledger.DeserializeFeedActions(actionsBytes)
	if err != nil {
		return ledger.Block{}, fmt.Errorf("bus: deserialize feed actions: %w", err)
	}

	return ledger.Block{Header: hdr, Actions: actions}, nil
}

// SecondRoundReader subscribes to AggregationConsensusTopic, used by
// reporters to receive proposed batches to co-sign (§4.J second round).
type SecondRoundReader struct {
	reader *kafka.Reader
}

func NewSecondRoundReader(addr, groupID string) *SecondRoundReader {
	return &SecondRoundReader{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{addr},
			Topic:   AggregationConsensusTopic,
			GroupID: groupID,
		}),
	}
}

func (r *SecondRoundReader) Close() error { return r.reader.Close() }

func (r *SecondRoundReader) Next(ctx context.Context) (publisher.SecondRoundBatch, error) {
	m, err := r.reader.ReadMessage(ctx)
	if err != nil {
		return publisher.SecondRoundBatch{}, fmt.Errorf("bus: read second-round message: %w", err)
	}
	var batch publisher.SecondRoundBatch
	if err := json.Unmarshal(m.Value, &batch); err != nil {
		return publisher.SecondRoundBatch{}, fmt.Errorf("bus: unmarshal second-round batch: %w", err)
	}
	return batch, nil
}
