// Package publisher is the per-network Batch Publisher (§4.G): filters a
// batch by allow-list, applies the skip-publish rule against this network's
// own history, encodes it via pkg/adfs, and sends it either as a direct RPC
// transaction or as a two-round Safe-multisig proposal over the bus.
package publisher

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/adfs"
	"github.com/blocksense-network/sequencer/pkg/blockcreator"
	"github.com/blocksense-network/sequencer/pkg/metrics"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/safe"
)

// Status is a network's publish state (§4.G).
type Status string

const (
	AwaitingFirstUpdate Status = "AwaitingFirstUpdate"
	LastUpdateSucceeded Status = "LastUpdateSucceeded"
	LastUpdateFailed    Status = "LastUpdateFailed"
	Disabled            Status = "Disabled"
)

// SecondRoundBatch is broadcast on the bus when two-round mode proposes a
// Safe transaction for reporters to co-sign (§3, §6).
type SecondRoundBatch struct {
	SequencerID     string                       `json:"sequencer_id"`
	BlockHeight     uint64                       `json:"block_height"`
	Network         string                       `json:"network"`
	ContractAddress string                       `json:"contract_address"`
	SafeAddress     string                       `json:"safe_address"`
	Nonce           string                       `json:"nonce"`
	ChainID         string                       `json:"chain_id"`
	TxHash          string                       `json:"tx_hash"`
	Calldata        string                       `json:"calldata"`
	Updates         []oracle.VotedFeedUpdate     `json:"updates"`
	FeedsRounds     map[oracle.FeedId]uint64     `json:"feeds_rounds"`
}

// BatchBroadcaster publishes a proposed second-round batch, implemented by
// pkg/bus.
type BatchBroadcaster interface {
	PublishSecondRound(batch SecondRoundBatch) error
}

// Config is one network's publisher configuration (§6 Provider).
type Config struct {
	Network                string
	RPCURL                 string
	ContractAddress        common.Address
	SafeAddress            *common.Address // non-nil enables two-round mode
	TransactionTimeout     time.Duration
	GasLimit               uint64
	Enabled                bool
	AllowFeeds             map[oracle.FeedId]bool // empty/nil = allow all
	ChainID                *big.Int
	SenderKey              *ecdsa.PrivateKey
	SenderAddress          common.Address
	SafeSignatureThreshold int
}

// Publisher drives one network's publish loop.
type Publisher struct {
	cfg  Config
	reg  *registry.Registry
	log  *zap.Logger
	bus  BatchBroadcaster
	in   <-chan blockcreator.BatchedUpdate

	mu            sync.Mutex
	status        Status
	rounds        map[oracle.FeedId]uint64
	lastPublished map[oracle.FeedId]oracle.FeedValue
	lastPublishMS map[oracle.FeedId]int64
}

func New(cfg Config, reg *registry.Registry, log *zap.Logger, bus BatchBroadcaster, in <-chan blockcreator.BatchedUpdate) *Publisher {
	return &Publisher{
		cfg:           cfg,
		reg:           reg,
		log:           log,
		bus:           bus,
		in:            in,
		status:        AwaitingFirstUpdate,
		rounds:        make(map[oracle.FeedId]uint64),
		lastPublished: make(map[oracle.FeedId]oracle.FeedValue),
		lastPublishMS: make(map[oracle.FeedId]int64),
	}
}

func (p *Publisher) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Network returns the network this publisher was configured for, used by
// pkg/ingest to route admin requests and Safe votes to the right publisher.
func (p *Publisher) Network() string {
	return p.cfg.Network
}

// Config returns the publisher's configuration, read-only by convention.
func (p *Publisher) Config() Config {
	return p.cfg
}

// ConfirmSecondRoundExecuted records a successfully executed Safe batch:
// it is pkg/ingest's counterpart to publishDirect's receipt-confirmed path,
// called once the collected co-signer signatures reached threshold and the
// execTransaction call landed on-chain (§4.G two-round mode).
func (p *Publisher) ConfirmSecondRoundExecuted(updates []oracle.VotedFeedUpdate) {
	p.markSucceeded(updates)
}

// ReportSecondRoundFailure mirrors markFailed for the two-round path: it sets
// the status to LastUpdateFailed. pkg/ingest does not call it when a Safe
// execution fails.
func (p *Publisher) ReportSecondRoundFailure(reason string, err error) {
	p.markFailed(reason, err)
}

func (p *Publisher) SetEnabled(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !enabled {
		p.status = Disabled
	} else if p.status == Disabled {
		p.status = AwaitingFirstUpdate
	}
}

// Run consumes batches from the block creator until in is closed.
func (p *Publisher) Run(ctx context.Context) {
	for batch := range p.in {
		p.publish(ctx, batch)
	}
}

func (p *Publisher) publish(ctx context.Context, batch blockcreator.BatchedUpdate) {
	if p.Status() == Disabled {
		return
	}

	updates := p.filterByAllowList(batch.Updates)
	updates = p.filterBySkipRule(updates)
	if len(updates) == 0 {
		return
	}

	encUpdates, feedInfo, err := p.encodableUpdates(updates)
	if err != nil {
		p.log.Error("publisher: could not build encodable updates", zap.String("network", p.cfg.Network), zap.Error(err))
		return
	}

	calldata, err := adfs.Encode(adfs.BatchedAggregates{
		BlockHeight: batch.BlockHeight,
		Updates:     encUpdates,
	}, feedInfo, p.roundsSnapshot())
	if err != nil {
		p.log.Error("publisher: ADFS encode failed", zap.String("network", p.cfg.Network), zap.Error(err))
		return
	}
	input := append(append([]byte{}, adfs.Selector[:]...), calldata...)

	if p.cfg.SafeAddress != nil {
		p.publishTwoRound(batch, updates, input)
		return
	}
	p.publishDirect(ctx, updates, input)
}

func (p *Publisher) filterByAllowList(updates []oracle.VotedFeedUpdate) []oracle.VotedFeedUpdate {
	if len(p.cfg.AllowFeeds) == 0 {
		return updates
	}
	out := make([]oracle.VotedFeedUpdate, 0, len(updates))
	for _, u := range updates {
		if p.cfg.AllowFeeds[u.FeedID] {
			out = append(out, u)
		}
	}
	return out
}

// filterBySkipRule applies §4.D step 8's rule, evaluated against this
// network's own last-published value and timestamp rather than the global
// aggregate history (§4.G: "same skip rule... evaluated against this
// network's history").
func (p *Publisher) filterBySkipRule(updates []oracle.VotedFeedUpdate) []oracle.VotedFeedUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]oracle.VotedFeedUpdate, 0, len(updates))
	for _, u := range updates {
		cfg, ok := p.reg.Get(u.FeedID)
		if !ok {
			continue
		}
		prev, hasPrev := p.lastPublished[u.FeedID]
		if p.skip(cfg.SkipPublishIfLessThenPercentage, cfg.AlwaysPublishHeartbeatMS, u.Value, prev, hasPrev, p.lastPublishMS[u.FeedID]) {
			metrics.SkippedPublish.WithLabelValues(metrics.FeedLabel(uint32(u.FeedID))).Inc()
			continue
		}
		out = append(out, u)
	}
	return out
}

func (p *Publisher) skip(skipPct float32, heartbeat *uint64, candidate, previous oracle.FeedValue, hasPrevious bool, lastMS int64) bool {
	if !hasPrevious {
		return false
	}
	if candidate.Kind != oracle.KindNumerical || previous.Kind != oracle.KindNumerical || previous.Numerical == 0 {
		return false
	}
	deviation := abs((candidate.Numerical - previous.Numerical) / previous.Numerical * 100)
	if deviation >= float64(skipPct) {
		return false
	}
	if heartbeat == nil {
		return true
	}
	if lastMS == 0 {
		return false
	}
	elapsed := time.Now().UnixMilli() - lastMS
	return elapsed < int64(*heartbeat)
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// encodableUpdates builds the batch's own encoded values, plus a FeedInfo
// map covering the WHOLE registry (not just this batch): the ADFS round
// table writes every touched feed's 16-feed neighbourhood, so a neighbour
// that isn't in this batch still needs its stride resolved (§4.H).
func (p *Publisher) encodableUpdates(updates []oracle.VotedFeedUpdate) ([]adfs.Update, map[oracle.FeedId]adfs.FeedInfo, error) {
	out := make([]adfs.Update, 0, len(updates))
	for _, u := range updates {
		cfg, ok := p.reg.Get(u.FeedID)
		if !ok {
			return nil, nil, fmt.Errorf("feed %d not registered", u.FeedID)
		}
		var valueBytes []byte
		switch u.Value.Kind {
		case oracle.KindNumerical:
			valueBytes = adfs.EncodeNumerical(u.Value.Numerical, cfg.Decimals)
		case oracle.KindText:
			valueBytes = []byte(u.Value.Text)
		case oracle.KindBytes:
			valueBytes = u.Value.Bytes
		}
		out = append(out, adfs.Update{FeedID: u.FeedID, Bytes: valueBytes})
	}

	snap := p.reg.Snapshot()
	info := make(map[oracle.FeedId]adfs.FeedInfo, len(snap))
	for id, cfg := range snap {
		info[id] = adfs.FeedInfo{Stride: cfg.Stride, Decimals: cfg.Decimals}
	}
	return out, info, nil
}

func (p *Publisher) roundsSnapshot() map[oracle.FeedId]uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[oracle.FeedId]uint64, len(p.rounds))
	for k, v := range p.rounds {
		out[k] = v
	}
	return out
}

// publishDirect sends the calldata as a plain transaction (§4.G steps 5-6).
func (p *Publisher) publishDirect(ctx context.Context, updates []oracle.VotedFeedUpdate, input []byte) {
	client, err := ethclient.DialContext(ctx, p.cfg.RPCURL)
	if err != nil {
		p.markFailed("dial failed", err)
		return
	}
	defer client.Close()

	timeoutCtx, cancel := context.WithTimeout(ctx, p.cfg.TransactionTimeout)
	defer cancel()

	gasPrice, err := client.SuggestGasPrice(timeoutCtx)
	if err != nil {
		p.markFailed("gas price fetch failed", err)
		return
	}
	chainID, err := client.NetworkID(timeoutCtx)
	if err != nil {
		p.markFailed("chain id fetch failed", err)
		return
	}
	nonce, err := client.PendingNonceAt(timeoutCtx, p.cfg.SenderAddress)
	if err != nil {
		p.markFailed("nonce fetch failed", err)
		return
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &p.cfg.ContractAddress,
		Value:    big.NewInt(0),
		Gas:      p.cfg.GasLimit,
		GasPrice: gasPrice,
		Data:     input,
	})

	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), p.cfg.SenderKey)
	if err != nil {
		p.markFailed("sign failed", err)
		return
	}
	if err := client.SendTransaction(timeoutCtx, signedTx); err != nil {
		metrics.PublishAttempts.WithLabelValues(p.cfg.Network, "rpc_rejected").Inc()
		p.markFailed("send failed", err)
		return
	}

	receipt, err := waitForReceipt(timeoutCtx, client, signedTx.Hash())
	if err != nil {
		metrics.PublishAttempts.WithLabelValues(p.cfg.Network, "timeout").Inc()
		p.markFailed("receipt wait failed", err)
		return
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		metrics.PublishAttempts.WithLabelValues(p.cfg.Network, "receipt_error").Inc()
		p.markFailed("receipt status failed", fmt.Errorf("status %d", receipt.Status))
		return
	}

	metrics.PublishAttempts.WithLabelValues(p.cfg.Network, "success").Inc()
	p.markSucceeded(updates)
}

func waitForReceipt(ctx context.Context, client *ethclient.Client, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			receipt, err := client.TransactionReceipt(ctx, hash)
			if err == nil {
				return receipt, nil
			}
		}
	}
}

// publishTwoRound broadcasts the proposed Safe tx for reporter co-signing
// instead of sending it directly (§4.G two-round mode).
func (p *Publisher) publishTwoRound(batch blockcreator.BatchedUpdate, updates []oracle.VotedFeedUpdate, calldataWithSelector []byte) {
	nonce := big.NewInt(int64(batch.BlockHeight))
	tx := safe.NewTx(p.cfg.ContractAddress, calldataWithSelector, nonce)

	chainID := p.cfg.ChainID
	if chainID == nil {
		client, err := ethclient.Dial(p.cfg.RPCURL)
		if err != nil {
			p.markFailed("dial failed", err)
			return
		}
		chainID, err = client.NetworkID(context.Background())
		client.Close()
		if err != nil {
			p.markFailed("chain id fetch failed", err)
			return
		}
	}

	digest, err := safe.Digest(*p.cfg.SafeAddress, chainID, tx)
	if err != nil {
		p.markFailed("safe digest failed", err)
		return
	}

	msg := SecondRoundBatch{
		Network:         p.cfg.Network,
		BlockHeight:     batch.BlockHeight,
		ContractAddress: p.cfg.ContractAddress.Hex(),
		SafeAddress:     p.cfg.SafeAddress.Hex(),
		Nonce:           nonce.String(),
		ChainID:         chainID.String(),
		TxHash:          fmt.Sprintf("0x%x", digest),
		Calldata:        fmt.Sprintf("0x%x", calldataWithSelector),
		Updates:         updates,
		FeedsRounds:     p.roundsSnapshot(),
	}
	if err := p.bus.PublishSecondRound(msg); err != nil {
		p.markFailed("second round broadcast failed", err)
		return
	}
	// Round counters and LastUpdateSucceeded only advance once the Safe
	// execution actually lands on-chain, driven by the collected-signatures
	// path in pkg/ingest; nothing more to do here.
}

func (p *Publisher) markFailed(reason string, err error) {
	p.mu.Lock()
	p.status = LastUpdateFailed
	p.mu.Unlock()
	p.log.Warn("publisher failure", zap.String("network", p.cfg.Network), zap.String("reason", reason), zap.Error(err))
}

func (p *Publisher) markSucceeded(updates []oracle.VotedFeedUpdate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = LastUpdateSucceeded
	now := time.Now().UnixMilli()
	for _, u := range updates {
		p.rounds[u.FeedID] = (p.rounds[u.FeedID] + 1) % adfs.MaxHistoryElementsPerFeed
		p.lastPublished[u.FeedID] = u.Value
		p.lastPublishMS[u.FeedID] = now
	}
}

