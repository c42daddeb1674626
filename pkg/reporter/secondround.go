package reporter

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/adfs"
	"github.com/blocksense-network/sequencer/pkg/metrics"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/publisher"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/safe"
)

const defaultTolerancePercent = 0.5

// SecondRoundSource delivers broadcast second-round batches, implemented by
// pkg/bus.SecondRoundReader.
type SecondRoundSource interface {
	Next(ctx context.Context) (publisher.SecondRoundBatch, error)
}

// SecondRoundCoSigner drives §4.J step 5: re-encode, verify, tolerance-check,
// sign, and POST each incoming second-round batch.
type SecondRoundCoSigner struct {
	reporter   *Reporter
	registry   *registry.Registry
	source     SecondRoundSource
	tolerances map[oracle.FeedId]float64
	log        *zap.Logger
}

func NewSecondRoundCoSigner(r *Reporter, reg *registry.Registry, source SecondRoundSource, tolerances map[oracle.FeedId]float64, log *zap.Logger) *SecondRoundCoSigner {
	return &SecondRoundCoSigner{reporter: r, registry: reg, source: source, tolerances: tolerances, log: log}
}

// Run blocks reading second-round batches until ctx is cancelled.
func (c *SecondRoundCoSigner) Run(ctx context.Context) {
	for {
		batch, err := c.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("reporter: second-round read failed", zap.Error(err))
			continue
		}
		c.handle(ctx, batch)
	}
}

func (c *SecondRoundCoSigner) handle(ctx context.Context, batch publisher.SecondRoundBatch) {
	calldataHex, err := c.reencode(batch)
	if err != nil {
		metrics.ReporterSecondRoundMismatch.WithLabelValues(batch.Network, "reencode_error").Inc()
		c.log.Warn("reporter: second-round re-encode failed", zap.String("network", batch.Network), zap.Error(err))
		return
	}
	if calldataHex != batch.Calldata {
		// Non-fatal: reporter and sequencer registries may diverge briefly (§4.J step 5).
		metrics.ReporterSecondRoundMismatch.WithLabelValues(batch.Network, "calldata_mismatch").Inc()
		c.log.Warn("reporter: re-encoded calldata does not match batch", zap.String("network", batch.Network), zap.String("tx_hash", batch.TxHash))
		return
	}

	tx, safeAddress, chainID, err := c.reconstructTx(batch)
	if err != nil {
		c.log.Warn("reporter: second-round reconstruct failed", zap.String("network", batch.Network), zap.Error(err))
		return
	}
	digest, err := safe.Digest(safeAddress, chainID, tx)
	if err != nil {
		c.log.Warn("reporter: second-round digest failed", zap.String("network", batch.Network), zap.Error(err))
		return
	}
	if fmt.Sprintf("0x%x", digest) != batch.TxHash {
		metrics.ReporterSecondRoundMismatch.WithLabelValues(batch.Network, "digest_mismatch").Inc()
		c.log.Warn("reporter: digest does not match batch.tx_hash, refusing to sign", zap.String("network", batch.Network), zap.String("tx_hash", batch.TxHash))
		return
	}

	if !c.withinTolerance(batch.Updates) {
		metrics.ReporterSecondRoundMismatch.WithLabelValues(batch.Network, "tolerance_exceeded").Inc()
		c.log.Warn("reporter: second-round batch exceeds tolerance, refusing to sign", zap.String("network", batch.Network))
		return
	}

	sig, err := safe.Sign(c.reporter.cfg.Signer, safeAddress, chainID, tx)
	if err != nil {
		c.log.Warn("reporter: second-round sign failed", zap.String("network", batch.Network), zap.Error(err))
		return
	}

	if err := c.postVote(ctx, batch.TxHash, sig); err != nil {
		c.log.Warn("reporter: post_aggregated_consensus_vote failed", zap.String("network", batch.Network), zap.Error(err))
	}
}

// reencode rebuilds the ADFS calldata from batch.Updates and batch.FeedsRounds
// against this reporter's own feed registry snapshot (§4.J step 5).
func (c *SecondRoundCoSigner) reencode(batch publisher.SecondRoundBatch) (string, error) {
	updates := make([]adfs.Update, 0, len(batch.Updates))
	feedInfo := make(map[oracle.FeedId]adfs.FeedInfo, len(batch.Updates))
	for _, u := range batch.Updates {
		cfg, ok := c.registry.Get(u.FeedID)
		if !ok {
			return "", fmt.Errorf("reporter: feed %d not in local registry", u.FeedID)
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
		updates = append(updates, adfs.Update{FeedID: u.FeedID, Bytes: valueBytes})
		feedInfo[u.FeedID] = adfs.FeedInfo{Stride: cfg.Stride, Decimals: cfg.Decimals}
	}
	for id, cfg := range c.registry.Snapshot() {
		feedInfo[id] = adfs.FeedInfo{Stride: cfg.Stride, Decimals: cfg.Decimals}
	}

	calldata, err := adfs.Encode(adfs.BatchedAggregates{BlockHeight: batch.BlockHeight, Updates: updates}, feedInfo, batch.FeedsRounds)
	if err != nil {
		return "", err
	}
	withSelector := append(append([]byte{}, adfs.Selector[:]...), calldata...)
	return fmt.Sprintf("0x%x", withSelector), nil
}

func (c *SecondRoundCoSigner) reconstructTx(batch publisher.SecondRoundBatch) (safe.Tx, common.Address, *big.Int, error) {
	safeAddress := common.HexToAddress(batch.SafeAddress)
	contractAddress := common.HexToAddress(batch.ContractAddress)
	chainID, ok := new(big.Int).SetString(batch.ChainID, 10)
	if !ok {
		return safe.Tx{}, common.Address{}, nil, fmt.Errorf("malformed chain_id %q", batch.ChainID)
	}
	nonce, ok := new(big.Int).SetString(batch.Nonce, 10)
	if !ok {
		return safe.Tx{}, common.Address{}, nil, fmt.Errorf("malformed nonce %q", batch.Nonce)
	}
	calldata, err := hex.DecodeString(strings.TrimPrefix(batch.Calldata, "0x"))
	if err != nil {
		return safe.Tx{}, common.Address{}, nil, fmt.Errorf("malformed calldata: %w", err)
	}
	return safe.NewTx(contractAddress, calldata, nonce), safeAddress, chainID, nil
}

// withinTolerance rejects the whole batch if any update deviates from this
// reporter's own last vote for that feed by more than its configured
// tolerance, default 0.5% (§4.J step 5).
func (c *SecondRoundCoSigner) withinTolerance(updates []oracle.VotedFeedUpdate) bool {
	for _, u := range updates {
		local, ok := c.reporter.LatestVote(u.FeedID)
		if !ok || u.Value.Kind != oracle.KindNumerical || local.Kind != oracle.KindNumerical || local.Numerical == 0 {
			continue
		}
		tolerance := defaultTolerancePercent
		if t, ok := c.tolerances[u.FeedID]; ok {
			tolerance = t
		}
		deviation := math.Abs((u.Value.Numerical - local.Numerical) / local.Numerical * 100)
		if deviation > tolerance {
			return false
		}
	}
	return true
}

func (c *SecondRoundCoSigner) postVote(ctx context.Context, txHash string, sig []byte) error {
	req := struct {
		TxHash        string `json:"tx_hash"`
		SignerAddress string `json:"signer_address"`
		Signature     string `json:"signature"`
	}{
		TxHash:        txHash,
		SignerAddress: c.reporter.cfg.Signer.Address().Hex(),
		Signature:     fmt.Sprintf("0x%x", sig),
	}
	body, err := json.Marshal(req)
	if err != nil {
		return err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.reporter.cfg.SequencerBaseURL+"/post_aggregated_consensus_vote", bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.reporter.cfg.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("sequencer rejected second-round vote: status %d", resp.StatusCode)
	}
	return nil
}
