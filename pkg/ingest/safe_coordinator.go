package ingest

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/pkg/publisher"
	"github.com/blocksense-network/sequencer/pkg/safe"
)

// Executor lands a Safe batch's combined signatures on-chain once threshold
// is reached (§4.G two-round mode, §4.I post_aggregated_consensus_vote).
type Executor interface {
	Execute(ctx context.Context, network string, safeAddress, contractAddress common.Address, tx safe.Tx, combined []byte) (txHash common.Hash, err error)
}

type pendingBatch struct {
	batch publisher.SecondRoundBatch
	sigs  map[common.Address][]byte
}

// SafeCoordinator sits between pkg/bus and pkg/ingest: it wraps a
// publisher.BatchBroadcaster so every broadcast second-round batch is also
// remembered here, and it accumulates reporter co-signatures submitted over
// HTTP until each network's configured threshold is reached, then executes
// the Safe transaction (§4.G, §4.I).
type SafeCoordinator struct {
	bus        publisher.BatchBroadcaster
	exec       Executor
	thresholds map[string]int // network -> required co-signer count
	log        *zap.Logger

	mu      sync.Mutex
	pending map[string]*pendingBatch // tx_hash -> batch
}

func NewSafeCoordinator(bus publisher.BatchBroadcaster, exec Executor, thresholds map[string]int, log *zap.Logger) *SafeCoordinator {
	return &SafeCoordinator{
		bus:        bus,
		exec:       exec,
		thresholds: thresholds,
		log:        log,
		pending:    make(map[string]*pendingBatch),
	}
}

// PublishSecondRound implements publisher.BatchBroadcaster: it registers the
// batch for vote accumulation before forwarding it to the real bus, so a vote
// arriving immediately after broadcast always finds a pending entry.
func (c *SafeCoordinator) PublishSecondRound(batch publisher.SecondRoundBatch) error {
	c.mu.Lock()
	c.pending[batch.TxHash] = &pendingBatch{batch: batch, sigs: make(map[common.Address][]byte)}
	c.mu.Unlock()

	if c.bus == nil {
		return nil
	}
	return c.bus.PublishSecondRound(batch)
}

// SubmitVote verifies and records one reporter's co-signature over txHash,
// executing the Safe transaction once threshold co-signers are collected
// (§8 invariant: a Safe batch executes only once >= threshold independently
// verified signatures from distinct signers have accumulated). The returned
// batch is the one that was pending for txHash, for the caller to report the
// outcome back to the owning Publisher.
func (c *SafeCoordinator) SubmitVote(ctx context.Context, txHash string, signerAddress common.Address, signature []byte) (executed bool, resultTxHash common.Hash, batchOut publisher.SecondRoundBatch, err error) {
	c.mu.Lock()
	entry, ok := c.pending[txHash]
	c.mu.Unlock()
	if !ok {
		return false, common.Hash{}, publisher.SecondRoundBatch{}, fmt.Errorf("ingest: unknown tx_hash %s", txHash)
	}
	batchOut = entry.batch

	safeAddress := common.HexToAddress(entry.batch.SafeAddress)
	contractAddress := common.HexToAddress(entry.batch.ContractAddress)
	chainID, ok := new(big.Int).SetString(entry.batch.ChainID, 10)
	if !ok {
		return false, common.Hash{}, batchOut, fmt.Errorf("ingest: malformed chain_id %q", entry.batch.ChainID)
	}
	nonce, ok := new(big.Int).SetString(entry.batch.Nonce, 10)
	if !ok {
		return false, common.Hash{}, batchOut, fmt.Errorf("ingest: malformed nonce %q", entry.batch.Nonce)
	}
	calldata, err := hex.DecodeString(strings.TrimPrefix(entry.batch.Calldata, "0x"))
	if err != nil {
		return false, common.Hash{}, batchOut, fmt.Errorf("ingest: malformed calldata: %w", err)
	}
	tx := safe.NewTx(contractAddress, calldata, nonce)

	valid, err := safe.Verify(safeAddress, chainID, tx, signature, signerAddress)
	if err != nil {
		return false, common.Hash{}, batchOut, fmt.Errorf("ingest: verify co-signature: %w", err)
	}
	if !valid {
		return false, common.Hash{}, batchOut, fmt.Errorf("ingest: co-signature does not match signer_address")
	}

	c.mu.Lock()
	entry.sigs[signerAddress] = signature
	reached := len(entry.sigs) >= c.thresholds[entry.batch.Network]
	var sigs []safe.SignatureByAddress
	if reached {
		for addr, sig := range entry.sigs {
			sigs = append(sigs, safe.SignatureByAddress{Address: addr, Signature: sig})
		}
		delete(c.pending, txHash)
	}
	c.mu.Unlock()

	if !reached {
		return false, common.Hash{}, batchOut, nil
	}

	combined := safe.CombineSignatures(sigs)
	onChainHash, err := c.exec.Execute(ctx, entry.batch.Network, safeAddress, contractAddress, tx, combined)
	if err != nil {
		c.log.Warn("ingest: safe execution failed", zap.String("network", entry.batch.Network), zap.String("tx_hash", txHash), zap.Error(err))
		return false, common.Hash{}, batchOut, fmt.Errorf("ingest: execute safe tx: %w", err)
	}

	c.log.Info("ingest: safe batch executed", zap.String("network", entry.batch.Network), zap.String("tx_hash", txHash), zap.String("on_chain_hash", onChainHash.Hex()))
	return true, onChainHash, batchOut, nil
}
