package ingest

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
	"github.com/blocksense-network/sequencer/pkg/safe"
)

var execTransactionMethod abi.Method

func init() {
	addressTy, _ := abi.NewType("address", "", nil)
	uint256Ty, _ := abi.NewType("uint256", "", nil)
	bytesTy, _ := abi.NewType("bytes", "", nil)
	uint8Ty, _ := abi.NewType("uint8", "", nil)

	args := abi.Arguments{
		{Type: addressTy}, {Type: uint256Ty}, {Type: bytesTy}, {Type: uint8Ty},
		{Type: uint256Ty}, {Type: uint256Ty}, {Type: uint256Ty},
		{Type: addressTy}, {Type: addressTy}, {Type: bytesTy},
	}
	execTransactionMethod = abi.NewMethod("execTransaction", "execTransaction", abi.Function, "nonpayable", false, false, args, nil)
}

// execCalldata packs Gnosis Safe's execTransaction(...) call, appending the
// combined, address-sorted co-signer signature blob (§4.G, §6).
func execCalldata(tx safe.Tx, combinedSignatures []byte) ([]byte, error) {
	packed, err := execTransactionMethod.Inputs.Pack(
		tx.To, tx.Value, tx.Data, tx.Operation,
		tx.SafeTxGas, tx.BaseGas, tx.GasPrice,
		tx.GasToken, tx.RefundReceiver, combinedSignatures,
	)
	if err != nil {
		return nil, fmt.Errorf("ingest: pack execTransaction: %w", err)
	}
	return append(append([]byte{}, execTransactionMethod.ID...), packed...), nil
}

// RPCExecutor sends the Safe's execTransaction call over each network's RPC
// endpoint (§4.G "the sequencer executes the Safe transaction with the
// concatenated, address-sorted signature bytes" once threshold is reached).
type RPCExecutor struct {
	rpcURLs map[string]string
	senders map[string]*sequencercrypto.Signer
	gas     map[string]uint64
	log     *zap.Logger
}

func NewRPCExecutor(rpcURLs map[string]string, senders map[string]*sequencercrypto.Signer, gasLimits map[string]uint64, log *zap.Logger) *RPCExecutor {
	return &RPCExecutor{rpcURLs: rpcURLs, senders: senders, gas: gasLimits, log: log}
}

func (e *RPCExecutor) Execute(ctx context.Context, network string, safeAddress, _ common.Address, tx safe.Tx, combined []byte) (common.Hash, error) {
	rpcURL, ok := e.rpcURLs[network]
	if !ok {
		return common.Hash{}, fmt.Errorf("ingest: no rpc url configured for network %q", network)
	}
	sender, ok := e.senders[network]
	if !ok {
		return common.Hash{}, fmt.Errorf("ingest: no sender key configured for network %q", network)
	}

	calldata, err := execCalldata(tx, combined)
	if err != nil {
		return common.Hash{}, err
	}

	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ingest: dial %q: %w", network, err)
	}
	defer client.Close()

	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ingest: gas price: %w", err)
	}
	chainID, err := client.NetworkID(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("ingest: chain id: %w", err)
	}
	nonce, err := client.PendingNonceAt(ctx, sender.Address())
	if err != nil {
		return common.Hash{}, fmt.Errorf("ingest: nonce: %w", err)
	}

	gasLimit := e.gas[network]
	if gasLimit == 0 {
		gasLimit = 500000
	}

	ethTx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &safeAddress,
		Value:    big.NewInt(0),
		Gas:      gasLimit,
		GasPrice: gasPrice,
		Data:     calldata,
	})
	signedTx, err := types.SignTx(ethTx, types.NewEIP155Signer(chainID), sender.PrivateKey())
	if err != nil {
		return common.Hash{}, fmt.Errorf("ingest: sign exec tx: %w", err)
	}
	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("ingest: send exec tx: %w", err)
	}

	receipt, err := waitForReceipt(ctx, client, signedTx.Hash())
	if err != nil {
		return common.Hash{}, fmt.Errorf("ingest: wait receipt: %w", err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return common.Hash{}, fmt.Errorf("ingest: exec tx reverted, status %d", receipt.Status)
	}
	return signedTx.Hash(), nil
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
