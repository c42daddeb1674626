// Package safe implements the second-round Safe-multisig co-signing step
// (§4.G two-round mode, §6 "Safe-multisig tx format"): building the EIP-712
// digest of a Gnosis Safe transaction, signing it, and assembling the
// ascending-address-ordered signature blob the Safe contract expects.
//
// Adapted from the teacher's pkg/crypto/eip712.go, whose HashOrder/Sign/
// Verify shape is kept; the order-specific domain and message are replaced
// by SafeTx's, whose EIP-712 domain carries only chainId and
// verifyingContract (no name/version), per gnosis_safe/utils.rs.
package safe

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
)

var zeroAddress common.Address

// Tx is a Gnosis Safe transaction with every optional field pinned to the
// values the sequencer's batch-execution transactions always use.
type Tx struct {
	To             common.Address
	Data           []byte
	Nonce          *big.Int
	Value          *big.Int // always 0
	Operation      uint8    // always 0 (Call)
	SafeTxGas      *big.Int // always 0
	BaseGas        *big.Int // always 0
	GasPrice       *big.Int // always 0
	GasToken       common.Address // always zero address
	RefundReceiver common.Address // always zero address
}

// NewTx builds a Tx with the fixed fields defaulted, matching
// gnosis_safe::utils::create_safe_tx.
func NewTx(to common.Address, data []byte, nonce *big.Int) Tx {
	return Tx{
		To:             to,
		Data:           data,
		Nonce:          nonce,
		Value:          big.NewInt(0),
		Operation:      0,
		SafeTxGas:      big.NewInt(0),
		BaseGas:        big.NewInt(0),
		GasPrice:       big.NewInt(0),
		GasToken:       zeroAddress,
		RefundReceiver: zeroAddress,
	}
}

var safeTxTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"SafeTx": []apitypes.Type{
		{Name: "to", Type: "address"},
		{Name: "value", Type: "uint256"},
		{Name: "data", Type: "bytes"},
		{Name: "operation", Type: "uint8"},
		{Name: "safeTxGas", Type: "uint256"},
		{Name: "baseGas", Type: "uint256"},
		{Name: "gasPrice", Type: "uint256"},
		{Name: "gasToken", Type: "address"},
		{Name: "refundReceiver", Type: "address"},
		{Name: "nonce", Type: "uint256"},
	},
}

// Digest computes keccak256("\x19\x01" || domainSeparator || structHash) for
// tx under the Safe's EIP-712 domain (§6).
func Digest(safeAddress common.Address, chainID *big.Int, tx Tx) ([]byte, error) {
	typedData := apitypes.TypedData{
		Types:       safeTxTypes,
		PrimaryType: "SafeTx",
		Domain: apitypes.TypedDataDomain{
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: safeAddress.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"to":             tx.To.Hex(),
			"value":          tx.Value.String(),
			"data":           fmt.Sprintf("0x%x", tx.Data),
			"operation":      fmt.Sprintf("%d", tx.Operation),
			"safeTxGas":      tx.SafeTxGas.String(),
			"baseGas":        tx.BaseGas.String(),
			"gasPrice":       tx.GasPrice.String(),
			"gasToken":       tx.GasToken.Hex(),
			"refundReceiver": tx.RefundReceiver.Hex(),
			"nonce":          tx.Nonce.String(),
		},
	}

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("safe: hash domain: %w", err)
	}
	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("safe: hash SafeTx: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256(rawData), nil
}

// Sign signs a Safe transaction digest with signer. The returned signature's
// v byte is normalized to {27, 28}, as the Safe contract's signature
// verification expects, rather than go-ethereum's {0, 1} recovery id.
func Sign(signer *sequencercrypto.Signer, safeAddress common.Address, chainID *big.Int, tx Tx) ([]byte, error) {
	digest, err := Digest(safeAddress, chainID, tx)
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(digest)
	if err != nil {
		return nil, err
	}
	if sig[64] < 27 {
		sig[64] += 27
	}
	return sig, nil
}

// Verify reports whether signature over tx's digest was produced by
// signerAddress. signature may carry either a {0,1} or a {27,28} recovery
// id; go-ethereum's Ecrecover requires {0,1}.
func Verify(safeAddress common.Address, chainID *big.Int, tx Tx, signature []byte, signerAddress common.Address) (bool, error) {
	if len(signature) != 65 {
		return false, fmt.Errorf("safe: invalid signature length: %d", len(signature))
	}
	digest, err := Digest(safeAddress, chainID, tx)
	if err != nil {
		return false, err
	}
	normalized := make([]byte, 65)
	copy(normalized, signature)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	recovered, err := sequencercrypto.RecoverAddress(digest, normalized)
	if err != nil {
		return false, fmt.Errorf("safe: recover signer: %w", err)
	}
	return recovered == signerAddress, nil
}

// SignatureByAddress pairs a co-signer's address with its 65-byte signature.
type SignatureByAddress struct {
	Address   common.Address
	Signature []byte
}

// CombineSignatures concatenates signatures in ascending signer-address
// order, the byte layout Gnosis Safe's execTransaction expects for its
// sorted-owner signature blob (§6).
func CombineSignatures(sigs []SignatureByAddress) []byte {
	sorted := make([]SignatureByAddress, len(sigs))
	copy(sorted, sigs)
	sort.Slice(sorted, func(i, j int) bool {
		return bytes.Compare(sorted[i].Address.Bytes(), sorted[j].Address.Bytes()) < 0
	})

	out := make([]byte, 0, len(sorted)*65)
	for _, s := range sorted {
		out = append(out, s.Signature...)
	}
	return out
}
