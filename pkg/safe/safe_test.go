package safe

import (
	"bytes"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
)

func TestDigestIsDeterministic(t *testing.T) {
	safeAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	chainID := big.NewInt(1)
	tx := NewTx(common.HexToAddress("0x2222222222222222222222222222222222222222"), []byte{1, 2, 3}, big.NewInt(7))

	d1, err := Digest(safeAddr, chainID, tx)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	d2, err := Digest(safeAddr, chainID, tx)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if !bytes.Equal(d1, d2) {
		t.Fatal("digest of identical inputs must be identical")
	}

	tx2 := tx
	tx2.Nonce = big.NewInt(8)
	d3, err := Digest(safeAddr, chainID, tx2)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if bytes.Equal(d1, d3) {
		t.Fatal("digest must change when nonce changes")
	}
}

func TestSignAndVerifyRoundTrip(t *testing.T) {
	signer, err := sequencercrypto.GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	safeAddr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	chainID := big.NewInt(1)
	tx := NewTx(common.HexToAddress("0x2222222222222222222222222222222222222222"), []byte{4, 5, 6}, big.NewInt(1))

	sig, err := Sign(signer, safeAddr, chainID, tx)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 65 {
		t.Fatalf("signature length = %d, want 65", len(sig))
	}
	if sig[64] != 27 && sig[64] != 28 {
		t.Fatalf("v byte = %d, want 27 or 28", sig[64])
	}

	ok, err := Verify(safeAddr, chainID, tx, sig, signer.Address())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Fatal("signature should verify against its own signer")
	}

	other, _ := sequencercrypto.GenerateKey()
	ok, err = Verify(safeAddr, chainID, tx, sig, other.Address())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if ok {
		t.Fatal("signature should not verify against a different address")
	}
}

func TestCombineSignaturesOrdersByAddressAscending(t *testing.T) {
	low := common.HexToAddress("0x0000000000000000000000000000000000000001")
	high := common.HexToAddress("0xffffffffffffffffffffffffffffffffffffffff")

	sigLow := bytes.Repeat([]byte{0xaa}, 65)
	sigHigh := bytes.Repeat([]byte{0xbb}, 65)

	combined := CombineSignatures([]SignatureByAddress{
		{Address: high, Signature: sigHigh},
		{Address: low, Signature: sigLow},
	})

	if len(combined) != 130 {
		t.Fatalf("combined length = %d, want 130", len(combined))
	}
	if !bytes.Equal(combined[:65], sigLow) {
		t.Fatal("lowest address's signature must come first")
	}
	if !bytes.Equal(combined[65:], sigHigh) {
		t.Fatal("highest address's signature must come last")
	}
}
