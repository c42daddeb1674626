package registry

import (
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/blocksense-network/sequencer/pkg/oracle"
)

// ReporterRoster is the sequencer's table of configured reporters (§6
// "reporters[{id, pub_key(hex)}]"): reporter id -> its registered public key
// bytes, used to verify incoming DataFeedPayload
// signatures (§4.B, §4.I).
type ReporterRoster struct {
	mu        sync.RWMutex
	reporters map[oracle.ReporterId][]byte // uncompressed secp256k1 pubkey bytes
}

func NewReporterRoster() *ReporterRoster {
	return &ReporterRoster{reporters: make(map[oracle.ReporterId][]byte)}
}

// Register records reporter id's public key, overwriting any prior entry.
func (r *ReporterRoster) Register(id oracle.ReporterId, pubKey []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reporters[id] = pubKey
}

// Known implements votestore.ReporterLookup.
func (r *ReporterRoster) Known(id oracle.ReporterId) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.reporters[id]
	return ok
}

// Verify implements votestore.ReporterLookup: it recomputes the signed
// message (§4.J step 3) and checks that the recovered signer matches the
// reporter's registered public key.
func (r *ReporterRoster) Verify(id oracle.ReporterId, payload oracle.DataFeedPayload) bool {
	r.mu.RLock()
	pub, ok := r.reporters[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}

	msg := oracle.SigningMessage(payload.Meta.FeedID, payload.Meta.Timestamp, payload.Result.Value)
	hash := ethcrypto.Keccak256Hash(msg)

	if len(payload.Signature) != 65 {
		return false
	}
	sig := make([]byte, 65)
	copy(sig, payload.Signature)
	if sig[64] >= 27 {
		sig[64] -= 27
	}
	recoveredPub, err := ethcrypto.SigToPub(hash.Bytes(), sig)
	if err != nil {
		return false
	}
	recoveredBytes := ethcrypto.FromECDSAPub(recoveredPub)
	return string(recoveredBytes) == string(pub)
}

// CountFor implements slot.ReporterRoster. The data model has no per-feed
// reporter assignment (§3, §4.B): every configured reporter is eligible to
// vote on every feed, so quorum is computed against the full roster size.
func (r *ReporterRoster) CountFor(oracle.FeedId) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reporters)
}

func (r *ReporterRoster) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.reporters)
}
