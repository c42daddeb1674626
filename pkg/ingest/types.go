package ingest

// ErrorResponse mirrors the teacher's pkg/api error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// AggregatedVoteRequest is the body of POST /post_aggregated_consensus_vote
// (§4.I, §4.J second round): a reporter's co-signature over a previously
// broadcast SecondRoundBatch, keyed by its tx_hash.
type AggregatedVoteRequest struct {
	TxHash        string `json:"tx_hash"`
	SignerAddress string `json:"signer_address"`
	Signature     string `json:"signature"`
}

// DeployResponse is returned by GET /deploy/{network}/{feed_kind}.
type DeployResponse struct {
	ContractAddress string `json:"contract_address"`
	TxHash          string `json:"tx_hash"`
}

// KeyResponse is returned by GET /get_key/{network}/{key_hex}.
type KeyResponse struct {
	Value string `json:"value"`
}
