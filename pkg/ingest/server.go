// Package ingest is the HTTP Ingest server (§4.I): accepts reporter votes,
// accumulates second-round Safe co-signatures, and exposes the admin
// surface (provider enable/disable, status, on-chain key reads, deploys,
// log level). Routing and JSON-response style follow the teacher's
// pkg/api/server.go (gorilla/mux + rs/cors + respondJSON/respondError).
package ingest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/publisher"
	"github.com/blocksense-network/sequencer/pkg/votestore"
)

const (
	maxReportBody = 256 * 1024
	maxUploadBody = 1024 * 1024
)

// ReporterLookup is the subset of registry.ReporterRoster the batch route
// pre-verifies signatures with, ahead of committing any vote (§4.I, §8 S2:
// "neither vote accepted" if any batch member's signature fails).
type ReporterLookup interface {
	Known(id oracle.ReporterId) bool
	Verify(id oracle.ReporterId, payload oracle.DataFeedPayload) bool
}

// Server is the HTTP Ingest server.
type Server struct {
	router      *mux.Router
	log         *zap.Logger
	atomicLevel zap.AtomicLevel

	store *votestore.Store
	reps  ReporterLookup

	publishers map[string]*publisher.Publisher
	rpcURLs    map[string]string
	senders    map[string]*sequencercrypto.Signer
	deployBin  map[string]string // feed_kind -> contract bytecode (hex, admin-configured)

	safeCoord *SafeCoordinator
}

func NewServer(
	log *zap.Logger,
	atomicLevel zap.AtomicLevel,
	store *votestore.Store,
	reps ReporterLookup,
	publishers map[string]*publisher.Publisher,
	rpcURLs map[string]string,
	senders map[string]*sequencercrypto.Signer,
	deployBin map[string]string,
	safeCoord *SafeCoordinator,
) *Server {
	s := &Server{
		router:      mux.NewRouter(),
		log:         log,
		atomicLevel: atomicLevel,
		store:       store,
		reps:        reps,
		publishers:  publishers,
		rpcURLs:     rpcURLs,
		senders:     senders,
		deployBin:   deployBin,
		safeCoord:   safeCoord,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/post_report", s.handlePostReport).Methods("POST")
	s.router.HandleFunc("/post_reports_batch", s.handlePostReportsBatch).Methods("POST")
	s.router.HandleFunc("/post_aggregated_consensus_vote", s.handlePostAggregatedVote).Methods("POST")
	s.router.HandleFunc("/get_key/{network}/{key_hex}", s.handleGetKey).Methods("GET")
	s.router.HandleFunc("/deploy/{network}/{feed_kind}", s.handleDeploy).Methods("GET")
	s.router.HandleFunc("/disable_provider/{network}", s.handleSetProviderEnabled(false)).Methods("POST")
	s.router.HandleFunc("/enable_provider/{network}", s.handleSetProviderEnabled(true)).Methods("POST")
	s.router.HandleFunc("/list_provider_status", s.handleListProviderStatus).Methods("GET")
	s.router.HandleFunc("/main_log_level/{level}", s.handleMainLogLevel).Methods("POST")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Start runs the server on addr, wrapped in the teacher's permissive
// localhost CORS policy.
func (s *Server) Start(addr string) error {
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	handler := c.Handler(s.router)
	s.log.Info("ingest server starting", zap.String("addr", addr))
	return http.ListenAndServe(addr, handler)
}

// ==============================
// Vote routes
// ==============================

func (s *Server) handlePostReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBody)

	var payload oracle.DataFeedPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	outcome := s.store.Push(payload)
	s.respondOutcome(w, outcome)
}

func (s *Server) handlePostReportsBatch(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBody)

	var payloads []oracle.DataFeedPayload
	if err := json.NewDecoder(r.Body).Decode(&payloads); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	// Each member's signature is checked before any vote is committed: a
	// single bad signature rejects the whole batch (§4.I, §8 S2).
	for _, p := range payloads {
		if !s.reps.Known(p.Meta.ReporterID) {
			respondError(w, http.StatusUnauthorized, "unknown reporter", fmt.Sprintf("reporter %d", p.Meta.ReporterID))
			return
		}
		if !s.reps.Verify(p.Meta.ReporterID, p) {
			respondError(w, http.StatusUnauthorized, "bad signature", fmt.Sprintf("reporter %d, feed %d", p.Meta.ReporterID, p.Meta.FeedID))
			return
		}
	}

	results := make([]votestore.PushOutcome, 0, len(payloads))
	for _, p := range payloads {
		results = append(results, s.store.Push(p))
	}
	respondJSON(w, results)
}

func (s *Server) respondOutcome(w http.ResponseWriter, outcome votestore.PushOutcome) {
	if outcome.Accepted {
		respondJSON(w, map[string]string{"status": "accepted"})
		return
	}
	switch outcome.Reason {
	case votestore.RejectBadSignature:
		respondError(w, http.StatusUnauthorized, "bad signature", "")
	case votestore.RejectDuplicate:
		respondError(w, http.StatusConflict, "duplicate vote", "")
	default:
		respondError(w, http.StatusBadRequest, string(outcome.Reason), "")
	}
}

// ==============================
// Second-round (Safe) route
// ==============================

func (s *Server) handlePostAggregatedVote(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxReportBody)

	var req AggregatedVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if !common.IsHexAddress(req.SignerAddress) {
		respondError(w, http.StatusBadRequest, "invalid signer_address", "")
		return
	}
	sig, err := hex.DecodeString(strings.TrimPrefix(req.Signature, "0x"))
	if err != nil || len(sig) != 65 {
		respondError(w, http.StatusBadRequest, "invalid signature", "")
		return
	}

	executed, txHash, batch, err := s.safeCoord.SubmitVote(r.Context(), req.TxHash, common.HexToAddress(req.SignerAddress), sig)
	if err != nil {
		respondError(w, http.StatusUnauthorized, "vote rejected", err.Error())
		return
	}

	if executed {
		if pub, ok := s.publishers[batch.Network]; ok {
			pub.ConfirmSecondRoundExecuted(batch.Updates)
		}
		respondJSON(w, map[string]string{"status": "executed", "tx_hash": txHash.Hex()})
		return
	}
	respondJSON(w, map[string]string{"status": "accumulating"})
}

// ==============================
// Admin routes
// ==============================

func (s *Server) handleGetKey(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	network, keyHex := vars["network"], vars["key_hex"]

	pub, ok := s.publishers[network]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown network", network)
		return
	}
	rpcURL, ok := s.rpcURLs[network]
	if !ok {
		respondError(w, http.StatusNotFound, "no rpc url configured", network)
		return
	}

	key := common.HexToHash(keyHex)
	client, err := ethclient.DialContext(r.Context(), rpcURL)
	if err != nil {
		respondError(w, http.StatusBadGateway, "rpc dial failed", err.Error())
		return
	}
	defer client.Close()

	value, err := client.StorageAt(r.Context(), pub.Config().ContractAddress, key, nil)
	if err != nil {
		respondError(w, http.StatusBadGateway, "storage read failed", err.Error())
		return
	}
	respondJSON(w, KeyResponse{Value: hex.EncodeToString(value)})
}

func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBody)

	vars := mux.Vars(r)
	network, feedKind := vars["network"], vars["feed_kind"]

	rpcURL, ok := s.rpcURLs[network]
	if !ok {
		respondError(w, http.StatusNotFound, "unknown network", network)
		return
	}
	sender, ok := s.senders[network]
	if !ok {
		respondError(w, http.StatusNotFound, "no sender key configured", network)
		return
	}
	bytecodeHex, ok := s.deployBin[feedKind]
	if !ok {
		respondError(w, http.StatusBadRequest, "no bytecode configured for feed_kind", feedKind)
		return
	}
	bytecode, err := hex.DecodeString(strings.TrimPrefix(bytecodeHex, "0x"))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "malformed configured bytecode", err.Error())
		return
	}

	client, err := ethclient.DialContext(r.Context(), rpcURL)
	if err != nil {
		respondError(w, http.StatusBadGateway, "rpc dial failed", err.Error())
		return
	}
	defer client.Close()

	chainID, err := client.NetworkID(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "chain id fetch failed", err.Error())
		return
	}
	nonce, err := client.PendingNonceAt(r.Context(), sender.Address())
	if err != nil {
		respondError(w, http.StatusBadGateway, "nonce fetch failed", err.Error())
		return
	}
	gasPrice, err := client.SuggestGasPrice(r.Context())
	if err != nil {
		respondError(w, http.StatusBadGateway, "gas price fetch failed", err.Error())
		return
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		Value:    big.NewInt(0),
		Gas:      3_000_000,
		GasPrice: gasPrice,
		Data:     bytecode,
	})
	signedTx, err := types.SignTx(tx, types.NewEIP155Signer(chainID), sender.PrivateKey())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "sign failed", err.Error())
		return
	}
	if err := client.SendTransaction(r.Context(), signedTx); err != nil {
		respondError(w, http.StatusBadGateway, "deploy tx send failed", err.Error())
		return
	}

	contractAddr := common.CreateAddress(sender.Address(), nonce)
	s.log.Info("ingest: deploy submitted", zap.String("network", network), zap.String("feed_kind", feedKind), zap.String("contract", contractAddr.Hex()))
	respondJSON(w, DeployResponse{ContractAddress: contractAddr.Hex(), TxHash: signedTx.Hash().Hex()})
}

func (s *Server) handleSetProviderEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		network := mux.Vars(r)["network"]
		pub, ok := s.publishers[network]
		if !ok {
			respondError(w, http.StatusNotFound, "unknown network", network)
			return
		}
		pub.SetEnabled(enabled)
		respondJSON(w, map[string]string{"network": network, "status": string(pub.Status())})
	}
}

func (s *Server) handleListProviderStatus(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string, len(s.publishers))
	for network, pub := range s.publishers {
		out[network] = string(pub.Status())
	}
	respondJSON(w, out)
}

// handleMainLogLevel requires the caller to be connecting from loopback
// (§4.I: "must originate from loopback").
func (s *Server) handleMainLogLevel(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); ip == nil || !ip.IsLoopback() {
		respondError(w, http.StatusForbidden, "must originate from loopback", host)
		return
	}

	level := mux.Vars(r)["level"]
	var zlevel zapcore.Level
	if err := zlevel.UnmarshalText([]byte(level)); err != nil {
		respondError(w, http.StatusBadRequest, "invalid log level", level)
		return
	}
	s.atomicLevel.SetLevel(zlevel)
	respondJSON(w, map[string]string{"level": zlevel.String()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, errMsg string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{Error: errMsg, Message: message})
}

