package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/blocksense-network/sequencer/params"
	"github.com/blocksense-network/sequencer/pkg/blockcreator"
	"github.com/blocksense-network/sequencer/pkg/bus"
	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
	"github.com/blocksense-network/sequencer/pkg/history"
	"github.com/blocksense-network/sequencer/pkg/ingest"
	"github.com/blocksense-network/sequencer/pkg/ledger"
	"github.com/blocksense-network/sequencer/pkg/metrics"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/publisher"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/slot"
	"github.com/blocksense-network/sequencer/pkg/util"
	"github.com/blocksense-network/sequencer/pkg/votestore"
)

func main() {
	cfg, feedEntries, err := params.LoadFromEnv("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	var zlevel zapcore.Level
	if err := zlevel.UnmarshalText([]byte(params.LogLevel())); err == nil {
		level.SetLevel(zlevel)
	}

	logFile := os.Getenv("LOG_FILE")
	if logFile == "" {
		logFile = "data/sequencer.log"
	}
	logger, err := util.NewLoggerWithLevel(logFile, level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	issuerID := os.Getenv("SEQUENCER_ID")
	if issuerID == "" {
		issuerID = "sequencer-1"
	}
	root := params.BlocksenseRoot()

	reg := registry.New()
	for _, entry := range feedEntries {
		feedCfg, err := entry.ToFeedConfig()
		if err != nil {
			logger.Fatal("invalid feed config", zap.Error(err))
		}
		if err := reg.Register(feedCfg); err != nil {
			logger.Fatal("could not register feed", zap.Uint32("feed_id", uint32(feedCfg.ID)), zap.Error(err))
		}
	}
	logger.Info("feeds loaded", zap.Int("count", reg.Count()))

	roster := registry.NewReporterRoster()
	for _, r := range cfg.Reporters {
		pubKey, err := decodeHexPubKey(r.PubKey)
		if err != nil {
			logger.Fatal("invalid reporter pub_key", zap.Uint64("reporter_id", r.ID), zap.Error(err))
		}
		roster.Register(oracle.ReporterId(r.ID), pubKey)
	}
	logger.Info("reporters loaded", zap.Int("count", roster.Count()))

	tracker := slot.NewTracker(reg, util.RealClock{})
	store := votestore.New(reg, roster, tracker)
	hist := history.New(history.DefaultCapacity)

	var backend ledger.Backend
	if dbPath := os.Getenv("LEDGER_DB_PATH"); dbPath != "" {
		pb, err := ledger.OpenPebbleBackend(resolvePath(root, dbPath))
		if err != nil {
			logger.Fatal("could not open ledger backend", zap.Error(err))
		}
		defer pb.Close()
		backend = pb
	}
	chain, err := ledger.New(backend)
	if err != nil {
		logger.Fatal("could not build ledger", zap.Error(err))
	}
	if h, ok := chain.LatestBlockHeight(); ok {
		logger.Info("replayed chain", zap.Uint64("height", h))
	}

	tickMS := cfg.BlockConfig.BlockGenerationPeriodMS
	if tickMS <= 0 {
		tickMS = 500
	}
	creator := blockcreator.New(chain, reg, issuerID, logger, time.Duration(tickMS)*time.Millisecond, cfg.BlockConfig.MaxFeedUpdatesToBatch)

	processors := make([]*slot.Processor, 0, reg.Count())
	for id := range reg.Snapshot() {
		proc := slot.NewProcessor(id, reg, tracker, store, roster, hist, creator, logger)
		processors = append(processors, proc)
		go proc.Run()
	}

	busInst := bus.New(cfg.Kafka.URL, logger)
	defer busInst.Close()

	senders := make(map[string]*sequencercrypto.Signer)
	rpcURLs := make(map[string]string)
	gasLimits := make(map[string]uint64)
	thresholds := make(map[string]int)
	for network, p := range cfg.Providers {
		rpcURLs[network] = p.URL
		gasLimits[network] = p.TransactionGasLimit
		thresholds[network] = p.SafeSignatureThreshold

		if p.PrivateKeyPath == "" {
			continue
		}
		signer, err := loadSigner(resolvePath(root, p.PrivateKeyPath))
		if err != nil {
			logger.Fatal("could not load provider signer", zap.String("network", network), zap.Error(err))
		}
		senders[network] = signer
	}

	rpcExecutor := ingest.NewRPCExecutor(rpcURLs, senders, gasLimits, logger)
	safeCoord := ingest.NewSafeCoordinator(busInst, rpcExecutor, thresholds, logger)

	publishers := make(map[string]*publisher.Publisher, len(cfg.Providers))
	publisherChans := make(map[string]chan blockcreator.BatchedUpdate, len(cfg.Providers))
	for network, p := range cfg.Providers {
		pubCfg := publisher.Config{
			Network:                network,
			RPCURL:                 p.URL,
			TransactionTimeout:     time.Duration(p.TransactionTimeoutSecs) * time.Second,
			GasLimit:               p.TransactionGasLimit,
			Enabled:                p.IsEnabled,
			SafeSignatureThreshold: p.SafeSignatureThreshold,
		}
		if p.ContractAddress != "" {
			pubCfg.ContractAddress = common.HexToAddress(p.ContractAddress)
		}
		if p.SafeAddress != "" {
			addr := common.HexToAddress(p.SafeAddress)
			pubCfg.SafeAddress = &addr
		}
		if len(p.AllowFeeds) > 0 {
			pubCfg.AllowFeeds = make(map[oracle.FeedId]bool, len(p.AllowFeeds))
			for _, id := range p.AllowFeeds {
				pubCfg.AllowFeeds[oracle.FeedId(id)] = true
			}
		}
		if signer, ok := senders[network]; ok {
			pubCfg.SenderKey = signer.PrivateKey()
			pubCfg.SenderAddress = signer.Address()
		}

		in := make(chan blockcreator.BatchedUpdate, 4)
		publisherChans[network] = in
		pub := publisher.New(pubCfg, reg, logger, safeCoord, in)
		if !p.IsEnabled {
			pub.SetEnabled(false)
		}
		publishers[network] = pub
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Publisher chain IDs are resolved lazily against the RPC endpoint inside
	// each publisher's own publish path (publishDirect / publishTwoRound), so
	// no chain-id probing is needed at startup here.

	for network, pub := range publishers {
		go pub.Run(ctx)
		logger.Info("publisher started", zap.String("network", network))
	}

	go fanOutUpdates(ctx, creator, publisherChans, logger)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case block := <-creator.Blocks():
				if err := busInst.PublishBlock(ctx, block); err != nil {
					logger.Warn("block bus publish failed", zap.Uint64("height", block.Header.BlockHeight), zap.Error(err))
				}
			}
		}
	}()

	go creator.Run()

	server := ingest.NewServer(logger, level, store, roster, publishers, rpcURLs, senders, cfg.DeployBytecode, safeCoord)
	mainAddr := fmt.Sprintf(":%d", cfg.MainPort)
	go func() {
		if err := server.Start(mainAddr); err != nil {
			logger.Fatal("ingest server failed", zap.Error(err))
		}
	}()

	if cfg.Kafka.URL != "" {
		go replayPeerBlocks(ctx, bus.NewBlockReader(cfg.Kafka.URL, issuerID+"-replay", logger), chain, reg, logger)
	}

	logger.Info("sequencer starting",
		zap.String("issuer_id", issuerID),
		zap.Int("feeds", reg.Count()),
		zap.Int("reporters", roster.Count()),
		zap.Int("networks", len(publishers)),
		zap.String("main_addr", mainAddr))

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			for _, proc := range processors {
				proc.Terminate()
			}
			creator.Terminate()
			logger.Info("sequencer shutting down")
			return
		case <-ticker.C:
			if h, ok := chain.LatestBlockHeight(); ok {
				logger.Debug("progress", zap.Uint64("height", h))
			}
		}
	}
}

// fanOutUpdates copies every batch the block creator emits to each network's
// own publisher channel, dropping on a full channel rather than blocking one
// slow network behind another (§4.E's own backlog philosophy, applied across
// publishers instead of within one).
func fanOutUpdates(ctx context.Context, creator *blockcreator.Creator, chans map[string]chan blockcreator.BatchedUpdate, log *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case batch, ok := <-creator.Out():
			if !ok {
				return
			}
			for network, ch := range chans {
				select {
				case ch <- batch:
				default:
					metrics.BacklogOverflow.WithLabelValues(network).Inc()
					log.Warn("publisher channel full, dropping batch", zap.String("network", network), zap.Uint64("height", batch.BlockHeight))
				}
			}
		}
	}
}

// replayPeerBlocks subscribes to the block bus and replays another
// sequencer's appended blocks: height/parent-linkage validated by
// AddNextBlock, feed-registry commands applied the same way the block
// creator applies its own (§4.J "Block Stream I/O").
func replayPeerBlocks(ctx context.Context, reader *bus.BlockReader, chain *ledger.Chain, reg *registry.Registry, log *zap.Logger) {
	defer reader.Close()
	for {
		block, err := reader.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn("peer block read failed", zap.Error(err))
			continue
		}
		if err := chain.AddNextBlock(block); err != nil {
			log.Warn("peer block rejected", zap.Uint64("height", block.Header.BlockHeight), zap.Error(err))
			continue
		}
		for _, f := range block.Actions.NewFeeds {
			if err := reg.Register(f); err != nil {
				log.Warn("peer feed registration failed", zap.Uint32("feed_id", uint32(f.ID)), zap.Error(err))
			}
		}
		for _, id := range block.Actions.FeedIDsToRemove {
			if err := reg.Remove(id); err != nil {
				log.Warn("peer feed removal failed", zap.Uint32("feed_id", uint32(id)), zap.Error(err))
			}
		}
	}
}

func loadSigner(path string) (*sequencercrypto.Signer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %q: %w", path, err)
	}
	return sequencercrypto.FromPrivateKeyHex(strings.TrimSpace(string(data)))
}

func resolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

func decodeHexPubKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	return hex.DecodeString(s)
}
