package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"github.com/blocksense-network/sequencer/params"
	"github.com/blocksense-network/sequencer/pkg/bus"
	sequencercrypto "github.com/blocksense-network/sequencer/pkg/crypto"
	"github.com/blocksense-network/sequencer/pkg/oracle"
	"github.com/blocksense-network/sequencer/pkg/oracle/feed"
	"github.com/blocksense-network/sequencer/pkg/registry"
	"github.com/blocksense-network/sequencer/pkg/reporter"
	"github.com/blocksense-network/sequencer/pkg/util"
)

func main() {
	cfg, err := params.LoadReporterConfig("")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	root := params.BlocksenseRoot()
	keyPath := cfg.PrivateKeyPath
	if !filepath.IsAbs(keyPath) {
		keyPath = filepath.Join(root, keyPath)
	}
	keyData, err := os.ReadFile(keyPath)
	if err != nil {
		logger.Fatal("could not read private key", zap.Error(err))
	}
	signer, err := sequencercrypto.FromPrivateKeyHex(strings.TrimSpace(string(keyData)))
	if err != nil {
		logger.Fatal("could not build signer", zap.Error(err))
	}

	_, feedEntries, err := params.LoadFromEnv("")
	if err != nil {
		logger.Fatal("could not load feeds config", zap.Error(err))
	}
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

	components := make([]reporter.Component, 0, len(cfg.Components))
	for _, c := range cfg.Components {
		dataFeeds := make([]feed.Config, 0, len(c.FeedIDs))
		for _, rawID := range c.FeedIDs {
			feedCfg, ok := reg.Get(oracle.FeedId(rawID))
			if !ok {
				logger.Fatal("component references unknown feed", zap.String("component", c.Name), zap.Uint32("feed_id", rawID))
			}
			dataFeeds = append(dataFeeds, feedCfg)
		}
		components = append(components, reporter.Component{
			Name:         c.Name,
			Interval:     c.Interval(),
			DataFeeds:    dataFeeds,
			Capabilities: reporter.Capabilities(c.Capabilities),
			Invoker:      reporter.NewHTTPInvoker(),
		})
	}

	rep := reporter.New(reporter.Config{
		ReporterID:       oracle.ReporterId(cfg.ReporterID),
		Signer:           signer,
		SequencerBaseURL: cfg.SequencerBaseURL,
		Log:              logger,
	}, components)

	tolerances := make(map[oracle.FeedId]float64, len(cfg.Tolerances))
	for id, t := range cfg.Tolerances {
		tolerances[oracle.FeedId(id)] = t
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go rep.Run(ctx)

	if cfg.KafkaURL != "" {
		reader := bus.NewSecondRoundReader(cfg.KafkaURL, fmt.Sprintf("reporter-%d-second-round", cfg.ReporterID))
		coSigner := reporter.NewSecondRoundCoSigner(rep, reg, reader, tolerances, logger)
		go func() {
			coSigner.Run(ctx)
			reader.Close()
		}()
		logger.Info("second-round co-signer started")
	}

	logger.Info("reporter starting",
		zap.Uint64("reporter_id", cfg.ReporterID),
		zap.Int("components", len(components)),
		zap.String("sequencer_base_url", cfg.SequencerBaseURL))

	<-ctx.Done()
	logger.Info("reporter shutting down")
}
