package main

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	httpapi "github.com/escrow-hub/escrow-hub/internal/api/http"
	"github.com/escrow-hub/escrow-hub/internal/application/approval"
	"github.com/escrow-hub/escrow-hub/internal/application/lifecycle"
	"github.com/escrow-hub/escrow-hub/internal/application/payout"
	"github.com/escrow-hub/escrow-hub/internal/application/recon"
	"github.com/escrow-hub/escrow-hub/internal/config"
	"github.com/escrow-hub/escrow-hub/internal/domain/campaign"
	"github.com/escrow-hub/escrow-hub/internal/domain/entry"
	"github.com/escrow-hub/escrow-hub/internal/domain/eventlog"
	"github.com/escrow-hub/escrow-hub/internal/domain/pendingtx"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/keystore"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/memory"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/postgres"
	"github.com/escrow-hub/escrow-hub/internal/infrastructure/sse"
	"github.com/escrow-hub/escrow-hub/internal/ledger/embedded"
	"github.com/escrow-hub/escrow-hub/internal/metadata"
)

func main() {
	_ = godotenv.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()

	// repositories
	var (
		campaignRepo campaign.Repository
		entryRepo    entry.Repository
		pendingRepo  pendingtx.Repository
		eventRepo    eventlog.Repository
	)
	if cfg.InMemory {
		campaignRepo = memory.NewCampaignRepository()
		entryRepo = memory.NewEntryRepository()
		pendingRepo = memory.NewPendingTxRepository()
		eventRepo = memory.NewEventLogRepository()
		logger.Warn().Msg("using in-memory store, state is lost on restart")
	} else {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()

		if err := postgres.RunMigrations(ctx, pool, "internal/migrations"); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		campaignRepo = postgres.NewCampaignRepository(pool)
		entryRepo = postgres.NewEntryRepository(pool)
		pendingRepo = postgres.NewPendingTxRepository(pool)
		eventRepo = postgres.NewEventLogRepository(pool)
	}

	// embedded ledger
	applier, cleanup, err := newApplier(cfg)
	if err != nil {
		log.Fatalf("ledger error: %v", err)
	}
	defer cleanup()

	signer, err := loadSigner(cfg.SignerKeyHex)
	if err != nil {
		log.Fatalf("signer error: %v", err)
	}
	client, err := embedded.NewClient(embedded.ClientConfig{
		Applier: applier,
		ChainID: cfg.ChainID,
		Signer:  signer,
	})
	if err != nil {
		log.Fatalf("ledger client error: %v", err)
	}

	// infrastructure
	sseHub := sse.NewHub()
	keyStore, err := keystore.NewFromEnv()
	if err != nil {
		log.Fatalf("keystore error: %v", err)
	}
	resolver := metadata.NewResolver(metadata.ResolverConfig{
		PinURL:   cfg.PinServiceURL,
		PinToken: cfg.PinToken,
		Gateways: cfg.Gateways,
		Logger:   logger,
	})

	// services
	var approvals approval.Policy = approval.ManualPolicy{}
	if cfg.ApprovalExpr != "" {
		approvals = approval.ExpressionPolicy{Expression: cfg.ApprovalExpr}
	}
	lifecycleSvc := lifecycle.NewService(lifecycle.Config{
		CampaignRepo: campaignRepo,
		EntryRepo:    entryRepo,
		PendingRepo:  pendingRepo,
		Client:       client,
		Pinner:       resolver,
		Approvals:    approvals,
		ChainID:      cfg.ChainID,
		ConfirmWait:  cfg.ConfirmWait,
		Logger:       logger,
	})
	payoutSvc := payout.NewService(client, logger)
	processor := recon.NewProcessor(recon.ProcessorConfig{
		CampaignRepo: campaignRepo,
		EntryRepo:    entryRepo,
		PendingRepo:  pendingRepo,
		EventRepo:    eventRepo,
		Secrets:      keyStore,
		Payouts:      payoutSvc,
		ChainID:      cfg.ChainID,
		Operator:     cfg.Operator,
		Logger:       logger,
	})
	poller := recon.NewPoller(recon.PollerConfig{
		Client:       client,
		Processor:    processor,
		EventRepo:    eventRepo,
		PendingRepo:  pendingRepo,
		ChainID:      cfg.ChainID,
		Interval:     cfg.PollInterval,
		BatchSize:    cfg.PollBatchSize,
		AbandonAfter: cfg.AbandonAfter,
		Logger:       logger,
	})

	// API server
	apiServer := httpapi.NewServer(lifecycleSvc, processor, sseHub, logger)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background reconciliation
	pollCtx, stopPoller := context.WithCancel(ctx)
	go func() {
		if err := poller.Run(pollCtx); err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("poller stopped")
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Str("chainId", cfg.ChainID).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	stopPoller()
	sseHub.Stop()
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}

// newApplier selects the ledger backend: a raft-replicated node when enabled,
// otherwise a bare in-process machine.
func newApplier(cfg *config.Config) (embedded.Applier, func(), error) {
	if !cfg.RaftEnabled {
		return embedded.NewLocalApplier(embedded.NewMachine(cfg.ChainID)), func() {}, nil
	}
	node, err := embedded.NewNode(embedded.NodeConfig{
		NodeID:    cfg.RaftNodeID,
		ChainID:   cfg.ChainID,
		RaftAddr:  cfg.RaftAddr,
		DataDir:   cfg.RaftDataDir,
		Bootstrap: cfg.RaftBootstrap,
	})
	if err != nil {
		return nil, nil, err
	}
	return node, func() { _ = node.Shutdown() }, nil
}

// loadSigner decodes a hex ed25519 key, accepting either a 32-byte seed or a
// full 64-byte private key. An empty value generates an ephemeral key.
func loadSigner(hexKey string) (ed25519.PrivateKey, error) {
	if hexKey == "" {
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		return priv, err
	}
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, err
	}
	if len(raw) == ed25519.SeedSize {
		return ed25519.NewKeyFromSeed(raw), nil
	}
	return ed25519.PrivateKey(raw), nil
}
