package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/petledger/service/config"
	"github.com/brojonat/petledger/service/db"
	"github.com/brojonat/petledger/service/ledger"
	"github.com/brojonat/petledger/service/metrics"
	natspkg "github.com/brojonat/petledger/service/nats"
	"github.com/brojonat/petledger/service/nft"
	"github.com/brojonat/petledger/service/server"
	"github.com/brojonat/petledger/service/solana"
	"github.com/brojonat/petledger/service/temporal"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"network", cfg.SolanaNetwork,
		"log_level", cfg.LogLevel,
	)

	// Setup context with cancellation for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metricsCollector := metrics.NewMetrics(reg)

	// Initialize Solana RPC client
	// Note: For premium RPC endpoints, include API key in the URL
	rpcURL, err := solana.SelectRandomEndpoint(cfg.SolanaRPCURLs)
	if err != nil {
		logger.Error("failed to select RPC endpoint", "error", err)
		os.Exit(1)
	}
	endpoint := solana.EndpointLabel(rpcURL)
	solanaClient := solana.NewClient(
		solana.NewRPCClient(rpcURL, cfg.SolanaRPCRPS, cfg.SolanaRPCBurst),
		solana.ClientConfig{
			Endpoint:        endpoint,
			Commitment:      rpc.CommitmentType(cfg.SolanaCommitment),
			ConfirmPolls:    cfg.ConfirmPolls,
			ConfirmInterval: cfg.ConfirmInterval,
			MintCacheTTL:    cfg.MintCacheTTL,
		},
		metricsCollector,
		logger,
	)
	logger.Info("initialized solana RPC client",
		"endpoint", endpoint,
		"total_endpoints", len(cfg.SolanaRPCURLs),
	)

	opcodes, _ := solana.OpcodeTableByVersion(cfg.OpcodeTable)
	accounts := solana.NewAccountResolver(solanaClient, metricsCollector, logger)
	builder := solana.NewBuilder(solanaClient, accounts, solana.BuilderConfig{Confirm: cfg.ConfirmInline}, metricsCollector, logger)
	orchestrator := solana.NewOrchestrator(builder, cfg.BatchConcurrency, metricsCollector, logger)
	history := solana.NewHistoryDecoder(solanaClient, solana.NewDecoder(opcodes), cfg.HistoryConcurrency, metricsCollector, logger)
	assets := nft.NewResolver(solanaClient, &http.Client{Timeout: cfg.MetadataHTTPTimeout}, metricsCollector, logger)

	// Custodial signer. Without one the server still answers reads.
	var signer solana.Signer
	if cfg.SignerKeypairPath != "" {
		local, err := solana.LoadLocalSigner(cfg.SignerKeypairPath)
		if err != nil {
			logger.Error("failed to load signer keypair", "error", err, "path", cfg.SignerKeypairPath)
			os.Exit(1)
		}
		signer = local
		logger.Info("loaded signer", "public_key", local.PublicKey().String())
	} else {
		logger.Warn("SIGNER_KEYPAIR_PATH not set, write endpoints will be rejected")
	}

	var opts ledger.Options
	var store server.SubmissionStore

	// Initialize database connection pool
	if cfg.JournalEnabled() {
		dbPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		// Verify database connection
		if err := dbPool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", "error", err)
			os.Exit(1)
		}
		if err := db.Migrate(ctx, dbPool); err != nil {
			logger.Error("failed to apply schema", "error", err)
			os.Exit(1)
		}
		logger.Info("connected to database")

		journal := db.NewStore(dbPool).WithMetrics(metricsCollector)
		opts.Journal = journal
		store = journal
	} else {
		logger.Warn("DATABASE_URL not set, submission journal disabled")
	}

	var ssePublisher *server.SSEPublisher
	if cfg.EventsEnabled() {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, metricsCollector, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		opts.Publisher = publisher

		ssePublisher, err = server.NewSSEPublisher(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create SSE publisher", "error", err)
			os.Exit(1)
		}
		defer ssePublisher.Close()
		logger.Info("connected to NATS", "url", cfg.NATSURL)
	} else {
		logger.Warn("NATS_URL not set, submission events disabled")
	}

	// Durable confirmation is best effort: the API keeps serving when
	// Temporal is down, and `petledger temporal reconcile` catches up later.
	temporalClient, err := temporal.NewClient(
		cfg.TemporalHost,
		cfg.TemporalNamespace,
		cfg.TemporalTaskQueue,
		temporal.ConfirmationConfig{
			Level:         cfg.SolanaCommitment,
			MaxChecks:     cfg.ConfirmWorkflowChecks,
			CheckInterval: cfg.ConfirmWorkflowInterval,
		},
		logger,
	)
	if err != nil {
		logger.Warn("temporal unavailable, durable confirmation disabled", "error", err)
	} else {
		defer temporalClient.Close()
		opts.Scheduler = temporalClient
	}

	svc := ledger.New(builder, orchestrator, history, solanaClient, assets, opts, logger)

	// Initialize HTTP server
	httpServer := server.New(cfg.ServerAddr, svc, signer, store, ssePublisher, metricsCollector, logger).
		WithGatherer(reg)

	logger.Info("server initialized, all dependencies ready",
		"journal", cfg.JournalEnabled(),
		"events", cfg.EventsEnabled(),
		"durable_confirmation", opts.Scheduler != nil,
		"opcode_table", cfg.OpcodeTable,
	)

	// Start HTTP server in background
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- httpServer.Start()
	}()

	// Wait for shutdown signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Error("server error", "error", err)
		os.Exit(1)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())

		// Graceful shutdown with timeout
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown server gracefully", "error", err)
			os.Exit(1)
		}

		logger.Info("server shutdown complete")
	}
}

// setupLogger creates a structured logger with the given log level.
func setupLogger(levelStr string) *slog.Logger {
	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}
