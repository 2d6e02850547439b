package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/petledger/service/db"
	"github.com/brojonat/petledger/service/metrics"
	"github.com/brojonat/petledger/service/nft"
	"github.com/brojonat/petledger/service/solana"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Ledger is the facade the handlers drive. *ledger.Service implements it.
type Ledger interface {
	CreateToken(ctx context.Context, signer solana.Signer, decimals uint8) (*solana.Submission, error)
	MintToken(ctx context.Context, signer solana.Signer, mint, to, amount string) (*solana.Submission, error)
	TransferToken(ctx context.Context, signer solana.Signer, mint, to, amount string) (*solana.Submission, error)
	BurnToken(ctx context.Context, signer solana.Signer, mint, amount string) (*solana.Submission, error)
	TransferAsset(ctx context.Context, signer solana.Signer, mint, to string) (*solana.Submission, error)
	BurnAsset(ctx context.Context, signer solana.Signer, mint string) (*solana.Submission, error)
	BatchTransferAssets(ctx context.Context, signer solana.Signer, items []solana.TransferItem) []solana.BatchResult
	BatchBurnAssets(ctx context.Context, signer solana.Signer, mints []string) []solana.BatchResult
	GetBalance(ctx context.Context, owner, mint string) (*solana.Balance, error)
	GetHistory(ctx context.Context, address string, limit int) ([]solana.ActivityRecord, error)
	GetAsset(ctx context.Context, mint string) (*nft.Asset, error)
}

// SubmissionStore reads the submission journal. *db.Store implements it.
type SubmissionStore interface {
	GetSubmission(ctx context.Context, signature string) (*db.Submission, error)
	ListSubmissions(ctx context.Context, params db.ListSubmissionsParams) ([]*db.Submission, error)
}

// Server represents the HTTP server for the ledger service.
type Server struct {
	addr         string
	ledger       Ledger
	signer       solana.Signer
	store        SubmissionStore
	ssePublisher *SSEPublisher
	metrics      *metrics.Metrics
	gatherer     prometheus.Gatherer
	logger       *slog.Logger
	server       *http.Server
}

// New creates a new HTTP server with the given dependencies.
// Every write is signed by signer, the service's custodial key.
// The store is optional - if nil, submission endpoints won't be available.
// The ssePublisher is optional - if nil, SSE endpoints won't be available.
// The metrics is optional - if nil, metrics endpoints won't be available.
func New(addr string, ledger Ledger, signer solana.Signer, store SubmissionStore, ssePublisher *SSEPublisher, m *metrics.Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		addr:         addr,
		ledger:       ledger,
		signer:       signer,
		store:        store,
		ssePublisher: ssePublisher,
		metrics:      m,
		gatherer:     prometheus.DefaultGatherer,
		logger:       logger,
	}
}

// WithGatherer serves /metrics from g instead of the default registry.
func (s *Server) WithGatherer(g prometheus.Gatherer) *Server {
	s.gatherer = g
	return s
}

// Handler builds the routed handler. Start serves it; tests use it directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Token routes
	route("POST /api/v1/tokens", "/api/v1/tokens", handleCreateToken(s.ledger, s.signer, s.logger))
	route("POST /api/v1/tokens/{mint}/mint", "/api/v1/tokens/mint", handleMintToken(s.ledger, s.signer, s.logger))
	route("POST /api/v1/tokens/{mint}/transfer", "/api/v1/tokens/transfer", handleTransferToken(s.ledger, s.signer, s.logger))
	route("POST /api/v1/tokens/{mint}/burn", "/api/v1/tokens/burn", handleBurnToken(s.ledger, s.signer, s.logger))

	// Asset routes
	route("POST /api/v1/assets/batch/transfer", "/api/v1/assets/batch/transfer", handleBatchTransferAssets(s.ledger, s.signer, s.logger))
	route("POST /api/v1/assets/batch/burn", "/api/v1/assets/batch/burn", handleBatchBurnAssets(s.ledger, s.signer, s.logger))
	route("POST /api/v1/assets/{mint}/transfer", "/api/v1/assets/transfer", handleTransferAsset(s.ledger, s.signer, s.logger))
	route("POST /api/v1/assets/{mint}/burn", "/api/v1/assets/burn", handleBurnAsset(s.ledger, s.signer, s.logger))
	route("GET /api/v1/assets/{mint}", "/api/v1/assets", handleGetAsset(s.ledger, s.logger))

	// Reads
	route("GET /api/v1/balances/{owner}", "/api/v1/balances", handleGetBalance(s.ledger, s.logger))
	route("GET /api/v1/history/{address}", "/api/v1/history", handleGetHistory(s.ledger, s.logger))

	// Journal routes (if the journal is configured)
	if s.store != nil {
		route("GET /api/v1/submissions/{signature}", "/api/v1/submissions/get", handleGetSubmission(s.store, s.logger))
		route("GET /api/v1/submissions", "/api/v1/submissions", handleListSubmissions(s.store, s.logger))
	} else {
		s.logger.Warn("journal not configured, submission endpoints disabled")
	}

	// SSE streaming endpoints (if SSE publisher is configured)
	if s.ssePublisher != nil {
		route("GET /api/v1/stream/submissions", "/api/v1/stream/submissions", handleStreamSubmissions(s.ssePublisher, s.logger))
		route("GET /api/v1/stream/submissions/{kind}", "/api/v1/stream/submissions", handleStreamSubmissions(s.ssePublisher, s.logger))
		s.logger.Info("SSE streaming endpoints enabled")
	}

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 2 * time.Minute, // inline confirmation and batches
		IdleTimeout:  60 * time.Second,
	}

	signer := "none"
	if s.signer != nil {
		signer = s.signer.PublicKey().String()
	}
	s.logger.Info("starting HTTP server", "addr", s.addr, "signer", signer)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close SSE publisher first (disconnects all clients)
	if s.ssePublisher != nil {
		s.ssePublisher.Close()
	}

	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses and handles OPTIONS preflight requests.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
