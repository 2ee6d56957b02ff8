package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/brojonat/nftvault/service/metrics"
	"github.com/brojonat/nftvault/service/session"
	"github.com/brojonat/nftvault/service/txn"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server represents the HTTP server for a vault session.
type Server struct {
	addr    string
	session *session.Session
	source  StateSource
	metrics *metrics.Metrics
	logger  *slog.Logger
	server  *http.Server
}

// New creates a new HTTP server for sess.
// The source is optional - if nil, the SSE stream is served from the
// in-process orchestrator.
// The metrics is optional - if nil, the metrics endpoint won't be available.
func New(addr string, sess *session.Session, source StateSource, m *metrics.Metrics, logger *slog.Logger) *Server {
	if source == nil {
		source = orchestratorSource{orch: sess.Orchestrator}
	}
	return &Server{
		addr:    addr,
		session: sess,
		source:  source,
		metrics: m,
		logger:  logger,
	}
}

// Handler builds the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	sess := s.session

	route := func(pattern, name string, h http.Handler) {
		mux.Handle(pattern, metrics.HTTPMetricsMiddleware(s.metrics, name)(h))
	}

	// Network and selection
	route("GET /api/v1/network", "/api/v1/network", handleGetNetwork(sess))
	route("PUT /api/v1/network", "/api/v1/network", handleSyncNetwork(sess, s.logger))
	route("GET /api/v1/selection", "/api/v1/selection", handleGetSelection(sess))
	route("PUT /api/v1/selection", "/api/v1/selection", handleSetSelection(sess, s.logger))
	route("DELETE /api/v1/selection", "/api/v1/selection", handleClearSelection(sess))

	// Reads
	route("GET /api/v1/accounts", "/api/v1/accounts", handleGetAccounts(sess, s.logger))
	route("GET /api/v1/vault", "/api/v1/vault", handleGetVault(sess, s.logger))
	route("GET /api/v1/positions/{nft}", "/api/v1/positions", handleGetPosition(sess, s.logger))
	route("GET /api/v1/balances", "/api/v1/balances", handleGetBalances(sess, s.logger))
	route("GET /api/v1/collection", "/api/v1/collection", handleGetCollection(sess, s.logger))
	route("GET /api/v1/fee-preview", "/api/v1/fee-preview", handleFeePreview(sess, s.logger))
	route("GET /api/v1/tx", "/api/v1/tx", handleGetTxState(sess))

	// Operations
	route("POST /api/v1/deposit", "/api/v1/deposit", handleVaultOperation(sess, txn.OpDeposit, s.logger))
	route("POST /api/v1/withdraw", "/api/v1/withdraw", handleVaultOperation(sess, txn.OpWithdraw, s.logger))
	route("POST /api/v1/lock", "/api/v1/lock", handleVaultOperation(sess, txn.OpLock, s.logger))
	route("POST /api/v1/collection", "/api/v1/collection", handleInitializeCollection(sess, s.logger))
	route("POST /api/v1/nfts", "/api/v1/nfts", handleMintNFT(sess, s.logger))
	route("POST /api/v1/tokens/mint", "/api/v1/tokens/mint", handleMintTokens(sess, s.logger))

	// SSE streaming
	mux.Handle("GET /api/v1/stream/tx", handleStreamTx(s.source, sess.Orchestrator, s.metrics, s.logger))

	// Health check endpoint
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint (if metrics collector is configured)
	if s.metrics != nil {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return corsMiddleware(mux)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.addr,
		Handler:     s.Handler(),
		ReadTimeout: 15 * time.Second,
		// Operations block through confirmation.
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting HTTP server",
		"addr", s.addr,
		"wallet", s.session.Wallet.PublicKey(),
	)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	if c, ok := s.source.(interface{ Close() error }); ok {
		c.Close()
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
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "3600")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
