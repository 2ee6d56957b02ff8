package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brojonat/nftvault/service/config"
	"github.com/brojonat/nftvault/service/metrics"
	natspkg "github.com/brojonat/nftvault/service/nats"
	"github.com/brojonat/nftvault/service/server"
	"github.com/brojonat/nftvault/service/session"
	"github.com/brojonat/nftvault/service/txn"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	envFile := flag.String("env-file", ".env", "dotenv file loaded before reading configuration")
	flag.Parse()
	if err := godotenv.Load(*envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to load env file", "path", *envFile, "error", err)
		os.Exit(1)
	}

	// Load and validate configuration from environment
	// This fails fast if any required config is missing or invalid
	cfg := config.MustLoad()

	// Setup structured logging
	logger := setupLogger(cfg.LogLevel)
	logger.Info("starting server",
		"addr", cfg.ServerAddr,
		"log_level", cfg.LogLevel,
		"network", cfg.Network,
	)

	m := metrics.NewMetrics(prometheus.DefaultRegisterer)

	wallet, err := txn.LoadKeypairWallet(cfg.KeypairPath)
	if err != nil {
		logger.Error("failed to load wallet", "error", err)
		os.Exit(1)
	}
	logger.Info("loaded wallet", "wallet", wallet.PublicKey())

	// NATS is optional. Without it, state is streamed from the in-process
	// orchestrator.
	opts := session.Options{Metrics: m, Logger: logger}
	var source server.StateSource
	if cfg.NATSURL != "" {
		publisher, err := natspkg.NewPublisher(cfg.NATSURL, m, logger)
		if err != nil {
			logger.Error("failed to create NATS publisher", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		opts.Publisher = publisher

		natsSource, err := server.NewNATSSource(cfg.NATSURL, logger)
		if err != nil {
			logger.Error("failed to create NATS source", "error", err)
			os.Exit(1)
		}
		source = natsSource
	}

	sess, err := session.New(cfg, wallet, opts)
	if err != nil {
		logger.Error("failed to create session", "error", err)
		os.Exit(1)
	}
	defer sess.Close()

	// A network that fails to bind is reported by the API and can be
	// re-synced, so startup continues.
	if state := sess.Connect(); !state.Ready {
		logger.Warn("network not ready", "network", state.Network, "error", state.Error)
	} else {
		logger.Info("network bound", "network", state.Network, "endpoint", state.Endpoint)
	}

	httpServer := server.New(cfg.ServerAddr, sess, source, m, logger)

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
