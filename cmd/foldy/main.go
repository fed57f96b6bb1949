// Foldy server — orchestrates protein-structure prediction jobs over a
// shared key/value store: HTTP API, SSE streaming, cancellation, and
// background retention sweeps.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/proteinops/foldy/pkg/api"
	"github.com/proteinops/foldy/pkg/archive"
	"github.com/proteinops/foldy/pkg/config"
	"github.com/proteinops/foldy/pkg/kv"
	"github.com/proteinops/foldy/pkg/reaper"
	"github.com/proteinops/foldy/pkg/reasoner"
	"github.com/proteinops/foldy/pkg/store"
	"github.com/proteinops/foldy/pkg/version"
)

func main() {
	envFile := flag.String("env-file", ".env", "Path to environment file")
	flag.Parse()

	// Load .env; a missing file is fine, the real environment wins.
	if err := godotenv.Load(*envFile); err != nil {
		slog.Warn("Could not load env file, continuing with existing environment",
			"path", *envFile, "error", err)
	}

	logger := slog.Default()
	logger.Info("Starting foldy", "version", version.Full())

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// 2. Connect to the shared key/value store
	kvClient, err := kv.NewClient(ctx, cfg.Redis)
	if err != nil {
		logger.Error("Failed to connect to shared store", "addr", cfg.Redis.Addr, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := kvClient.Close(); err != nil {
			logger.Error("Error closing store client", "error", err)
		}
	}()
	logger.Info("Connected to shared store", "addr", cfg.Redis.Addr, "prefix", cfg.Redis.KeyPrefix)

	// 3. Build the stores
	stateStore := store.NewStateStore(kvClient, cfg.Jobs.StateTTL)
	metaStore := store.NewMetaStore(kvClient, cfg.Jobs.StateTTL)
	eventQueue := store.NewEventQueue(kvClient, cfg.Jobs.EventsTTL, cfg.Jobs.MaxEventsPerJob)
	sessionStore := store.NewReasonerStore(kvClient, cfg.Jobs.StateTTL)

	// 4. Reasoner clients: the live NDJSON client plus the deterministic
	// mock, which also backs the ?mock=true escape hatch.
	liveClient := reasoner.NewClient(cfg.Reasoner)
	mockClient, err := reasoner.NewMock(cfg.Reasoner, cfg.Jobs.StructuresDir)
	if err != nil {
		logger.Error("Failed to initialize mock reasoner", "error", err)
		os.Exit(1)
	}
	var streamer reasoner.Streamer = liveClient
	if cfg.Reasoner.UseMock {
		streamer = mockClient
		logger.Info("Using mock reasoner", "delay_mode", cfg.Reasoner.MockDelayMode)
	}

	// 5. Optional archive mirror
	var arch *archive.Client
	if cfg.Archive.DatabaseURL != "" {
		arch, err = archive.New(ctx, cfg.Archive.DatabaseURL, logger)
		if err != nil {
			logger.Error("Failed to connect to archive database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := arch.Close(); err != nil {
				logger.Error("Error closing archive client", "error", err)
			}
		}()
		logger.Info("Archive mirror enabled")
	}

	// 6. Start the reaper
	sweeper := reaper.NewService(cfg.Reaper, kvClient, cfg.Jobs.StructuresDir)
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 7. HTTP server
	server := api.NewServer(api.Deps{
		Config:       cfg,
		KV:           kvClient,
		State:        stateStore,
		Meta:         metaStore,
		Queue:        eventQueue,
		Sessions:     sessionStore,
		Streamer:     streamer,
		MockStreamer: mockClient,
		Interrupter:  liveClient,
		Archive:      arch,
		Logger:       logger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	logger.Info("Foldy started", "port", cfg.HTTP.Port)

	// 8. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("Shutdown signal received", "signal", sig.String())
	case err := <-errCh:
		logger.Error("HTTP server error", "error", err)
	}

	// 9. Graceful shutdown: drain open SSE streams, then stop background
	// services via the deferred Stop/Close calls.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP shutdown failed", "error", err)
	}
	logger.Info("Foldy stopped")
}
