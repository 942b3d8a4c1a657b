package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/makeasinger/videogen/internal/app"
	"github.com/makeasinger/videogen/internal/config"
	"github.com/makeasinger/videogen/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("development", "info")
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger := logging.New(cfg.Server.Env, cfg.Server.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize")
	}

	go a.RunHub(ctx)

	if err := a.StartWorker(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start worker")
	}

	router := a.Router()

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		logger.Info().Msg("shutting down server")
		if err := router.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
	}()

	addr := ":" + cfg.Server.Port
	logger.Info().Str("addr", addr).
		Str("store", cfg.Store.Driver).
		Str("dispatch", cfg.Dispatch.Mode).
		Msg("server starting")
	if err := router.Listen(addr); err != nil {
		logger.Error().Err(err).Msg("server error")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := a.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown incomplete")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
