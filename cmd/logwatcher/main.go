package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/primoia/log-watcher/internal/config"
	"github.com/primoia/log-watcher/internal/server"
)

func main() {
	// Optional .env for local development; the environment wins.
	_ = godotenv.Load()

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("could not load configuration")
	}

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("could not build server")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info().
		Str("port", cfg.Server.Port).
		Str("queue_backend", cfg.Queue.Backend).
		Int("workers", cfg.Queue.Workers).
		Msg("starting log-watcher")

	if err := srv.Start(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server exited")
		os.Exit(1)
	}
}
