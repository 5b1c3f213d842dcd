package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatrelay/internal/config"
	"chatrelay/internal/crypto"
	"chatrelay/internal/generator"
	"chatrelay/internal/guard"
	"chatrelay/internal/httpapi"
	"chatrelay/internal/metrics"
	"chatrelay/internal/notifier"
	"chatrelay/internal/pipeline"
	"chatrelay/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setupLogger(cfg.Log.Level)
	log.Info().
		Str("listen_addr", cfg.Server.ListenAddr).
		Str("generator", cfg.Generator.Kind).
		Str("db_driver", cfg.DB.Driver).
		Msg("starting chatrelay")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.Open(ctx, cfg.DB.Driver, cfg.DB.DSN, cfg.DB.AutoMigrate, "migrations")
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	defer store.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer rdb.Close()

	cryptoManager, err := crypto.NewManager(cfg.Crypto.CurrentKeyID, cfg.Crypto.Keys)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize crypto manager")
	}

	gen, err := generator.New(cfg.Generator)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize reply generator")
	}

	m := metrics.Global()

	notify := notifier.New(notifier.Config{
		Crypto:     cryptoManager,
		AuthHeader: cfg.Notify.AuthHeader,
		Timeout:    cfg.Notify.Timeout,
		Logger:     log.Logger,
		Metrics:    m,
	})

	pipe := pipeline.New(pipeline.Config{
		Store:     store,
		Generator: gen,
		Notifier:  notify,
		Dedupe:    guard.NewMessageDeduplicator(rdb, cfg.Redis.DedupeTTL),
		Logger:    log.Logger,
		Metrics:   m,
	})

	srv := httpapi.New(httpapi.Config{
		Server:   cfg.Server,
		Store:    store,
		Pipeline: pipe,
		Notifier: notify,
		Crypto:   cryptoManager,
		Limiter:  guard.NewRateLimiter(rdb, cfg.Rate.PerHour),
		Logger:   log.Logger,
		Metrics:  m,
	})

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.ListenAddr).Msg("http server started")
		if err := srv.Start(); err != nil {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("runtime error")
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to stop http server")
	}

	log.Info().Msg("stopped")
}

func setupLogger(level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.SetGlobalLevel(parseLogLevel(level))
	log.Logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
