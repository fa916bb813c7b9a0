package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/archive-ai/orchestrator/internal/config"
	"github.com/archive-ai/orchestrator/internal/embedding"
	"github.com/archive-ai/orchestrator/internal/kvstore"
	"github.com/archive-ai/orchestrator/internal/llm"
	"github.com/archive-ai/orchestrator/internal/logging"
	"github.com/archive-ai/orchestrator/internal/memory"
	"github.com/archive-ai/orchestrator/internal/orchestrator"
	"github.com/archive-ai/orchestrator/internal/persona"
	"github.com/archive-ai/orchestrator/internal/stream"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("orchestrator")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logging.Init(cfg.LogPath, cfg.LogLevel)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	redisAddr := cfg.RedisURL
	if opts, err := redis.ParseURL(cfg.RedisURL); err == nil {
		redisAddr = opts.Addr
	}
	kv, err := kvstore.New(ctx, redisAddr)
	if err != nil {
		return fmt.Errorf("connect kv store: %w", err)
	}
	defer func() {
		if cerr := kv.Close(); cerr != nil {
			log.Error().Err(cerr).Msg("close kv store")
		}
	}()

	embedder := embedding.New(cfg.Embedding)
	memories := memory.New(kv, embedder)
	if err := memories.EnsureIndex(ctx); err != nil {
		return fmt.Errorf("ensure vector index: %w", err)
	}

	engines := llm.NewEngines(cfg)

	personas, err := persona.New(cfg.DataPath)
	if err != nil {
		return fmt.Errorf("init persona store: %w", err)
	}
	if err := personas.SeedFromYAML(filepath.Join("configs", "personas.yaml")); err != nil {
		log.Warn().Err(err).Msg("persona seed skipped")
	}

	appender := stream.NewAppender(kv, cfg)
	worker := stream.NewWorker(kv, engines.Fast, memories, embedder, cfg)

	app := orchestrator.NewApp(cfg, engines, kv, memories, appender, personas, worker)

	workerCtx, stopWorker := context.WithCancel(ctx)
	go func() {
		if err := worker.Run(workerCtx); err != nil && workerCtx.Err() == nil {
			log.Error().Err(err).Msg("memory worker stopped unexpectedly")
		}
	}()
	defer stopWorker()

	archivalCtx, stopArchival := context.WithCancel(ctx)
	go app.Archival.Run(archivalCtx)
	defer stopArchival()

	metricsCtx, stopMetrics := context.WithCancel(ctx)
	go app.Collector.Run(metricsCtx, cfg.MetricsSampleInterval)
	defer stopMetrics()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           app.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("orchestrator listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("orchestrator stopped")
	return nil
}
