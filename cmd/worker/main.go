// Package main provides the entry point for the synthesis worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/vocguru/internal/collector"
	"github.com/thebtf/vocguru/internal/config"
	"github.com/thebtf/vocguru/internal/db/gorm"
	"github.com/thebtf/vocguru/internal/embedding"
	"github.com/thebtf/vocguru/internal/extractor"
	"github.com/thebtf/vocguru/internal/identity"
	"github.com/thebtf/vocguru/internal/maintenance"
	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/internal/vector/pgvector"
	"github.com/thebtf/vocguru/internal/worker"
)

var Version = "dev"

// components are the parts initialized after the HTTP server is up.
type components struct {
	store       *gorm.Store
	embedder    *embedding.Service
	queue       *collector.Queue
	maintenance *maintenance.Service
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		// Logging is not configured yet.
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	log.Info().
		Str("version", Version).
		Int("port", cfg.WorkerPort).
		Msg("Starting vocguru worker")

	svc := worker.NewService(worker.Options{
		Version:  Version,
		Port:     cfg.WorkerPort,
		APIToken: cfg.APIToken,
	}, log.Logger)

	// Health answers while the database connects and migrates.
	if err := svc.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start service")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	initDone := make(chan *components, 1)
	go func() {
		c, err := initialize(ctx, cfg, svc)
		if err != nil {
			svc.SetInitError(err)
		}
		initDone <- c
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown error")
	}

	var c *components
	select {
	case c = <-initDone:
	case <-shutdownCtx.Done():
		log.Warn().Msg("Initialization still running at shutdown")
	}
	if c != nil {
		c.close(cancel)
	}
	cancel()

	log.Info().Msg("Worker shutdown complete")
}

func setupLogging(cfg *config.Config) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// initialize connects storage and wires the synthesis components. On
// failure everything already opened is closed again.
func initialize(ctx context.Context, cfg *config.Config, svc *worker.Service) (*components, error) {
	c := &components{}

	store, err := gorm.NewStore(gorm.Config{
		DSN:                 cfg.DSN,
		MaxConns:            cfg.MaxConns,
		LogLevel:            gormlogger.Silent,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	c.store = store

	embedder, err := embedding.NewServiceFromConfig(cfg, log.Logger)
	if err != nil {
		c.close(nil)
		return nil, fmt.Errorf("create embedding service: %w", err)
	}
	c.embedder = embedder
	if embedder.Dimensions() != cfg.EmbeddingDimensions {
		c.close(nil)
		return nil, fmt.Errorf("%w: provider produces %d, index expects %d",
			synthesis.ErrDimensionMismatch, embedder.Dimensions(), cfg.EmbeddingDimensions)
	}

	llm, err := newLLMExtractor(cfg)
	if err != nil {
		c.close(nil)
		return nil, err
	}
	var signals extractor.SignalExtractor
	if llm != nil {
		signals = llm
	} else {
		log.Warn().Msg("No LLM API key configured, extraction runs degraded")
	}
	adapter := extractor.NewAdapter(signals, embedder)

	pipeline := synthesis.NewPipeline(store, adapter, synthesis.ConfigFrom(cfg), log.Logger)
	resolver := identity.NewResolver(store, log.Logger)
	pipeline.SetPreprocessor(resolver.Resolve)

	c.queue = collector.NewQueue(cfg.QueueSize, cfg.QueueWorkers,
		collector.Process(resolver, pipeline, log.Logger), log.Logger)
	c.queue.Start(ctx)

	backfill := pgvector.NewSync(pgvector.New(store.GetDB()), embedder, cfg.EmbeddingDimensions)
	c.maintenance = maintenance.NewService(pipeline, backfill, store, maintenance.Options{
		Interval:     cfg.SweepInterval,
		InitialDelay: 30 * time.Second,
		BatchSize:    cfg.ReprocessBatchSize,
	}, log.Logger)
	go c.maintenance.Start(ctx)

	svc.Attach(worker.Deps{
		Store:       store,
		Pipeline:    pipeline,
		Collector:   collector.New(store, c.queue, log.Logger),
		Queue:       c.queue,
		Maintenance: c.maintenance,
	})
	return c, nil
}

// newLLMExtractor returns nil when no API key is configured.
func newLLMExtractor(cfg *config.Config) (*extractor.LLMExtractor, error) {
	if cfg.LLMAPIKey == "" {
		return nil, nil
	}
	client, err := extractor.NewOpenAIClient(extractor.OpenAIConfig{
		BaseURL: cfg.LLMBaseURL,
		APIKey:  cfg.LLMAPIKey,
		Model:   cfg.LLMModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client: %w", err)
	}
	budget, err := extractor.NewTokenBudget(cfg.LLMMaxInputTokens)
	if err != nil {
		log.Warn().Err(err).Msg("Token budget unavailable, long feedback is not truncated")
		budget = nil
	}
	return extractor.NewLLMExtractor(client, budget, log.Logger), nil
}

// close stops components in reverse start order. Queue workers drain
// before cancel stops in-flight sweeps and the store closes.
func (c *components) close(cancel context.CancelFunc) {
	if c.queue != nil {
		c.queue.Stop()
	}
	if c.maintenance != nil {
		c.maintenance.Stop()
		if cancel != nil {
			cancel()
		}
		c.maintenance.Wait()
	}
	if c.embedder != nil {
		if err := c.embedder.Close(); err != nil {
			log.Warn().Err(err).Msg("Embedding service close error")
		}
	}
	if c.store != nil {
		if err := c.store.Close(); err != nil {
			log.Warn().Err(err).Msg("Store close error")
		}
	}
}
