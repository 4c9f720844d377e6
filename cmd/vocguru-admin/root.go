package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	gormlogger "gorm.io/gorm/logger"

	"github.com/thebtf/vocguru/internal/config"
	"github.com/thebtf/vocguru/internal/db/gorm"
	"github.com/thebtf/vocguru/internal/embedding"
	"github.com/thebtf/vocguru/internal/extractor"
	"github.com/thebtf/vocguru/internal/identity"
	"github.com/thebtf/vocguru/internal/synthesis"
)

var (
	dsnFlag string
	jsonOut bool
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:           "vocguru-admin",
	Short:         "Feature synthesis maintenance",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level := zerolog.WarnLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		zerolog.SetGlobalLevel(level)
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
}

// Execute runs the root command.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dsnFlag, "dsn", "", "PostgreSQL DSN (overrides settings and VOCGURU_DSN)")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "Print results as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log pipeline activity")

	rootCmd.AddCommand(reprocessCmd, mergeCmd, similarCmd, recalcCmd)
}

// env is an opened database with a pipeline on top of it.
type env struct {
	cfg      *config.Config
	store    *gorm.Store
	embedder *embedding.Service
	pipeline *synthesis.Pipeline
}

// openEnv loads configuration and builds the same pipeline the worker runs.
// Without an LLM key extraction is degraded, like in the worker.
func openEnv() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if dsnFlag != "" {
		cfg.DSN = dsnFlag
	}

	store, err := gorm.NewStore(gorm.Config{
		DSN:                 cfg.DSN,
		MaxConns:            cfg.ReprocessConcurrency + 1,
		LogLevel:            gormlogger.Silent,
		EmbeddingDimensions: cfg.EmbeddingDimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	embedder, err := embedding.NewServiceFromConfig(cfg, log.Logger)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("create embedding service: %w", err)
	}

	var signals extractor.SignalExtractor
	if cfg.LLMAPIKey != "" {
		client, err := extractor.NewOpenAIClient(extractor.OpenAIConfig{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		})
		if err != nil {
			_ = embedder.Close()
			_ = store.Close()
			return nil, fmt.Errorf("create llm client: %w", err)
		}
		budget, _ := extractor.NewTokenBudget(cfg.LLMMaxInputTokens)
		signals = extractor.NewLLMExtractor(client, budget, log.Logger)
	}

	pipeline := synthesis.NewPipeline(store, extractor.NewAdapter(signals, embedder), synthesis.ConfigFrom(cfg), log.Logger)
	pipeline.SetPreprocessor(identity.NewResolver(store, log.Logger).Resolve)

	return &env{cfg: cfg, store: store, embedder: embedder, pipeline: pipeline}, nil
}

func (e *env) Close() {
	if err := e.embedder.Close(); err != nil {
		log.Warn().Err(err).Msg("Embedding service close error")
	}
	if err := e.store.Close(); err != nil {
		log.Warn().Err(err).Msg("Store close error")
	}
}

// run opens the environment, calls fn and closes everything again.
func run(cmd *cobra.Command, fn func(ctx context.Context, e *env) error) error {
	e, err := openEnv()
	if err != nil {
		return err
	}
	defer e.Close()
	return fn(cmd.Context(), e)
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
