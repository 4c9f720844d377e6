// Package maintenance runs the periodic reprocess sweep and housekeeping.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/thebtf/vocguru/internal/synthesis"
)

// Reprocessor synthesizes items that were never processed and are older
// than minAge.
type Reprocessor interface {
	ReprocessStale(ctx context.Context, limit int, minAge time.Duration) (synthesis.ReprocessResult, error)
}

// Backfiller embeds features stored without an embedding.
type Backfiller interface {
	Backfill(ctx context.Context, limit int) (int, error)
}

// Optimizer refreshes database planner statistics.
type Optimizer interface {
	Optimize(ctx context.Context) error
}

// Options configures the sweep.
type Options struct {
	// Interval between runs. Zero disables the scheduler; RunNow still works.
	Interval time.Duration
	// InitialDelay before the first scheduled run.
	InitialDelay time.Duration
	// OptimizeInterval is the minimum time between ANALYZE runs.
	OptimizeInterval time.Duration
	// MinAge is how old an unprocessed item must be before the sweep picks
	// it up. Defaults to Interval.
	MinAge    time.Duration
	BatchSize int
}

// Service handles scheduled maintenance tasks.
type Service struct {
	log             zerolog.Logger
	lastRunTime     time.Time
	lastOptimize    time.Time
	reprocessor     Reprocessor
	backfiller      Backfiller
	optimizer       Optimizer
	stopCh          chan struct{}
	doneCh          chan struct{}
	opts            Options
	lastRunDuration time.Duration
	lastResult      synthesis.ReprocessResult
	totalProcessed  int64
	totalErrors     int64
	totalBackfilled int64
	totalRuns       int64
	mu              sync.Mutex
	runMu           sync.Mutex
	running         bool
}

// NewService creates a maintenance service. backfiller and optimizer may be nil.
func NewService(reprocessor Reprocessor, backfiller Backfiller, optimizer Optimizer, opts Options, log zerolog.Logger) *Service {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.OptimizeInterval <= 0 {
		opts.OptimizeInterval = 24 * time.Hour
	}
	if opts.MinAge <= 0 {
		opts.MinAge = opts.Interval
	}
	return &Service{
		reprocessor: reprocessor,
		backfiller:  backfiller,
		optimizer:   optimizer,
		opts:        opts,
		log:         log.With().Str("component", "maintenance").Logger(),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled or Stop is called.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		close(s.doneCh)
	}()

	if s.opts.Interval <= 0 {
		s.log.Info().Msg("Sweep disabled, not starting scheduler")
		return
	}

	s.log.Info().
		Dur("interval", s.opts.Interval).
		Int("batch_size", s.opts.BatchSize).
		Msg("Starting maintenance scheduler")

	select {
	case <-ctx.Done():
		return
	case <-s.stopCh:
		return
	case <-time.After(s.opts.InitialDelay):
	}
	s.RunOnce(ctx)

	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Maintenance shutting down due to context cancellation")
			return
		case <-s.stopCh:
			s.log.Info().Msg("Maintenance shutting down due to stop signal")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// Stop signals the maintenance loop to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	select {
	case <-s.stopCh:
	default:
		close(s.stopCh)
	}
}

// Wait blocks until Start has returned.
func (s *Service) Wait() {
	<-s.doneCh
}

// RunOnce performs one sweep synchronously. Concurrent calls are serialized.
func (s *Service) RunOnce(ctx context.Context) synthesis.ReprocessResult {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	start := time.Now()

	res, err := s.reprocessor.ReprocessStale(ctx, s.opts.BatchSize, s.opts.MinAge)
	if err != nil {
		s.log.Error().Err(err).Msg("Reprocess sweep failed")
	}

	var backfilled int
	if s.backfiller != nil && ctx.Err() == nil {
		backfilled, err = s.backfiller.Backfill(ctx, s.opts.BatchSize)
		if err != nil {
			s.log.Error().Err(err).Msg("Embedding backfill failed")
		}
	}

	optimized := false
	if s.optimizer != nil && ctx.Err() == nil && time.Since(s.lastOptimize) >= s.opts.OptimizeInterval {
		if err := s.optimizer.Optimize(ctx); err != nil {
			s.log.Error().Err(err).Msg("Failed to optimize database")
		} else {
			s.lastOptimize = time.Now()
			optimized = true
		}
	}

	s.mu.Lock()
	s.lastRunTime = time.Now()
	s.lastRunDuration = time.Since(start)
	s.lastResult = res
	s.totalProcessed += int64(res.Processed)
	s.totalErrors += int64(res.Errors)
	s.totalBackfilled += int64(backfilled)
	s.totalRuns++
	s.mu.Unlock()

	if res.Processed+res.Errors+backfilled > 0 || optimized {
		s.log.Info().
			Dur("duration", time.Since(start)).
			Int("processed", res.Processed).
			Int("errors", res.Errors).
			Int("backfilled", backfilled).
			Bool("optimized", optimized).
			Msg("Maintenance run completed")
	}
	return res
}

// Stats returns maintenance statistics.
func (s *Service) Stats() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	return map[string]any{
		"interval_seconds": s.opts.Interval.Seconds(),
		"batch_size":       s.opts.BatchSize,
		"min_age_seconds":  s.opts.MinAge.Seconds(),
		"last_run":         s.lastRunTime,
		"last_duration_ms": s.lastRunDuration.Milliseconds(),
		"last_result":      s.lastResult,
		"total_runs":       s.totalRuns,
		"total_processed":  s.totalProcessed,
		"total_errors":     s.totalErrors,
		"total_backfilled": s.totalBackfilled,
		"running":          s.running,
	}
}
