package synthesis

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReprocessResult reports a reprocess run.
type ReprocessResult struct {
	Processed int `json:"processed"`
	Errors    int `json:"errors"`
}

// Reprocess synthesizes up to limit of the oldest unprocessed items with
// bounded concurrency. Individual failures are counted, not returned.
func (p *Pipeline) Reprocess(ctx context.Context, limit int) (ReprocessResult, error) {
	return p.reprocess(ctx, limit, time.Time{})
}

// ReprocessStale is Reprocess restricted to items older than minAge, so
// that items still waiting in the capture queue are left to it.
func (p *Pipeline) ReprocessStale(ctx context.Context, limit int, minAge time.Duration) (ReprocessResult, error) {
	var cutoff time.Time
	if minAge > 0 {
		cutoff = time.Now().Add(-minAge)
	}
	return p.reprocess(ctx, limit, cutoff)
}

func (p *Pipeline) reprocess(ctx context.Context, limit int, createdBefore time.Time) (ReprocessResult, error) {
	if limit <= 0 {
		limit = p.cfg.ReprocessBatchSize
	}

	items, err := p.store.ListUnprocessed(ctx, limit, createdBefore)
	if err != nil {
		return ReprocessResult{}, storageErr("list unprocessed", err)
	}
	if len(items) == 0 {
		return ReprocessResult{}, nil
	}

	var processed, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(p.cfg.ReprocessConcurrency)

	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		id := item.ID
		g.Go(func() error {
			if p.prepare != nil {
				if err := p.prepare(ctx, id); err != nil {
					p.logger.Warn().Err(err).Str("feedback_id", id.String()).Msg("Preprocessing failed")
				}
			}
			if err := p.Synthesize(ctx, id); err != nil {
				failed.Add(1)
				return nil
			}
			processed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	res := ReprocessResult{Processed: int(processed.Load()), Errors: int(failed.Load())}
	p.logger.Info().
		Int("candidates", len(items)).
		Int("processed", res.Processed).
		Int("errors", res.Errors).
		Msg("Reprocess run finished")
	return res, ctx.Err()
}
