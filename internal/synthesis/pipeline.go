// Package synthesis turns feedback items into deduplicated features.
package synthesis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/thebtf/vocguru/internal/extractor"
	"github.com/thebtf/vocguru/pkg/models"
)

// maxChooseAttempts bounds how often a decision is re-run when the chosen
// feature was declined by a concurrent merge.
const maxChooseAttempts = 3

// Decision describes what Synthesize did with one feedback item.
type Decision struct {
	// Distance is the distance to the nearest candidate, if there was one.
	Distance   *float64  `json:"distance,omitempty"`
	FeatureID  uuid.UUID `json:"feature_id"`
	FeedbackID uuid.UUID `json:"feedback_id"`
	Title      string    `json:"title,omitempty"`
	Created    bool      `json:"created"`
	Degraded   bool      `json:"degraded"`
	Skipped    bool      `json:"skipped"`
}

// Pipeline is the synthesis engine.
type Pipeline struct {
	store     Store
	extractor Extractor
	logger    zerolog.Logger
	inst      *instruments
	stats     counters
	group     singleflight.Group
	hooksMu   sync.RWMutex
	hooks     []func(Decision)
	prepare   func(ctx context.Context, feedbackID uuid.UUID) error
	cfg       Config
}

// NewPipeline creates a pipeline. Zero fields in cfg take their defaults.
func NewPipeline(store Store, ext Extractor, cfg Config, logger zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:     store,
		extractor: ext,
		cfg:       cfg.withDefaults(),
		logger:    logger.With().Str("component", "synthesis").Logger(),
		inst:      newInstruments(),
	}
}

// Config returns the effective configuration.
func (p *Pipeline) Config() Config {
	return p.cfg
}

// OnDecision registers fn to be called after every Synthesize decision commits.
func (p *Pipeline) OnDecision(fn func(Decision)) {
	p.hooksMu.Lock()
	defer p.hooksMu.Unlock()
	p.hooks = append(p.hooks, fn)
}

// SetPreprocessor registers fn to run on each item before Reprocess
// synthesizes it, such as identity resolution. A failing fn is logged and
// the item is synthesized anyway.
func (p *Pipeline) SetPreprocessor(fn func(ctx context.Context, feedbackID uuid.UUID) error) {
	p.prepare = fn
}

// Stats returns a snapshot of the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return p.stats.snapshot()
}

// Synthesize links a feedback item to a new or existing feature and marks it
// processed. It is idempotent: an already processed item is a no-op.
// Concurrent calls for the same id within this process share one execution.
// The shared run is detached from every caller's cancellation and bounded by
// SynthesisTimeout; a cancelled caller stops waiting and gets ctx.Err().
func (p *Pipeline) Synthesize(ctx context.Context, feedbackID uuid.UUID) error {
	ch := p.group.DoChan(feedbackID.String(), func() (any, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.SynthesisTimeout)
		defer cancel()
		return nil, p.synthesize(runCtx, feedbackID)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pipeline) synthesize(ctx context.Context, feedbackID uuid.UUID) error {
	start := time.Now()

	item, err := p.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return p.failed(ctx, start, feedbackID, storageErr("load feedback", err))
	}
	if item.Processed {
		p.finish(ctx, start, Decision{FeedbackID: feedbackID, Skipped: true})
		return nil
	}

	res, err := p.extract(ctx, item.Content)
	if err != nil {
		return p.failed(ctx, start, feedbackID, err)
	}

	vec, err := p.embed(ctx, res.Signal.EmbeddingText())
	if err != nil {
		return p.failed(ctx, start, feedbackID, err)
	}

	decision := Decision{FeedbackID: feedbackID, Degraded: res.Degraded}
	err = p.store.WithinTx(ctx, func(tx Tx) error {
		var derr error
		decision, derr = p.decide(tx, feedbackID, res.Signal, vec, decision)
		return derr
	})
	if err != nil {
		return p.failed(ctx, start, feedbackID, err)
	}

	p.finish(ctx, start, decision)
	return nil
}

// decide runs the create-or-merge step inside the transaction.
func (p *Pipeline) decide(tx Tx, feedbackID uuid.UUID, sig extractor.Signal, vec []float32, d Decision) (Decision, error) {
	locked, err := tx.LockFeedback(feedbackID)
	if err != nil {
		return d, storageErr("lock feedback", err)
	}
	if locked.Processed {
		d.Skipped = true
		return d, nil
	}

	if err := tx.LockBucket(bucketKey(vec, p.cfg.BucketBits)); err != nil {
		return d, storageErr("lock bucket", err)
	}

	var (
		featureID uuid.UUID
		score     *float64
	)
	for attempt := 0; attempt < maxChooseAttempts && featureID == uuid.Nil; attempt++ {
		match, err := tx.Nearest(vec)
		if err != nil {
			return d, storageErr("nearest feature", err)
		}
		if match == nil {
			break
		}
		dist := match.Distance
		d.Distance = &dist
		if dist >= p.cfg.AutoMergeThreshold {
			break
		}

		if err := tx.LockFeatures(match.FeatureID); err != nil {
			return d, storageErr("lock feature", err)
		}
		current, err := tx.GetFeature(match.FeatureID)
		if err != nil {
			return d, storageErr("load matched feature", err)
		}
		if current.Status == models.StatusDeclined {
			// Absorbed by a merge after the nearest-neighbour read.
			d.Distance = nil
			continue
		}
		featureID = current.ID
		d.Title = current.Title
		score = &dist
	}

	if featureID == uuid.Nil {
		f := newFeature(sig, vec)
		if err := tx.CreateFeature(f); err != nil {
			return d, storageErr("create feature", err)
		}
		if err := tx.LockFeatures(f.ID); err != nil {
			return d, storageErr("lock feature", err)
		}
		featureID = f.ID
		d.Title = f.Title
		d.Created = true
	}

	if _, err := tx.Link(feedbackID, featureID, score); err != nil {
		return d, storageErr("link feedback", err)
	}
	if err := tx.MarkProcessed(feedbackID); err != nil {
		return d, storageErr("mark processed", err)
	}
	if _, err := tx.Recalculate(featureID); err != nil {
		return d, storageErr("recalculate feature", err)
	}

	d.FeatureID = featureID
	return d, nil
}

func newFeature(sig extractor.Signal, vec []float32) *models.Feature {
	tags := make(models.JSONStringArray, 0, len(sig.Tags))
	tags = append(tags, sig.Tags...)
	return &models.Feature{
		ID:             uuid.New(),
		Title:          sig.Title,
		ProblemSummary: sig.Summary,
		Sentiment:      sig.Sentiment,
		UrgencyScore:   sig.Urgency,
		Tags:           tags,
		Status:         models.StatusDiscovered,
		Embedding:      vec,
	}
}

func (p *Pipeline) extract(ctx context.Context, content string) (extractor.Result, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ExtractorTimeout)
	defer cancel()

	res, err := p.extractor.Extract(ctx, content)
	if err != nil {
		return res, extractorErr(ctx, "extract", err)
	}
	if res.Degraded {
		p.logger.Warn().Str("reason", res.Reason).Msg("Extraction degraded, using fallback signal")
	}
	return res, nil
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.ExtractorTimeout)
	defer cancel()

	vec, err := p.extractor.Embed(ctx, text)
	if err != nil {
		return nil, extractorErr(ctx, "embed", err)
	}
	if len(vec) != p.cfg.EmbeddingDimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vec), p.cfg.EmbeddingDimensions)
	}
	return vec, nil
}

func (p *Pipeline) finish(ctx context.Context, start time.Time, d Decision) {
	outcome := OutcomeMerged
	switch {
	case d.Skipped:
		outcome = OutcomeSkipped
		p.stats.skipped.Add(1)
	case d.Created:
		outcome = OutcomeCreated
		p.stats.created.Add(1)
	default:
		p.stats.merged.Add(1)
	}
	if d.Degraded && !d.Skipped {
		p.stats.degraded.Add(1)
	}
	p.inst.record(ctx, outcome, d.Degraded, time.Since(start))

	if !d.Skipped {
		ev := p.logger.Info().
			Str("feedback_id", d.FeedbackID.String()).
			Str("feature_id", d.FeatureID.String()).
			Str("outcome", outcome).
			Bool("degraded", d.Degraded)
		if d.Distance != nil {
			ev = ev.Float64("distance", *d.Distance)
		}
		ev.Msg("Feedback synthesized")
	}

	p.hooksMu.RLock()
	hooks := p.hooks
	p.hooksMu.RUnlock()
	for _, fn := range hooks {
		fn(d)
	}
}

func (p *Pipeline) failed(ctx context.Context, start time.Time, feedbackID uuid.UUID, err error) error {
	p.stats.failed.Add(1)
	p.inst.record(ctx, OutcomeFailed, false, time.Since(start))
	p.logger.Error().Err(err).Str("feedback_id", feedbackID.String()).Msg("Synthesis failed")
	return err
}
