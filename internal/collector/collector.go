package collector

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thebtf/vocguru/internal/privacy"
	"github.com/thebtf/vocguru/pkg/models"
)

// Store persists captured feedback. SaveFeedback reports created=false
// when the (source, external_id) pair was already stored.
type Store interface {
	SaveFeedback(ctx context.Context, item *models.FeedbackItem) (*models.FeedbackItem, bool, error)
}

// Enqueuer schedules background processing of a stored item.
type Enqueuer interface {
	Enqueue(feedbackID uuid.UUID) error
}

// Collector captures feedback from every source.
type Collector struct {
	store  Store
	queue  Enqueuer
	logger zerolog.Logger
}

// New creates a Collector. queue may be nil, leaving all processing to the sweep.
func New(store Store, queue Enqueuer, logger zerolog.Logger) *Collector {
	return &Collector{
		store:  store,
		queue:  queue,
		logger: logger.With().Str("component", "collector").Logger(),
	}
}

// Capture normalizes data from source, stores it, and schedules processing.
// Re-delivered payloads return the stored item with created=false and are
// not scheduled again.
func (c *Collector) Capture(ctx context.Context, source string, data map[string]any) (*models.FeedbackItem, bool, error) {
	item, err := Normalize(source, data)
	if err != nil {
		return nil, false, err
	}
	if redacted := privacy.Redact(item.Content); redacted != item.Content {
		c.logger.Warn().
			Str("source", string(item.Source)).
			Str("external_id", item.ExternalID).
			Msg("Credentials redacted from feedback content")
		item.Content = redacted
	}

	stored, created, err := c.store.SaveFeedback(ctx, item)
	if err != nil {
		return nil, false, fmt.Errorf("save feedback: %w", err)
	}
	if !created {
		c.logger.Debug().
			Str("source", string(stored.Source)).
			Str("external_id", stored.ExternalID).
			Msg("Duplicate delivery ignored")
		return stored, false, nil
	}

	c.logger.Info().
		Str("feedback_id", stored.ID.String()).
		Str("source", string(stored.Source)).
		Msg("Feedback captured")

	if c.queue != nil {
		if err := c.queue.Enqueue(stored.ID); err != nil {
			c.logger.Warn().Err(err).Str("feedback_id", stored.ID.String()).Msg("Not queued, left for sweep")
		}
	}
	return stored, true, nil
}

// IdentityResolver enriches an item with its customer before synthesis.
type IdentityResolver interface {
	Resolve(ctx context.Context, feedbackID uuid.UUID) error
}

// Synthesizer links an item to a feature.
type Synthesizer interface {
	Synthesize(ctx context.Context, feedbackID uuid.UUID) error
}

// Process returns the queue handler: identity resolution, then synthesis.
// A failed resolution is logged and the item is synthesized at default weight.
func Process(resolver IdentityResolver, synth Synthesizer, logger zerolog.Logger) Handler {
	return func(ctx context.Context, feedbackID uuid.UUID) error {
		if resolver != nil {
			if err := resolver.Resolve(ctx, feedbackID); err != nil {
				logger.Warn().Err(err).Str("feedback_id", feedbackID.String()).Msg("Identity resolution failed")
			}
		}
		return synth.Synthesize(ctx, feedbackID)
	}
}
