package synthesis

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/internal/extractor"
	"github.com/thebtf/vocguru/pkg/models"
)

// Extractor is the boundary to the LLM and embedding providers.
type Extractor interface {
	Extract(ctx context.Context, content string) (extractor.Result, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the persistence the pipeline needs. Lookups of missing rows
// return an error wrapping ErrNotFound.
type Store interface {
	GetFeedback(ctx context.Context, id uuid.UUID) (*models.FeedbackItem, error)
	// ListUnprocessed returns up to limit unprocessed items, oldest first.
	// A non-zero createdBefore skips items created at or after it.
	ListUnprocessed(ctx context.Context, limit int, createdBefore time.Time) ([]*models.FeedbackItem, error)
	GetFeature(ctx context.Context, id uuid.UUID) (*models.Feature, error)

	// SimilarFeatures returns non-declined features other than id whose
	// embedding is closer than maxDistance to id's, nearest first. A feature
	// without an embedding has no similar features.
	SimilarFeatures(ctx context.Context, id uuid.UUID, maxDistance float64, limit int) ([]models.SimilarFeature, error)

	// WithinTx runs fn in one database transaction. The transaction
	// commits only if fn returns nil.
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is a unit of work inside WithinTx. Locks are released at commit or rollback.
type Tx interface {
	// LockFeedback reads the item and holds a row lock on it.
	LockFeedback(id uuid.UUID) (*models.FeedbackItem, error)

	// LockBucket takes the advisory lock for an embedding bucket.
	LockBucket(key int64) error

	// LockFeatures takes the per-feature advisory locks in a globally
	// consistent order, whatever order ids are given in.
	LockFeatures(ids ...uuid.UUID) error

	// Nearest returns the closest non-declined feature with an embedding,
	// or nil when there is none.
	Nearest(embedding []float32) (*models.FeatureMatch, error)

	CreateFeature(f *models.Feature) error
	GetFeature(id uuid.UUID) (*models.Feature, error)

	// Link attaches feedback to a feature. It reports false when the link
	// already existed.
	Link(feedbackID, featureID uuid.UUID, score *float64) (bool, error)

	MarkProcessed(feedbackID uuid.UUID) error

	// Recalculate recomputes the feature's aggregates from its links and
	// returns the refreshed feature.
	Recalculate(featureID uuid.UUID) (*models.Feature, error)

	// MoveLinks repoints source links to target, dropping those whose
	// feedback is already linked to target.
	MoveLinks(sourceID, targetID uuid.UUID) (moved, dropped int64, err error)

	SetStatus(id uuid.UUID, status models.FeatureStatus) error
}
