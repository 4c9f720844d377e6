package pgvector

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/vocguru/internal/vector"
)

// Embedder produces embeddings for feature text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Sync fills in embeddings for features that were stored without one,
// for example features imported by hand or written while the embedding
// provider was down.
type Sync struct {
	index    *Index
	embedder Embedder
	dims     int
}

// NewSync creates a backfill over index.
func NewSync(index *Index, embedder Embedder, dims int) *Sync {
	return &Sync{index: index, embedder: embedder, dims: dims}
}

type missingRow struct {
	Title          string
	ProblemSummary string
	ID             uuid.UUID
}

// featureText is the text a feature is embedded from.
func featureText(title, summary string) string {
	return strings.TrimSpace(title + " " + summary)
}

// Backfill embeds up to limit features lacking an embedding and returns how
// many were updated. A failure on one feature is logged and skipped.
func (s *Sync) Backfill(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows []missingRow
	err := s.index.db.WithContext(ctx).Raw(`
		SELECT id, title, problem_summary
		FROM features
		WHERE embedding IS NULL
		ORDER BY created_at
		LIMIT ?`, limit).Scan(&rows).Error
	if err != nil {
		return 0, fmt.Errorf("list features without embedding: %w", err)
	}

	updated := 0
	for _, r := range rows {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		vec, err := s.embedder.Embed(ctx, featureText(r.Title, r.ProblemSummary))
		if err == nil {
			err = vector.CheckDimensions(vec, s.dims)
		}
		if err == nil {
			err = s.index.SetEmbedding(ctx, r.ID, vec)
		}
		if err != nil {
			log.Warn().Err(err).Str("feature_id", r.ID.String()).Msg("Embedding backfill failed")
			continue
		}
		updated++
	}

	if updated > 0 {
		log.Info().Int("updated", updated).Msg("Backfilled feature embeddings")
	}
	return updated, nil
}
