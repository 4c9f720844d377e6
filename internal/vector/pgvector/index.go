// Package pgvector provides the PostgreSQL+pgvector nearest-neighbour index
// over feature embeddings.
package pgvector

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	pgvec "github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/thebtf/vocguru/pkg/models"
)

// ErrNoFeature is returned when a probe feature does not exist.
var ErrNoFeature = errors.New("feature does not exist")

// Index answers distance queries against features.embedding using the
// cosine distance operator <=>. Declined features and features without an
// embedding never match.
type Index struct {
	db *gorm.DB
}

// New creates an index over db.
func New(db *gorm.DB) *Index {
	return &Index{db: db}
}

// WithTx returns an index bound to tx.
func (i *Index) WithTx(tx *gorm.DB) *Index {
	return &Index{db: tx}
}

type matchRow struct {
	ID       uuid.UUID
	Distance float64
}

// Nearest returns the closest feature to embedding, or nil when the index is
// empty. Ties on distance go to the older feature.
func (i *Index) Nearest(ctx context.Context, embedding []float32) (*models.FeatureMatch, error) {
	var rows []matchRow
	err := i.db.WithContext(ctx).Raw(`
		SELECT id, embedding <=> ? AS distance
		FROM features
		WHERE embedding IS NOT NULL AND status <> ?
		ORDER BY distance, created_at, id
		LIMIT 1`,
		pgvec.NewVector(embedding), string(models.StatusDeclined),
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("nearest feature: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &models.FeatureMatch{FeatureID: rows[0].ID, Distance: rows[0].Distance}, nil
}

// Embedding returns the stored embedding of feature id, or nil when it has none.
func (i *Index) Embedding(ctx context.Context, id uuid.UUID) ([]float32, error) {
	var rows []struct {
		Embedding *pgvec.Vector
	}
	err := i.db.WithContext(ctx).
		Raw("SELECT embedding FROM features WHERE id = ?", id).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load embedding: %w", err)
	}
	if len(rows) == 0 {
		return nil, ErrNoFeature
	}
	if rows[0].Embedding == nil {
		return nil, nil
	}
	return rows[0].Embedding.Slice(), nil
}

// Similar returns features other than id strictly closer than maxDistance
// to id's embedding, nearest first.
func (i *Index) Similar(ctx context.Context, id uuid.UUID, maxDistance float64, limit int) ([]models.FeatureMatch, error) {
	if limit <= 0 {
		limit = 10
	}

	probe, err := i.Embedding(ctx, id)
	if err != nil {
		return nil, err
	}
	if probe == nil {
		return []models.FeatureMatch{}, nil
	}
	vec := pgvec.NewVector(probe)

	var rows []matchRow
	err = i.db.WithContext(ctx).Raw(`
		SELECT id, embedding <=> ? AS distance
		FROM features
		WHERE id <> ? AND embedding IS NOT NULL AND status <> ?
		  AND embedding <=> ? < ?
		ORDER BY distance, created_at, id
		LIMIT ?`,
		vec, id, string(models.StatusDeclined), vec, maxDistance, limit,
	).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("similar features: %w", err)
	}

	out := make([]models.FeatureMatch, len(rows))
	for n, r := range rows {
		out[n] = models.FeatureMatch{FeatureID: r.ID, Distance: r.Distance}
	}
	return out, nil
}

// SetEmbedding stores embedding on feature id.
func (i *Index) SetEmbedding(ctx context.Context, id uuid.UUID, embedding []float32) error {
	res := i.db.WithContext(ctx).
		Exec("UPDATE features SET embedding = ? WHERE id = ?", pgvec.NewVector(embedding), id)
	if res.Error != nil {
		return fmt.Errorf("set embedding: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNoFeature
	}
	return nil
}

// HealthStats describes index coverage.
type HealthStats struct {
	TotalFeatures    int64 `json:"total_features"`
	IndexedFeatures  int64 `json:"indexed_features"`
	MissingEmbedding int64 `json:"missing_embedding"`
}

// Stats counts features with and without embeddings.
func (i *Index) Stats(ctx context.Context) (HealthStats, error) {
	var s HealthStats
	err := i.db.WithContext(ctx).Raw(`
		SELECT COUNT(*) AS total_features,
		       COUNT(embedding) AS indexed_features,
		       COUNT(*) - COUNT(embedding) AS missing_embedding
		FROM features`).Scan(&s).Error
	if err != nil {
		return s, fmt.Errorf("index stats: %w", err)
	}
	return s, nil
}
