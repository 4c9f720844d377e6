package synthesis

import (
	"context"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/internal/vector"
	"github.com/thebtf/vocguru/pkg/models"
)

// SimilarLimit caps the number of features SimilarFeatures returns.
const SimilarLimit = 10

// SimilarFeatures lists other non-declined features within maxDistance of the
// given feature, nearest first. A non-positive maxDistance uses the
// configured SimilarThreshold.
func (p *Pipeline) SimilarFeatures(ctx context.Context, featureID uuid.UUID, maxDistance float64) ([]models.SimilarFeature, error) {
	if maxDistance <= 0 {
		maxDistance = p.cfg.SimilarThreshold
	}

	if _, err := p.store.GetFeature(ctx, featureID); err != nil {
		return nil, storageErr("load feature", err)
	}

	similar, err := p.store.SimilarFeatures(ctx, featureID, maxDistance, SimilarLimit)
	if err != nil {
		return nil, storageErr("similar features", err)
	}
	for i := range similar {
		similar[i].Similarity = vector.DistanceToSimilarity(similar[i].Distance)
	}
	if similar == nil {
		similar = []models.SimilarFeature{}
	}
	return similar, nil
}
