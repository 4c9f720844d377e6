package synthesis

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/pkg/models"
)

// Merge folds source into target: every feedback item linked to source ends
// up linked to target exactly once, both features' aggregates are
// recomputed, and source is declined. It returns the refreshed target.
func (p *Pipeline) Merge(ctx context.Context, sourceID, targetID uuid.UUID) (*models.Feature, error) {
	if sourceID == uuid.Nil || targetID == uuid.Nil {
		return nil, fmt.Errorf("%w: source and target ids are required", ErrInvalidArgument)
	}
	if sourceID == targetID {
		return nil, fmt.Errorf("%w: cannot merge a feature into itself", ErrInvalidArgument)
	}

	var (
		target         *models.Feature
		moved, dropped int64
	)
	err := p.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.LockFeatures(sourceID, targetID); err != nil {
			return storageErr("lock features", err)
		}

		if _, err := tx.GetFeature(sourceID); err != nil {
			return missingAsInvalid("source", sourceID, err)
		}
		tgt, err := tx.GetFeature(targetID)
		if err != nil {
			return missingAsInvalid("target", targetID, err)
		}
		if tgt.Status == models.StatusDeclined {
			return fmt.Errorf("%w: target feature %s is declined", ErrInvalidArgument, targetID)
		}

		moved, dropped, err = tx.MoveLinks(sourceID, targetID)
		if err != nil {
			return storageErr("move links", err)
		}

		target, err = tx.Recalculate(targetID)
		if err != nil {
			return storageErr("recalculate target", err)
		}
		if _, err := tx.Recalculate(sourceID); err != nil {
			return storageErr("recalculate source", err)
		}
		if err := tx.SetStatus(sourceID, models.StatusDeclined); err != nil {
			return storageErr("decline source", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	p.stats.merges.Add(1)
	if p.inst.merges != nil {
		p.inst.merges.Add(ctx, 1)
	}
	p.logger.Info().
		Str("source_id", sourceID.String()).
		Str("target_id", targetID.String()).
		Int64("moved", moved).
		Int64("dropped", dropped).
		Msg("Features merged")

	return target, nil
}

// Recalculate recomputes a feature's aggregates from its current links.
func (p *Pipeline) Recalculate(ctx context.Context, featureID uuid.UUID) (*models.Feature, error) {
	var out *models.Feature
	err := p.store.WithinTx(ctx, func(tx Tx) error {
		if err := tx.LockFeatures(featureID); err != nil {
			return storageErr("lock feature", err)
		}
		f, err := tx.Recalculate(featureID)
		if err != nil {
			return storageErr("recalculate feature", err)
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func missingAsInvalid(role string, id uuid.UUID, err error) error {
	if errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: %s feature %s not found", ErrInvalidArgument, role, id)
	}
	return storageErr("load "+role+" feature", err)
}
