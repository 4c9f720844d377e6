package gorm

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/internal/vector/pgvector"
	"github.com/thebtf/vocguru/pkg/models"
)

// Compile-time checks.
var (
	_ synthesis.Store = (*Store)(nil)
	_ synthesis.Tx    = (*txn)(nil)
)

// GetFeedback loads one feedback item.
func (s *Store) GetFeedback(ctx context.Context, id uuid.UUID) (*models.FeedbackItem, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "get_feedback")
	defer cancel()

	var row FeedbackItem
	if err := s.DB.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "feedback "+id.String())
	}
	return row.toModel(), nil
}

// ListUnprocessed returns up to limit unprocessed items, oldest first. A
// non-zero createdBefore skips items created at or after it.
func (s *Store) ListUnprocessed(ctx context.Context, limit int, createdBefore time.Time) ([]*models.FeedbackItem, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "list_unprocessed")
	defer cancel()

	q := s.DB.WithContext(ctx).Where("processed = ?", false)
	if !createdBefore.IsZero() {
		q = q.Where("created_at < ?", createdBefore)
	}

	var rows []FeedbackItem
	err := q.
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list unprocessed feedback: %w", err)
	}

	items := make([]*models.FeedbackItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toModel()
	}
	return items, nil
}

// GetFeature loads one feature, including its embedding.
func (s *Store) GetFeature(ctx context.Context, id uuid.UUID) (*models.Feature, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "get_feature")
	defer cancel()

	return getFeature(s.DB.WithContext(ctx), id)
}

func getFeature(db *gorm.DB, id uuid.UUID) (*models.Feature, error) {
	var row Feature
	if err := db.First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "feature "+id.String())
	}
	return row.toModel(), nil
}

// SimilarFeatures returns features closer than maxDistance to feature id.
func (s *Store) SimilarFeatures(ctx context.Context, id uuid.UUID, maxDistance float64, limit int) ([]models.SimilarFeature, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "similar_features")
	defer cancel()

	matches, err := pgvector.New(s.DB).Similar(ctx, id, maxDistance, limit)
	if errors.Is(err, pgvector.ErrNoFeature) {
		return nil, fmt.Errorf("feature %s: %w", id, synthesis.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return []models.SimilarFeature{}, nil
	}

	ids := make([]uuid.UUID, len(matches))
	for i, m := range matches {
		ids[i] = m.FeatureID
	}
	var rows []Feature
	if err := s.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load similar features: %w", err)
	}
	byID := make(map[uuid.UUID]*Feature, len(rows))
	for i := range rows {
		byID[rows[i].ID] = &rows[i]
	}

	out := make([]models.SimilarFeature, 0, len(matches))
	for _, m := range matches {
		row, ok := byID[m.FeatureID]
		if !ok {
			continue
		}
		f := row.toModel()
		f.Embedding = nil
		out = append(out, models.SimilarFeature{
			Feature:    *f,
			Distance:   m.Distance,
			Similarity: 1 - m.Distance,
		})
	}
	return out, nil
}

// WithinTx runs fn in one transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(tx synthesis.Tx) error) error {
	return s.TransactionWithTimeout(ctx, SlowQueryTimeout, func(db *gorm.DB) error {
		return fn(&txn{db: db, index: pgvector.New(db)})
	})
}

// txn implements synthesis.Tx on a gorm transaction.
type txn struct {
	db    *gorm.DB
	index *pgvector.Index
}

func (t *txn) LockFeedback(id uuid.UUID) (*models.FeedbackItem, error) {
	var row FeedbackItem
	err := t.db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&row, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err, "feedback "+id.String())
	}
	return row.toModel(), nil
}

func (t *txn) LockBucket(key int64) error {
	return advisoryLock(t.db, key)
}

func (t *txn) LockFeatures(ids ...uuid.UUID) error {
	for _, key := range featureLockKeys(ids...) {
		if err := advisoryLock(t.db, key); err != nil {
			return err
		}
	}
	return nil
}

func (t *txn) Nearest(embedding []float32) (*models.FeatureMatch, error) {
	return t.index.Nearest(t.db.Statement.Context, embedding)
}

func (t *txn) CreateFeature(f *models.Feature) error {
	row := featureRow(f)
	if err := t.db.Create(row).Error; err != nil {
		return fmt.Errorf("create feature: %w", err)
	}
	f.CreatedAt = row.CreatedAt
	f.UpdatedAt = row.UpdatedAt
	return nil
}

func (t *txn) GetFeature(id uuid.UUID) (*models.Feature, error) {
	return getFeature(t.db, id)
}

func (t *txn) Link(feedbackID, featureID uuid.UUID, score *float64) (bool, error) {
	link := &FeedbackFeature{
		FeedbackID:      feedbackID,
		FeatureID:       featureID,
		SimilarityScore: score,
	}
	res := t.db.Clauses(clause.OnConflict{DoNothing: true}).Create(link)
	if res.Error != nil {
		return false, fmt.Errorf("link feedback: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}

func (t *txn) MarkProcessed(feedbackID uuid.UUID) error {
	res := t.db.Model(&FeedbackItem{}).Where("id = ?", feedbackID).Update("processed", true)
	if res.Error != nil {
		return fmt.Errorf("mark processed: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("feedback %s: %w", feedbackID, synthesis.ErrNotFound)
	}
	return nil
}

// recalculateSQL derives the aggregates from the link table alone. ARR
// counts each customer once however many of their items are linked.
const recalculateSQL = `
WITH linked AS (
	SELECT fb.weight, fb.customer_id
	FROM feedback_features ff
	JOIN feedback fb ON fb.id = ff.feedback_id
	WHERE ff.feature_id = @id
), agg AS (
	SELECT COUNT(*) AS cnt, COALESCE(SUM(weight), 0) AS weight FROM linked
), revenue AS (
	SELECT COALESCE(SUM(c.arr), 0) AS arr
	FROM customers c
	WHERE c.id IN (SELECT DISTINCT customer_id FROM linked WHERE customer_id IS NOT NULL)
)
UPDATE features SET
	feedback_count = agg.cnt,
	total_weight = agg.weight,
	total_arr = revenue.arr,
	updated_at = NOW()
FROM agg, revenue
WHERE features.id = @id
RETURNING features.*`

func (t *txn) Recalculate(featureID uuid.UUID) (*models.Feature, error) {
	var rows []Feature
	if err := t.db.Raw(recalculateSQL, map[string]any{"id": featureID}).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("recalculate feature: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("feature %s: %w", featureID, synthesis.ErrNotFound)
	}
	return rows[0].toModel(), nil
}

func (t *txn) MoveLinks(sourceID, targetID uuid.UUID) (int64, int64, error) {
	moved := t.db.Exec(`
		UPDATE feedback_features SET feature_id = ?
		WHERE feature_id = ?
		  AND feedback_id NOT IN (SELECT feedback_id FROM feedback_features WHERE feature_id = ?)`,
		targetID, sourceID, targetID)
	if moved.Error != nil {
		return 0, 0, fmt.Errorf("move links: %w", moved.Error)
	}

	dropped := t.db.Exec("DELETE FROM feedback_features WHERE feature_id = ?", sourceID)
	if dropped.Error != nil {
		return 0, 0, fmt.Errorf("drop duplicate links: %w", dropped.Error)
	}
	return moved.RowsAffected, dropped.RowsAffected, nil
}

func (t *txn) SetStatus(id uuid.UUID, status models.FeatureStatus) error {
	res := t.db.Model(&Feature{}).Where("id = ?", id).Update("status", string(status))
	if res.Error != nil {
		return fmt.Errorf("set status: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("feature %s: %w", id, synthesis.ErrNotFound)
	}
	return nil
}
