package gorm

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/pkg/models"
)

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

// SaveFeedback inserts item. When (source, external_id) already exists the
// stored item is returned instead and created is false.
func (s *Store) SaveFeedback(ctx context.Context, item *models.FeedbackItem) (stored *models.FeedbackItem, created bool, err error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "save_feedback")
	defer cancel()

	row := feedbackRow(item)
	if row.Weight == 0 {
		row.Weight = models.DefaultFeedbackWeight
	}
	row.Processed = false

	err = s.DB.WithContext(ctx).Create(row).Error
	if err == nil {
		return row.toModel(), true, nil
	}
	if !isUniqueViolation(err) {
		return nil, false, fmt.Errorf("insert feedback: %w", err)
	}

	var existing FeedbackItem
	err = s.DB.WithContext(ctx).
		Where("source = ? AND external_id = ?", row.Source, row.ExternalID).
		First(&existing).Error
	if err != nil {
		return nil, false, fmt.Errorf("load duplicate feedback: %w", err)
	}
	return existing.toModel(), false, nil
}

// FeedbackFilter selects a page of feedback items.
type FeedbackFilter struct {
	Processed *bool
	Limit     int
	Offset    int
}

// ListFeedback returns a page of feedback, newest first, and the total
// number of matching items.
func (s *Store) ListFeedback(ctx context.Context, f FeedbackFilter) ([]*models.FeedbackItem, int64, error) {
	ctx, cancel := s.WithTimeout(ctx, SlowQueryTimeout, "list_feedback")
	defer cancel()

	q := s.DB.WithContext(ctx).Model(&FeedbackItem{})
	if f.Processed != nil {
		q = q.Where("processed = ?", *f.Processed)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count feedback: %w", err)
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	if limit > MaxPaginationLimit {
		limit = MaxPaginationLimit
	}

	var rows []FeedbackItem
	err := q.Order("created_at DESC, id DESC").Limit(limit).Offset(f.Offset).Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list feedback: %w", err)
	}

	items := make([]*models.FeedbackItem, len(rows))
	for i := range rows {
		items[i] = rows[i].toModel()
	}
	return items, total, nil
}

// SetIdentity records the resolved customer and weight of a feedback item.
// Processed items are left alone and yield synthesis.ErrAlreadyProcessed:
// their weight is already part of a feature's aggregates. The condition is
// re-checked after any row lock held by a synthesis transaction is released.
func (s *Store) SetIdentity(ctx context.Context, feedbackID, customerID uuid.UUID, weight float64) error {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "set_identity")
	defer cancel()

	db := s.DB.WithContext(ctx)
	res := db.Model(&FeedbackItem{}).
		Where("id = ? AND processed = ?", feedbackID, false).
		Updates(map[string]any{"customer_id": customerID, "weight": weight})
	if res.Error != nil {
		return fmt.Errorf("set identity: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	var n int64
	if err := db.Model(&FeedbackItem{}).Where("id = ?", feedbackID).Count(&n).Error; err != nil {
		return fmt.Errorf("set identity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("feedback %s: %w", feedbackID, synthesis.ErrNotFound)
	}
	return fmt.Errorf("feedback %s: %w", feedbackID, synthesis.ErrAlreadyProcessed)
}

// Counts summarizes table sizes for the stats endpoint.
type Counts struct {
	FeaturesByStatus map[string]int64 `json:"features_by_status"`
	Feedback         int64            `json:"feedback"`
	Unprocessed      int64            `json:"unprocessed"`
	Features         int64            `json:"features"`
	Customers        int64            `json:"customers"`
	Links            int64            `json:"links"`
}

// Counts returns row counts per table.
func (s *Store) Counts(ctx context.Context) (*Counts, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "counts")
	defer cancel()

	db := s.DB.WithContext(ctx)
	c := &Counts{FeaturesByStatus: make(map[string]int64)}

	if err := db.Model(&FeedbackItem{}).Count(&c.Feedback).Error; err != nil {
		return nil, fmt.Errorf("count feedback: %w", err)
	}
	if err := db.Model(&FeedbackItem{}).Where("processed = ?", false).Count(&c.Unprocessed).Error; err != nil {
		return nil, fmt.Errorf("count unprocessed: %w", err)
	}
	if err := db.Model(&Customer{}).Count(&c.Customers).Error; err != nil {
		return nil, fmt.Errorf("count customers: %w", err)
	}
	if err := db.Model(&FeedbackFeature{}).Count(&c.Links).Error; err != nil {
		return nil, fmt.Errorf("count links: %w", err)
	}

	var byStatus []struct {
		Status string
		N      int64
	}
	if err := db.Model(&Feature{}).Select("status, COUNT(*) AS n").Group("status").Scan(&byStatus).Error; err != nil {
		return nil, fmt.Errorf("count features: %w", err)
	}
	for _, r := range byStatus {
		c.FeaturesByStatus[r.Status] = r.N
		c.Features += r.N
	}
	return c, nil
}
