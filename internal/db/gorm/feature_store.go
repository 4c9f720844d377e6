package gorm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/pkg/models"
)

// ListFeatures returns one page of features and the total match count.
// Search matches title, description and problem summary case-insensitively.
func (s *Store) ListFeatures(ctx context.Context, filter models.FeatureFilter) ([]*models.Feature, int64, error) {
	ctx, cancel := s.WithTimeout(ctx, SlowQueryTimeout, "list_features")
	defer cancel()

	f := filter.Normalize()
	q := s.DB.WithContext(ctx).Model(&Feature{}).Omit("embedding")
	if f.Status != "" {
		q = q.Where("status = ?", string(f.Status))
	}
	if term := strings.TrimSpace(f.Search); term != "" {
		like := "%" + escapeLike(term) + "%"
		q = q.Where("title ILIKE ? OR description ILIKE ? OR problem_summary ILIKE ?", like, like, like)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("count features: %w", err)
	}

	var rows []Feature
	err := q.Order(fmt.Sprintf("%s %s, id ASC", f.Sort, f.Order)).
		Limit(f.Limit).
		Offset(f.Offset()).
		Find(&rows).Error
	if err != nil {
		return nil, 0, fmt.Errorf("list features: %w", err)
	}

	out := make([]*models.Feature, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, total, nil
}

// escapeLike escapes LIKE wildcards so search terms match literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

type linkedRow struct {
	FeedbackItem    `gorm:"embedded"`
	SimilarityScore *float64
	CustomerEmail   *string
	CustomerARR     *float64
}

// GetFeatureDetail returns a feature with its linked feedback, newest first.
func (s *Store) GetFeatureDetail(ctx context.Context, id uuid.UUID) (*models.FeatureDetail, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "feature_detail")
	defer cancel()

	f, err := getFeature(s.DB.WithContext(ctx), id)
	if err != nil {
		return nil, err
	}
	f.Embedding = nil

	var rows []linkedRow
	err = s.DB.WithContext(ctx).Raw(`
		SELECT fb.*, ff.similarity_score, c.email AS customer_email, c.arr AS customer_arr
		FROM feedback_features ff
		JOIN feedback fb ON fb.id = ff.feedback_id
		LEFT JOIN customers c ON c.id = fb.customer_id
		WHERE ff.feature_id = ?
		ORDER BY fb.created_at DESC, fb.id DESC`, id).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("load linked feedback: %w", err)
	}

	detail := &models.FeatureDetail{Feature: *f, LinkedFeedback: make([]models.LinkedFeedback, len(rows))}
	for i, r := range rows {
		lf := models.LinkedFeedback{
			FeedbackItem:    *r.FeedbackItem.toModel(),
			SimilarityScore: r.SimilarityScore,
		}
		if r.CustomerEmail != nil {
			lf.CustomerEmail = *r.CustomerEmail
		}
		if r.CustomerARR != nil {
			lf.CustomerARR = *r.CustomerARR
		}
		detail.LinkedFeedback[i] = lf
	}
	return detail, nil
}

// PatchFeature applies the non-nil fields of patch. Aggregates are never
// written here.
func (s *Store) PatchFeature(ctx context.Context, id uuid.UUID, patch models.FeaturePatch) (*models.Feature, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "patch_feature")
	defer cancel()

	if patch.Status != nil && !patch.Status.Valid() {
		return nil, fmt.Errorf("status %q: %w", *patch.Status, synthesis.ErrInvalidArgument)
	}

	updates := map[string]any{}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return nil, fmt.Errorf("empty title: %w", synthesis.ErrInvalidArgument)
		}
		updates["title"] = title
	}
	if patch.Description != nil {
		updates["description"] = *patch.Description
	}
	if patch.Status != nil {
		updates["status"] = string(*patch.Status)
	}
	if patch.Priority != nil {
		updates["priority"] = *patch.Priority
	}
	if patch.TrackerIssueKey != nil {
		updates["tracker_issue_key"] = *patch.TrackerIssueKey
	}
	if patch.TrackerIssueURL != nil {
		updates["tracker_issue_url"] = *patch.TrackerIssueURL
	}
	if patch.IsPublic != nil {
		updates["is_public"] = *patch.IsPublic
	}

	db := s.DB.WithContext(ctx)
	if len(updates) > 0 {
		updates["updated_at"] = time.Now()
		res := db.Model(&Feature{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("patch feature: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, fmt.Errorf("feature %s: %w", id, synthesis.ErrNotFound)
		}
	}

	f, err := getFeature(db, id)
	if err != nil {
		return nil, err
	}
	f.Embedding = nil
	return f, nil
}
