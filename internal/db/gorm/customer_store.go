package gorm

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm/clause"

	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/pkg/models"
)

// UpsertCustomer inserts or updates a customer keyed by normalized email.
func (s *Store) UpsertCustomer(ctx context.Context, c *models.Customer) (*models.Customer, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "upsert_customer")
	defer cancel()

	row := &Customer{
		ID:          c.ID,
		Email:       models.NormalizeEmail(c.Email),
		Name:        c.Name,
		CompanyName: c.CompanyName,
		PlanName:    c.PlanName,
		ARR:         c.ARR,
	}
	if row.Email == "" {
		return nil, fmt.Errorf("%w: customer email is required", synthesis.ErrInvalidArgument)
	}

	err := s.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}},
			DoUpdates: clause.Assignments(map[string]any{
				"name":         row.Name,
				"company_name": row.CompanyName,
				"plan_name":    row.PlanName,
				"arr":          row.ARR,
				"updated_at":   time.Now(),
			}),
		}).
		Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("upsert customer: %w", err)
	}
	return s.GetCustomerByEmail(ctx, row.Email)
}

// GetCustomerByEmail looks a customer up by email, case-insensitively.
func (s *Store) GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	var row Customer
	err := s.DB.WithContext(ctx).First(&row, "email = ?", models.NormalizeEmail(email)).Error
	if err != nil {
		return nil, notFound(err, "customer "+email)
	}
	return row.toModel(), nil
}

// FeatureIDsForCustomer returns the features linked to any of the
// customer's feedback. Their total_arr depends on the customer's ARR.
func (s *Store) FeatureIDsForCustomer(ctx context.Context, customerID uuid.UUID) ([]uuid.UUID, error) {
	ctx, cancel := s.WithTimeout(ctx, DefaultQueryTimeout, "customer_features")
	defer cancel()

	var ids []uuid.UUID
	err := s.DB.WithContext(ctx).Raw(`
		SELECT DISTINCT ff.feature_id
		FROM feedback_features ff
		JOIN feedback fb ON fb.id = ff.feedback_id
		WHERE fb.customer_id = ?`, customerID).Scan(&ids).Error
	if err != nil {
		return nil, fmt.Errorf("customer features: %w", err)
	}
	return ids, nil
}
