// Package identity links feedback to paying customers and weights it by revenue.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/thebtf/vocguru/internal/synthesis"
	"github.com/thebtf/vocguru/pkg/models"
)

// CalculateWeight returns the weight of feedback from a customer with the given ARR.
func CalculateWeight(arr float64) float64 {
	return models.DefaultFeedbackWeight + arr/1000
}

// Store is what the resolver reads and writes.
type Store interface {
	GetFeedback(ctx context.Context, id uuid.UUID) (*models.FeedbackItem, error)
	GetCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	SetIdentity(ctx context.Context, feedbackID, customerID uuid.UUID, weight float64) error
}

// Resolver attaches a customer and weight to feedback items.
type Resolver struct {
	store  Store
	logger zerolog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(store Store, logger zerolog.Logger) *Resolver {
	return &Resolver{
		store:  store,
		logger: logger.With().Str("component", "identity").Logger(),
	}
}

// Resolve looks up the author of feedbackID by email and, when a customer
// matches, stores the customer id and revenue weight on the item. Items
// without an email or without a matching customer keep the default weight.
func (r *Resolver) Resolve(ctx context.Context, feedbackID uuid.UUID) error {
	item, err := r.store.GetFeedback(ctx, feedbackID)
	if err != nil {
		return fmt.Errorf("load feedback: %w", err)
	}
	if item.Processed {
		// Aggregates were computed with the current weight.
		return nil
	}

	email := models.NormalizeEmail(item.AuthorEmail)
	if email == "" {
		return nil
	}

	customer, err := r.store.GetCustomerByEmail(ctx, email)
	if errors.Is(err, synthesis.ErrNotFound) {
		r.logger.Debug().Str("feedback_id", feedbackID.String()).Msg("No customer for feedback author")
		return nil
	}
	if err != nil {
		return fmt.Errorf("lookup customer: %w", err)
	}

	weight := CalculateWeight(customer.ARR)
	err = r.store.SetIdentity(ctx, feedbackID, customer.ID, weight)
	if errors.Is(err, synthesis.ErrAlreadyProcessed) {
		// Synthesized concurrently with the default weight.
		r.logger.Debug().Str("feedback_id", feedbackID.String()).Msg("Feedback processed before identity was set")
		return nil
	}
	if err != nil {
		return fmt.Errorf("set identity: %w", err)
	}

	r.logger.Info().
		Str("feedback_id", feedbackID.String()).
		Str("customer_id", customer.ID.String()).
		Float64("arr", customer.ARR).
		Float64("weight", weight).
		Msg("Identity resolved")
	return nil
}
