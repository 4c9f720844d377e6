package synthesis

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a feedback item or feature does not exist.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyProcessed is returned when a write that must precede
	// synthesis finds the feedback item already processed.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrInvalidArgument is returned for malformed requests such as a merge
	// of a feature into itself.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrExtractorUnavailable is returned when extraction or embedding fails.
	ErrExtractorUnavailable = errors.New("extractor unavailable")

	// ErrExtractorTimeout is returned when extraction or embedding exceeds
	// the configured timeout.
	ErrExtractorTimeout = errors.New("extractor timeout")

	// ErrStorage wraps database failures.
	ErrStorage = errors.New("storage error")

	// ErrDimensionMismatch means the embedding provider and the feature
	// index disagree on vector size. It is a configuration error.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// storageErr wraps a store error unless it already carries a domain sentinel.
func storageErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrStorage) || errors.Is(err, ErrDimensionMismatch) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}

// extractorErr classifies an extractor failure as a timeout or unavailability.
func extractorErr(ctx context.Context, op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrExtractorTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrExtractorUnavailable, op, err)
}
