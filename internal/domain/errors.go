package domain

import (
	"errors"
	"fmt"
)

// -----------------------------------------------------------------------------
// Domain Errors
// These errors are shared by the scheduler, the review service and the
// storage adapters so callers can branch on them with errors.Is.
// -----------------------------------------------------------------------------

// Rating errors
var (
	ErrInvalidRating = errors.New("invalid rating")
)

// Review item errors
var (
	ErrItemNotFound = errors.New("review item not found")
	ErrItemExists   = errors.New("review item already exists")
	ErrConflict     = errors.New("review item was modified concurrently")

	// ErrDuplicateReview reports a review log whose ID is already stored
	ErrDuplicateReview = errors.New("review already recorded")
)

// General errors
var (
	ErrInvalidInput = errors.New("invalid input")
)

// InvalidRatingError reports a rating outside the 0..5 scale.
type InvalidRatingError struct {
	Rating int
}

func (e *InvalidRatingError) Error() string {
	return fmt.Sprintf("invalid rating %d: must be between %d and %d", e.Rating, MinRating, MaxRating)
}

// Is lets errors.Is(err, ErrInvalidRating) match.
func (e *InvalidRatingError) Is(target error) bool {
	return target == ErrInvalidRating
}
