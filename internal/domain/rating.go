package domain

import "fmt"

// Rating is the learner's self-assessed recall quality for a review.
type Rating int

const (
	RatingBlackout  Rating = iota // Complete failure to recall.
	RatingWrong                   // Wrong, but recognized the answer.
	RatingFamiliar                // Wrong, but the answer felt familiar.
	RatingDifficult               // Correct after significant effort.
	RatingHesitant                // Correct after some hesitation.
	RatingPerfect                 // Perfect recall.
)

const (
	MinRating = int(RatingBlackout)
	MaxRating = int(RatingPerfect)
)

var ratingNames = [...]string{
	RatingBlackout:  "blackout",
	RatingWrong:     "wrong",
	RatingFamiliar:  "familiar",
	RatingDifficult: "difficult",
	RatingHesitant:  "hesitant",
	RatingPerfect:   "perfect",
}

// ParseRating converts an integer into a Rating, rejecting values outside 0..5.
func ParseRating(v int) (Rating, error) {
	r := Rating(v)
	if !r.IsValid() {
		return 0, &InvalidRatingError{Rating: v}
	}
	return r, nil
}

// IsValid reports whether r lies on the 0..5 scale.
func (r Rating) IsValid() bool {
	return int(r) >= MinRating && int(r) <= MaxRating
}

// Passed reports whether r meets the pass threshold.
func (r Rating) Passed(threshold Rating) bool {
	return r >= threshold
}

func (r Rating) String() string {
	if r.IsValid() {
		return ratingNames[r]
	}
	return fmt.Sprintf("Rating(%d)", int(r))
}
