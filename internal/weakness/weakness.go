// Package weakness derives per-category weakness scores from review history.
//
// Scores are a smoothed failure rate on a 0..100 scale. They feed the daily
// queue ranking and are otherwise informational.
package weakness

import (
	"math"
	"sort"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// Trend labels
const (
	TrendStrong   = "strong"
	TrendModerate = "moderate"
	TrendWeak     = "weak"
)

// Calculator turns attempt and failure counts into a weakness score.
type Calculator struct {
	// PriorWeight is the number of virtual attempts blended into every score,
	// so a single failure does not make a category maximally weak.
	PriorWeight float64 `yaml:"prior_weight" json:"prior_weight"`
	// PriorRate is the failure rate assumed for those virtual attempts.
	PriorRate float64 `yaml:"prior_rate" json:"prior_rate"`
	// PassThreshold is the lowest rating that does not count as a failure.
	PassThreshold domain.Rating `yaml:"pass_threshold" json:"pass_threshold"`
}

// DefaultCalculator returns the calculator used when nothing is configured.
func DefaultCalculator() Calculator {
	return Calculator{
		PriorWeight:   2,
		PriorRate:     0.3,
		PassThreshold: domain.RatingDifficult,
	}
}

// Score returns round(100 * (failures + w*p) / (attempts + w)) clamped to 0..100.
func (c Calculator) Score(attempts, failures int) int {
	attempts = max(attempts, 0)
	failures = min(max(failures, 0), attempts)

	denom := float64(attempts) + c.PriorWeight
	if denom <= 0 {
		return 0
	}
	rate := (float64(failures) + c.PriorWeight*c.PriorRate) / denom
	return min(max(int(math.Round(rate*100)), 0), 100)
}

// FromLogs aggregates review logs by category into weakness scores, sorted by
// score descending then category. Logs without a category are classified with
// categoryOf; a nil categoryOf means CategoryOf.
func (c Calculator) FromLogs(learnerID string, logs []domain.ReviewLog, categoryOf func(string) string, now time.Time) []domain.WeaknessScore {
	if categoryOf == nil {
		categoryOf = CategoryOf
	}

	type tally struct{ attempts, failures int }
	byCategory := make(map[string]*tally)
	for _, log := range logs {
		if log.LearnerID != learnerID {
			continue
		}
		category := log.Category
		if category == "" {
			category = categoryOf(log.ItemID)
		}
		t, ok := byCategory[category]
		if !ok {
			t = &tally{}
			byCategory[category] = t
		}
		t.attempts++
		if !log.Rating.Passed(c.PassThreshold) {
			t.failures++
		}
	}

	scores := make([]domain.WeaknessScore, 0, len(byCategory))
	for category, t := range byCategory {
		scores = append(scores, domain.WeaknessScore{
			LearnerID: learnerID,
			Category:  category,
			Score:     c.Score(t.attempts, t.failures),
			Attempts:  t.attempts,
			Failures:  t.failures,
			UpdatedAt: now,
		})
	}

	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].Category < scores[j].Category
	})
	return scores
}

// Index maps category to score for queue ranking.
func Index(scores []domain.WeaknessScore) map[string]int {
	idx := make(map[string]int, len(scores))
	for _, s := range scores {
		idx[s.Category] = s.Score
	}
	return idx
}

// Trend labels a score for display.
func Trend(score int) string {
	switch {
	case score < 30:
		return TrendStrong
	case score < 60:
		return TrendModerate
	default:
		return TrendWeak
	}
}
