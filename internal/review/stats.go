package review

import (
	"context"
	"fmt"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/weakness"
)

// Stats provides aggregate statistics for one learner
type Stats struct {
	LearnerID      string  `json:"learner_id"`
	TotalItems     int     `json:"total_items"`
	New            int     `json:"new"`
	Learning       int     `json:"learning"`
	Reviewing      int     `json:"reviewing"`
	DueToday       int     `json:"due_today"`
	Overdue        int     `json:"overdue"`
	AverageMastery float64 `json:"average_mastery"`
	TimeSpentSecs  int64   `json:"time_spent_seconds"`

	TotalReviews     int     `json:"total_reviews"`
	ReviewsLast7Days int     `json:"reviews_last_7_days"`
	AverageRating    float64 `json:"average_rating"`
	Lapses           int     `json:"lapses"`

	Categories []CategoryStat `json:"categories"`
}

// CategoryStat summarizes one category
type CategoryStat struct {
	Category string `json:"category"`
	Items    int    `json:"items"`
	Weakness int    `json:"weakness"`
	Trend    string `json:"trend"`
}

// Stats returns an overview of a learner's review state as of today
func (s *Service) Stats(ctx context.Context, learnerID string, today domain.Date) (*Stats, error) {
	items, err := s.ListItems(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	logs, err := s.store.ListLogs(ctx, learnerID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	scores, err := s.Weakness(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	return buildStats(learnerID, items, logs, scores, today, s.scheduler.PassThreshold()), nil
}

func buildStats(learnerID string, items []domain.ReviewItem, logs []domain.ReviewLog, scores []domain.WeaknessScore, today domain.Date, pass domain.Rating) *Stats {
	stats := &Stats{
		LearnerID:  learnerID,
		TotalItems: len(items),
		Categories: []CategoryStat{},
	}

	perCategory := make(map[string]int)
	var mastery int
	var spent time.Duration
	for _, item := range items {
		switch item.Status() {
		case domain.StatusNew:
			stats.New++
		case domain.StatusLearning:
			stats.Learning++
		case domain.StatusReviewing:
			stats.Reviewing++
		}
		if item.IsDue(today) {
			stats.DueToday++
		}
		if item.NextReviewDate.Before(today) {
			stats.Overdue++
		}
		mastery += item.MasteryLevel
		spent += item.TimeSpent
		perCategory[item.Category]++
	}
	if len(items) > 0 {
		stats.AverageMastery = float64(mastery) / float64(len(items))
	}
	stats.TimeSpentSecs = int64(spent / time.Second)

	weekAgo := today.AddDays(-7)
	var ratingSum int
	for _, log := range logs {
		stats.TotalReviews++
		ratingSum += int(log.Rating)
		if domain.DateOf(log.ReviewedAt).After(weekAgo) {
			stats.ReviewsLast7Days++
		}
		if !log.Rating.Passed(pass) {
			stats.Lapses++
		}
	}
	if stats.TotalReviews > 0 {
		stats.AverageRating = float64(ratingSum) / float64(stats.TotalReviews)
	}

	// Categories follow the weakness order, then any category without a score.
	seen := make(map[string]bool)
	for _, ws := range scores {
		seen[ws.Category] = true
		stats.Categories = append(stats.Categories, CategoryStat{
			Category: ws.Category,
			Items:    perCategory[ws.Category],
			Weakness: ws.Score,
			Trend:    weakness.Trend(ws.Score),
		})
	}
	for _, item := range items {
		if seen[item.Category] {
			continue
		}
		seen[item.Category] = true
		stats.Categories = append(stats.Categories, CategoryStat{
			Category: item.Category,
			Items:    perCategory[item.Category],
			Trend:    weakness.Trend(0),
		})
	}

	return stats
}
