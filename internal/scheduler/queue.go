package scheduler

import (
	"cmp"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// ErrLogMismatch is returned by Replay when a log belongs to a different item.
var ErrLogMismatch = errors.New("review log does not belong to item")

// BuildDailyQueue selects the items due on or before today and orders them by
// urgency: most days overdue first, then the weakest category, then the lowest
// mastery, with item and plan id as deterministic tiebreaks. The result holds
// at most capacity items and is never nil.
//
// weakness maps category to a 0..100 score; categories missing from it count as 0.
// The input slice is not modified.
func BuildDailyQueue(items []domain.ReviewItem, weakness map[string]int, today domain.Date, capacity int) []domain.ReviewItem {
	if capacity <= 0 {
		return []domain.ReviewItem{}
	}

	due := make([]domain.ReviewItem, 0, len(items))
	for _, item := range items {
		if item.IsDue(today) {
			due = append(due, item.Clone())
		}
	}

	slices.SortStableFunc(due, func(a, b domain.ReviewItem) int {
		if c := cmp.Compare(b.DaysOverdue(today), a.DaysOverdue(today)); c != 0 {
			return c
		}
		if c := cmp.Compare(weakness[b.Category], weakness[a.Category]); c != 0 {
			return c
		}
		if c := cmp.Compare(a.MasteryLevel, b.MasteryLevel); c != 0 {
			return c
		}
		if c := strings.Compare(a.ItemID, b.ItemID); c != 0 {
			return c
		}
		return strings.Compare(a.PlanID, b.PlanID)
	})

	if len(due) > capacity {
		due = due[:capacity]
	}
	return due
}

// Replay rebuilds item's scheduling state by applying logs in chronological
// order, starting from the identity and bookkeeping fields of item and the
// scheduling state of a newly enrolled item.
func (s *Scheduler) Replay(item domain.ReviewItem, logs []domain.ReviewLog) (domain.ReviewItem, error) {
	ordered := slices.Clone(logs)
	slices.SortStableFunc(ordered, func(a, b domain.ReviewLog) int {
		return a.ReviewedAt.Compare(b.ReviewedAt)
	})

	c := domain.NewReviewItem(item.LearnerID, item.ItemID, item.Category, item.NextReviewDate)
	c.PlanID = item.PlanID
	c.EaseFactor = s.cfg.DefaultEase
	c.Version = item.Version
	c.CreatedAt = item.CreatedAt
	c.UpdatedAt = item.UpdatedAt
	if !item.CreatedAt.IsZero() {
		c.NextReviewDate = domain.DateOf(item.CreatedAt)
	}

	for _, log := range ordered {
		if log.LearnerID != c.LearnerID || log.ItemID != c.ItemID {
			return domain.ReviewItem{}, fmt.Errorf("%w: item %s, log %s/%s", ErrLogMismatch, c.Key(), log.LearnerID, log.ItemID)
		}
		next, err := s.RecordReview(c, log.Rating, log.TimeSpent, log.ReviewedAt)
		if err != nil {
			return domain.ReviewItem{}, fmt.Errorf("replay log %s: %w", log.ID, err)
		}
		c = next
	}
	return c, nil
}
