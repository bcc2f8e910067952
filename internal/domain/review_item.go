package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// DefaultEaseFactor is the ease a learner starts with on a new item.
const DefaultEaseFactor = 2.5

// MaxMastery is the upper bound of MasteryLevel.
const MaxMastery = 100

// ReviewStatus is the scheduling phase of a review item.
type ReviewStatus string

const (
	StatusNew       ReviewStatus = "new"       // No successful review since enrollment or the last failure.
	StatusLearning  ReviewStatus = "learning"  // One or two successful reviews, fixed short intervals.
	StatusReviewing ReviewStatus = "reviewing" // Intervals grow by the ease factor.
)

// ReviewItem is the scheduling state of one practice item for one learner.
type ReviewItem struct {
	LearnerID string `json:"learner_id"`
	ItemID    string `json:"item_id"`
	PlanID    string `json:"plan_id,omitempty"`
	Category  string `json:"category"`

	Repetition     int        `json:"repetition_number"`
	EaseFactor     float64    `json:"ease_factor"`
	IntervalDays   int        `json:"interval_days"`
	NextReviewDate Date       `json:"next_review_date"`
	LastReviewedAt *time.Time `json:"last_reviewed_at"`

	LastRating   *Rating       `json:"performance_rating"`
	TimeSpent    time.Duration `json:"-"`
	Attempts     int           `json:"attempts_count"`
	MasteryLevel int           `json:"mastery_level"`

	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewReviewItem creates the state for an item a learner encounters for the first time.
// It is due on the day it is created.
func NewReviewItem(learnerID, itemID, category string, today Date) ReviewItem {
	return ReviewItem{
		LearnerID:      learnerID,
		ItemID:         itemID,
		Category:       category,
		EaseFactor:     DefaultEaseFactor,
		NextReviewDate: today,
	}
}

// MarshalJSON adds time_spent_seconds, the persisted form of TimeSpent.
func (i ReviewItem) MarshalJSON() ([]byte, error) {
	type alias ReviewItem
	return json.Marshal(struct {
		alias
		TimeSpentSeconds int64 `json:"time_spent_seconds"`
	}{alias(i), i.TimeSpentSeconds()})
}

// UnmarshalJSON reads time_spent_seconds back into TimeSpent.
func (i *ReviewItem) UnmarshalJSON(data []byte) error {
	type alias ReviewItem
	aux := struct {
		*alias
		TimeSpentSeconds int64 `json:"time_spent_seconds"`
	}{alias: (*alias)(i)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	i.TimeSpent = time.Duration(aux.TimeSpentSeconds) * time.Second
	return nil
}

// Key identifies the item within the store.
func (i ReviewItem) Key() ItemKey {
	return ItemKey{LearnerID: i.LearnerID, ItemID: i.ItemID}
}

// Status derives the scheduling phase from the repetition count.
func (i ReviewItem) Status() ReviewStatus {
	return StatusOf(i.Repetition)
}

// StatusOf maps a repetition count to its scheduling phase.
func StatusOf(repetition int) ReviewStatus {
	switch {
	case repetition <= 0:
		return StatusNew
	case repetition <= 2:
		return StatusLearning
	default:
		return StatusReviewing
	}
}

// IsDue reports whether the item should be reviewed on or before today.
func (i ReviewItem) IsDue(today Date) bool {
	return !i.NextReviewDate.After(today)
}

// DaysOverdue is today minus the next review date, floored at zero.
func (i ReviewItem) DaysOverdue(today Date) int {
	return max(0, today.DaysSince(i.NextReviewDate))
}

// TimeSpentSeconds is the cumulative review time in whole seconds.
func (i ReviewItem) TimeSpentSeconds() int64 {
	return int64(i.TimeSpent / time.Second)
}

// Clone returns a deep copy so callers can mutate the result freely.
func (i ReviewItem) Clone() ReviewItem {
	c := i
	if i.LastReviewedAt != nil {
		t := *i.LastReviewedAt
		c.LastReviewedAt = &t
	}
	if i.LastRating != nil {
		r := *i.LastRating
		c.LastRating = &r
	}
	return c
}

// ItemKey is the primary key of a review item.
type ItemKey struct {
	LearnerID string
	ItemID    string
}

func (k ItemKey) String() string {
	return k.LearnerID + "/" + k.ItemID
}

// ReviewLog records one review with the scheduling state before and after it.
type ReviewLog struct {
	ID         uuid.UUID     `json:"id"`
	LearnerID  string        `json:"learner_id"`
	ItemID     string        `json:"item_id"`
	Category   string        `json:"category"`
	Rating     Rating        `json:"rating"`
	TimeSpent  time.Duration `json:"time_spent"`
	ReviewedAt time.Time     `json:"reviewed_at"`

	Before Snapshot `json:"before"`
	After  Snapshot `json:"after"`
}

// Snapshot is the scheduling state captured in a review log.
type Snapshot struct {
	Repetition     int     `json:"repetition_number"`
	EaseFactor     float64 `json:"ease_factor"`
	IntervalDays   int     `json:"interval_days"`
	NextReviewDate Date    `json:"next_review_date"`
	MasteryLevel   int     `json:"mastery_level"`
}

// Status is the scheduling phase of the captured state.
func (s Snapshot) Status() ReviewStatus {
	return StatusOf(s.Repetition)
}

// SnapshotOf captures the scheduling state of an item.
func SnapshotOf(i ReviewItem) Snapshot {
	return Snapshot{
		Repetition:     i.Repetition,
		EaseFactor:     i.EaseFactor,
		IntervalDays:   i.IntervalDays,
		NextReviewDate: i.NextReviewDate,
		MasteryLevel:   i.MasteryLevel,
	}
}

// NewReviewLog builds the log entry for a review that moved before to after.
func NewReviewLog(before, after ReviewItem, rating Rating, timeSpent time.Duration, reviewedAt time.Time) ReviewLog {
	return ReviewLog{
		ID:         uuid.New(),
		LearnerID:  after.LearnerID,
		ItemID:     after.ItemID,
		Category:   after.Category,
		Rating:     rating,
		TimeSpent:  max(timeSpent, 0),
		ReviewedAt: reviewedAt,
		Before:     SnapshotOf(before),
		After:      SnapshotOf(after),
	}
}

// WeaknessScore is how much a learner's category needs reinforcement (0..100).
type WeaknessScore struct {
	LearnerID string    `json:"learner_id"`
	Category  string    `json:"category"`
	Score     int       `json:"score"`
	Attempts  int       `json:"attempts"`
	Failures  int       `json:"failures"`
	UpdatedAt time.Time `json:"updated_at"`
}
