// Package reviewtest provides a conformance suite for review.Store implementations.
package reviewtest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

// RunStoreTests exercises newStore against the review.Store contract.
// newStore must return an empty store; cleanup is the caller's job.
func RunStoreTests(t *testing.T, newStore func(t *testing.T) review.Store) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s review.Store)
	}{
		{"CreateGet", testCreateGet},
		{"RoundTrip", testRoundTrip},
		{"Versioning", testVersioning},
		{"DuplicateLog", testDuplicateLog},
		{"ListItems", testListItems},
		{"ListLogs", testListLogs},
		{"Weakness", testWeakness},
		{"ConcurrentReviews", testConcurrentReviews},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.fn(t, newStore(t))
		})
	}
}

var base = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

func newItem(learner, itemID, category string) domain.ReviewItem {
	item := domain.NewReviewItem(learner, itemID, category, domain.DateOf(base))
	item.CreatedAt = base
	item.UpdatedAt = base
	return item
}

func mustCreate(t *testing.T, s review.Store, item *domain.ReviewItem) {
	t.Helper()
	if err := s.CreateItem(context.Background(), item); err != nil {
		t.Fatalf("CreateItem(%s) error = %v", item.Key(), err)
	}
}

// reviewed returns item after a review at the given offset from base.
func reviewed(item domain.ReviewItem, rating domain.Rating, offset time.Duration) (domain.ReviewItem, domain.ReviewLog) {
	at := base.Add(offset)
	next := item.Clone()
	next.Repetition++
	next.IntervalDays = next.Repetition
	next.NextReviewDate = domain.DateOf(at).AddDays(next.IntervalDays)
	next.LastReviewedAt = &at
	next.LastRating = &rating
	next.Attempts++
	next.TimeSpent += time.Minute
	next.MasteryLevel = min(next.MasteryLevel+10, 100)
	next.UpdatedAt = at
	return next, domain.NewReviewLog(item, next, rating, time.Minute, at)
}

func testCreateGet(t *testing.T, s review.Store) {
	ctx := context.Background()

	item := newItem("l1", "arrays/two-sum", "arrays")
	mustCreate(t, s, &item)
	if item.Version != 1 {
		t.Errorf("Version = %d; want 1", item.Version)
	}

	dup := newItem("l1", "arrays/two-sum", "arrays")
	if err := s.CreateItem(ctx, &dup); !errors.Is(err, domain.ErrItemExists) {
		t.Errorf("CreateItem() duplicate error = %v; want ErrItemExists", err)
	}

	if _, err := s.GetItem(ctx, "l1", "missing"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("GetItem() error = %v; want ErrItemNotFound", err)
	}
	if _, err := s.GetItem(ctx, "l2", "arrays/two-sum"); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("GetItem() other learner error = %v; want ErrItemNotFound", err)
	}
}

func testRoundTrip(t *testing.T, s review.Store) {
	ctx := context.Background()

	item := newItem("l1", "go-v1/graphs/bfs", "graphs")
	item.PlanID = "plan-7"
	mustCreate(t, s, &item)

	next, log := reviewed(item, domain.RatingHesitant, 90*time.Minute)
	next.EaseFactor = 2.36
	if err := s.SaveReview(ctx, &next, item.Version, log); err != nil {
		t.Fatalf("SaveReview() error = %v", err)
	}

	got, err := s.GetItem(ctx, "l1", "go-v1/graphs/bfs")
	if err != nil {
		t.Fatalf("GetItem() error = %v", err)
	}
	if got.PlanID != "plan-7" || got.Category != "graphs" {
		t.Errorf("identity = %q, %q; want plan-7, graphs", got.PlanID, got.Category)
	}
	if got.Repetition != 1 || got.IntervalDays != 1 || got.EaseFactor != 2.36 {
		t.Errorf("scheduling = %d, %d, %v; want 1, 1, 2.36", got.Repetition, got.IntervalDays, got.EaseFactor)
	}
	if got.NextReviewDate != next.NextReviewDate {
		t.Errorf("NextReviewDate = %v; want %v", got.NextReviewDate, next.NextReviewDate)
	}
	if got.LastReviewedAt == nil || !got.LastReviewedAt.Equal(*next.LastReviewedAt) {
		t.Errorf("LastReviewedAt = %v; want %v", got.LastReviewedAt, next.LastReviewedAt)
	}
	if got.LastRating == nil || *got.LastRating != domain.RatingHesitant {
		t.Errorf("LastRating = %v; want %v", got.LastRating, domain.RatingHesitant)
	}
	if got.TimeSpent != time.Minute || got.Attempts != 1 || got.MasteryLevel != 10 {
		t.Errorf("performance = %v, %d, %d; want 1m0s, 1, 10", got.TimeSpent, got.Attempts, got.MasteryLevel)
	}
	if got.Version != 2 || next.Version != 2 {
		t.Errorf("Version = %d (stored), %d (caller); want 2", got.Version, next.Version)
	}
	if !got.CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v; want %v", got.CreatedAt, base)
	}

	logs, err := s.ListLogs(ctx, "l1", "go-v1/graphs/bfs", 0)
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("len(ListLogs()) = %d; want 1", len(logs))
	}
	gotLog := logs[0]
	if gotLog.ID != log.ID || gotLog.Rating != domain.RatingHesitant || gotLog.TimeSpent != time.Minute {
		t.Errorf("log = %+v; want %+v", gotLog, log)
	}
	if !gotLog.ReviewedAt.Equal(log.ReviewedAt) {
		t.Errorf("ReviewedAt = %v; want %v", gotLog.ReviewedAt, log.ReviewedAt)
	}
	if gotLog.Before != log.Before || gotLog.After != log.After {
		t.Errorf("snapshots = %+v -> %+v; want %+v -> %+v", gotLog.Before, gotLog.After, log.Before, log.After)
	}
}

func testVersioning(t *testing.T, s review.Store) {
	ctx := context.Background()

	item := newItem("l1", "a", "general")
	mustCreate(t, s, &item)

	next, log := reviewed(item, domain.RatingPerfect, time.Hour)
	if err := s.SaveReview(ctx, &next, 1, log); err != nil {
		t.Fatalf("SaveReview() error = %v", err)
	}

	stale, staleLog := reviewed(item, domain.RatingWrong, 2*time.Hour)
	if err := s.SaveReview(ctx, &stale, 1, staleLog); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("SaveReview() stale error = %v; want ErrConflict", err)
	}
	if err := s.UpdateItem(ctx, &stale, 1); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("UpdateItem() stale error = %v; want ErrConflict", err)
	}

	logs, _ := s.ListLogs(ctx, "l1", "a", 0)
	if len(logs) != 1 {
		t.Errorf("len(ListLogs()) = %d; want 1 (stale review must not be logged)", len(logs))
	}

	missing := newItem("l1", "missing", "general")
	if err := s.UpdateItem(ctx, &missing, 1); !errors.Is(err, domain.ErrItemNotFound) {
		t.Errorf("UpdateItem() missing error = %v; want ErrItemNotFound", err)
	}

	next.MasteryLevel = 55
	if err := s.UpdateItem(ctx, &next, 2); err != nil {
		t.Fatalf("UpdateItem() error = %v", err)
	}
	got, _ := s.GetItem(ctx, "l1", "a")
	if got.Version != 3 || got.MasteryLevel != 55 {
		t.Errorf("Version, MasteryLevel = %d, %d; want 3, 55", got.Version, got.MasteryLevel)
	}
}

func testDuplicateLog(t *testing.T, s review.Store) {
	ctx := context.Background()

	item := newItem("l1", "a", "general")
	mustCreate(t, s, &item)

	next, log := reviewed(item, domain.RatingPerfect, time.Hour)
	if err := s.SaveReview(ctx, &next, 1, log); err != nil {
		t.Fatalf("SaveReview() error = %v", err)
	}

	// A resend of the committed review, with the version it was computed from.
	resend, _ := reviewed(item, domain.RatingPerfect, time.Hour)
	if err := s.SaveReview(ctx, &resend, 1, log); !errors.Is(err, domain.ErrDuplicateReview) {
		t.Errorf("SaveReview() resend error = %v; want ErrDuplicateReview", err)
	}

	// The same log ID on top of the current version is still a duplicate.
	again, againLog := reviewed(next, domain.RatingWrong, 2*time.Hour)
	againLog.ID = log.ID
	if err := s.SaveReview(ctx, &again, 2, againLog); !errors.Is(err, domain.ErrDuplicateReview) {
		t.Errorf("SaveReview() reused id error = %v; want ErrDuplicateReview", err)
	}

	got, _ := s.GetItem(ctx, "l1", "a")
	if got.Version != 2 || got.Repetition != 1 {
		t.Errorf("Version, Repetition = %d, %d; want 2, 1", got.Version, got.Repetition)
	}
	logs, _ := s.ListLogs(ctx, "l1", "a", 0)
	if len(logs) != 1 {
		t.Errorf("len(ListLogs()) = %d; want 1", len(logs))
	}
}

func testListItems(t *testing.T, s review.Store) {
	ctx := context.Background()

	for _, id := range []string{"c", "a", "b"} {
		item := newItem("l1", id, "general")
		mustCreate(t, s, &item)
	}
	other := newItem("l2", "z", "general")
	mustCreate(t, s, &other)

	items, err := s.ListItems(ctx, "l1")
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("len(ListItems()) = %d; want 3", len(items))
	}
	for i, want := range []string{"a", "b", "c"} {
		if items[i].ItemID != want {
			t.Errorf("items[%d] = %q; want %q", i, items[i].ItemID, want)
		}
	}

	empty, err := s.ListItems(ctx, "nobody")
	if err != nil {
		t.Fatalf("ListItems() error = %v", err)
	}
	if empty == nil || len(empty) != 0 {
		t.Errorf("ListItems(nobody) = %v; want empty non-nil", empty)
	}
}

func testListLogs(t *testing.T, s review.Store) {
	ctx := context.Background()

	a := newItem("l1", "a", "general")
	b := newItem("l1", "b", "general")
	mustCreate(t, s, &a)
	mustCreate(t, s, &b)

	for i := 0; i < 3; i++ {
		for _, it := range []*domain.ReviewItem{&a, &b} {
			next, log := reviewed(*it, domain.Rating(i+2), time.Duration(i)*time.Hour)
			if err := s.SaveReview(ctx, &next, it.Version, log); err != nil {
				t.Fatalf("SaveReview() error = %v", err)
			}
			*it = next
		}
	}

	logs, err := s.ListLogs(ctx, "l1", "a", 2)
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("len(ListLogs()) = %d; want 2", len(logs))
	}
	if logs[0].Rating != 4 || logs[1].Rating != 3 {
		t.Errorf("ratings = %d, %d; want 4, 3 (newest first)", logs[0].Rating, logs[1].Rating)
	}
	for _, l := range logs {
		if l.ItemID != "a" {
			t.Errorf("ItemID = %q; want a", l.ItemID)
		}
	}

	all, _ := s.ListLogs(ctx, "l1", "", 0)
	if len(all) != 6 {
		t.Errorf("len(ListLogs(all)) = %d; want 6", len(all))
	}

	none, err := s.ListLogs(ctx, "nobody", "", 0)
	if err != nil {
		t.Fatalf("ListLogs() error = %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("ListLogs(nobody) = %v; want empty non-nil", none)
	}
}

func testWeakness(t *testing.T, s review.Store) {
	ctx := context.Background()

	scores := []domain.WeaknessScore{
		{LearnerID: "l1", Category: "arrays", Score: 20, Attempts: 4, Failures: 0, UpdatedAt: base},
		{LearnerID: "l1", Category: "graphs", Score: 70, Attempts: 5, Failures: 4, UpdatedAt: base},
	}
	if err := s.SaveWeakness(ctx, "l1", scores); err != nil {
		t.Fatalf("SaveWeakness() error = %v", err)
	}

	got, err := s.ListWeakness(ctx, "l1")
	if err != nil {
		t.Fatalf("ListWeakness() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(ListWeakness()) = %d; want 2", len(got))
	}
	if got[0].Category != "graphs" || got[0].Score != 70 || got[0].Attempts != 5 || got[0].Failures != 4 {
		t.Errorf("ListWeakness()[0] = %+v; want graphs 70", got[0])
	}

	if err := s.SaveWeakness(ctx, "l1", scores[:1]); err != nil {
		t.Fatalf("SaveWeakness() replace error = %v", err)
	}
	got, _ = s.ListWeakness(ctx, "l1")
	if len(got) != 1 || got[0].Category != "arrays" {
		t.Errorf("ListWeakness() after replace = %+v; want arrays only", got)
	}

	other, _ := s.ListWeakness(ctx, "l2")
	if other == nil || len(other) != 0 {
		t.Errorf("ListWeakness(l2) = %v; want empty non-nil", other)
	}
}

// testConcurrentReviews checks that optimistic versioning lets exactly one of
// several racing writers win each round.
func testConcurrentReviews(t *testing.T, s review.Store) {
	ctx := context.Background()

	item := newItem("l1", "race", "general")
	mustCreate(t, s, &item)

	const writers = 5
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		wins      int
		conflicts int
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			next, log := reviewed(item, domain.RatingPerfect, time.Duration(i)*time.Minute)
			err := s.SaveReview(ctx, &next, 1, log)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("SaveReview() error = %v", fmt.Errorf("writer %d: %w", i, err))
			}
		}(i)
	}
	wg.Wait()

	if wins != 1 || conflicts != writers-1 {
		t.Errorf("wins, conflicts = %d, %d; want 1, %d", wins, conflicts, writers-1)
	}
	logs, _ := s.ListLogs(ctx, "l1", "race", 0)
	if len(logs) != 1 {
		t.Errorf("len(ListLogs()) = %d; want 1", len(logs))
	}
}
