package scheduler

import (
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

func dueItem(id, category string, next string, mastery int) domain.ReviewItem {
	item := domain.NewReviewItem("learner-1", id, category, domain.MustParseDate(next))
	item.MasteryLevel = mastery
	return item
}

func ids(items []domain.ReviewItem) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ItemID
	}
	return out
}

func TestBuildDailyQueue_WeakOverdueFirst(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	items := []domain.ReviewItem{
		dueItem("strong-1", "strings", "2024-03-09", 10),
		dueItem("weak-5", "graphs", "2024-03-05", 90),
	}
	weakness := map[string]int{"graphs": 85, "strings": 10}

	got := BuildDailyQueue(items, weakness, today, 1)
	if want := []string{"weak-5"}; !reflect.DeepEqual(ids(got), want) {
		t.Errorf("BuildDailyQueue() = %v; want %v", ids(got), want)
	}
}

func TestBuildDailyQueue_Ordering(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	items := []domain.ReviewItem{
		dueItem("e", "dp", "2024-03-10", 40),
		dueItem("a", "dp", "2024-03-08", 70),
		dueItem("b", "arrays", "2024-03-08", 10),
		dueItem("c", "dp", "2024-03-08", 20),
		dueItem("d", "dp", "2024-03-08", 20),
		dueItem("future", "dp", "2024-03-11", 0),
		dueItem("f", "unknown", "2024-03-10", 40),
	}
	weakness := map[string]int{"dp": 60, "arrays": 30}

	got := BuildDailyQueue(items, weakness, today, 10)
	want := []string{"c", "d", "a", "b", "e", "f"}
	if !reflect.DeepEqual(ids(got), want) {
		t.Errorf("BuildDailyQueue() = %v; want %v", ids(got), want)
	}
}

func TestBuildDailyQueue_PlanTiebreak(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	a := dueItem("same", "dp", "2024-03-10", 0)
	a.PlanID = "plan-b"
	b := dueItem("same", "dp", "2024-03-10", 0)
	b.PlanID = "plan-a"

	got := BuildDailyQueue([]domain.ReviewItem{a, b}, nil, today, 5)
	if got[0].PlanID != "plan-a" || got[1].PlanID != "plan-b" {
		t.Errorf("PlanIDs = %q, %q; want plan-a, plan-b", got[0].PlanID, got[1].PlanID)
	}
}

func TestBuildDailyQueue_Capacity(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	var items []domain.ReviewItem
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		items = append(items, dueItem(id, "dp", "2024-03-01", 0))
	}

	for _, capacity := range []int{-1, 0, 1, 3, 5, 20} {
		got := BuildDailyQueue(items, nil, today, capacity)
		if got == nil {
			t.Errorf("capacity %d: BuildDailyQueue() = nil; want non-nil", capacity)
		}
		want := min(max(capacity, 0), len(items))
		if len(got) != want {
			t.Errorf("capacity %d: len = %d; want %d", capacity, len(got), want)
		}
	}
}

func TestBuildDailyQueue_NothingDue(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	items := []domain.ReviewItem{dueItem("a", "dp", "2024-03-11", 0)}

	got := BuildDailyQueue(items, nil, today, 10)
	if got == nil || len(got) != 0 {
		t.Errorf("BuildDailyQueue() = %v; want empty non-nil slice", got)
	}

	got = BuildDailyQueue(nil, nil, today, 10)
	if got == nil || len(got) != 0 {
		t.Errorf("BuildDailyQueue(nil) = %v; want empty non-nil slice", got)
	}
}

func TestBuildDailyQueue_NeverIncludesFuture(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	var items []domain.ReviewItem
	for i := -5; i <= 5; i++ {
		items = append(items, dueItem(today.AddDays(i).String(), "dp", today.AddDays(i).String(), 0))
	}

	for _, item := range BuildDailyQueue(items, nil, today, 100) {
		if item.NextReviewDate.After(today) {
			t.Errorf("queue includes %s due %s", item.ItemID, item.NextReviewDate)
		}
	}
}

func TestBuildDailyQueue_Deterministic(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	items := []domain.ReviewItem{
		dueItem("x", "dp", "2024-03-10", 5),
		dueItem("y", "graphs", "2024-03-10", 5),
		dueItem("z", "dp", "2024-03-09", 5),
		dueItem("w", "graphs", "2024-03-10", 5),
	}
	weakness := map[string]int{"dp": 20, "graphs": 20}

	first := ids(BuildDailyQueue(items, weakness, today, 10))
	reversed := make([]domain.ReviewItem, len(items))
	for i, item := range items {
		reversed[len(items)-1-i] = item
	}
	second := ids(BuildDailyQueue(reversed, weakness, today, 10))

	if !reflect.DeepEqual(first, second) {
		t.Errorf("orderings differ: %v vs %v", first, second)
	}
	if want := []string{"z", "w", "x", "y"}; !reflect.DeepEqual(first, want) {
		t.Errorf("BuildDailyQueue() = %v; want %v", first, want)
	}
}

func TestBuildDailyQueue_DoesNotReorderInput(t *testing.T) {
	today := domain.MustParseDate("2024-03-10")
	items := []domain.ReviewItem{
		dueItem("b", "dp", "2024-03-10", 0),
		dueItem("a", "dp", "2024-03-01", 0),
	}

	BuildDailyQueue(items, nil, today, 10)
	if items[0].ItemID != "b" {
		t.Errorf("input reordered: %v", ids(items))
	}
}

func TestReplay(t *testing.T) {
	s := Default()
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	item := domain.NewReviewItem("learner-1", "arrays/two-sum", "arrays", domain.DateOf(created))
	item.CreatedAt = created

	want := item
	var logs []domain.ReviewLog
	for i, r := range []domain.Rating{5, 4, 2, 3, 4} {
		at := created.Add(time.Duration(i) * 72 * time.Hour)
		next, err := s.RecordReview(want, r, time.Minute, at)
		if err != nil {
			t.Fatalf("RecordReview() error = %v", err)
		}
		logs = append(logs, domain.NewReviewLog(want, next, r, time.Minute, at))
		want = next
	}

	// Out of order on purpose.
	logs[0], logs[3] = logs[3], logs[0]

	got, err := s.Replay(item, logs)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if got.Repetition != want.Repetition || got.IntervalDays != want.IntervalDays ||
		!approxEqual(got.EaseFactor, want.EaseFactor) || got.NextReviewDate != want.NextReviewDate ||
		got.MasteryLevel != want.MasteryLevel || got.Attempts != want.Attempts || got.TimeSpent != want.TimeSpent {
		t.Errorf("Replay() = %+v; want %+v", got, want)
	}
}

func TestReplay_NoLogs(t *testing.T) {
	created := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	item := itemWith(4, 1.9, 20)
	item.CreatedAt = created

	got, err := Default().Replay(item, nil)
	if err != nil {
		t.Fatalf("Replay() error = %v", err)
	}
	if got.Repetition != 0 || got.IntervalDays != 0 || got.EaseFactor != 2.5 {
		t.Errorf("Replay() = %+v; want fresh state", got)
	}
	if want := domain.DateOf(created); got.NextReviewDate != want {
		t.Errorf("NextReviewDate = %v; want %v", got.NextReviewDate, want)
	}
}

func TestReplay_Mismatch(t *testing.T) {
	item := itemWith(0, 2.5, 0)
	other := domain.NewReviewItem("learner-1", "graphs/bfs", "graphs", domain.DateOf(testNow))
	logs := []domain.ReviewLog{domain.NewReviewLog(other, other, domain.RatingPerfect, 0, testNow)}

	_, err := Default().Replay(item, logs)
	if !errors.Is(err, ErrLogMismatch) {
		t.Errorf("Replay() error = %v; want ErrLogMismatch", err)
	}
}
