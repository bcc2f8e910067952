// Package review wraps the pure scheduler in a load, compute, store boundary.
package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/felixgeelhaar/fortify/retry"
	"github.com/google/uuid"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/scheduler"
	"github.com/felixgeelhaar/drill/internal/weakness"
)

// DefaultCapacity is the daily queue size used when none is requested.
const DefaultCapacity = 20

const maxIDLength = 256

// Config holds the service settings. Zero values use defaults.
type Config struct {
	DefaultCapacity int
	ConflictRetries int
	Weakness        weakness.Calculator
	Logger          *slog.Logger
	Now             func() time.Time
}

// Service records reviews and builds queues on top of a Store
type Service struct {
	store     Store
	scheduler *scheduler.Scheduler
	weakness  weakness.Calculator
	publisher Publisher // Optional: receives recorded reviews
	locks     *keyedMutex
	learners  *keyedMutex // guards each learner's stored weakness scores
	retrier   retry.Retry[*RecordResult]
	logger    *slog.Logger
	now       func() time.Time
	capacity  int
}

// NewService creates a new review service
func NewService(store Store, sched *scheduler.Scheduler, cfg Config) *Service {
	if sched == nil {
		sched = scheduler.Default()
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = DefaultCapacity
	}
	if cfg.ConflictRetries <= 0 {
		cfg.ConflictRetries = 3
	}
	if cfg.Weakness == (weakness.Calculator{}) {
		cfg.Weakness = weakness.DefaultCalculator()
	}
	if cfg.Weakness.PassThreshold == 0 {
		cfg.Weakness.PassThreshold = sched.PassThreshold()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	return &Service{
		store:     store,
		scheduler: sched,
		weakness:  cfg.Weakness,
		locks:     newKeyedMutex(),
		learners:  newKeyedMutex(),
		retrier: retry.New[*RecordResult](retry.Config{
			MaxAttempts:   cfg.ConflictRetries,
			InitialDelay:  5 * time.Millisecond,
			MaxDelay:      100 * time.Millisecond,
			Multiplier:    2.0,
			BackoffPolicy: retry.BackoffExponential,
			Jitter:        true,
			IsRetryable: func(err error) bool {
				return errors.Is(err, domain.ErrConflict)
			},
		}),
		logger:   cfg.Logger,
		now:      cfg.Now,
		capacity: cfg.DefaultCapacity,
	}
}

// SetPublisher sets the publisher notified after each recorded review
func (s *Service) SetPublisher(p Publisher) {
	s.publisher = p
}

// Scheduler returns the scheduler the service applies.
func (s *Service) Scheduler() *scheduler.Scheduler {
	return s.scheduler
}

// Enroll creates a new review item for the learner. Enrolling an existing item
// returns the stored item and false.
func (s *Service) Enroll(ctx context.Context, req EnrollRequest) (*domain.ReviewItem, bool, error) {
	if err := validateIDs(req.LearnerID, req.ItemID); err != nil {
		return nil, false, err
	}

	unlock := s.locks.Lock(key(req.LearnerID, req.ItemID))
	defer unlock()

	return s.enrollLocked(ctx, req)
}

func (s *Service) enrollLocked(ctx context.Context, req EnrollRequest) (*domain.ReviewItem, bool, error) {
	existing, err := s.store.GetItem(ctx, req.LearnerID, req.ItemID)
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, domain.ErrItemNotFound) {
		return nil, false, fmt.Errorf("get item: %w", err)
	}

	category := strings.ToLower(strings.TrimSpace(req.Category))
	if category == "" {
		category = weakness.CategoryOf(req.ItemID)
	}

	now := s.now()
	item := domain.NewReviewItem(req.LearnerID, req.ItemID, category, domain.DateOf(now))
	item.PlanID = req.PlanID
	item.EaseFactor = s.scheduler.Config().DefaultEase
	item.CreatedAt = now
	item.UpdatedAt = now

	if err := s.store.CreateItem(ctx, &item); err != nil {
		if errors.Is(err, domain.ErrItemExists) {
			existing, getErr := s.store.GetItem(ctx, req.LearnerID, req.ItemID)
			if getErr != nil {
				return nil, false, fmt.Errorf("get item: %w", getErr)
			}
			return existing, false, nil
		}
		return nil, false, fmt.Errorf("create item: %w", err)
	}

	s.logger.Info("item enrolled",
		"learner_id", item.LearnerID,
		"item_id", item.ItemID,
		"category", item.Category)
	return &item, true, nil
}

// Record applies a review to the stored item. The rating is validated before
// the store is touched; concurrent updates of the same item are retried.
// Every attempt writes the same review ID, so a review is applied at most once.
func (s *Service) Record(ctx context.Context, req RecordRequest) (*RecordResult, error) {
	rating, err := domain.ParseRating(req.Rating)
	if err != nil {
		return nil, err
	}
	if err := validateIDs(req.LearnerID, req.ItemID); err != nil {
		return nil, err
	}

	reviewID := req.ReviewID
	if reviewID == uuid.Nil {
		reviewID = uuid.New()
	}

	unlock := s.locks.Lock(key(req.LearnerID, req.ItemID))
	defer unlock()

	result, err := s.retrier.Do(ctx, func(ctx context.Context) (*RecordResult, error) {
		return s.recordOnce(ctx, req, rating, reviewID)
	})
	if err != nil {
		return nil, err
	}

	if result.Duplicate {
		// Nobody else knows a generated ID: the store committed an attempt
		// of this call whose acknowledgement was lost.
		if req.ReviewID != uuid.Nil {
			s.logger.Info("review already recorded",
				"learner_id", req.LearnerID,
				"item_id", req.ItemID,
				"review_id", reviewID)
			return result, nil
		}
		result.Duplicate = false
	}

	s.logger.Info("review recorded",
		"learner_id", result.Item.LearnerID,
		"item_id", result.Item.ItemID,
		"rating", int(rating),
		"interval_days", result.Item.IntervalDays,
		"next_review_date", result.Item.NextReviewDate.String(),
		"status", string(result.To))

	s.updateWeakness(ctx, result.Log)

	if s.publisher != nil {
		if err := s.publisher.ReviewRecorded(ctx, result.Item, result.Log); err != nil {
			s.logger.Warn("failed to publish review event",
				"learner_id", result.Item.LearnerID,
				"item_id", result.Item.ItemID,
				"error", err)
		}
	}

	return result, nil
}

func (s *Service) recordOnce(ctx context.Context, req RecordRequest, rating domain.Rating, reviewID uuid.UUID) (*RecordResult, error) {
	current, err := s.store.GetItem(ctx, req.LearnerID, req.ItemID)
	if errors.Is(err, domain.ErrItemNotFound) && req.AutoEnroll {
		current, _, err = s.enrollLocked(ctx, EnrollRequest{
			LearnerID: req.LearnerID,
			ItemID:    req.ItemID,
			PlanID:    req.PlanID,
			Category:  req.Category,
		})
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	next, err := s.scheduler.RecordReview(*current, rating, req.TimeSpent, now)
	if err != nil {
		return nil, err
	}
	next.UpdatedAt = now

	log := domain.NewReviewLog(*current, next, rating, req.TimeSpent, now)
	log.ID = reviewID
	if err := s.store.SaveReview(ctx, &next, current.Version, log); err != nil {
		if errors.Is(err, domain.ErrDuplicateReview) {
			return s.storedReview(ctx, req.LearnerID, req.ItemID, reviewID)
		}
		if errors.Is(err, domain.ErrConflict) {
			s.logger.Debug("review conflict, retrying",
				"learner_id", req.LearnerID,
				"item_id", req.ItemID,
				"version", current.Version)
		}
		return nil, fmt.Errorf("save review: %w", err)
	}

	return &RecordResult{
		Item: next,
		Log:  log,
		From: current.Status(),
		To:   next.Status(),
	}, nil
}

// storedReview rebuilds the result of a review that is already stored.
func (s *Service) storedReview(ctx context.Context, learnerID, itemID string, reviewID uuid.UUID) (*RecordResult, error) {
	item, err := s.store.GetItem(ctx, learnerID, itemID)
	if err != nil {
		return nil, fmt.Errorf("get item: %w", err)
	}
	logs, err := s.store.ListLogs(ctx, learnerID, itemID, 0)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	for _, log := range logs {
		if log.ID == reviewID {
			return &RecordResult{
				Item:      *item,
				Log:       log,
				From:      log.Before.Status(),
				To:        log.After.Status(),
				Duplicate: true,
			}, nil
		}
	}
	return nil, fmt.Errorf("review %s of %s: %w", reviewID, itemID, domain.ErrDuplicateReview)
}

// updateWeakness folds one review into the stored weakness of its category.
// Failures are logged; the review itself is already stored.
func (s *Service) updateWeakness(ctx context.Context, log domain.ReviewLog) {
	unlock := s.learners.Lock(log.LearnerID)
	defer unlock()

	scores, err := s.store.ListWeakness(ctx, log.LearnerID)
	if err != nil {
		s.logger.Warn("failed to load weakness", "learner_id", log.LearnerID, "error", err)
		return
	}
	if len(scores) == 0 {
		if _, err := s.refreshWeakness(ctx, log.LearnerID); err != nil {
			s.logger.Warn("failed to refresh weakness", "learner_id", log.LearnerID, "error", err)
		}
		return
	}

	found := false
	for i := range scores {
		if scores[i].Category != log.Category {
			continue
		}
		found = true
		scores[i].Attempts++
		if !log.Rating.Passed(s.weakness.PassThreshold) {
			scores[i].Failures++
		}
		scores[i].Score = s.weakness.Score(scores[i].Attempts, scores[i].Failures)
		scores[i].UpdatedAt = log.ReviewedAt
	}
	if !found {
		ws := domain.WeaknessScore{
			LearnerID: log.LearnerID,
			Category:  log.Category,
			Attempts:  1,
			UpdatedAt: log.ReviewedAt,
		}
		if !log.Rating.Passed(s.weakness.PassThreshold) {
			ws.Failures = 1
		}
		ws.Score = s.weakness.Score(ws.Attempts, ws.Failures)
		scores = append(scores, ws)
	}

	if err := s.store.SaveWeakness(ctx, log.LearnerID, scores); err != nil {
		s.logger.Warn("failed to save weakness", "learner_id", log.LearnerID, "error", err)
	}
}

// GetItem returns one item
func (s *Service) GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error) {
	if err := validateIDs(learnerID, itemID); err != nil {
		return nil, err
	}
	return s.store.GetItem(ctx, learnerID, itemID)
}

// ListItems returns every item of a learner
func (s *Service) ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error) {
	if err := validateIDs(learnerID, "-"); err != nil {
		return nil, err
	}
	return s.store.ListItems(ctx, learnerID)
}

// Preview returns the state an item would have after each possible rating
func (s *Service) Preview(ctx context.Context, learnerID, itemID string) (map[domain.Rating]domain.ReviewItem, error) {
	item, err := s.GetItem(ctx, learnerID, itemID)
	if err != nil {
		return nil, err
	}
	return s.scheduler.Preview(*item, s.now()), nil
}

// DailyQueue returns the prioritized items due on or before today.
// A capacity of zero uses the configured default.
func (s *Service) DailyQueue(ctx context.Context, learnerID string, today domain.Date, capacity int) ([]domain.ReviewItem, error) {
	if capacity == 0 {
		capacity = s.capacity
	}

	items, err := s.ListItems(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}

	scores, err := s.Weakness(ctx, learnerID)
	if err != nil {
		return nil, err
	}

	return scheduler.BuildDailyQueue(items, weakness.Index(scores), today, capacity), nil
}

// Weakness returns the stored weakness scores, computing them from the review
// history when none have been stored yet.
func (s *Service) Weakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	scores, err := s.store.ListWeakness(ctx, learnerID)
	if err != nil {
		return nil, fmt.Errorf("list weakness: %w", err)
	}
	if len(scores) > 0 {
		return scores, nil
	}

	logs, err := s.store.ListLogs(ctx, learnerID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	return s.weakness.FromLogs(learnerID, logs, nil, s.now()), nil
}

// RefreshWeakness recomputes the learner's weakness scores from the full
// review history and stores them
func (s *Service) RefreshWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	if err := validateIDs(learnerID, "-"); err != nil {
		return nil, err
	}

	unlock := s.learners.Lock(learnerID)
	defer unlock()
	return s.refreshWeakness(ctx, learnerID)
}

func (s *Service) refreshWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	logs, err := s.store.ListLogs(ctx, learnerID, "", 0)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	scores := s.weakness.FromLogs(learnerID, logs, nil, s.now())
	if err := s.store.SaveWeakness(ctx, learnerID, scores); err != nil {
		return nil, fmt.Errorf("save weakness: %w", err)
	}

	s.logger.Info("weakness refreshed",
		"learner_id", learnerID,
		"categories", len(scores),
		"reviews", len(logs))
	return scores, nil
}

// History returns the most recent review logs of an item
func (s *Service) History(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error) {
	if _, err := s.GetItem(ctx, learnerID, itemID); err != nil {
		return nil, err
	}
	return s.store.ListLogs(ctx, learnerID, itemID, limit)
}

// Rebuild replays the review history of an item onto a fresh state and
// stores the result
func (s *Service) Rebuild(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error) {
	if err := validateIDs(learnerID, itemID); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(key(learnerID, itemID))
	defer unlock()

	current, err := s.store.GetItem(ctx, learnerID, itemID)
	if err != nil {
		return nil, err
	}

	logs, err := s.store.ListLogs(ctx, learnerID, itemID, 0)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}

	rebuilt, err := s.scheduler.Replay(*current, logs)
	if err != nil {
		return nil, err
	}
	rebuilt.UpdatedAt = s.now()

	if err := s.store.UpdateItem(ctx, &rebuilt, current.Version); err != nil {
		return nil, fmt.Errorf("update item: %w", err)
	}

	s.logger.Info("item rebuilt",
		"learner_id", learnerID,
		"item_id", itemID,
		"reviews", len(logs))
	return &rebuilt, nil
}

func key(learnerID, itemID string) string {
	return learnerID + "\x00" + itemID
}

func validateIDs(learnerID, itemID string) error {
	switch {
	case strings.TrimSpace(learnerID) == "":
		return fmt.Errorf("%w: learner id is required", domain.ErrInvalidInput)
	case strings.TrimSpace(itemID) == "":
		return fmt.Errorf("%w: item id is required", domain.ErrInvalidInput)
	case len(learnerID) > maxIDLength || len(itemID) > maxIDLength:
		return fmt.Errorf("%w: ids are limited to %d bytes", domain.ErrInvalidInput, maxIDLength)
	}
	return nil
}
