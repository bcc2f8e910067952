package review

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/felixgeelhaar/fortify/bulkhead"
	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/felixgeelhaar/fortify/retry"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// ResilientStore wraps a Store with resilience patterns from fortify.
// Only transient failures are retried or counted by the circuit breaker;
// domain errors such as ErrItemNotFound or ErrConflict pass straight through.
type ResilientStore struct {
	store          Store
	circuitBreaker circuitbreaker.CircuitBreaker[outcome]
	retrier        retry.Retry[outcome]
	bulkhead       bulkhead.Bulkhead[outcome]
	logger         *slog.Logger
}

// ResilientConfig holds configuration for the resilient store wrapper
type ResilientConfig struct {
	// MaxAttempts per call, including the first (default: 3)
	MaxAttempts int

	// MaxConcurrent store calls (default: 10)
	MaxConcurrent int

	// FailureThreshold is the number of consecutive failures that opens the
	// circuit (default: 5)
	FailureThreshold int

	// OpenTimeout is how long the circuit stays open (default: 30s)
	OpenTimeout time.Duration

	// Logger for resilience events
	Logger *slog.Logger
}

// DefaultResilientConfig returns defaults suited to a local database
func DefaultResilientConfig() ResilientConfig {
	return ResilientConfig{
		MaxAttempts:      3,
		MaxConcurrent:    10,
		FailureThreshold: 5,
		OpenTimeout:      30 * time.Second,
	}
}

// outcome carries a store result through the fortify pipeline. Domain errors
// travel in err so they never count as failures.
type outcome struct {
	value any
	err   error
}

// NewResilientStore wraps store with a circuit breaker, retry and bulkhead
func NewResilientStore(store Store, cfg ResilientConfig) *ResilientStore {
	d := DefaultResilientConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = d.MaxConcurrent
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = d.FailureThreshold
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = d.OpenTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rs := &ResilientStore{store: store, logger: cfg.Logger}

	rs.circuitBreaker = circuitbreaker.New[outcome](circuitbreaker.Config{
		MaxRequests: 1,
		Interval:    10 * time.Second,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts circuitbreaker.Counts) bool {
			return int(counts.ConsecutiveFailures) >= cfg.FailureThreshold
		},
		OnStateChange: func(from, to circuitbreaker.State) {
			rs.logger.Warn("store circuit breaker state change",
				"from", from.String(),
				"to", to.String())
		},
	})

	rs.retrier = retry.New[outcome](retry.Config{
		MaxAttempts:   cfg.MaxAttempts,
		InitialDelay:  20 * time.Millisecond,
		MaxDelay:      time.Second,
		Multiplier:    2.0,
		BackoffPolicy: retry.BackoffExponential,
		Jitter:        true,
		IsRetryable:   isTransient,
	})

	rs.bulkhead = bulkhead.New[outcome](bulkhead.Config{
		MaxConcurrent: cfg.MaxConcurrent,
		MaxQueue:      cfg.MaxConcurrent * 4,
		QueueTimeout:  10 * time.Second,
	})

	return rs
}

// isTransient reports whether err may succeed on a later attempt.
func isTransient(err error) bool {
	if err == nil || isDomainError(err) {
		return false
	}
	return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
}

func isDomainError(err error) bool {
	return errors.Is(err, domain.ErrItemNotFound) ||
		errors.Is(err, domain.ErrItemExists) ||
		errors.Is(err, domain.ErrConflict) ||
		errors.Is(err, domain.ErrDuplicateReview) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrInvalidRating)
}

// call runs fn through circuit breaker, retry and bulkhead, in that order.
func call[T any](ctx context.Context, rs *ResilientStore, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T

	operation := func(ctx context.Context) (outcome, error) {
		return rs.bulkhead.Execute(ctx, func(ctx context.Context) (outcome, error) {
			v, err := fn(ctx)
			if err != nil {
				if isDomainError(err) {
					return outcome{err: err}, nil
				}
				return outcome{}, err
			}
			return outcome{value: v}, nil
		})
	}

	res, err := rs.circuitBreaker.Execute(ctx, func(ctx context.Context) (outcome, error) {
		return rs.retrier.Do(ctx, operation)
	})
	if err != nil {
		return zero, fmt.Errorf("store %s: %w", op, err)
	}
	if res.err != nil {
		return zero, res.err
	}
	v, _ := res.value.(T)
	return v, nil
}

func (rs *ResilientStore) GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error) {
	return call(ctx, rs, "get item", func(ctx context.Context) (*domain.ReviewItem, error) {
		return rs.store.GetItem(ctx, learnerID, itemID)
	})
}

func (rs *ResilientStore) ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error) {
	return call(ctx, rs, "list items", func(ctx context.Context) ([]domain.ReviewItem, error) {
		return rs.store.ListItems(ctx, learnerID)
	})
}

func (rs *ResilientStore) CreateItem(ctx context.Context, item *domain.ReviewItem) error {
	_, err := call(ctx, rs, "create item", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rs.store.CreateItem(ctx, item)
	})
	return err
}

func (rs *ResilientStore) SaveReview(ctx context.Context, item *domain.ReviewItem, expectedVersion int64, log domain.ReviewLog) error {
	_, err := call(ctx, rs, "save review", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rs.store.SaveReview(ctx, item, expectedVersion, log)
	})
	return err
}

func (rs *ResilientStore) UpdateItem(ctx context.Context, item *domain.ReviewItem, expectedVersion int64) error {
	_, err := call(ctx, rs, "update item", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rs.store.UpdateItem(ctx, item, expectedVersion)
	})
	return err
}

func (rs *ResilientStore) ListLogs(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error) {
	return call(ctx, rs, "list logs", func(ctx context.Context) ([]domain.ReviewLog, error) {
		return rs.store.ListLogs(ctx, learnerID, itemID, limit)
	})
}

func (rs *ResilientStore) ListWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error) {
	return call(ctx, rs, "list weakness", func(ctx context.Context) ([]domain.WeaknessScore, error) {
		return rs.store.ListWeakness(ctx, learnerID)
	})
}

func (rs *ResilientStore) SaveWeakness(ctx context.Context, learnerID string, scores []domain.WeaknessScore) error {
	_, err := call(ctx, rs, "save weakness", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, rs.store.SaveWeakness(ctx, learnerID, scores)
	})
	return err
}

// Ensure ResilientStore implements Store
var _ Store = (*ResilientStore)(nil)
