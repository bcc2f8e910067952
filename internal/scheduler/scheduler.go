// Package scheduler implements the SM-2 derived review scheduler.
//
// Everything here is a pure function of its inputs: no I/O, no clock reads, no
// shared mutable state. Persisting results is the caller's job.
package scheduler

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// ErrInvalidConfig is returned by NewScheduler for out-of-range parameters.
var ErrInvalidConfig = errors.New("invalid scheduler config")

// Config configures a Scheduler. Zero values produce the defaults noted per field.
type Config struct {
	DefaultEase     float64 `json:"default_ease" yaml:"default_ease"`           // zero → 2.5
	MinEase         float64 `json:"min_ease" yaml:"min_ease"`                   // zero → 1.3
	PassThreshold   int     `json:"pass_threshold" yaml:"pass_threshold"`       // zero → 3
	FirstInterval   int     `json:"first_interval" yaml:"first_interval"`       // zero → 1 day
	SecondInterval  int     `json:"second_interval" yaml:"second_interval"`     // zero → 6 days
	FailInterval    int     `json:"fail_interval" yaml:"fail_interval"`         // zero → 1 day
	MasteryGain     float64 `json:"mastery_gain" yaml:"mastery_gain"`           // zero → 8
	MaxIntervalDays int     `json:"max_interval_days" yaml:"max_interval_days"` // zero → 36500
}

// DefaultConfig returns the standard SM-2 parameters.
func DefaultConfig() Config {
	return Config{
		DefaultEase:     domain.DefaultEaseFactor,
		MinEase:         1.3,
		PassThreshold:   3,
		FirstInterval:   1,
		SecondInterval:  6,
		FailInterval:    1,
		MasteryGain:     8,
		MaxIntervalDays: 36500,
	}
}

// withDefaults fills zero-valued fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.DefaultEase == 0 {
		c.DefaultEase = d.DefaultEase
	}
	if c.MinEase == 0 {
		c.MinEase = d.MinEase
	}
	if c.PassThreshold == 0 {
		c.PassThreshold = d.PassThreshold
	}
	if c.FirstInterval == 0 {
		c.FirstInterval = d.FirstInterval
	}
	if c.SecondInterval == 0 {
		c.SecondInterval = d.SecondInterval
	}
	if c.FailInterval == 0 {
		c.FailInterval = d.FailInterval
	}
	if c.MasteryGain == 0 {
		c.MasteryGain = d.MasteryGain
	}
	if c.MaxIntervalDays == 0 {
		c.MaxIntervalDays = d.MaxIntervalDays
	}
	return c
}

// Validate checks the (defaulted) parameters.
func (c Config) Validate() error {
	switch {
	case c.MinEase <= 0:
		return fmt.Errorf("%w: min ease %.2f must be positive", ErrInvalidConfig, c.MinEase)
	case c.DefaultEase < c.MinEase:
		return fmt.Errorf("%w: default ease %.2f below min ease %.2f", ErrInvalidConfig, c.DefaultEase, c.MinEase)
	case c.PassThreshold < domain.MinRating+1 || c.PassThreshold > domain.MaxRating:
		return fmt.Errorf("%w: pass threshold %d out of range [1, 5]", ErrInvalidConfig, c.PassThreshold)
	case c.FirstInterval < 0 || c.SecondInterval < 0 || c.FailInterval < 0:
		return fmt.Errorf("%w: intervals must not be negative", ErrInvalidConfig)
	case c.MasteryGain < 0:
		return fmt.Errorf("%w: mastery gain %.2f must not be negative", ErrInvalidConfig, c.MasteryGain)
	case c.MaxIntervalDays < 0:
		return fmt.Errorf("%w: maximum interval %d must not be negative", ErrInvalidConfig, c.MaxIntervalDays)
	}
	return nil
}

// Scheduler applies the review update rule and builds daily queues.
// A Scheduler is immutable and safe for concurrent use.
type Scheduler struct {
	cfg Config
}

// NewScheduler creates a Scheduler. Zero-value fields are filled with defaults;
// invalid values return an error wrapping ErrInvalidConfig.
func NewScheduler(cfg Config) (*Scheduler, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{cfg: cfg}, nil
}

// Default returns a Scheduler with DefaultConfig.
func Default() *Scheduler {
	return &Scheduler{cfg: DefaultConfig()}
}

// Config returns the effective configuration.
func (s *Scheduler) Config() Config {
	return s.cfg
}

// PassThreshold is the lowest rating that counts as a successful recall.
func (s *Scheduler) PassThreshold() domain.Rating {
	return domain.Rating(s.cfg.PassThreshold)
}

// RecordReview returns the state of item after a review rated rating that took timeSpent.
// now is the review time; the next review date is computed from now's calendar date.
// The input item is not mutated. The only error is *domain.InvalidRatingError.
func (s *Scheduler) RecordReview(item domain.ReviewItem, rating domain.Rating, timeSpent time.Duration, now time.Time) (domain.ReviewItem, error) {
	if !rating.IsValid() {
		return domain.ReviewItem{}, &domain.InvalidRatingError{Rating: int(rating)}
	}

	next := s.normalize(item)

	if rating.Passed(s.PassThreshold()) {
		next.EaseFactor = s.nextEase(next.EaseFactor, rating)
		next.Repetition++
		next.IntervalDays = s.passInterval(next.Repetition, next.IntervalDays, next.EaseFactor)
	} else {
		next.Repetition = 0
		next.IntervalDays = s.cfg.FailInterval
	}

	next.NextReviewDate = domain.DateOf(now).AddDays(next.IntervalDays)
	next.MasteryLevel = s.nextMastery(next.MasteryLevel, rating)

	next.Attempts++
	next.TimeSpent += max(timeSpent, 0)
	reviewedAt := now
	next.LastReviewedAt = &reviewedAt
	r := rating
	next.LastRating = &r

	return next, nil
}

// Preview returns the resulting state for every possible rating.
func (s *Scheduler) Preview(item domain.ReviewItem, now time.Time) map[domain.Rating]domain.ReviewItem {
	out := make(map[domain.Rating]domain.ReviewItem, domain.MaxRating+1)
	for v := domain.MinRating; v <= domain.MaxRating; v++ {
		r := domain.Rating(v)
		next, _ := s.RecordReview(item, r, 0, now)
		out[r] = next
	}
	return out
}

// normalize copies item and repairs out-of-range fields so that items with no
// history, or imported from elsewhere, are scheduled sensibly.
func (s *Scheduler) normalize(item domain.ReviewItem) domain.ReviewItem {
	c := item.Clone()
	if c.EaseFactor == 0 {
		c.EaseFactor = s.cfg.DefaultEase
	}
	c.EaseFactor = math.Max(c.EaseFactor, s.cfg.MinEase)
	c.Repetition = max(c.Repetition, 0)
	c.IntervalDays = max(c.IntervalDays, 0)
	c.MasteryLevel = clampInt(c.MasteryLevel, 0, domain.MaxMastery)
	c.Attempts = max(c.Attempts, 0)
	c.TimeSpent = max(c.TimeSpent, 0)
	return c
}

// nextEase is EF' = EF + (0.1 - (5-q)(0.08 + (5-q)0.02)), floored at MinEase.
func (s *Scheduler) nextEase(ease float64, rating domain.Rating) float64 {
	d := float64(domain.MaxRating - int(rating))
	ease += 0.1 - d*(0.08+d*0.02)
	return math.Max(ease, s.cfg.MinEase)
}

// passInterval is the interval after the repetition-th consecutive pass.
// From the third pass on it is the previous interval times the ease,
// rounded and never below one day. Every result is capped at
// MaxIntervalDays.
func (s *Scheduler) passInterval(repetition, previous int, ease float64) int {
	var days int
	switch repetition {
	case 1:
		days = s.cfg.FirstInterval
	case 2:
		days = s.cfg.SecondInterval
	default:
		days = int(math.Round(float64(previous) * ease))
		if days < 1 {
			days = 1
		}
	}
	return min(days, s.cfg.MaxIntervalDays)
}

// nextMastery moves mastery by (rating - 2.5) * gain and clamps it to 0..100.
func (s *Scheduler) nextMastery(mastery int, rating domain.Rating) int {
	delta := (float64(rating) - 2.5) * s.cfg.MasteryGain
	return clampInt(int(math.Round(float64(mastery)+delta)), 0, domain.MaxMastery)
}

func clampInt(v, lo, hi int) int {
	return min(max(v, lo), hi)
}
