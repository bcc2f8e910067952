package review

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/drill/internal/domain"
)

// Store defines the persistence interface for review state.
// The SQLite, PostgreSQL and local JSON stores implement this.
//
// Implementations return domain.ErrItemNotFound for missing items,
// domain.ErrItemExists when creating a duplicate, and domain.ErrConflict when
// expectedVersion does not match the stored version.
type Store interface {
	GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error)
	ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error)

	// CreateItem inserts a new item and sets its Version to 1.
	CreateItem(ctx context.Context, item *domain.ReviewItem) error

	// SaveReview atomically stores item and appends log, provided the stored
	// version equals expectedVersion. On success item.Version is incremented.
	// A log whose ID is already stored yields domain.ErrDuplicateReview
	// before the version is checked, and nothing is written.
	SaveReview(ctx context.Context, item *domain.ReviewItem, expectedVersion int64, log domain.ReviewLog) error

	// UpdateItem stores item without a log entry under the same version check.
	UpdateItem(ctx context.Context, item *domain.ReviewItem, expectedVersion int64) error

	// ListLogs returns review logs newest first. An empty itemID lists every
	// item of the learner; limit <= 0 means no limit.
	ListLogs(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error)

	ListWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error)

	// SaveWeakness replaces the stored scores of learnerID.
	SaveWeakness(ctx context.Context, learnerID string, scores []domain.WeaknessScore) error
}

// Publisher is notified after a review has been stored.
type Publisher interface {
	ReviewRecorded(ctx context.Context, item domain.ReviewItem, log domain.ReviewLog) error
}

// ReviewService defines the operations used by the daemon handlers,
// the MCP tools and the queue consumer
type ReviewService interface {
	Enroll(ctx context.Context, req EnrollRequest) (*domain.ReviewItem, bool, error)
	Record(ctx context.Context, req RecordRequest) (*RecordResult, error)
	GetItem(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error)
	ListItems(ctx context.Context, learnerID string) ([]domain.ReviewItem, error)
	Preview(ctx context.Context, learnerID, itemID string) (map[domain.Rating]domain.ReviewItem, error)
	DailyQueue(ctx context.Context, learnerID string, today domain.Date, capacity int) ([]domain.ReviewItem, error)
	RefreshWeakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error)
	Weakness(ctx context.Context, learnerID string) ([]domain.WeaknessScore, error)
	Stats(ctx context.Context, learnerID string, today domain.Date) (*Stats, error)
	History(ctx context.Context, learnerID, itemID string, limit int) ([]domain.ReviewLog, error)
	Rebuild(ctx context.Context, learnerID, itemID string) (*domain.ReviewItem, error)
}

// Ensure Service implements ReviewService
var _ ReviewService = (*Service)(nil)

// EnrollRequest contains data for enrolling a learner in a practice item
type EnrollRequest struct {
	LearnerID string `json:"learner_id"`
	ItemID    string `json:"item_id"`
	PlanID    string `json:"plan_id,omitempty"`
	Category  string `json:"category,omitempty"` // derived from ItemID when empty
}

// RecordRequest contains one learner's rating of one review
type RecordRequest struct {
	LearnerID string
	ItemID    string
	Rating    int
	TimeSpent time.Duration

	// AutoEnroll creates the item on its first review instead of failing
	// with domain.ErrItemNotFound.
	AutoEnroll bool
	Category   string
	PlanID     string

	// ReviewID becomes the review log ID. Resubmitting a stored ID records
	// nothing and returns the stored state with Duplicate set. A new ID is
	// generated when empty.
	ReviewID uuid.UUID
}

// RecordResult is the outcome of a recorded review
type RecordResult struct {
	Item domain.ReviewItem   `json:"item"`
	Log  domain.ReviewLog    `json:"log"`
	From domain.ReviewStatus `json:"from_status"`
	To   domain.ReviewStatus `json:"to_status"`

	// Duplicate is set when the review had been recorded before
	Duplicate bool `json:"duplicate,omitempty"`
}
