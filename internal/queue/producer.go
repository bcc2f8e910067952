package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

// JSONPublisher sends a JSON document to a named queue. *Connection implements it.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, queue string, data any) error
}

// Producer publishes review jobs and review events
type Producer struct {
	conn   JSONPublisher
	logger *slog.Logger
}

// NewProducer creates a new queue producer
func NewProducer(conn JSONPublisher) *Producer {
	return &Producer{conn: conn, logger: slog.Default().With("component", "queue")}
}

// PublishReviewJob enqueues a review for the consumer to record
func (p *Producer) PublishReviewJob(ctx context.Context, job *ReviewJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	if err := p.conn.PublishJSON(ctx, ReviewQueueName, job); err != nil {
		return fmt.Errorf("failed to publish review job: %w", err)
	}

	p.logger.Info("published review job",
		"job_id", job.ID,
		"learner_id", job.LearnerID,
		"item_id", job.ItemID,
	)

	return nil
}

// ReviewRecorded publishes a review.recorded event
func (p *Producer) ReviewRecorded(ctx context.Context, item domain.ReviewItem, log domain.ReviewLog) error {
	event := NewReviewEvent(item, log)
	if err := p.conn.PublishJSON(ctx, EventQueueName, event); err != nil {
		return fmt.Errorf("failed to publish review event: %w", err)
	}

	p.logger.Debug("published review event",
		"event_id", event.ID,
		"learner_id", event.LearnerID,
		"item_id", event.ItemID,
		"to_status", event.ToStatus,
	)

	return nil
}

// Ensure Producer implements review.Publisher
var _ review.Publisher = (*Producer)(nil)
