package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

// Queue names
const (
	ReviewQueueName = "drill.reviews"
	EventQueueName  = "drill.events"
)

// EventReviewRecorded is the type of events published after a stored review.
const EventReviewRecorded = "review.recorded"

// ReviewJob is a review submitted for asynchronous recording. Its ID becomes
// the review log ID, so a redelivered job is recorded once.
type ReviewJob struct {
	ID               uuid.UUID `json:"id"`
	LearnerID        string    `json:"learner_id"`
	ItemID           string    `json:"item_id"`
	Rating           *int      `json:"rating"`
	TimeSpentSeconds int64     `json:"time_spent_seconds"`
	AutoEnroll       bool      `json:"auto_enroll,omitempty"`
	Category         string    `json:"category,omitempty"`
	PlanID           string    `json:"plan_id,omitempty"`
	SubmittedAt      time.Time `json:"submitted_at"`
}

// Validate rejects jobs that can never be recorded.
func (j *ReviewJob) Validate() error {
	if j.LearnerID == "" || j.ItemID == "" {
		return fmt.Errorf("%w: learner_id and item_id are required", domain.ErrInvalidInput)
	}
	if j.Rating == nil {
		return fmt.Errorf("%w: rating is required", domain.ErrInvalidInput)
	}
	if _, err := domain.ParseRating(*j.Rating); err != nil {
		return err
	}
	if j.TimeSpentSeconds < 0 {
		return fmt.Errorf("%w: negative time_spent_seconds", domain.ErrInvalidInput)
	}
	return nil
}

// RecordRequest converts a validated job into a review service request.
func (j *ReviewJob) RecordRequest() review.RecordRequest {
	rating := -1
	if j.Rating != nil {
		rating = *j.Rating
	}
	return review.RecordRequest{
		LearnerID:  j.LearnerID,
		ItemID:     j.ItemID,
		Rating:     rating,
		TimeSpent:  time.Duration(j.TimeSpentSeconds) * time.Second,
		AutoEnroll: j.AutoEnroll,
		Category:   j.Category,
		PlanID:     j.PlanID,
		ReviewID:   j.ID,
	}
}

// ReviewEvent announces a stored review to downstream consumers
type ReviewEvent struct {
	ID             uuid.UUID           `json:"id"`
	Type           string              `json:"type"`
	LearnerID      string              `json:"learner_id"`
	ItemID         string              `json:"item_id"`
	PlanID         string              `json:"plan_id,omitempty"`
	Category       string              `json:"category"`
	Rating         int                 `json:"rating"`
	FromStatus     domain.ReviewStatus `json:"from_status"`
	ToStatus       domain.ReviewStatus `json:"to_status"`
	IntervalDays   int                 `json:"interval_days"`
	EaseFactor     float64             `json:"ease_factor"`
	MasteryLevel   int                 `json:"mastery_level"`
	NextReviewDate domain.Date         `json:"next_review_date"`
	ReviewedAt     time.Time           `json:"reviewed_at"`
}

// NewReviewEvent builds the event for a stored review. The event id is the log id
// so consumers can deduplicate redeliveries.
func NewReviewEvent(item domain.ReviewItem, log domain.ReviewLog) ReviewEvent {
	from := domain.ReviewItem{Repetition: log.Before.Repetition}.Status()
	return ReviewEvent{
		ID:             log.ID,
		Type:           EventReviewRecorded,
		LearnerID:      item.LearnerID,
		ItemID:         item.ItemID,
		PlanID:         item.PlanID,
		Category:       item.Category,
		Rating:         int(log.Rating),
		FromStatus:     from,
		ToStatus:       item.Status(),
		IntervalDays:   item.IntervalDays,
		EaseFactor:     item.EaseFactor,
		MasteryLevel:   item.MasteryLevel,
		NextReviewDate: item.NextReviewDate,
		ReviewedAt:     log.ReviewedAt,
	}
}

// Connection manages the RabbitMQ connection with automatic reconnection
type Connection struct {
	url        string
	conn       *amqp.Connection
	channel    *amqp.Channel
	mu         sync.RWMutex
	closed     bool
	reconnects int
	logger     *slog.Logger
}

// NewConnection creates a new RabbitMQ connection
func NewConnection(url string) (*Connection, error) {
	c := &Connection{
		url:    url,
		logger: slog.Default().With("component", "queue"),
	}

	if err := c.connect(); err != nil {
		return nil, err
	}

	return c, nil
}

// connect establishes connection and channel
func (c *Connection) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	c.conn, err = amqp.Dial(c.url)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	c.channel, err = c.conn.Channel()
	if err != nil {
		c.conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := c.declareQueues(); err != nil {
		c.channel.Close()
		c.conn.Close()
		return err
	}

	go c.handleReconnect(c.conn)

	c.logger.Info("connected to RabbitMQ", "url", sanitizeURL(c.url))
	return nil
}

// declareQueues creates the necessary queues
func (c *Connection) declareQueues() error {
	// Review jobs carry learner input, keep them for a day
	_, err := c.channel.QueueDeclare(
		ReviewQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl": int32(24 * time.Hour / time.Millisecond),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare review queue: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		EventQueueName,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		amqp.Table{
			"x-message-ttl": int32(time.Hour / time.Millisecond),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to declare event queue: %w", err)
	}

	return nil
}

// handleReconnect waits for conn to close and reconnects with exponential backoff
func (c *Connection) handleReconnect(conn *amqp.Connection) {
	err, ok := <-conn.NotifyClose(make(chan *amqp.Error, 1))
	if !ok || err == nil {
		return // Normal close
	}

	c.mu.RLock()
	closed := c.closed
	c.mu.RUnlock()
	if closed {
		return
	}

	c.logger.Warn("RabbitMQ connection closed, attempting to reconnect",
		"error", err,
		"reconnects", c.reconnects,
	)

	for i := 0; i < 10; i++ {
		c.reconnects++
		time.Sleep(backoff(i))

		if err := c.connect(); err != nil {
			c.logger.Error("reconnection failed", "error", err, "attempt", i+1)
			continue
		}

		c.logger.Info("reconnected to RabbitMQ", "attempts", i+1)
		return
	}

	c.logger.Error("failed to reconnect to RabbitMQ after 10 attempts")
}

// backoff returns the delay before reconnect attempt i (0-based)
func backoff(attempt int) time.Duration {
	if attempt >= 5 {
		return 30 * time.Second
	}
	return min(time.Duration(1<<attempt)*time.Second, 30*time.Second)
}

// Channel returns the current channel (thread-safe)
func (c *Connection) Channel() *amqp.Channel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Close closes the connection
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true

	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected checks if the connection is active
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// PublishJSON publishes a JSON message to a queue
func (c *Connection) PublishJSON(ctx context.Context, queue string, data any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()

	return ch.PublishWithContext(
		ctx,
		"",    // exchange
		queue, // routing key
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			Body:         body,
		},
	)
}

// sanitizeURL hides the password of an AMQP URL for logging
func sanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "amqp://invalid"
	}
	return u.Redacted()
}
