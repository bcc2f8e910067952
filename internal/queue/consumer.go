package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

// JobHandler processes review jobs
type JobHandler func(ctx context.Context, job *ReviewJob) error

// Recorder records reviews; *review.Service implements it
type Recorder interface {
	Record(ctx context.Context, req review.RecordRequest) (*review.RecordResult, error)
}

// RecordHandler returns a JobHandler that records each job through r.
// A job whose review is already stored is acknowledged without a second review.
func RecordHandler(r Recorder) JobHandler {
	logger := slog.Default().With("component", "queue")
	return func(ctx context.Context, job *ReviewJob) error {
		result, err := r.Record(ctx, job.RecordRequest())
		if err != nil {
			return err
		}
		if result != nil && result.Duplicate {
			logger.Info("review job already recorded", "job_id", job.ID)
		}
		return nil
	}
}

// Consumer consumes review jobs from the queue
type Consumer struct {
	conn       *Connection
	handler    JobHandler
	workers    int
	prefetch   int
	timeout    time.Duration
	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// ConsumerConfig holds consumer configuration
type ConsumerConfig struct {
	Workers    int           // Number of concurrent workers
	Prefetch   int           // Prefetch count per worker
	JobTimeout time.Duration // Deadline for one job
}

// DefaultConsumerConfig returns sensible defaults
func DefaultConsumerConfig() ConsumerConfig {
	return ConsumerConfig{
		Workers:    3,
		Prefetch:   1,
		JobTimeout: 10 * time.Second,
	}
}

func (cfg ConsumerConfig) withDefaults() ConsumerConfig {
	d := DefaultConsumerConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = d.Workers
	}
	if cfg.Prefetch <= 0 {
		cfg.Prefetch = d.Prefetch
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = d.JobTimeout
	}
	return cfg
}

// NewConsumer creates a new queue consumer
func NewConsumer(conn *Connection, handler JobHandler, cfg ConsumerConfig) *Consumer {
	cfg = cfg.withDefaults()
	return &Consumer{
		conn:     conn,
		handler:  handler,
		workers:  cfg.Workers,
		prefetch: cfg.Prefetch,
		timeout:  cfg.JobTimeout,
		logger:   slog.Default().With("component", "queue"),
	}
}

// Start begins consuming messages
func (c *Consumer) Start(ctx context.Context) error {
	ctx, c.cancelFunc = context.WithCancel(ctx)

	ch := c.conn.Channel()

	if err := ch.Qos(c.prefetch*c.workers, 0, false); err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	msgs, err := ch.Consume(
		ReviewQueueName,
		"",    // consumer tag (auto-generated)
		false, // auto-ack (manual ack for reliability)
		false, // exclusive
		false, // no-local
		false, // no-wait
		nil,   // args
	)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("starting review queue consumer", "workers", c.workers, "prefetch", c.prefetch)

	for i := 0; i < c.workers; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i, msgs)
	}

	return nil
}

func (c *Consumer) worker(ctx context.Context, id int, msgs <-chan amqp.Delivery) {
	defer c.wg.Done()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug("worker stopping", "worker_id", id)
			return

		case msg, ok := <-msgs:
			if !ok {
				c.logger.Info("message channel closed", "worker_id", id)
				return
			}

			c.settle(msg, id, c.process(ctx, id, msg.Body, msg.Redelivered))
		}
	}
}

// disposition is what happens to a delivery after processing
type disposition int

const (
	dispositionAck     disposition = iota // done
	dispositionRequeue                    // transient failure, try once more
	dispositionDrop                       // reject without requeue
)

func (d disposition) String() string {
	switch d {
	case dispositionAck:
		return "ack"
	case dispositionRequeue:
		return "requeue"
	default:
		return "drop"
	}
}

// process decodes and handles one message body
func (c *Consumer) process(ctx context.Context, workerID int, body []byte, redelivered bool) disposition {
	var job ReviewJob
	if err := json.Unmarshal(body, &job); err != nil {
		c.logger.Error("failed to unmarshal review job", "worker_id", workerID, "error", err)
		return dispositionDrop
	}
	if err := job.Validate(); err != nil {
		c.logger.Warn("invalid review job", "worker_id", workerID, "job_id", job.ID, "error", err)
		return dispositionDrop
	}

	jobCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	err := c.handler(jobCtx, &job)
	duration := time.Since(start)

	switch {
	case err == nil:
		c.logger.Info("review job recorded",
			"worker_id", workerID,
			"job_id", job.ID,
			"learner_id", job.LearnerID,
			"item_id", job.ItemID,
			"duration", duration,
		)
		return dispositionAck
	case isPermanent(err):
		c.logger.Warn("review job rejected",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
		return dispositionDrop
	case redelivered:
		c.logger.Error("review job failed twice, dropping",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
		)
		return dispositionDrop
	default:
		c.logger.Warn("review job failed, requeueing",
			"worker_id", workerID,
			"job_id", job.ID,
			"error", err,
			"duration", duration,
		)
		return dispositionRequeue
	}
}

// isPermanent reports errors a retry cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrInvalidRating) ||
		errors.Is(err, domain.ErrInvalidInput) ||
		errors.Is(err, domain.ErrItemNotFound)
}

func (c *Consumer) settle(msg amqp.Delivery, workerID int, d disposition) {
	var err error
	switch d {
	case dispositionAck:
		err = msg.Ack(false)
	case dispositionRequeue:
		err = msg.Nack(false, true)
	default:
		err = msg.Reject(false)
	}
	if err != nil {
		c.logger.Error("failed to settle message",
			"worker_id", workerID,
			"disposition", d.String(),
			"error", err,
		)
	}
}

// Stop gracefully stops the consumer
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
	c.wg.Wait()
	c.logger.Info("consumer stopped")
}
