package mcp

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcp "github.com/felixgeelhaar/mcp-go"
	"github.com/felixgeelhaar/mcp-go/server"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/review"
)

// Server wraps the MCP server with drill functionality
type Server struct {
	mcpServer *server.Server
	service   review.ReviewService
	learner   string
	capacity  int
	now       func() time.Time
}

// Config contains configuration for the MCP server
type Config struct {
	Service review.ReviewService
	Version string

	// DefaultLearner is used when a tool call names no learner
	DefaultLearner string
	// DailyCapacity bounds drill_daily_queue when the call sets no limit
	DailyCapacity int
	Now           func() time.Time
}

// NewServer creates a new MCP server for drill
func NewServer(cfg Config) *Server {
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		service:  cfg.Service,
		learner:  cfg.DefaultLearner,
		capacity: cfg.DailyCapacity,
		now:      cfg.Now,
	}

	s.mcpServer = server.New(server.Info{
		Name:    "drill",
		Version: cfg.Version,
	}, server.WithInstructions(`
Drill schedules reviews of coding-practice items with spaced repetition (SM-2).

Available tools:
- drill_enroll: Start tracking a practice item for a learner
- drill_record_review: Record a 0-5 self-rating after practicing an item
- drill_daily_queue: List the items to review today, most urgent first
- drill_preview: Show when an item would be due again for each rating
- drill_history: Show past reviews of an item
- drill_stats: Summarize a learner's progress
- drill_weakness: Show the categories that need the most reinforcement

Ratings:
- 0 blackout, 1 wrong, 2 familiar (all count as failures)
- 3 difficult, 4 hesitant, 5 perfect
`))

	s.registerTools()

	return s
}

// registerTools registers all drill MCP tools
func (s *Server) registerTools() {
	s.mcpServer.Tool("drill_enroll").
		Description("Start tracking a practice item. Enrolling an item twice is harmless.").
		Handler(s.handleEnroll)

	s.mcpServer.Tool("drill_record_review").
		Description("Record a review of an item with a 0-5 rating and reschedule it.").
		Handler(s.handleRecordReview)

	s.mcpServer.Tool("drill_daily_queue").
		Description("List the items due for review today, most urgent first.").
		Handler(s.handleDailyQueue)

	s.mcpServer.Tool("drill_preview").
		Description("Show the next interval an item would get for each possible rating.").
		Handler(s.handlePreview)

	s.mcpServer.Tool("drill_history").
		Description("List past reviews of an item, newest first.").
		Handler(s.handleHistory)

	s.mcpServer.Tool("drill_stats").
		Description("Summarize a learner's review progress.").
		Handler(s.handleStats)

	s.mcpServer.Tool("drill_weakness").
		Description("List categories by weakness score. Set refresh to recompute from history.").
		Handler(s.handleWeakness)
}

// Input/Output types for tools

type EnrollInput struct {
	LearnerID string `json:"learner_id,omitempty" jsonschema:"description=Learner ID (defaults to the configured learner)"`
	ItemID    string `json:"item_id" jsonschema:"description=Practice item ID such as arrays/two-sum"`
	PlanID    string `json:"plan_id,omitempty" jsonschema:"description=Optional study plan the item belongs to"`
	Category  string `json:"category,omitempty" jsonschema:"description=Category; derived from the item ID prefix when empty"`
}

type EnrollOutput struct {
	Item    ItemOutput `json:"item"`
	Created bool       `json:"created"`
	Message string     `json:"message"`
}

type ReviewInput struct {
	LearnerID        string `json:"learner_id,omitempty" jsonschema:"description=Learner ID (defaults to the configured learner)"`
	ItemID           string `json:"item_id" jsonschema:"required,description=Practice item ID"`
	Rating           *int   `json:"rating" jsonschema:"required,description=Recall quality from 0 (blackout) to 5 (perfect),minimum=0,maximum=5"`
	TimeSpentSeconds int64  `json:"time_spent_seconds,omitempty" jsonschema:"description=Seconds spent on the item"`
	AutoEnroll       bool   `json:"auto_enroll,omitempty" jsonschema:"description=Enroll the item first if it is not tracked yet"`
}

type ReviewOutput struct {
	Item       ItemOutput `json:"item"`
	FromStatus string     `json:"from_status"`
	ToStatus   string     `json:"to_status"`
	Message    string     `json:"message"`
}

type LearnerInput struct {
	LearnerID string `json:"learner_id,omitempty" jsonschema:"description=Learner ID (defaults to the configured learner)"`
}

type QueueInput struct {
	LearnerID string `json:"learner_id,omitempty" jsonschema:"description=Learner ID (defaults to the configured learner)"`
	Date      string `json:"date,omitempty" jsonschema:"description=Day to build the queue for as YYYY-MM-DD (default: today)"`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Maximum number of items (default: daily capacity)"`
}

type QueueOutput struct {
	Date  string       `json:"date"`
	Items []ItemOutput `json:"items"`
	Count int          `json:"count"`
}

type ItemInput struct {
	LearnerID string `json:"learner_id,omitempty" jsonschema:"description=Learner ID (defaults to the configured learner)"`
	ItemID    string `json:"item_id" jsonschema:"description=Practice item ID"`
	Limit     int    `json:"limit,omitempty" jsonschema:"description=Maximum number of entries (history only)"`
}

type PreviewOutput struct {
	ItemID   string          `json:"item_id"`
	Outcomes []PreviewResult `json:"outcomes"`
}

type PreviewResult struct {
	Rating         int    `json:"rating"`
	Label          string `json:"label"`
	IntervalDays   int    `json:"interval_days"`
	NextReviewDate string `json:"next_review_date"`
	MasteryLevel   int    `json:"mastery_level"`
}

type HistoryOutput struct {
	ItemID  string         `json:"item_id"`
	Reviews []HistoryEntry `json:"reviews"`
}

type HistoryEntry struct {
	ReviewedAt   string `json:"reviewed_at"`
	Rating       int    `json:"rating"`
	IntervalDays int    `json:"interval_days"`
	MasteryLevel int    `json:"mastery_level"`
}

type WeaknessInput struct {
	LearnerID string `json:"learner_id,omitempty" jsonschema:"description=Learner ID (defaults to the configured learner)"`
	Refresh   bool   `json:"refresh,omitempty" jsonschema:"description=Recompute scores from the full review history"`
}

type WeaknessOutput struct {
	Categories []WeaknessEntry `json:"categories"`
}

type WeaknessEntry struct {
	Category string `json:"category"`
	Score    int    `json:"score"`
	Attempts int    `json:"attempts"`
	Failures int    `json:"failures"`
}

// ItemOutput is the compact item view returned to assistants
type ItemOutput struct {
	ItemID         string  `json:"item_id"`
	Category       string  `json:"category"`
	Status         string  `json:"status"`
	Repetition     int     `json:"repetition_number"`
	EaseFactor     float64 `json:"ease_factor"`
	IntervalDays   int     `json:"interval_days"`
	NextReviewDate string  `json:"next_review_date"`
	MasteryLevel   int     `json:"mastery_level"`
	DaysOverdue    int     `json:"days_overdue,omitempty"`
}

func (s *Server) itemOutput(item domain.ReviewItem, today domain.Date) ItemOutput {
	return ItemOutput{
		ItemID:         item.ItemID,
		Category:       item.Category,
		Status:         string(item.Status()),
		Repetition:     item.Repetition,
		EaseFactor:     item.EaseFactor,
		IntervalDays:   item.IntervalDays,
		NextReviewDate: item.NextReviewDate.String(),
		MasteryLevel:   item.MasteryLevel,
		DaysOverdue:    item.DaysOverdue(today),
	}
}

func (s *Server) learnerID(id string) (string, error) {
	if id = strings.TrimSpace(id); id != "" {
		return id, nil
	}
	if s.learner != "" {
		return s.learner, nil
	}
	return "", fmt.Errorf("%w: learner_id is required", domain.ErrInvalidInput)
}

func (s *Server) today() domain.Date {
	return domain.DateOf(s.now())
}

// Tool handlers

func (s *Server) handleEnroll(ctx context.Context, input EnrollInput) (EnrollOutput, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return EnrollOutput{}, err
	}

	item, created, err := s.service.Enroll(ctx, review.EnrollRequest{
		LearnerID: learner,
		ItemID:    input.ItemID,
		PlanID:    input.PlanID,
		Category:  input.Category,
	})
	if err != nil {
		return EnrollOutput{}, fmt.Errorf("failed to enroll: %w", err)
	}

	message := fmt.Sprintf("%s enrolled, first review due %s", item.ItemID, item.NextReviewDate)
	if !created {
		message = fmt.Sprintf("%s is already tracked, next review %s", item.ItemID, item.NextReviewDate)
	}
	return EnrollOutput{
		Item:    s.itemOutput(*item, s.today()),
		Created: created,
		Message: message,
	}, nil
}

func (s *Server) handleRecordReview(ctx context.Context, input ReviewInput) (ReviewOutput, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return ReviewOutput{}, err
	}
	if input.TimeSpentSeconds < 0 {
		return ReviewOutput{}, fmt.Errorf("%w: time_spent_seconds must not be negative", domain.ErrInvalidInput)
	}
	if input.Rating == nil {
		return ReviewOutput{}, fmt.Errorf("%w: rating is required", domain.ErrInvalidInput)
	}

	result, err := s.service.Record(ctx, review.RecordRequest{
		LearnerID:  learner,
		ItemID:     input.ItemID,
		Rating:     *input.Rating,
		TimeSpent:  time.Duration(input.TimeSpentSeconds) * time.Second,
		AutoEnroll: input.AutoEnroll,
	})
	if err != nil {
		if errors.Is(err, domain.ErrItemNotFound) {
			return ReviewOutput{}, fmt.Errorf("%s is not enrolled; call drill_enroll or set auto_enroll: %w", input.ItemID, err)
		}
		return ReviewOutput{}, fmt.Errorf("failed to record review: %w", err)
	}

	return ReviewOutput{
		Item:       s.itemOutput(result.Item, s.today()),
		FromStatus: string(result.From),
		ToStatus:   string(result.To),
		Message: fmt.Sprintf("Rated %s. Next review in %d day(s) on %s.",
			result.Log.Rating, result.Item.IntervalDays, result.Item.NextReviewDate),
	}, nil
}

func (s *Server) handleDailyQueue(ctx context.Context, input QueueInput) (QueueOutput, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return QueueOutput{}, err
	}

	today := s.today()
	if input.Date != "" {
		if today, err = domain.ParseDate(input.Date); err != nil {
			return QueueOutput{}, fmt.Errorf("%w: date %q", domain.ErrInvalidInput, input.Date)
		}
	}
	limit := input.Limit
	if limit <= 0 {
		limit = s.capacity
	}

	items, err := s.service.DailyQueue(ctx, learner, today, limit)
	if err != nil {
		return QueueOutput{}, fmt.Errorf("failed to build queue: %w", err)
	}

	out := QueueOutput{
		Date:  today.String(),
		Items: make([]ItemOutput, 0, len(items)),
		Count: len(items),
	}
	for _, item := range items {
		out.Items = append(out.Items, s.itemOutput(item, today))
	}
	return out, nil
}

func (s *Server) handlePreview(ctx context.Context, input ItemInput) (PreviewOutput, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return PreviewOutput{}, err
	}

	outcomes, err := s.service.Preview(ctx, learner, input.ItemID)
	if err != nil {
		return PreviewOutput{}, fmt.Errorf("failed to preview: %w", err)
	}

	out := PreviewOutput{ItemID: input.ItemID}
	for rating := domain.Rating(domain.MinRating); int(rating) <= domain.MaxRating; rating++ {
		item, ok := outcomes[rating]
		if !ok {
			continue
		}
		out.Outcomes = append(out.Outcomes, PreviewResult{
			Rating:         int(rating),
			Label:          rating.String(),
			IntervalDays:   item.IntervalDays,
			NextReviewDate: item.NextReviewDate.String(),
			MasteryLevel:   item.MasteryLevel,
		})
	}
	return out, nil
}

func (s *Server) handleHistory(ctx context.Context, input ItemInput) (HistoryOutput, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return HistoryOutput{}, err
	}

	logs, err := s.service.History(ctx, learner, input.ItemID, input.Limit)
	if err != nil {
		return HistoryOutput{}, fmt.Errorf("failed to get history: %w", err)
	}

	out := HistoryOutput{ItemID: input.ItemID, Reviews: make([]HistoryEntry, 0, len(logs))}
	for _, log := range logs {
		out.Reviews = append(out.Reviews, HistoryEntry{
			ReviewedAt:   log.ReviewedAt.UTC().Format(time.RFC3339),
			Rating:       int(log.Rating),
			IntervalDays: log.After.IntervalDays,
			MasteryLevel: log.After.MasteryLevel,
		})
	}
	return out, nil
}

func (s *Server) handleStats(ctx context.Context, input LearnerInput) (review.Stats, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return review.Stats{}, err
	}

	stats, err := s.service.Stats(ctx, learner, s.today())
	if err != nil {
		return review.Stats{}, fmt.Errorf("failed to get stats: %w", err)
	}
	return *stats, nil
}

func (s *Server) handleWeakness(ctx context.Context, input WeaknessInput) (WeaknessOutput, error) {
	learner, err := s.learnerID(input.LearnerID)
	if err != nil {
		return WeaknessOutput{}, err
	}

	var scores []domain.WeaknessScore
	if input.Refresh {
		scores, err = s.service.RefreshWeakness(ctx, learner)
	} else {
		scores, err = s.service.Weakness(ctx, learner)
	}
	if err != nil {
		return WeaknessOutput{}, fmt.Errorf("failed to get weakness: %w", err)
	}

	out := WeaknessOutput{Categories: make([]WeaknessEntry, 0, len(scores))}
	for _, ws := range scores {
		out.Categories = append(out.Categories, WeaknessEntry{
			Category: ws.Category,
			Score:    ws.Score,
			Attempts: ws.Attempts,
			Failures: ws.Failures,
		})
	}
	return out, nil
}

// ServeStdio starts the MCP server on stdio
func (s *Server) ServeStdio(ctx context.Context) error {
	return mcp.ServeStdio(ctx, s.mcpServer)
}

// ServeHTTP starts the MCP server on HTTP (alternative transport)
func (s *Server) ServeHTTP(ctx context.Context, addr string) error {
	return mcp.ServeHTTP(ctx, s.mcpServer, addr)
}

// GetMCPServer returns the underlying MCP server (for testing)
func (s *Server) GetMCPServer() *server.Server {
	return s.mcpServer
}
