package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/felixgeelhaar/fortify/ratelimit"

	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/queue"
	"github.com/felixgeelhaar/drill/internal/review"
)

// JobPublisher enqueues reviews for asynchronous recording
type JobPublisher interface {
	PublishReviewJob(ctx context.Context, job *queue.ReviewJob) error
}

// Server represents the drill daemon HTTP server
type Server struct {
	cfg     *config.LocalConfig
	server  *http.Server
	router  *http.ServeMux
	logger  *slog.Logger
	version string
	started time.Time
	now     func() time.Time

	service   review.ReviewService
	jobs      JobPublisher          // Optional: nil when the queue is disabled
	rateLimit ratelimit.RateLimiter // Optional: nil when rate limiting is off
}

// ServerConfig holds configuration for creating a new server
type ServerConfig struct {
	Config  *config.LocalConfig
	Service review.ReviewService
	Jobs    JobPublisher
	Version string
	Logger  *slog.Logger

	// Now returns the current time; "today" for queues and stats derives from it
	Now func() time.Time
}

// NewServer creates a new daemon server
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Service == nil {
		return nil, errors.New("review service is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}

	s := &Server{
		cfg:     cfg.Config,
		router:  http.NewServeMux(),
		logger:  cfg.Logger,
		version: cfg.Version,
		started: cfg.Now(),
		now:     cfg.Now,
		service: cfg.Service,
		jobs:    cfg.Jobs,
	}

	s.setupRoutes()

	middleware := []func(http.Handler) http.Handler{
		recoveryMiddleware(s.logger),
		correlationIDMiddleware,
		loggingMiddleware(s.logger),
	}
	if perMinute := cfg.Config.Daemon.RateLimit; perMinute > 0 {
		s.rateLimit = ratelimit.New(&ratelimit.Config{
			Rate:     perMinute,
			Burst:    perMinute,
			Interval: time.Minute,
		})
		middleware = append(middleware, rateLimitMiddleware(s.rateLimit, s.logger))
	}

	addr := fmt.Sprintf("%s:%d", cfg.Config.Daemon.Bind, cfg.Config.Daemon.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      chain(s.router, middleware...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// setupRoutes configures all HTTP routes.
// Learner and item IDs may contain slashes; clients escape them as %2F
// so each ID stays within one path segment.
func (s *Server) setupRoutes() {
	// Health & status
	s.router.HandleFunc("GET /v1/health", s.handleHealth)
	s.router.HandleFunc("GET /v1/status", s.handleStatus)

	// Items
	s.router.HandleFunc("POST /v1/learners/{learner}/items", s.handleEnroll)
	s.router.HandleFunc("GET /v1/learners/{learner}/items", s.handleListItems)
	s.router.HandleFunc("GET /v1/learners/{learner}/items/{item}", s.handleGetItem)
	s.router.HandleFunc("GET /v1/learners/{learner}/items/{item}/preview", s.handlePreview)
	s.router.HandleFunc("GET /v1/learners/{learner}/items/{item}/history", s.handleHistory)
	s.router.HandleFunc("POST /v1/learners/{learner}/items/{item}/rebuild", s.handleRebuild)

	// Reviews
	s.router.HandleFunc("POST /v1/learners/{learner}/items/{item}/reviews", s.handleRecordReview)
	s.router.HandleFunc("POST /v1/reviews/async", s.handleEnqueueReview)

	// Queue & analytics
	s.router.HandleFunc("GET /v1/learners/{learner}/queue", s.handleDailyQueue)
	s.router.HandleFunc("GET /v1/learners/{learner}/stats", s.handleStats)
	s.router.HandleFunc("GET /v1/learners/{learner}/weakness", s.handleWeakness)
	s.router.HandleFunc("POST /v1/learners/{learner}/weakness/refresh", s.handleRefreshWeakness)
}

// Handler returns the HTTP handler including middleware
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Addr returns the configured listen address
func (s *Server) Addr() string {
	return s.server.Addr
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting drill daemon",
		"addr", s.server.Addr,
		"storage", s.cfg.Storage.Driver,
		"queue", s.jobs != nil,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down daemon...")

	if s.rateLimit != nil {
		if err := s.rateLimit.Close(); err != nil {
			s.logger.Warn("failed to close rate limiter", "error", err)
		}
	}

	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": s.now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"status":         "running",
		"version":        s.version,
		"storage":        s.cfg.Storage.Driver,
		"queue_enabled":  s.jobs != nil,
		"rate_limit":     s.cfg.Daemon.RateLimit,
		"daily_capacity": s.cfg.Review.DailyCapacity,
		"uptime_seconds": int64(s.now().Sub(s.started).Seconds()),
	})
}

// Helper methods

type errorBody struct {
	Error   string `json:"error"`
	Status  int    `json:"status"`
	Details string `json:"details,omitempty"`
}

func writeJSON(logger *slog.Logger, w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	writeJSON(s.logger, w, status, data)
}

func (s *Server) jsonError(w http.ResponseWriter, status int, message string, err error) {
	body := errorBody{Error: message, Status: status}
	if err != nil {
		body.Details = err.Error()
	}
	s.jsonResponse(w, status, body)
}

// serviceError maps domain errors to HTTP status codes
func (s *Server) serviceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(message, "error", err)
	}
	s.jsonError(w, status, message, err)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRating), errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrItemNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrItemExists), errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
