package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/queue"
	"github.com/felixgeelhaar/drill/internal/review"
)

const maxBodyBytes = 1 << 20

// EnrollBody is the request body of POST /v1/learners/{learner}/items
type EnrollBody struct {
	ItemID   string `json:"item_id"`
	PlanID   string `json:"plan_id,omitempty"`
	Category string `json:"category,omitempty"`
}

// ReviewBody is the request body of POST .../items/{item}/reviews
type ReviewBody struct {
	Rating           *int   `json:"rating"`
	TimeSpentSeconds int64  `json:"time_spent_seconds"`
	AutoEnroll       bool   `json:"auto_enroll"`
	Category         string `json:"category,omitempty"`
	PlanID           string `json:"plan_id,omitempty"`
}

// PreviewEntry is the state an item would reach with one rating
type PreviewEntry struct {
	Rating int               `json:"rating"`
	Label  string            `json:"label"`
	Item   domain.ReviewItem `json:"item"`
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		s.jsonError(w, http.StatusBadRequest, "invalid request body", err)
		return false
	}
	return true
}

// today resolves the optional ?date=YYYY-MM-DD parameter
func (s *Server) today(r *http.Request) (domain.Date, error) {
	if v := r.URL.Query().Get("date"); v != "" {
		d, err := domain.ParseDate(v)
		if err != nil {
			return domain.Date{}, fmt.Errorf("%w: date %q", domain.ErrInvalidInput, v)
		}
		return d, nil
	}
	return domain.DateOf(s.now()), nil
}

// intParam parses an optional non-negative integer query parameter
func intParam(r *http.Request, name string) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %s %q", domain.ErrInvalidInput, name, v)
	}
	return n, nil
}

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	var body EnrollBody
	if !s.decode(w, r, &body) {
		return
	}

	item, created, err := s.service.Enroll(r.Context(), review.EnrollRequest{
		LearnerID: r.PathValue("learner"),
		ItemID:    body.ItemID,
		PlanID:    body.PlanID,
		Category:  body.Category,
	})
	if err != nil {
		s.serviceError(w, "failed to enroll item", err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	s.jsonResponse(w, status, map[string]any{
		"item":    item,
		"created": created,
	})
}

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListItems(r.Context(), r.PathValue("learner"))
	if err != nil {
		s.serviceError(w, "failed to list items", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.GetItem(r.Context(), r.PathValue("learner"), r.PathValue("item"))
	if err != nil {
		s.serviceError(w, "failed to get item", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, item)
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	outcomes, err := s.service.Preview(r.Context(), r.PathValue("learner"), r.PathValue("item"))
	if err != nil {
		s.serviceError(w, "failed to preview item", err)
		return
	}

	entries := make([]PreviewEntry, 0, len(outcomes))
	for rating := domain.Rating(domain.MinRating); int(rating) <= domain.MaxRating; rating++ {
		item, ok := outcomes[rating]
		if !ok {
			continue
		}
		entries = append(entries, PreviewEntry{Rating: int(rating), Label: rating.String(), Item: item})
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"outcomes": entries,
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit")
	if err != nil {
		s.serviceError(w, "invalid limit", err)
		return
	}

	logs, err := s.service.History(r.Context(), r.PathValue("learner"), r.PathValue("item"), limit)
	if err != nil {
		s.serviceError(w, "failed to get history", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	item, err := s.service.Rebuild(r.Context(), r.PathValue("learner"), r.PathValue("item"))
	if err != nil {
		s.serviceError(w, "failed to rebuild item", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, item)
}

func (s *Server) handleRecordReview(w http.ResponseWriter, r *http.Request) {
	var body ReviewBody
	if !s.decode(w, r, &body) {
		return
	}
	if body.Rating == nil {
		s.jsonError(w, http.StatusBadRequest, "rating is required", nil)
		return
	}
	if body.TimeSpentSeconds < 0 {
		s.jsonError(w, http.StatusBadRequest, "time_spent_seconds must not be negative", nil)
		return
	}

	result, err := s.service.Record(r.Context(), review.RecordRequest{
		LearnerID:  r.PathValue("learner"),
		ItemID:     r.PathValue("item"),
		Rating:     *body.Rating,
		TimeSpent:  time.Duration(body.TimeSpentSeconds) * time.Second,
		AutoEnroll: body.AutoEnroll,
		Category:   body.Category,
		PlanID:     body.PlanID,
	})
	if err != nil {
		s.serviceError(w, "failed to record review", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, result)
}

func (s *Server) handleEnqueueReview(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		s.jsonError(w, http.StatusServiceUnavailable, "review queue is disabled", nil)
		return
	}

	var job queue.ReviewJob
	if !s.decode(w, r, &job) {
		return
	}
	if err := s.jobs.PublishReviewJob(r.Context(), &job); err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusServiceUnavailable
			s.logger.Error("failed to enqueue review", "error", err)
		}
		s.jsonError(w, status, "failed to enqueue review", err)
		return
	}

	s.jsonResponse(w, http.StatusAccepted, map[string]any{
		"job_id": job.ID,
		"status": "queued",
	})
}

func (s *Server) handleDailyQueue(w http.ResponseWriter, r *http.Request) {
	today, err := s.today(r)
	if err != nil {
		s.serviceError(w, "invalid date", err)
		return
	}
	capacity, err := intParam(r, "capacity")
	if err != nil {
		s.serviceError(w, "invalid capacity", err)
		return
	}
	if capacity == 0 {
		capacity = s.cfg.Review.DailyCapacity
	}

	items, err := s.service.DailyQueue(r.Context(), r.PathValue("learner"), today, capacity)
	if err != nil {
		s.serviceError(w, "failed to build queue", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"date":  today,
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	today, err := s.today(r)
	if err != nil {
		s.serviceError(w, "invalid date", err)
		return
	}

	stats, err := s.service.Stats(r.Context(), r.PathValue("learner"), today)
	if err != nil {
		s.serviceError(w, "failed to get stats", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, stats)
}

func (s *Server) handleWeakness(w http.ResponseWriter, r *http.Request) {
	scores, err := s.service.Weakness(r.Context(), r.PathValue("learner"))
	if err != nil {
		s.serviceError(w, "failed to get weakness", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"scores": scores,
	})
}

func (s *Server) handleRefreshWeakness(w http.ResponseWriter, r *http.Request) {
	scores, err := s.service.RefreshWeakness(r.Context(), r.PathValue("learner"))
	if err != nil {
		s.serviceError(w, "failed to refresh weakness", err)
		return
	}
	s.jsonResponse(w, http.StatusOK, map[string]any{
		"scores": scores,
	})
}
