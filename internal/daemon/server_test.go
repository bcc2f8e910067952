package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/felixgeelhaar/drill/internal/config"
	"github.com/felixgeelhaar/drill/internal/domain"
	"github.com/felixgeelhaar/drill/internal/queue"
	"github.com/felixgeelhaar/drill/internal/review"
	"github.com/felixgeelhaar/drill/internal/scheduler"
	"github.com/felixgeelhaar/drill/internal/storage/local"
)

var testNow = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

// fakeJSONPublisher records what the queue producer would send to RabbitMQ
type fakeJSONPublisher struct {
	mu        sync.Mutex
	published []any
	err       error
}

func (f *fakeJSONPublisher) PublishJSON(ctx context.Context, queue string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, data)
	return nil
}

type testServer struct {
	*Server
}

// setupTestServer creates a server backed by an in-memory store
func setupTestServer(t *testing.T, mutate func(cfg *ServerConfig)) *testServer {
	t.Helper()

	now := func() time.Time { return testNow }

	cfg := config.DefaultLocalConfig()
	cfg.Daemon.RateLimit = 0
	cfg.Storage.Driver = config.DriverLocal

	svc := review.NewService(local.NewMemoryStore(), scheduler.Default(), review.Config{
		Logger: discardLogger(),
		Now:    now,
	})

	serverCfg := ServerConfig{
		Config:  cfg,
		Service: svc,
		Version: "test",
		Logger:  discardLogger(),
		Now:     now,
	}
	if mutate != nil {
		mutate(&serverCfg)
	}

	server, err := NewServer(serverCfg)
	if err != nil {
		t.Fatalf("create server: %v", err)
	}
	t.Cleanup(func() {
		if server.rateLimit != nil {
			server.rateLimit.Close()
		}
	})
	return &testServer{Server: server}
}

func (ts *testServer) do(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	ts.Handler().ServeHTTP(w, req)
	return w
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("status = %d, want %d (body %s)", w.Code, want, w.Body.String())
	}
}

func TestNewServer_RequiresService(t *testing.T) {
	if _, err := NewServer(ServerConfig{Config: config.DefaultLocalConfig()}); err == nil {
		t.Error("NewServer() error = nil, want missing service error")
	}
	if _, err := NewServer(ServerConfig{}); err == nil {
		t.Error("NewServer() error = nil, want missing config error")
	}
}

func TestServer_Addr(t *testing.T) {
	ts := setupTestServer(t, nil)
	if got := ts.Addr(); got != "127.0.0.1:7433" {
		t.Errorf("Addr() = %q, want 127.0.0.1:7433", got)
	}
}

func TestHealthEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/v1/health", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "healthy" {
		t.Errorf("status = %v, want healthy", resp["status"])
	}
	if w.Header().Get(CorrelationIDHeader) == "" {
		t.Error("missing correlation ID header")
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodGet, "/v1/status", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decodeBody[map[string]any](t, w)
	if resp["version"] != "test" {
		t.Errorf("version = %v, want test", resp["version"])
	}
	if resp["storage"] != config.DriverLocal {
		t.Errorf("storage = %v, want %s", resp["storage"], config.DriverLocal)
	}
	if resp["queue_enabled"] != false {
		t.Errorf("queue_enabled = %v, want false", resp["queue_enabled"])
	}
}

func TestEnrollEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)

	w := ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "arrays/two-sum", PlanID: "p1"})
	expectStatus(t, w, http.StatusCreated)

	resp := decodeBody[struct {
		Item    domain.ReviewItem `json:"item"`
		Created bool              `json:"created"`
	}](t, w)
	if !resp.Created {
		t.Error("created = false, want true")
	}
	if resp.Item.Category != "arrays" || resp.Item.PlanID != "p1" {
		t.Errorf("item = %+v", resp.Item)
	}
	if !resp.Item.NextReviewDate.Equal(domain.DateOf(testNow)) {
		t.Errorf("NextReviewDate = %s, want enrollment day", resp.Item.NextReviewDate)
	}

	w = ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "arrays/two-sum"})
	expectStatus(t, w, http.StatusOK)
}

func TestEnrollEndpoint_BadRequests(t *testing.T) {
	ts := setupTestServer(t, nil)

	tests := []struct {
		name string
		body any
	}{
		{"missing item id", EnrollBody{}},
		{"unknown field", map[string]string{"item": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, "/v1/learners/alice/items", tt.body)
			expectStatus(t, w, http.StatusBadRequest)
		})
	}
}

func TestGetItemEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "graphs/bfs"})

	w := ts.do(t, http.MethodGet, "/v1/learners/alice/items/graphs%2Fbfs", nil)
	expectStatus(t, w, http.StatusOK)
	item := decodeBody[domain.ReviewItem](t, w)
	if item.ItemID != "graphs/bfs" {
		t.Errorf("ItemID = %q, want graphs/bfs", item.ItemID)
	}

	w = ts.do(t, http.MethodGet, "/v1/learners/alice/items/graphs%2Fdfs", nil)
	expectStatus(t, w, http.StatusNotFound)
	body := decodeBody[errorBody](t, w)
	if body.Status != http.StatusNotFound || body.Details == "" {
		t.Errorf("error body = %+v", body)
	}
}

func TestListItemsEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	for _, id := range []string{"b", "a", "c"} {
		ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: id})
	}
	ts.do(t, http.MethodPost, "/v1/learners/bob/items", EnrollBody{ItemID: "z"})

	w := ts.do(t, http.MethodGet, "/v1/learners/alice/items", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decodeBody[struct {
		Items []domain.ReviewItem `json:"items"`
		Count int                 `json:"count"`
	}](t, w)
	if resp.Count != 3 || len(resp.Items) != 3 {
		t.Fatalf("count = %d, items = %d; want 3", resp.Count, len(resp.Items))
	}
	if resp.Items[0].ItemID != "a" {
		t.Errorf("first item = %q, want a", resp.Items[0].ItemID)
	}
}

func TestRecordReviewEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "arrays/two-sum"})

	rating := 4
	w := ts.do(t, http.MethodPost, "/v1/learners/alice/items/arrays%2Ftwo-sum/reviews", ReviewBody{
		Rating:           &rating,
		TimeSpentSeconds: 90,
	})
	expectStatus(t, w, http.StatusOK)

	result := decodeBody[review.RecordResult](t, w)
	if result.Item.Repetition != 1 || result.Item.IntervalDays != 1 {
		t.Errorf("Repetition, IntervalDays = %d, %d; want 1, 1", result.Item.Repetition, result.Item.IntervalDays)
	}
	if want := domain.DateOf(testNow).AddDays(1); !result.Item.NextReviewDate.Equal(want) {
		t.Errorf("NextReviewDate = %s, want %s", result.Item.NextReviewDate, want)
	}
	if result.Item.TimeSpent != 90*time.Second {
		t.Errorf("TimeSpent = %v, want 90s", result.Item.TimeSpent)
	}
	if result.From != domain.StatusNew || result.To != domain.StatusLearning {
		t.Errorf("transition = %s -> %s, want new -> learning", result.From, result.To)
	}
}

func TestRecordReviewEndpoint_Errors(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "a"})

	bad, ok := 7, 3
	tests := []struct {
		name   string
		target string
		body   any
		want   int
	}{
		{"rating out of range", "/v1/learners/alice/items/a/reviews", ReviewBody{Rating: &bad}, http.StatusBadRequest},
		{"missing rating", "/v1/learners/alice/items/a/reviews", ReviewBody{}, http.StatusBadRequest},
		{"negative time", "/v1/learners/alice/items/a/reviews", ReviewBody{Rating: &ok, TimeSpentSeconds: -1}, http.StatusBadRequest},
		{"unknown item", "/v1/learners/alice/items/missing/reviews", ReviewBody{Rating: &ok}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := ts.do(t, http.MethodPost, tt.target, tt.body)
			expectStatus(t, w, tt.want)
		})
	}

	// The rejected reviews left the item untouched.
	w := ts.do(t, http.MethodGet, "/v1/learners/alice/items/a", nil)
	item := decodeBody[domain.ReviewItem](t, w)
	if item.Attempts != 0 || item.Version != 1 {
		t.Errorf("Attempts, Version = %d, %d; want 0, 1", item.Attempts, item.Version)
	}
}

func TestRecordReviewEndpoint_AutoEnroll(t *testing.T) {
	ts := setupTestServer(t, nil)

	rating := 5
	w := ts.do(t, http.MethodPost, "/v1/learners/alice/items/dp%2Fknapsack/reviews", ReviewBody{
		Rating:     &rating,
		AutoEnroll: true,
	})
	expectStatus(t, w, http.StatusOK)

	result := decodeBody[review.RecordResult](t, w)
	if result.Item.Category != "dp" || result.Item.Attempts != 1 {
		t.Errorf("item = %+v", result.Item)
	}
}

func TestPreviewEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "a"})

	w := ts.do(t, http.MethodGet, "/v1/learners/alice/items/a/preview", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decodeBody[struct {
		Outcomes []PreviewEntry `json:"outcomes"`
	}](t, w)
	if len(resp.Outcomes) != 6 {
		t.Fatalf("outcomes = %d, want 6", len(resp.Outcomes))
	}
	for i, entry := range resp.Outcomes {
		if entry.Rating != i {
			t.Errorf("outcome %d has rating %d", i, entry.Rating)
		}
	}
	if resp.Outcomes[0].Item.Repetition != 0 || resp.Outcomes[5].Item.Repetition != 1 {
		t.Errorf("repetitions = %d, %d; want 0, 1", resp.Outcomes[0].Item.Repetition, resp.Outcomes[5].Item.Repetition)
	}

	// Previewing stores nothing.
	item := decodeBody[domain.ReviewItem](t, ts.do(t, http.MethodGet, "/v1/learners/alice/items/a", nil))
	if item.Version != 1 {
		t.Errorf("Version = %d after preview, want 1", item.Version)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "a"})
	for _, rating := range []int{5, 2, 4} {
		r := rating
		ts.do(t, http.MethodPost, "/v1/learners/alice/items/a/reviews", ReviewBody{Rating: &r})
	}

	w := ts.do(t, http.MethodGet, "/v1/learners/alice/items/a/history?limit=2", nil)
	expectStatus(t, w, http.StatusOK)

	resp := decodeBody[struct {
		Logs  []domain.ReviewLog `json:"logs"`
		Count int                `json:"count"`
	}](t, w)
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2", resp.Count)
	}
	if resp.Logs[0].Rating != 4 || resp.Logs[1].Rating != 2 {
		t.Errorf("ratings = %d, %d; want newest first 4, 2", resp.Logs[0].Rating, resp.Logs[1].Rating)
	}

	w = ts.do(t, http.MethodGet, "/v1/learners/alice/items/a/history?limit=-1", nil)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestRebuildEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "a"})
	for _, rating := range []int{5, 5} {
		r := rating
		ts.do(t, http.MethodPost, "/v1/learners/alice/items/a/reviews", ReviewBody{Rating: &r})
	}

	w := ts.do(t, http.MethodPost, "/v1/learners/alice/items/a/rebuild", nil)
	expectStatus(t, w, http.StatusOK)

	item := decodeBody[domain.ReviewItem](t, w)
	if item.Repetition != 2 || item.IntervalDays != 6 {
		t.Errorf("Repetition, IntervalDays = %d, %d; want 2, 6", item.Repetition, item.IntervalDays)
	}

	w = ts.do(t, http.MethodPost, "/v1/learners/alice/items/missing/rebuild", nil)
	expectStatus(t, w, http.StatusNotFound)
}

func TestDailyQueueEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	for _, id := range []string{"a", "b", "c"} {
		ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: id})
	}
	perfect := 5
	ts.do(t, http.MethodPost, "/v1/learners/alice/items/c/reviews", ReviewBody{Rating: &perfect})

	w := ts.do(t, http.MethodGet, "/v1/learners/alice/queue", nil)
	expectStatus(t, w, http.StatusOK)
	resp := decodeBody[struct {
		Date  domain.Date         `json:"date"`
		Items []domain.ReviewItem `json:"items"`
		Count int                 `json:"count"`
	}](t, w)
	if resp.Count != 2 {
		t.Errorf("count = %d, want 2 (c is due tomorrow)", resp.Count)
	}
	if !resp.Date.Equal(domain.DateOf(testNow)) {
		t.Errorf("date = %s, want %s", resp.Date, domain.DateOf(testNow))
	}

	w = ts.do(t, http.MethodGet, "/v1/learners/alice/queue?date=2024-03-11&capacity=1", nil)
	expectStatus(t, w, http.StatusOK)
	resp = decodeBody[struct {
		Date  domain.Date         `json:"date"`
		Items []domain.ReviewItem `json:"items"`
		Count int                 `json:"count"`
	}](t, w)
	if resp.Count != 1 || resp.Items[0].ItemID != "a" {
		t.Errorf("queue = %+v, want [a] (most overdue first)", resp.Items)
	}
}

func TestDailyQueueEndpoint_BadParams(t *testing.T) {
	ts := setupTestServer(t, nil)

	for _, target := range []string{
		"/v1/learners/alice/queue?date=yesterday",
		"/v1/learners/alice/queue?capacity=lots",
		"/v1/learners/alice/queue?capacity=-2",
	} {
		w := ts.do(t, http.MethodGet, target, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("GET %s = %d, want 400", target, w.Code)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := setupTestServer(t, nil)
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "arrays/a"})
	ts.do(t, http.MethodPost, "/v1/learners/alice/items", EnrollBody{ItemID: "graphs/b"})
	fail := 1
	ts.do(t, http.MethodPost, "/v1/learners/alice/items/graphs%2Fb/reviews", ReviewBody{Rating: &fail})

	w := ts.do(t, http.MethodGet, "/v1/learners/alice/stats", nil)
	expectStatus(t, w, http.StatusOK)

	stats := decodeBody[review.Stats](t, w)
	if stats.TotalItems != 2 || stats.TotalReviews != 1 || stats.Lapses != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestWeaknessEndpoints(t *testing.T) {
	ts := setupTestServer(t, nil)
	for _, rating := range []int{0, 1, 5} {
		r := rating
		w := ts.do(t, http.MethodPost, "/v1/learners/alice/items/"+fmt.Sprintf("graphs%%2Fq%d", rating)+"/reviews",
			ReviewBody{Rating: &r, AutoEnroll: true})
		expectStatus(t, w, http.StatusOK)
	}

	w := ts.do(t, http.MethodPost, "/v1/learners/alice/weakness/refresh", nil)
	expectStatus(t, w, http.StatusOK)

	type scores struct {
		Scores []domain.WeaknessScore `json:"scores"`
	}
	refreshed := decodeBody[scores](t, w)
	if len(refreshed.Scores) != 1 {
		t.Fatalf("scores = %+v, want one category", refreshed.Scores)
	}
	if got := refreshed.Scores[0]; got.Category != "graphs" || got.Attempts != 3 || got.Failures != 2 {
		t.Errorf("score = %+v", got)
	}

	w = ts.do(t, http.MethodGet, "/v1/learners/alice/weakness", nil)
	expectStatus(t, w, http.StatusOK)
	stored := decodeBody[scores](t, w)
	if len(stored.Scores) != 1 || stored.Scores[0].Score != refreshed.Scores[0].Score {
		t.Errorf("stored = %+v, want %+v", stored.Scores, refreshed.Scores)
	}
}

func TestEnqueueReviewEndpoint_Disabled(t *testing.T) {
	ts := setupTestServer(t, nil)
	three := 3

	w := ts.do(t, http.MethodPost, "/v1/reviews/async", queue.ReviewJob{LearnerID: "alice", ItemID: "a", Rating: &three})
	expectStatus(t, w, http.StatusServiceUnavailable)
}

func TestEnqueueReviewEndpoint(t *testing.T) {
	pub := &fakeJSONPublisher{}
	ts := setupTestServer(t, func(cfg *ServerConfig) {
		cfg.Jobs = queue.NewProducer(pub)
	})
	three, nine := 3, 9

	w := ts.do(t, http.MethodPost, "/v1/reviews/async", queue.ReviewJob{LearnerID: "alice", ItemID: "a", Rating: &three})
	expectStatus(t, w, http.StatusAccepted)

	resp := decodeBody[map[string]any](t, w)
	if resp["status"] != "queued" || resp["job_id"] == "" {
		t.Errorf("response = %v", resp)
	}
	if len(pub.published) != 1 {
		t.Fatalf("published = %d, want 1", len(pub.published))
	}

	w = ts.do(t, http.MethodPost, "/v1/reviews/async", queue.ReviewJob{LearnerID: "alice", ItemID: "a", Rating: &nine})
	expectStatus(t, w, http.StatusBadRequest)

	// A job without a rating must not be queued as a blackout.
	w = ts.do(t, http.MethodPost, "/v1/reviews/async", map[string]any{"learner_id": "alice", "item_id": "a"})
	expectStatus(t, w, http.StatusBadRequest)
	if len(pub.published) != 1 {
		t.Errorf("published = %d after invalid jobs, want 1", len(pub.published))
	}

	pub.err = errors.New("channel closed")
	w = ts.do(t, http.MethodPost, "/v1/reviews/async", queue.ReviewJob{LearnerID: "alice", ItemID: "a", Rating: &three})
	expectStatus(t, w, http.StatusServiceUnavailable)
}

func TestRateLimitedServer(t *testing.T) {
	ts := setupTestServer(t, func(cfg *ServerConfig) {
		cfg.Config.Daemon.RateLimit = 2
	})

	limited := false
	for i := 0; i < 5; i++ {
		if ts.do(t, http.MethodGet, "/v1/status", nil).Code == http.StatusTooManyRequests {
			limited = true
		}
	}
	if !limited {
		t.Error("expected a 429 after exceeding the rate limit")
	}

	if w := ts.do(t, http.MethodGet, "/v1/health", nil); w.Code != http.StatusOK {
		t.Errorf("health = %d, want 200", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&domain.InvalidRatingError{Rating: 6}, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", domain.ErrInvalidInput), http.StatusBadRequest},
		{domain.ErrItemNotFound, http.StatusNotFound},
		{domain.ErrItemExists, http.StatusConflict},
		{fmt.Errorf("save review: %w", domain.ErrConflict), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d; want %d", tt.err, got, tt.want)
		}
	}
}
