package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lysyi3m/astrobot/app/database"
	"github.com/lysyi3m/astrobot/app/feed"
	"github.com/lysyi3m/astrobot/app/metrics"
	"github.com/lysyi3m/astrobot/app/pipeline"
)

const testAPIKey = "secret-key"

type stubRunner struct {
	run   *database.RunRecord
	err   error
	calls []string
}

func (s *stubRunner) Run(ctx context.Context, source, trigger string) (*database.RunRecord, error) {
	s.calls = append(s.calls, source+":"+trigger)
	return s.run, s.err
}

type testServer struct {
	engine *gin.Engine
	items  *database.ItemRepo
	runs   *database.RunRepo
	runner *stubRunner
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewConnection(filepath.Join(t.TempDir(), "api.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if _, _, err := database.RunMigrations(db); err != nil {
		t.Fatalf("Failed to run migrations: %v", err)
	}

	configs := feed.NewConfigCache("")
	configs.Set(&feed.Config{
		Name:     "nasa",
		URL:      "https://www.nasa.gov/rss/dyn/breaking_news.rss",
		Settings: feed.ConfigSettings{Enabled: true, RefreshInterval: 1800, MaxItems: 20},
	})

	items := database.NewItemRepository(db)
	posts := database.NewPostRepository(db)
	runs := database.NewRunRepository(db)
	runner := &stubRunner{}

	publisher := pipeline.NewPublisher(db, items, configs, pipeline.SystemClock{}, nil)
	handler := NewHandler(configs, items, posts, runs, publisher, runner, metrics.NewCollector().Handler())

	return &testServer{
		engine: NewServer(handler, apiKey),
		items:  items,
		runs:   runs,
		runner: runner,
	}
}

func (s *testServer) createItem(t *testing.T, guid string) int64 {
	t.Helper()
	published := time.Now().UTC()
	id, err := s.items.CreateItem(context.Background(), "nasa", feed.Fingerprint(guid, "", "", nil), database.ItemContent{
		GUID:              guid,
		URL:               "https://www.nasa.gov/news/" + guid,
		Title:             "Title " + guid,
		Summary:           "Summary " + guid,
		SourcePublishedAt: &published,
	}, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	return id
}

func (s *testServer) do(method, path, body string) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("X-API-Key", testAPIKey)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode response %q: %v", w.Body.String(), err)
	}
	return body
}

func itemPath(id int64, action string) string {
	path := "/api/items/" + strconv.FormatInt(id, 10)
	if action != "" {
		path += "/" + action
	}
	return path
}

func TestHealthAndStats(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	s.createItem(t, "a")

	w := s.do(http.MethodGet, "/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if status := decode(t, w)["status"]; status != "ok" {
		t.Errorf("Expected status 'ok', got %v", status)
	}

	w = s.do(http.MethodGet, "/stats", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	stats := decode(t, w)
	itemsStats := stats["items"].(map[string]interface{})
	if itemsStats["total"] != float64(1) {
		t.Errorf("Expected 1 item, got %v", itemsStats["total"])
	}
	if stats["posts"] != float64(0) {
		t.Errorf("Expected 0 posts, got %v", stats["posts"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected Go runtime metrics in output")
	}
}

func TestAPIDisabledWithoutKey(t *testing.T) {
	s := newTestServer(t, "")

	w := s.do(http.MethodGet, "/api/items", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}

	root := decode(t, s.do(http.MethodGet, "/", ""))
	apiStatus := root["api_status"].(map[string]interface{})
	if apiStatus["enabled"] != false {
		t.Errorf("Expected API to be reported disabled, got %v", apiStatus["enabled"])
	}
}

func TestAuthMiddleware(t *testing.T) {
	s := newTestServer(t, testAPIKey)

	tests := []struct {
		name   string
		header string
		value  string
		want   int
	}{
		{"missing key", "", "", http.StatusUnauthorized},
		{"wrong key", "X-API-Key", "nope", http.StatusUnauthorized},
		{"api key header", "X-API-Key", testAPIKey, http.StatusOK},
		{"bearer token", "Authorization", "Bearer " + testAPIKey, http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			w := httptest.NewRecorder()
			s.engine.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, testAPIKey)

	req := httptest.NewRequest(http.MethodOptions, "/api/items", nil)
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("Expected CORS origin header")
	}
}

func TestListItemsFiltersByStatus(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	first := s.createItem(t, "a")
	s.createItem(t, "b")

	ctx := context.Background()
	if _, err := s.items.MarkNeedsReview(ctx, first, "domain_not_whitelisted", "", []database.ItemStatus{database.StatusDraft}, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	w := s.do(http.MethodGet, "/api/items?status=needs_review", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	body := decode(t, w)
	if body["total"] != float64(1) {
		t.Fatalf("Expected 1 item, got %v", body["total"])
	}
	item := body["items"].([]interface{})[0].(map[string]interface{})
	if item["review_reason"] != "domain_not_whitelisted" {
		t.Errorf("Expected review reason 'domain_not_whitelisted', got %v", item["review_reason"])
	}

	if w := s.do(http.MethodGet, "/api/items?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid limit, got %d", w.Code)
	}
}

func TestGetItem(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	id := s.createItem(t, "a")

	w := s.do(http.MethodGet, itemPath(id, ""), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if guid := decode(t, w)["guid"]; guid != "a" {
		t.Errorf("Expected guid 'a', got %v", guid)
	}

	if w := s.do(http.MethodGet, itemPath(9999, ""), ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", w.Code)
	}
	if w := s.do(http.MethodGet, "/api/items/abc", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", w.Code)
	}
}

func TestPublishItem(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	id := s.createItem(t, "a")

	w := s.do(http.MethodPost, itemPath(id, "publish"), "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != string(database.StatusPublished) {
		t.Errorf("Expected status published, got %v", body["status"])
	}
	if body["post_id"] == nil {
		t.Error("Expected post id to be set")
	}

	if w := s.do(http.MethodPost, itemPath(id, "publish"), ""); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 on second publish, got %d", w.Code)
	}
	if w := s.do(http.MethodPost, itemPath(9999, "publish"), ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for missing item, got %d", w.Code)
	}
}

func TestApproveItem(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	id := s.createItem(t, "a")

	if w := s.do(http.MethodPost, itemPath(id, "approve"), `{"note":"ok"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 without reviewer, got %d", w.Code)
	}

	w := s.do(http.MethodPost, itemPath(id, "approve"), `{"reviewer":"editor","note":"ok"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["status"] != string(database.StatusPublished) {
		t.Errorf("Expected status published, got %v", body["status"])
	}
	if body["reviewed_by"] != "editor" {
		t.Errorf("Expected reviewer 'editor', got %v", body["reviewed_by"])
	}
}

func TestScheduleItem(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	id := s.createItem(t, "a")

	if w := s.do(http.MethodPost, itemPath(id, "schedule"), `{"scheduled_for":"tomorrow"}`); w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid time, got %d", w.Code)
	}

	when := time.Now().Add(time.Hour).UTC().Format(time.RFC3339)
	w := s.do(http.MethodPost, itemPath(id, "schedule"), `{"scheduled_for":"`+when+`"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if status := decode(t, w)["status"]; status != string(database.StatusScheduled) {
		t.Errorf("Expected status scheduled, got %v", status)
	}
}

func TestRejectItem(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	id := s.createItem(t, "a")

	w := s.do(http.MethodPost, itemPath(id, "reject"), `{"reason":"off topic","reviewer":"editor"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if status := decode(t, w)["status"]; status != string(database.StatusRejected) {
		t.Errorf("Expected status rejected, got %v", status)
	}

	if w := s.do(http.MethodPost, itemPath(id, "publish"), ""); w.Code != http.StatusConflict {
		t.Errorf("Expected status 409 publishing rejected item, got %d", w.Code)
	}
}

func TestSyncSource(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	s.runner.run = &database.RunRecord{ID: 7, Source: "nasa", Trigger: pipeline.TriggerManual, Status: database.RunSuccess}

	w := s.do(http.MethodPost, "/api/sources/nasa/sync", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if len(s.runner.calls) != 1 || s.runner.calls[0] != "nasa:manual" {
		t.Errorf("Expected one manual run for nasa, got %v", s.runner.calls)
	}
	run := decode(t, w)["run"].(map[string]interface{})
	if run["status"] != string(database.RunSuccess) {
		t.Errorf("Expected run status success, got %v", run["status"])
	}
}

func TestSyncSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		run  *database.RunRecord
		err  error
		want int
	}{
		{"unknown source", nil, pipeline.ErrSourceNotFound, http.StatusNotFound},
		{"already running", nil, &pipeline.SyncInProgressError{Source: "nasa"}, http.StatusConflict},
		{"failed run", &database.RunRecord{ID: 1, Status: database.RunError}, errors.New("sync nasa failed"), http.StatusBadGateway},
		{"unexpected error", nil, errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, testAPIKey)
			s.runner.run = tt.run
			s.runner.err = tt.err

			if w := s.do(http.MethodPost, "/api/sources/nasa/sync", ""); w.Code != tt.want {
				t.Errorf("Expected status %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestListSourcesAndRuns(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	ctx := context.Background()

	runID, err := s.runs.CreateRun(ctx, "nasa", pipeline.TriggerSchedule, time.Now().UTC())
	if err != nil {
		t.Fatal(err)
	}
	if err := s.runs.FinishRun(ctx, runID, database.RunSuccess, "", database.RunCounters{ItemsNew: 2}, "{}", time.Now().UTC()); err != nil {
		t.Fatal(err)
	}

	body := decode(t, s.do(http.MethodGet, "/api/sources", ""))
	if body["total"] != float64(1) {
		t.Fatalf("Expected 1 source, got %v", body["total"])
	}
	source := body["sources"].([]interface{})[0].(map[string]interface{})
	if source["last_run"] == nil {
		t.Error("Expected last run to be reported")
	}

	body = decode(t, s.do(http.MethodGet, "/api/runs?source=nasa", ""))
	if body["total"] != float64(1) {
		t.Fatalf("Expected 1 run, got %v", body["total"])
	}
	run := body["runs"].([]interface{})[0].(map[string]interface{})
	counters := run["counters"].(map[string]interface{})
	if counters["items_new"] != float64(2) {
		t.Errorf("Expected items_new 2, got %v", counters["items_new"])
	}
}

func TestGetFeed(t *testing.T) {
	s := newTestServer(t, testAPIKey)
	published := s.createItem(t, "a")
	s.createItem(t, "b")

	if w := s.do(http.MethodPost, itemPath(published, "publish"), ""); w.Code != http.StatusOK {
		t.Fatalf("Expected publish to succeed, got %d", w.Code)
	}

	w := s.do(http.MethodGet, "/feeds/nasa", "")
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("Expected XML content type, got '%s'", ct)
	}
	if items := w.Header().Get("X-Feed-Items"); items != "1" {
		t.Errorf("Expected 1 feed item, got '%s'", items)
	}
	if !strings.Contains(w.Body.String(), "<link>https://www.nasa.gov/news/a</link>") {
		t.Error("Expected published item link in feed")
	}
	if strings.Contains(w.Body.String(), "https://www.nasa.gov/news/b") {
		t.Error("Expected unpublished item to be absent from feed")
	}

	if w := s.do(http.MethodGet, "/feeds/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("Expected status 404 for unknown source, got %d", w.Code)
	}
}
