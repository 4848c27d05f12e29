package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"apflow/internal/api"
	"apflow/internal/billing"
	"apflow/internal/config"
	"apflow/internal/documents"
	"apflow/internal/holds"
	"apflow/internal/logging"
	"apflow/internal/matching"
	"apflow/internal/pipeline"
	"apflow/internal/queue"
	"apflow/internal/testsupport"
)

type fixture struct {
	cfg     *config.Config
	server  *api.Server
	queue   *queue.Store
	docs    *documents.Store
	holds   *holds.Store
	results *matching.Store
	bills   *billing.Store
}

func newFixture(t *testing.T, opts ...testsupport.ConfigOption) *fixture {
	t.Helper()
	cfg := testsupport.NewConfig(t, opts...)
	db := testsupport.MustOpenDB(t, cfg)
	queueStore := queue.NewStore(db, logging.NewNop())
	docs := documents.NewStore(db)
	results := matching.NewStore(db)
	holdStore := holds.NewStore(db)
	manager := pipeline.NewManager(cfg, queueStore, docs, results, holdStore, logging.NewNop())
	return &fixture{
		cfg:     cfg,
		server:  api.NewServer(cfg, manager, queueStore, holdStore, logging.NewNop()),
		queue:   queueStore,
		docs:    docs,
		holds:   holdStore,
		results: results,
		bills:   billing.NewStore(db),
	}
}

func (f *fixture) request(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if f.cfg.API.Token != "" {
		req.Header.Set("Authorization", "Bearer "+f.cfg.API.Token)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func withToken(token string) testsupport.ConfigOption {
	return func(c *config.Config) {
		c.API.Token = token
	}
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var health pipeline.Health
	if err := json.Unmarshal(rec.Body.Bytes(), &health); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !health.Healthy {
		t.Errorf("fresh pipeline should be healthy: %+v", health.Issues)
	}
}

func TestHealthReportsPausedStage(t *testing.T) {
	f := newFixture(t)
	if err := f.queue.Pause(context.Background(), queue.StageBill); err != nil {
		t.Fatalf("pause: %v", err)
	}
	rec := f.request(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("paused stage should surface as unhealthy, status = %d", rec.Code)
	}
}

func TestBearerTokenRequired(t *testing.T) {
	f := newFixture(t, withToken("secret-token"))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token should be 401, got %d", rec.Code)
	}

	rec = f.request(t, http.MethodGet, "/api/v1/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token rejected: %d", rec.Code)
	}
}

func TestProcessDocumentAccepted(t *testing.T) {
	f := newFixture(t)
	pdf := filepath.Join(f.cfg.Paths.InboxDir, "in.pdf")
	if err := os.WriteFile(pdf, []byte("%PDF-1.7"), 0o644); err != nil {
		t.Fatalf("write pdf: %v", err)
	}

	rec := f.request(t, http.MethodPost, "/api/v1/documents",
		`{"attachmentId":"att-9","pdfPath":"`+pdf+`"}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		CorrelationID string `json:"correlationId"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	job, err := f.queue.Get(context.Background(), queue.StageSplit, resp.CorrelationID)
	if err != nil || job == nil {
		t.Fatalf("split job not enqueued: %v", err)
	}
}

func TestProcessDocumentRequiresPath(t *testing.T) {
	f := newFixture(t)
	rec := f.request(t, http.MethodPost, "/api/v1/documents", `{"attachmentId":"att-9"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("missing pdfPath should be 400, got %d", rec.Code)
	}
}

func TestListAndResolveHold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	doc := testsupport.NewDocument(t, f.docs, testsupport.DocumentFixture{})
	hold, err := f.holds.Create(ctx, doc.ID, holds.ReasonMissingPO, "no PO", "")
	if err != nil {
		t.Fatalf("create hold: %v", err)
	}

	rec := f.request(t, http.MethodGet, "/api/v1/holds?status=OPEN", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Count != 1 {
		t.Fatalf("count = %d, want 1", list.Count)
	}

	rec = f.request(t, http.MethodPost,
		"/api/v1/holds/"+itoa(hold.ID)+"/resolve",
		`{"action":"approve","resolution":"assigned to job","resolvedBy":"reviewer","jobId":4410}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("resolve status = %d body = %s", rec.Code, rec.Body.String())
	}

	rec = f.request(t, http.MethodPost,
		"/api/v1/holds/"+itoa(hold.ID)+"/resolve",
		`{"action":"approve","resolution":"again","resolvedBy":"reviewer"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("second resolve should be 400, got %d", rec.Code)
	}
}

func TestQueueAdminEndpoints(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	rec := f.request(t, http.MethodPost, "/api/v1/queue/bill/pause", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("pause status = %d", rec.Code)
	}
	paused, err := f.queue.IsPaused(ctx, queue.StageBill)
	if err != nil || !paused {
		t.Fatalf("stage should be paused: %v", err)
	}
	rec = f.request(t, http.MethodPost, "/api/v1/queue/bill/resume", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("resume status = %d", rec.Code)
	}

	rec = f.request(t, http.MethodPost, "/api/v1/queue/nosuch/retry", "")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("unknown stage should be 400, got %d", rec.Code)
	}

	if err := f.queue.Enqueue(ctx, queue.StageMatch, "corr-api-rm", "{}"); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	rec = f.request(t, http.MethodDelete, "/api/v1/queue/match/jobs/corr-api-rm", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("remove status = %d", rec.Code)
	}
	rec = f.request(t, http.MethodDelete, "/api/v1/queue/match/jobs/corr-api-rm", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("removing a removed job should be 404, got %d", rec.Code)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
