package handler

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/mattn/go-sqlite3"

	"github.com/envlight/hdrid/internal/config"
	"github.com/envlight/hdrid/internal/harvest"
	"github.com/envlight/hdrid/internal/job"
	"github.com/envlight/hdrid/internal/job/repository"
	"github.com/envlight/hdrid/internal/queue"
	"github.com/envlight/hdrid/internal/service"
	"github.com/envlight/hdrid/internal/storage"
	"github.com/envlight/hdrid/internal/task"
	"github.com/envlight/hdrid/internal/webhook"
)

type env struct {
	router     *gin.Engine
	repo       repository.JobRepository
	reconciler *webhook.Reconciler
}

func newEnv(t *testing.T) *env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo, err := repository.New(db, "sqlite3")
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}

	q, err := queue.New(&config.Queue{Broker: "memory", VisibilityTimeout: time.Minute})
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	q.Register(task.KindProcess, func(context.Context, *queue.Task) error { return nil })
	q.AddLane(queue.LaneProcessing, 1)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = q.Stop(ctx)
	})

	svc := service.New(repo, nil, q, &config.Provider{})
	store := storage.NewFileSystem(t.TempDir())
	rec := webhook.New(repo, harvest.New(store), &config.Webhook{Secret: "hook-secret"})

	router := gin.New()
	New(svc, rec).Register(router)
	return &env{router: router, repo: repo, reconciler: rec}
}

func (e *env) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) createJob(t *testing.T) string {
	t.Helper()

	w := e.do(t, http.MethodPost, "/api/jobs", gin.H{
		"input_file_id":   "file-1",
		"input_file_name": "office.jpg",
		"input_file_url":  "https://files.test/office.jpg",
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create job: status %d body %s", w.Code, w.Body.String())
	}

	var j job.Job
	if err := json.Unmarshal(w.Body.Bytes(), &j); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	return j.ID
}

func TestCreateAndGetJob(t *testing.T) {
	e := newEnv(t)
	id := e.createJob(t)

	w := e.do(t, http.MethodGet, "/api/jobs/"+id, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get job: status %d", w.Code)
	}
	var j job.Job
	if err := json.Unmarshal(w.Body.Bytes(), &j); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if j.Status != job.StatusPending || j.Config.Resolution != 1024 {
		t.Errorf("unexpected job %+v", j)
	}
	if w.Header().Get("X-Trace-Id") == "" {
		t.Error("missing trace id header")
	}

	if w := e.do(t, http.MethodGet, "/api/jobs/missing", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}
}

func TestCreateJob_BadRequests(t *testing.T) {
	e := newEnv(t)

	w := e.do(t, http.MethodPost, "/api/jobs", gin.H{"input_file_name": "x.jpg"}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file id: expected 400, got %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/api/jobs", gin.H{
		"input_file_id":   "file-1",
		"input_file_name": "x.jpg",
		"configuration":   gin.H{"resolution": 999},
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad resolution: expected 400, got %d", w.Code)
	}
}

func TestListJobs(t *testing.T) {
	e := newEnv(t)
	e.createJob(t)
	e.createJob(t)

	w := e.do(t, http.MethodGet, "/api/jobs?limit=1", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: status %d", w.Code)
	}
	var out struct {
		Jobs  []job.Job `json:"jobs"`
		Limit int       `json:"limit"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.Jobs) != 1 || out.Limit != 1 {
		t.Errorf("unexpected page %+v", out)
	}
}

func TestCancelJob(t *testing.T) {
	e := newEnv(t)
	id := e.createJob(t)

	w := e.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel: status %d body %s", w.Code, w.Body.String())
	}

	if w := e.do(t, http.MethodPost, "/api/jobs/"+id+"/cancel", nil, nil); w.Code != http.StatusConflict {
		t.Errorf("second cancel: expected 409, got %d", w.Code)
	}
	if w := e.do(t, http.MethodPost, "/api/jobs/missing/cancel", nil, nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown job cancel: expected 404, got %d", w.Code)
	}
}

func TestJobResults(t *testing.T) {
	e := newEnv(t)
	id := e.createJob(t)

	if w := e.do(t, http.MethodGet, "/api/jobs/"+id+"/results", nil, nil); w.Code != http.StatusConflict {
		t.Errorf("pending results: expected 409, got %d", w.Code)
	}

	files := []job.ResultFile{{Filename: "result.hdr", Type: job.FileTypeHDRI, Format: "hdr"}}
	if _, _, err := e.repo.ApplyEvent(context.Background(), id, job.Completed(files)); err != nil {
		t.Fatalf("complete: %v", err)
	}

	w := e.do(t, http.MethodGet, "/api/jobs/"+id+"/results", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("results: status %d", w.Code)
	}
	var out struct {
		ResultFiles []job.ResultFile `json:"result_files"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out.ResultFiles) != 1 {
		t.Errorf("unexpected results %+v", out)
	}
}

func TestStatisticsAndHealth(t *testing.T) {
	e := newEnv(t)
	e.createJob(t)

	w := e.do(t, http.MethodGet, "/api/statistics", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("statistics: status %d", w.Code)
	}
	var stats service.Statistics
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 1 {
		t.Errorf("expected 1 job, got %d", stats.Total)
	}

	for _, path := range []string{"/api/health", "/webhooks/health"} {
		if w := e.do(t, http.MethodGet, path, nil, nil); w.Code != http.StatusOK {
			t.Errorf("%s: status %d", path, w.Code)
		}
	}
}

func TestProviderWebhook(t *testing.T) {
	e := newEnv(t)
	id := e.createJob(t)
	if err := e.repo.SetExternalID(context.Background(), id, "ext-1"); err != nil {
		t.Fatalf("set external id: %v", err)
	}

	body, _ := json.Marshal(gin.H{"id": "ext-1", "status": "IN_PROGRESS", "progress": 55})

	// A present but wrong signature is rejected. The provider sends it in
	// the X-Signature header.
	w := e.do(t, http.MethodPost, "/webhooks/runpod", gin.H{"id": "ext-1", "status": "IN_PROGRESS"},
		map[string]string{"X-Signature": "sha256=deadbeef"})
	if w.Code != http.StatusUnauthorized {
		t.Errorf("mis-signed: expected 401, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/runpod", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, e.reconciler.Sign(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed: status %d body %s", rec.Code, rec.Body.String())
	}

	j, err := e.repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if j.Status != job.StatusProcessing || j.Progress != 55 {
		t.Errorf("notification not applied: %+v", j)
	}
}

func TestProviderWebhook_UnsignedAccepted(t *testing.T) {
	e := newEnv(t)
	id := e.createJob(t)
	if err := e.repo.SetExternalID(context.Background(), id, "ext-u"); err != nil {
		t.Fatalf("set external id: %v", err)
	}

	// Signing is optional; a well-formed body with no signature header is
	// applied like any other notification.
	w := e.do(t, http.MethodPost, "/webhooks/runpod", gin.H{"id": "ext-u", "status": "IN_PROGRESS", "progress": 30}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("unsigned: expected 200, got %d body %s", w.Code, w.Body.String())
	}

	j, err := e.repo.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if j.Status != job.StatusProcessing || j.Progress != 30 {
		t.Errorf("unsigned notification not applied: %+v", j)
	}
}

func TestProviderWebhook_UnknownReferenceAcked(t *testing.T) {
	e := newEnv(t)

	body, _ := json.Marshal(gin.H{"id": "ghost", "status": "COMPLETED"})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/runpod", bytes.NewReader(body))
	req.Header.Set(SignatureHeader, e.reconciler.Sign(body))
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected ack for unknown reference, got %d", rec.Code)
	}
	var out struct {
		Applied bool `json:"applied"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Applied {
		t.Error("unknown reference must not be applied")
	}
}

func TestTestWebhook(t *testing.T) {
	e := newEnv(t)
	id := e.createJob(t)
	if err := e.repo.SetExternalID(context.Background(), id, "ext-t"); err != nil {
		t.Fatalf("set external id: %v", err)
	}

	w := e.do(t, http.MethodPost, "/webhooks/test", gin.H{"id": "ext-t", "status": "FAILED", "error": "synthetic"}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("test webhook: status %d", w.Code)
	}

	j, _ := e.repo.FindByID(context.Background(), id)
	if j.Status != job.StatusFailed || j.ErrorMessage != "synthetic" {
		t.Errorf("test notification not applied: %+v", j)
	}
}
