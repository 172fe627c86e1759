package scheduler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"serviceflow_backend/platform/logger"

	"github.com/gin-gonic/gin"
)

type fakeEnqueuer struct {
	cleanupCalls int
	sweepCalls   int
	sweepPayload TokenRefreshSweepPayload
	err          error
}

func (f *fakeEnqueuer) EnqueueDedupLogCleanup(context.Context) error {
	f.cleanupCalls++
	return f.err
}

func (f *fakeEnqueuer) EnqueueTokenRefreshSweep(_ context.Context, payload TokenRefreshSweepPayload) error {
	f.sweepCalls++
	f.sweepPayload = payload
	return f.err
}

func newAdminRouter(t *testing.T, enq *fakeEnqueuer) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	engine := gin.New()

	m := NewModule(enq, logger.New("development"))
	jobs := engine.Group("/jobs")
	jobs.POST("/dedup-cleanup", m.handleDedupCleanup)
	jobs.POST("/token-sweep", m.handleTokenSweep)
	return engine
}

func TestDedupCleanupEndpointQueuesTask(t *testing.T) {
	enq := &fakeEnqueuer{}
	engine := newAdminRouter(t, enq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/dedup-cleanup", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if enq.cleanupCalls != 1 {
		t.Fatalf("expected one enqueue, got %d", enq.cleanupCalls)
	}
}

func TestDedupCleanupEndpointReportsQueueFailure(t *testing.T) {
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	engine := newAdminRouter(t, enq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/dedup-cleanup", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestTokenSweepEndpointPassesLimit(t *testing.T) {
	enq := &fakeEnqueuer{}
	engine := newAdminRouter(t, enq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/token-sweep", strings.NewReader(`{"limit": 25}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}
	if enq.sweepCalls != 1 || enq.sweepPayload.Limit != 25 {
		t.Fatalf("expected sweep with limit 25, got calls=%d payload=%+v", enq.sweepCalls, enq.sweepPayload)
	}
}

func TestTokenSweepEndpointBodyIsOptional(t *testing.T) {
	enq := &fakeEnqueuer{}
	engine := newAdminRouter(t, enq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/token-sweep", nil)
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	if enq.sweepPayload.Limit != 0 {
		t.Fatalf("expected zero limit without body, got %d", enq.sweepPayload.Limit)
	}
}

func TestTokenSweepEndpointRejectsNegativeLimit(t *testing.T) {
	enq := &fakeEnqueuer{}
	engine := newAdminRouter(t, enq)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/jobs/token-sweep", strings.NewReader(`{"limit": -1}`))
	req.Header.Set("Content-Type", "application/json")
	engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if enq.sweepCalls != 0 {
		t.Fatal("negative limit must not be queued")
	}
}
