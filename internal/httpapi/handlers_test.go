package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"callsight/internal/calls"
	"callsight/internal/records"
	"callsight/internal/registry"
	"callsight/internal/reporting"
	"callsight/internal/strategy"

	"github.com/gin-gonic/gin"
)

func testHandlers(t *testing.T) (Handlers, *registry.Registry, *records.MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := registry.New(log)
	store := records.NewMemoryStore()
	h := Handlers{
		Registry:  reg,
		Strategy:  strategy.New(nil, nil, nil, log),
		Records:   store,
		Reporting: reporting.NewService(store),
	}
	return h, reg, store
}

func testRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.GET("/v1/calls/live", h.ListLiveCalls)
	r.GET("/v1/calls/history", h.ListCallHistory)
	r.GET("/v1/calls/summary", h.CallsSummary)
	r.GET("/v1/calls/:call_id", h.GetCall)
	r.GET("/v1/calls/:call_id/strategy", h.GetStrategy)
	r.GET("/v1/calls/:call_id/requirements", h.GetRequirements)
	return r
}

func doGET(t *testing.T, r *gin.Engine, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestListLiveCalls(t *testing.T) {
	h, reg, _ := testHandlers(t)
	status := calls.CallStatusRinging
	if _, err := reg.Upsert("CA1", registry.Update{Status: &status}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	w := doGET(t, testRouter(h), "/v1/calls/live")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Count != 1 {
		t.Fatalf("expected 1 live call, got %d", body.Count)
	}
}

func TestGetCallFallsBackToRecords(t *testing.T) {
	h, _, store := testHandlers(t)
	_ = store.UpsertCall(context.Background(), calls.Session{
		CallID:    "CA9",
		Status:    calls.CallStatusCompleted,
		StartTime: time.Unix(1700000000, 0).UTC(),
	})
	r := testRouter(h)

	if w := doGET(t, r, "/v1/calls/CA9"); w.Code != 200 {
		t.Fatalf("expected record fallback 200, got %d", w.Code)
	}
	if w := doGET(t, r, "/v1/calls/CA404"); w.Code != 404 {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetStrategyNotFound(t *testing.T) {
	h, _, _ := testHandlers(t)
	if w := doGET(t, testRouter(h), "/v1/calls/CA1/strategy"); w.Code != 404 {
		t.Fatalf("expected 404 before first strategy, got %d", w.Code)
	}
}

func TestGetRequirementsEmptyIsOK(t *testing.T) {
	h, _, _ := testHandlers(t)
	w := doGET(t, testRouter(h), "/v1/calls/CA1/requirements")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"count":0`) {
		t.Fatalf("expected empty requirements, got %s", w.Body.String())
	}
}

func TestHistoryRejectsBadRange(t *testing.T) {
	h, _, _ := testHandlers(t)
	r := testRouter(h)

	if w := doGET(t, r, "/v1/calls/history?from=notatime"); w.Code != 400 {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if w := doGET(t, r, "/v1/calls/history?from=2026-01-02T00:00:00Z&to=2026-01-01T00:00:00Z"); w.Code != 400 {
		t.Fatalf("expected 400 for inverted range, got %d", w.Code)
	}
}

func TestSummaryDefaultsToLastDay(t *testing.T) {
	h, _, store := testHandlers(t)
	_ = store.UpsertCall(context.Background(), calls.Session{
		CallID:          "CA1",
		Status:          calls.CallStatusCompleted,
		StartTime:       time.Now().UTC().Add(-time.Hour),
		DurationSeconds: 60,
	})

	w := doGET(t, testRouter(h), "/v1/calls/summary")
	if w.Code != 200 {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var out reporting.CallsSummary
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.TotalCalls != 1 || out.CompletedCalls != 1 {
		t.Fatalf("unexpected summary: %+v", out)
	}
}
