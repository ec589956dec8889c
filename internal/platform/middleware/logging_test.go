package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmfleet/router/internal/platform/logging"
)

func TestRequestLoggingMiddleware_StampsTraceID(t *testing.T) {
	log := logging.New("logging-test", "error", "json")
	m := NewRequestLoggingMiddleware(log)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Header().Get("X-Trace-ID") == "" {
		t.Error("X-Trace-ID should be stamped on the response")
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
}

func TestRequestLoggingMiddleware_PreservesIncomingTraceID(t *testing.T) {
	log := logging.New("logging-test", "error", "json")
	m := NewRequestLoggingMiddleware(log)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Trace-ID", "fixed-trace-id")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Trace-ID"); got != "fixed-trace-id" {
		t.Errorf("X-Trace-ID = %q, want incoming value preserved", got)
	}
}
