package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/llmfleet/router/internal/platform/logging"
)

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	log := logging.New("recovery-test", "error", "json")
	m := NewRecoveryMiddleware(log)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}
}

func TestRecoveryMiddleware_PassesThroughWithoutPanic(t *testing.T) {
	log := logging.New("recovery-test", "error", "json")
	m := NewRecoveryMiddleware(log)
	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler should run normally")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}
