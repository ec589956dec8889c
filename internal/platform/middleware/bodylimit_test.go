package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestBodyLimitMiddleware_RejectsOversizedContentLength(t *testing.T) {
	m := NewBodyLimitMiddleware(10)
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler should not run when Content-Length exceeds the limit")
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("this body is far too long"))
	req.ContentLength = int64(len("this body is far too long"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusRequestEntityTooLarge)
	}
}

func TestBodyLimitMiddleware_AllowsWithinLimit(t *testing.T) {
	m := NewBodyLimitMiddleware(1 << 20)
	called := false
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("small"))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler should run for a body within the limit")
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestBodyLimitMiddleware_DefaultsWhenNonPositive(t *testing.T) {
	m := NewBodyLimitMiddleware(0)
	if m.maxBytes != defaultMaxRequestBodyBytes {
		t.Errorf("maxBytes = %d, want default %d", m.maxBytes, defaultMaxRequestBodyBytes)
	}
}
