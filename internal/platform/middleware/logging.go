package middleware

import (
	"net/http"
	"time"

	"github.com/llmfleet/router/internal/platform/logging"
)

// RequestLoggingMiddleware emits one structured log line per request and
// stamps a trace ID onto the request context when absent.
type RequestLoggingMiddleware struct {
	logger *logging.Logger
}

func NewRequestLoggingMiddleware(logger *logging.Logger) *RequestLoggingMiddleware {
	return &RequestLoggingMiddleware{logger: logger}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (m *RequestLoggingMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := r.Header.Get("X-Trace-ID")
		if traceID == "" {
			traceID = logging.NewTraceID()
		}
		ctx := logging.WithTraceID(r.Context(), traceID)
		w.Header().Set("X-Trace-ID", traceID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r.WithContext(ctx))
		m.logger.LogRequest(ctx, r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}
