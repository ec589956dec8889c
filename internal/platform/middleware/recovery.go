package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
	"github.com/llmfleet/router/internal/platform/logging"
)

// RecoveryMiddleware turns a panicking handler into a 500 JSON response.
type RecoveryMiddleware struct {
	logger *logging.Logger
}

func NewRecoveryMiddleware(logger *logging.Logger) *RecoveryMiddleware {
	return &RecoveryMiddleware{logger: logger}
}

func (m *RecoveryMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				stack := debug.Stack()
				m.logger.WithContext(r.Context()).WithFields(map[string]interface{}{
					"panic":  fmt.Sprintf("%v", err),
					"stack":  string(stack),
					"path":   r.URL.Path,
					"method": r.Method,
				}).Error("panic recovered")

				svcErr := apperrors.Internal("internal server error", fmt.Errorf("%v", err))
				httputil.WriteErrorResponse(w, r, svcErr.HTTPStatus, string(svcErr.Code), svcErr.Message, svcErr.Details)
			}
		}()
		next.ServeHTTP(w, r)
	})
}
