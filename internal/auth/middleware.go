package auth

import (
	"net/http"
	"strings"

	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
	"github.com/llmfleet/router/internal/platform/logging"
)

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(h, prefix) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(h, prefix)), true
}

// RequireUserJWT protects admin-facing endpoints: user management,
// API-key management, auth/me.
func (s *Service) RequireUserJWT(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.RenderError(w, r, apperrors.Unauthorized("missing bearer token"))
			return
		}
		claims, err := s.ValidateJWT(token)
		if err != nil {
			httputil.RenderError(w, r, err)
			return
		}
		ctx := logging.WithUserID(r.Context(), claims.UserID)
		ctx = logging.WithRole(ctx, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin composes with RequireUserJWT (must run after it) to
// further restrict a route to the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if logging.GetRole(r.Context()) != RoleAdmin {
			httputil.RenderError(w, r, apperrors.Forbidden("admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAPIKey protects the OpenAI-compatible endpoints.
func (s *Service) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			httputil.RenderError(w, r, apperrors.Unauthorized("missing api key"))
			return
		}
		userID, err := s.VerifyAPIKey(r.Context(), token)
		if err != nil {
			httputil.RenderError(w, r, err)
			return
		}
		ctx := logging.WithUserID(r.Context(), userID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAgentToken protects the heartbeat endpoint.
func (s *Service) RequireAgentToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := strings.TrimSpace(r.Header.Get("X-Agent-Token"))
		if token == "" {
			httputil.RenderError(w, r, apperrors.Unauthorized("missing agent token"))
			return
		}
		nodeID, err := s.VerifyAgentToken(r.Context(), token)
		if err != nil {
			httputil.RenderError(w, r, err)
			return
		}
		ctx := logging.WithNodeID(r.Context(), nodeID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
