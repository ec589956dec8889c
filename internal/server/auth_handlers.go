package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/llmfleet/router/internal/platform/httputil"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// handleLogin implements POST /api/auth/login.
func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	token, exp, err := s.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":      token,
		"expires_at": exp,
	})
}

// handleBootstrap implements POST /api/auth/bootstrap: creates the first
// Admin user. Self-disables once any user exists.
func (s *Server) handleBootstrap(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	u, err := s.auth.Bootstrap(r.Context(), req.Username, req.Password)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

// handleMe implements GET /api/auth/me.
func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	u, err := s.auth.Me(r.Context(), userID)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

type createUserRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

// handleCreateUser implements POST /api/auth/users (admin-only).
func (s *Server) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	u, err := s.auth.CreateUser(r.Context(), req.Username, req.Password, req.Role)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

// handleDeleteUser implements DELETE /api/auth/users/:id (admin-only).
func (s *Server) handleDeleteUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.auth.DeleteUser(r.Context(), id); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type issueAPIKeyRequest struct {
	Name string `json:"name"`
}

// handleIssueAPIKey implements POST /api/auth/apikeys.
func (s *Server) handleIssueAPIKey(w http.ResponseWriter, r *http.Request) {
	var req issueAPIKeyRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	userID := httputil.GetUserID(r)
	key, err := s.auth.IssueAPIKey(r.Context(), userID, req.Name, nil)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{"api_key": key})
}

// handleListAPIKeys implements GET /api/auth/apikeys.
func (s *Server) handleListAPIKeys(w http.ResponseWriter, r *http.Request) {
	userID := httputil.GetUserID(r)
	keys, err := s.auth.ListAPIKeys(r.Context(), userID)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, keys)
}

// handleRevokeAPIKey implements DELETE /api/auth/apikeys/:id.
func (s *Server) handleRevokeAPIKey(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.auth.RevokeAPIKey(r.Context(), id); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
