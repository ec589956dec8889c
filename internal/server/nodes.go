package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
	"github.com/llmfleet/router/internal/platform/logging"
	"github.com/llmfleet/router/internal/registry"
)

// handleRegisterNode implements POST /api/nodes.
func (s *Server) handleRegisterNode(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	id, outcome, controlPort, err := s.registry.Register(req)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}

	resp := map[string]interface{}{
		"node_id":        id,
		"status":         outcome,
		"agent_api_port": controlPort,
	}

	if outcome == registry.Registered {
		token, tokenErr := s.auth.IssueAgentToken(r.Context(), id)
		if tokenErr != nil {
			s.log.WithError(tokenErr).Error("failed to issue agent token")
		} else {
			resp["agent_token"] = token
		}
		httputil.WriteJSON(w, http.StatusCreated, resp)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleListNodes implements GET /api/nodes.
func (s *Server) handleListNodes(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.registry.List())
}

// handleUpdateNodeSettings implements PUT /api/nodes/:id/settings.
func (s *Server) handleUpdateNodeSettings(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var update model.SettingsUpdate
	if !httputil.DecodeJSON(w, r, &update) {
		return
	}
	if err := s.registry.UpdateSettings(id, update); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	n, _ := s.registry.Get(id)
	httputil.WriteJSON(w, http.StatusOK, n)
}

// handleDeleteNode implements DELETE /api/nodes/:id.
func (s *Server) handleDeleteNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.Delete(id); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	if err := s.auth.RevokeAgentTokens(r.Context(), id); err != nil {
		s.log.WithError(err).Warn("failed to revoke agent tokens for deleted node")
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleDisconnectNode implements POST /api/nodes/:id/disconnect.
func (s *Server) handleDisconnectNode(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.registry.MarkOffline(id); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// handleHeartbeat implements POST /api/health. The agent token carries the
// claimed node id via middleware; the heartbeat body must agree.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb model.HeartbeatMetrics
	if !httputil.DecodeJSON(w, r, &hb) {
		return
	}
	if hb.NodeID == "" {
		httputil.RenderError(w, r, apperrors.Validation("node_id is required"))
		return
	}
	if claimed := logging.GetNodeID(r.Context()); claimed != hb.NodeID {
		httputil.RenderError(w, r, apperrors.Forbidden("heartbeat node_id does not match the agent token"))
		return
	}

	var capability *model.GPUCapability
	if hb.GPUModelName != nil || hb.GPUComputeCapability != nil || hb.GPUCapabilityScore != nil {
		capability = &model.GPUCapability{}
		if hb.GPUModelName != nil {
			capability.ModelName = *hb.GPUModelName
		}
		if hb.GPUComputeCapability != nil {
			capability.ComputeCap = *hb.GPUComputeCapability
		}
		if hb.GPUCapabilityScore != nil {
			capability.CapabilityScore = *hb.GPUCapabilityScore
		}
	}
	var ready *model.ReadyModels
	if hb.ReadyModels != nil {
		ready = &model.ReadyModels{Ready: hb.ReadyModels[0], Total: hb.ReadyModels[1]}
	}
	initializing := hb.Initializing

	if err := s.registry.UpdateLastSeen(hb.NodeID, hb.LoadedModels, capability, &initializing, ready); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	if err := s.lm.RecordMetrics(hb.NodeID, hb); err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
