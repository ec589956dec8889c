package server

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
)

// handleListAvailableModels implements GET /api/models/available.
func (s *Server) handleListAvailableModels(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.catalog.List())
}

// handleListOpenAIModels implements GET /v1/models.
func (s *Server) handleListOpenAIModels(w http.ResponseWriter, r *http.Request) {
	entries := s.catalog.List()
	data := make([]map[string]interface{}, 0, len(entries))
	for _, e := range entries {
		data = append(data, map[string]interface{}{"id": e.Name, "object": "model"})
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"object": "list", "data": data})
}

// handleGetOpenAIModel implements GET /v1/models/:id.
func (s *Server) handleGetOpenAIModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	m, ok := s.catalog.Get(id)
	if !ok {
		httputil.RenderError(w, r, apperrors.NotFound("model", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"id": m.Name, "object": "model"})
}

// handleListNodeModels implements GET /api/nodes/:id/models.
func (s *Server) handleListNodeModels(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, ok := s.registry.Get(id)
	if !ok {
		httputil.RenderError(w, r, apperrors.NotFound("node", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, n.LoadedModels)
}

type distributeRequest struct {
	Model string `json:"model"`
	Nodes []string `json:"nodes"`
}

// handleDistributeModel implements POST /api/models/distribute: creates
// one download task per target node and dispatches a /pull call to each.
func (s *Server) handleDistributeModel(w http.ResponseWriter, r *http.Request) {
	var req distributeRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" || len(req.Nodes) == 0 {
		httputil.RenderError(w, r, apperrors.Validation("model and nodes are required"))
		return
	}

	tasks := make([]interface{}, 0, len(req.Nodes))
	for _, nodeID := range req.Nodes {
		n, ok := s.registry.Get(nodeID)
		if !ok {
			continue
		}
		task := s.tasks.CreateTask(n.ID, n.IPAddress, n.ControlPort, req.Model)
		tasks = append(tasks, task)
	}
	httputil.WriteJSON(w, http.StatusAccepted, map[string]interface{}{"tasks": tasks})
}

// handlePullModel implements POST /api/nodes/:id/models/pull: a single-node
// variant of distribute.
func (s *Server) handlePullModel(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req struct {
		Model string `json:"model"`
	}
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	n, ok := s.registry.Get(id)
	if !ok {
		httputil.RenderError(w, r, apperrors.NotFound("node", id))
		return
	}
	task := s.tasks.CreateTask(n.ID, n.IPAddress, n.ControlPort, req.Model)
	httputil.WriteJSON(w, http.StatusAccepted, task)
}

// handleGetTask implements GET /api/tasks/:id.
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	t, ok := s.tasks.GetTask(id)
	if !ok {
		httputil.RenderError(w, r, apperrors.NotFound("task", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

type taskProgressRequest struct {
	Progress    float64  `json:"progress"`
	BytesPerSec *float64 `json:"bytes_per_sec"`
	Error       *string  `json:"error"`
}

// handleTaskProgress implements POST /api/tasks/:id/progress: reported by
// the worker (agent token) as it pulls a model. Completing the task marks
// the model loaded on the owning node.
func (s *Server) handleTaskProgress(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req taskProgressRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}

	task, completed, err := s.tasks.UpdateProgress(id, req.Progress, req.BytesPerSec, req.Error)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	if completed {
		if err := s.registry.MarkModelLoaded(task.NodeID, task.Model); err != nil {
			s.log.WithError(err).Warn("failed to mark model loaded after task completion")
		}
	}
	httputil.WriteJSON(w, http.StatusOK, task)
}
