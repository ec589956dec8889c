// Package dashboard implements the Dashboard/Stats Read API (spec
// component H): it joins the registry, load manager, and request
// history store into read-only operator-facing snapshots.
package dashboard

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/llmfleet/router/internal/loadmanager"
	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
	"github.com/llmfleet/router/internal/registry"
	"github.com/llmfleet/router/internal/store/history"
)

func statusFromQuery(s string) model.RequestStatus {
	switch model.RequestStatus(s) {
	case model.StatusSuccess, model.StatusError, model.StatusQueued:
		return model.RequestStatus(s)
	default:
		return ""
	}
}

// Handler serves the dashboard read endpoints.
type Handler struct {
	registry *registry.Registry
	lm       *loadmanager.Manager
	history  *history.Store
}

func New(reg *registry.Registry, lm *loadmanager.Manager, hist *history.Store) *Handler {
	return &Handler{registry: reg, lm: lm, history: hist}
}

// nodeSnapshot joins one node's registry record with its live load state.
type nodeSnapshot struct {
	NodeID         string  `json:"node_id"`
	MachineName    string  `json:"machine_name"`
	Status         string  `json:"status"`
	Initializing   bool    `json:"initializing"`
	ReadyModels    [2]int  `json:"ready_models"`
	CombinedActive int64   `json:"combined_active_requests"`
	TotalAssigned  int64   `json:"total_assigned"`
	SuccessCount   int64   `json:"success_count"`
	ErrorCount     int64   `json:"error_count"`
	EffectiveAvgMs float64 `json:"effective_avg_ms"`
	IsStale        bool    `json:"is_stale"`
}

func toSnapshot(nodeID, machineName string, status string, snap loadmanager.AgentLoadSnapshot) nodeSnapshot {
	return nodeSnapshot{
		NodeID:         nodeID,
		MachineName:    machineName,
		Status:         status,
		Initializing:   snap.Initializing,
		ReadyModels:    [2]int{snap.ReadyModels.Ready, snap.ReadyModels.Total},
		CombinedActive: snap.CombinedActive,
		TotalAssigned:  snap.TotalAssigned,
		SuccessCount:   snap.SuccessCount,
		ErrorCount:     snap.ErrorCount,
		EffectiveAvgMs: snap.EffectiveAvgMs,
		IsStale:        snap.IsStale,
	}
}

// HandleSummary implements GET /api/dashboard/summary: the fleet-wide
// rollup from loadmanager.Summary plus per-node snapshots.
func (h *Handler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	nodes := h.registry.List()
	snapshots := make([]nodeSnapshot, 0, len(nodes))
	for _, n := range nodes {
		snapshots = append(snapshots, toSnapshot(n.ID, n.MachineName, string(n.Status), h.lm.Snapshot(n.ID)))
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"fleet": h.lm.Summary(),
		"nodes": snapshots,
	})
}

// HandleNodeSnapshot implements GET /api/dashboard/nodes/{id}.
func (h *Handler) HandleNodeSnapshot(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	n, ok := h.registry.Get(id)
	if !ok {
		httputil.RenderError(w, r, apperrors.NotFound("node", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toSnapshot(n.ID, n.MachineName, string(n.Status), h.lm.Snapshot(n.ID)))
}

// HandleNodeMetricsHistory implements GET /api/dashboard/nodes/{id}/metrics,
// backed by the Load Manager's bounded 360-sample ring.
func (h *Handler) HandleNodeMetricsHistory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if _, ok := h.registry.Get(id); !ok {
		httputil.RenderError(w, r, apperrors.NotFound("node", id))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"node_id": id,
		"samples": h.lm.MetricsHistory(id),
	})
}

// HandleRequestHistory implements GET /api/dashboard/request-history: the
// fixed-length, zero-filled 60-minute request histogram.
func (h *Handler) HandleRequestHistory(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"buckets": h.lm.RequestHistory(),
	})
}

// HandleRequestLog implements GET /api/dashboard/request-history/log: the
// filtered, paginated request journal.
func (h *Handler) HandleRequestLog(w http.ResponseWriter, r *http.Request) {
	offset, limit := httputil.PaginationParams(r, 50, 500)
	filter := history.Filter{
		ModelSubstring: httputil.QueryString(r, "model", ""),
		NodeID:         httputil.QueryString(r, "node_id", ""),
	}
	if status := httputil.QueryString(r, "status", ""); status != "" {
		filter.Status = statusFromQuery(status)
	}

	recs, total, err := h.history.FilterAndPaginate(filter, offset, limit)
	if err != nil {
		httputil.RenderError(w, r, apperrors.Internal("load request history", err))
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"records": recs,
		"total":   total,
		"offset":  offset,
		"limit":   limit,
	})
}

// HandleExportCSV implements GET /api/dashboard/request-history/export.csv.
func (h *Handler) HandleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="request-history.csv"`)
	if err := h.history.ExportCSV(w); err != nil {
		httputil.RenderError(w, r, apperrors.Internal("export request history", err))
	}
}
