package dashboard

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"

	"github.com/llmfleet/router/internal/loadmanager"
	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/logging"
	"github.com/llmfleet/router/internal/registry"
	"github.com/llmfleet/router/internal/store/history"
)

func newTestHandler(t *testing.T) (*Handler, *registry.Registry) {
	t.Helper()
	dir := t.TempDir()
	log := logging.New("dashboard-test", "error", "json")

	reg, err := registry.New(dir, log)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	lm := loadmanager.New(reg, 4)
	hist, err := history.New(dir, log)
	if err != nil {
		t.Fatalf("history.New() error = %v", err)
	}
	return New(reg, lm, hist), reg
}

func TestHandleSummary(t *testing.T) {
	h, reg := newTestHandler(t)
	id, _, _, err := reg.Register(model.RegisterRequest{
		MachineName:  "gpu-1",
		IPAddress:    "10.0.0.1",
		RuntimePort:  11434,
		GPUAvailable: true,
		GPUDevices:   []model.GPUDevice{{Model: "A100", Count: 1}},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec := httptest.NewRecorder()
	h.HandleSummary(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/summary", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Fleet struct {
			TotalNodes int `json:"TotalNodes"`
		} `json:"fleet"`
		Nodes []nodeSnapshot `json:"nodes"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if body.Fleet.TotalNodes != 1 {
		t.Fatalf("TotalNodes = %d, want 1", body.Fleet.TotalNodes)
	}
	if len(body.Nodes) != 1 || body.Nodes[0].NodeID != id {
		t.Fatalf("nodes = %+v, want one entry for %s", body.Nodes, id)
	}
}

func TestHandleNodeSnapshot_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard/nodes/missing", nil)
	req = mux.SetURLVars(req, map[string]string{"id": "missing"})
	rec := httptest.NewRecorder()

	h.HandleNodeSnapshot(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestHandleRequestHistory_FixedLength(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleRequestHistory(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/request-history", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Buckets []model.RequestHistoryPoint `json:"buckets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if len(body.Buckets) != 60 {
		t.Fatalf("len(buckets) = %d, want 60", len(body.Buckets))
	}
}

func TestHandleExportCSV(t *testing.T) {
	h, _ := newTestHandler(t)

	rec := httptest.NewRecorder()
	h.HandleExportCSV(rec, httptest.NewRequest(http.MethodGet, "/api/dashboard/request-history/export.csv", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/csv" {
		t.Fatalf("Content-Type = %q, want text/csv", ct)
	}
}
