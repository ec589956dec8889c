package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/llmfleet/router/internal/loadmanager"
	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/logging"
	"github.com/llmfleet/router/internal/platform/metrics"
	"github.com/llmfleet/router/internal/registry"
	"github.com/llmfleet/router/internal/store/history"
)

// awaitJournal polls the history store for the async journalAsync
// goroutine to land its write, since journaling is deliberately
// fire-and-forget relative to the handler's response.
func awaitJournal(t *testing.T, hist *history.Store, want int) []model.RequestResponseRecord {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for {
		recs, err := hist.LoadAll()
		if err != nil {
			t.Fatalf("LoadAll() error = %v", err)
		}
		if len(recs) >= want || time.Now().After(deadline) {
			return recs
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func testLogger() *logging.Logger {
	return logging.New("proxy-test", "error", "json")
}

// newReadyNode registers one node backed by upstream (a running
// httptest.Server standing in for the worker runtime) and marks it
// ready via a heartbeat, so selection will pick it immediately.
func newReadyNode(t *testing.T, reg *registry.Registry, lm *loadmanager.Manager, upstream *httptest.Server, modelName string) model.Node {
	t.Helper()
	u, err := url.Parse(upstream.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse upstream port: %v", err)
	}

	id, _, _, err := reg.Register(model.RegisterRequest{
		MachineName:    "node-" + modelName,
		IPAddress:      u.Hostname(),
		RuntimeVersion: "0.1",
		RuntimePort:    port - 1,
		GPUAvailable:   true,
		GPUDevices:     []model.GPUDevice{{Model: "A100", Count: 1}},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	if err := reg.UpdateLastSeen(id, []string{modelName}, nil, boolPtr(false), nil); err != nil {
		t.Fatalf("UpdateLastSeen() error = %v", err)
	}
	if err := lm.RecordMetrics(id, model.HeartbeatMetrics{NodeID: id, Initializing: false}); err != nil {
		t.Fatalf("RecordMetrics() error = %v", err)
	}

	node, ok := reg.Get(id)
	if !ok {
		t.Fatalf("Get(%s): node not found after registration", id)
	}
	return node
}

func boolPtr(b bool) *bool { return &b }

func newTestHandler(t *testing.T) (*Handler, *registry.Registry, *loadmanager.Manager, *history.Store) {
	t.Helper()
	dir := t.TempDir()
	log := testLogger()

	reg, err := registry.New(dir, log)
	if err != nil {
		t.Fatalf("registry.New() error = %v", err)
	}
	lm := loadmanager.New(reg, 4)
	hist, err := history.New(dir, log)
	if err != nil {
		t.Fatalf("history.New() error = %v", err)
	}
	h := New(reg, lm, hist, log, metrics.New(), "auto")
	return h, reg, lm, hist
}

func TestHandleChat_HappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"message":{"role":"assistant","content":"hi"}}`))
	}))
	defer upstream.Close()

	h, reg, lm, hist := newTestHandler(t)
	newReadyNode(t, reg, lm, upstream, "llama3.1:8b")

	body, _ := json.Marshal(map[string]any{"model": "llama3.1:8b", "stream": false})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}

	recs := awaitJournal(t, hist, 1)
	if len(recs) != 1 || recs[0].Status != model.StatusSuccess {
		t.Fatalf("journal = %+v, want one Success record", recs)
	}
}

func TestHandleChat_UpstreamNonTwoXX(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer upstream.Close()

	h, reg, lm, hist := newTestHandler(t)
	newReadyNode(t, reg, lm, upstream, "llama3.1:8b")

	body, _ := json.Marshal(map[string]any{"model": "llama3.1:8b"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500 passthrough", rec.Code)
	}
	var envelope struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("response not valid ollama error envelope: %v", err)
	}
	if envelope.Error.Type != "ollama_upstream_error" {
		t.Fatalf("error.type = %q, want ollama_upstream_error", envelope.Error.Type)
	}

	recs := awaitJournal(t, hist, 1)
	if len(recs) != 1 || recs[0].Status != model.StatusError {
		t.Fatalf("journal = %+v, want one Error record", recs)
	}
}

func TestHandleChat_NoNodesAvailable(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	// With no node state the fleet counts as all-initializing, so the
	// request parks in the admission queue until its context ends.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	body, _ := json.Marshal(map[string]any{"model": "llama3.1:8b"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body)).WithContext(ctx)
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleChat_Streaming(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte(`{"chunk":1}` + "\n"))
		flusher.Flush()
		_, _ = w.Write([]byte(`{"chunk":2}` + "\n"))
		flusher.Flush()
	}))
	defer upstream.Close()

	h, reg, lm, hist := newTestHandler(t)
	newReadyNode(t, reg, lm, upstream, "llama3.1:8b")

	body, _ := json.Marshal(map[string]any{"model": "llama3.1:8b", "stream": true})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	got, err := io.ReadAll(rec.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	want := `{"chunk":1}` + "\n" + `{"chunk":2}` + "\n"
	if string(got) != want {
		t.Fatalf("streamed body = %q, want %q", got, want)
	}

	recs := awaitJournal(t, hist, 1)
	if len(recs) != 1 || recs[0].ResponseBody != nil {
		t.Fatalf("journal = %+v, want one record with nil ResponseBody", recs)
	}
}

func TestServePassthrough_OpenAI(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization header = %q, want Bearer test-key", got)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	cloudEndpoints[providerOpenAI] = upstream.URL
	defer func() { cloudEndpoints[providerOpenAI] = "https://api.openai.com/v1/chat/completions" }()
	t.Setenv("OPENAI_API_KEY", "test-key")

	h, _, _, hist := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{"model": "openai:gpt-4o"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body=%s)", rec.Code, rec.Body.String())
	}

	time.Sleep(50 * time.Millisecond)
	recs, err := hist.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll() error = %v", err)
	}
	if len(recs) != 0 {
		t.Fatalf("journal = %+v, cloud passthrough must not be journaled", recs)
	}
}

func TestServePassthrough_MissingCredential(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{"model": "openai:gpt-4o"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestServePassthrough_TypoNormalizedAndReserved(t *testing.T) {
	h, _, _, _ := newTestHandler(t)

	body, _ := json.Marshal(map[string]any{"model": "ahtnorpic:claude"})
	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewReader(body))
	rec := httptest.NewRecorder()

	h.HandleChat(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 (reserved, not implemented)", rec.Code)
	}
}
