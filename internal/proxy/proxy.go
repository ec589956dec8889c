// Package proxy implements the warm-up admission, worker-selection, and
// upstream-forwarding pipeline shared by every proxy route (spec
// §4.3), plus the cloud-prefix passthrough shim (§4.4, in cloud.go).
package proxy

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/llmfleet/router/internal/loadmanager"
	"github.com/llmfleet/router/internal/model"
	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
	"github.com/llmfleet/router/internal/platform/logging"
	"github.com/llmfleet/router/internal/platform/metrics"
	"github.com/llmfleet/router/internal/registry"
	"github.com/llmfleet/router/internal/store/history"
)

// Handler wires the registry, load manager, and request-history store
// into the proxy pipeline.
type Handler struct {
	registry    *registry.Registry
	lm          *loadmanager.Manager
	history     *history.Store
	client      *http.Client
	log         *logging.Logger
	metrics     *metrics.Metrics
	metricsMode bool
}

// New builds a Handler. loadBalancerMode mirrors LOAD_BALANCER_MODE
// ("auto"|"metrics"); any value other than "metrics" behaves as "auto".
func New(reg *registry.Registry, lm *loadmanager.Manager, hist *history.Store, logger *logging.Logger, m *metrics.Metrics, loadBalancerMode string) *Handler {
	return &Handler{
		registry:    reg,
		lm:          lm,
		history:     hist,
		client:      &http.Client{Timeout: 5 * time.Minute},
		log:         logger,
		metrics:     m,
		metricsMode: loadBalancerMode == "metrics",
	}
}

type selector func(h *Handler, modelName string) (model.Node, error)

func selectByModel(h *Handler, modelName string) (model.Node, error) {
	return h.lm.SelectAvailableAgentForModel(modelName)
}

func selectAny(h *Handler, _ string) (model.Node, error) {
	if h.metricsMode {
		return h.lm.SelectAgentByMetrics()
	}
	return h.lm.SelectAgent()
}

// inboundBody is the subset of fields the pipeline needs to read off
// every proxy request body without disturbing the rest of the payload,
// which is forwarded verbatim.
type inboundBody struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

// HandleChat implements POST /api/chat.
func (h *Handler) HandleChat(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.RequestChat, selectByModel, "/v1/chat/completions")
}

// HandleGenerate implements POST /api/generate.
func (h *Handler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.RequestGenerate, selectByModel, "/v1/completions")
}

// HandleOpenAIChatCompletions implements POST /v1/chat/completions.
func (h *Handler) HandleOpenAIChatCompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.RequestChat, selectAny, "/v1/chat/completions")
}

// HandleOpenAICompletions implements POST /v1/completions.
func (h *Handler) HandleOpenAICompletions(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.RequestGenerate, selectAny, "/v1/completions")
}

// HandleOpenAIEmbeddings implements POST /v1/embeddings.
func (h *Handler) HandleOpenAIEmbeddings(w http.ResponseWriter, r *http.Request) {
	h.serve(w, r, model.RequestEmbeddings, selectAny, "/v1/embeddings")
}

func (h *Handler) serve(w http.ResponseWriter, r *http.Request, reqType model.RequestType, sel selector, upstreamPath string) {
	bodyBytes, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.RenderError(w, r, apperrors.Validation("failed to read request body"))
		return
	}

	var inbound inboundBody
	_ = json.Unmarshal(bodyBytes, &inbound)

	if provider, ok := cloudProviderPrefix(inbound.Model); ok {
		h.servePassthrough(w, r, provider, inbound, bodyBytes)
		return
	}

	requestedAt := time.Now().UTC()
	clientIP := httputil.ClientIP(r)

	if h.lm.AllInitializing() {
		h.journalAsync(model.RequestResponseRecord{
			RequestedAt: requestedAt,
			RequestType: reqType,
			Model:       inbound.Model,
			ClientIP:    clientIP,
			Status:      model.StatusQueued,
		})
		if err := h.lm.WaitForReady(r.Context()); err != nil {
			httputil.WriteOllamaError(w, r, http.StatusServiceUnavailable, "warming up")
			return
		}
	}

	node, err := sel(h, inbound.Model)
	if err != nil {
		httputil.RenderError(w, r, err)
		return
	}
	if node.Initializing {
		httputil.WriteOllamaError(w, r, http.StatusServiceUnavailable, "warming up")
		return
	}

	h.lm.BeginRequest(node.ID)
	start := time.Now()

	upstreamURL := "http://" + node.IPAddress + ":" + strconv.Itoa(node.RuntimePort+1) + upstreamPath
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, upstreamURL, bytes.NewReader(bodyBytes))
	if err != nil {
		h.finishError(start, reqType, inbound.Model, node, clientIP, requestedAt, err.Error())
		httputil.RenderError(w, r, apperrors.UpstreamHTTP(node.ID, err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		h.finishError(start, reqType, inbound.Model, node, clientIP, requestedAt, err.Error())
		h.log.LogUpstream(r.Context(), node.ID, upstreamPath, 0, time.Since(start), err)
		httputil.RenderError(w, r, apperrors.UpstreamHTTP(node.ID, err))
		return
	}
	defer resp.Body.Close()

	elapsed := time.Since(start)
	h.log.LogUpstream(r.Context(), node.ID, upstreamPath, resp.StatusCode, elapsed, nil)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		h.lm.FinishRequest(node.ID, loadmanager.Error, elapsed)
		h.journalAsync(model.RequestResponseRecord{
			RequestedAt:  requestedAt,
			RequestType:  reqType,
			Model:        inbound.Model,
			NodeID:       node.ID,
			MachineName:  node.MachineName,
			WorkerIP:     node.IPAddress,
			ClientIP:     clientIP,
			DurationMs:   elapsed.Milliseconds(),
			Status:       model.StatusError,
			ErrorMessage: string(respBody),
		})
		httputil.WriteOllamaError(w, r, resp.StatusCode, string(respBody))
		return
	}

	if inbound.Stream {
		h.lm.FinishRequest(node.ID, loadmanager.Success, elapsed)
		h.journalAsync(model.RequestResponseRecord{
			RequestedAt: requestedAt,
			RequestType: reqType,
			Model:       inbound.Model,
			NodeID:      node.ID,
			MachineName: node.MachineName,
			WorkerIP:    node.IPAddress,
			ClientIP:    clientIP,
			DurationMs:  elapsed.Milliseconds(),
			Status:      model.StatusSuccess,
		})
		h.pipeStream(w, resp)
		return
	}

	h.serveBuffered(w, r, resp, elapsed, reqType, node, bodyBytes, inbound, clientIP, requestedAt)
}

// pipeStream copies the upstream byte stream straight through to the
// client, preserving Content-Type; the journal never sees the body.
func (h *Handler) pipeStream(w http.ResponseWriter, resp *http.Response) {
	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/json"
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(resp.StatusCode)
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, writeErr := w.Write(buf[:n]); writeErr != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			return
		}
	}
}

func (h *Handler) serveBuffered(w http.ResponseWriter, r *http.Request, resp *http.Response, elapsed time.Duration, reqType model.RequestType, node model.Node, bodyBytes []byte, inbound inboundBody, clientIP string, requestedAt time.Time) {
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		h.lm.FinishRequest(node.ID, loadmanager.Error, elapsed)
		h.journalAsync(model.RequestResponseRecord{
			RequestedAt:  requestedAt,
			RequestType:  reqType,
			Model:        inbound.Model,
			NodeID:       node.ID,
			MachineName:  node.MachineName,
			WorkerIP:     node.IPAddress,
			ClientIP:     clientIP,
			DurationMs:   elapsed.Milliseconds(),
			Status:       model.StatusError,
			ErrorMessage: "failed to read upstream response: " + err.Error(),
		})
		httputil.RenderError(w, r, apperrors.UpstreamHTTP(node.ID, err))
		return
	}

	var parsed interface{}
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		h.lm.FinishRequest(node.ID, loadmanager.Error, elapsed)
		h.journalAsync(model.RequestResponseRecord{
			RequestedAt:  requestedAt,
			RequestType:  reqType,
			Model:        inbound.Model,
			NodeID:       node.ID,
			MachineName:  node.MachineName,
			WorkerIP:     node.IPAddress,
			ClientIP:     clientIP,
			DurationMs:   elapsed.Milliseconds(),
			Status:       model.StatusError,
			ErrorMessage: "failed to parse upstream response: " + err.Error(),
		})
		httputil.RenderError(w, r, apperrors.Wrap(apperrors.ErrCodeUpstreamError, "upstream returned invalid JSON", http.StatusBadGateway, err))
		return
	}

	h.lm.FinishRequest(node.ID, loadmanager.Success, elapsed)
	respStr := string(respBody)
	h.journalAsync(model.RequestResponseRecord{
		RequestedAt:  requestedAt,
		RequestType:  reqType,
		Model:        inbound.Model,
		NodeID:       node.ID,
		MachineName:  node.MachineName,
		WorkerIP:     node.IPAddress,
		ClientIP:     clientIP,
		RequestBody:  string(bodyBytes),
		ResponseBody: &respStr,
		DurationMs:   elapsed.Milliseconds(),
		Status:       model.StatusSuccess,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_ = json.NewEncoder(w).Encode(parsed)
}

func (h *Handler) finishError(start time.Time, reqType model.RequestType, modelName string, node model.Node, clientIP string, requestedAt time.Time, message string) {
	elapsed := time.Since(start)
	h.lm.FinishRequest(node.ID, loadmanager.Error, elapsed)
	h.journalAsync(model.RequestResponseRecord{
		RequestedAt:  requestedAt,
		RequestType:  reqType,
		Model:        modelName,
		NodeID:       node.ID,
		MachineName:  node.MachineName,
		WorkerIP:     node.IPAddress,
		ClientIP:     clientIP,
		DurationMs:   elapsed.Milliseconds(),
		Status:       model.StatusError,
		ErrorMessage: message,
	})
}

// journalAsync persists rec in a background goroutine so handler latency
// never depends on the journal file. Failures are logged only.
func (h *Handler) journalAsync(rec model.RequestResponseRecord) {
	go func() {
		if err := h.history.Append(rec); err != nil {
			h.log.WithError(err).Error("failed to append request history record")
		}
	}()
}
