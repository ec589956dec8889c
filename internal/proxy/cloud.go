package proxy

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/httputil"
)

// cloudProvider identifies a recognized cloud-prefix passthrough target.
type cloudProvider string

const (
	providerOpenAI    cloudProvider = "openai"
	providerGoogle    cloudProvider = "google"
	providerAnthropic cloudProvider = "anthropic"
)

// cloudProviderPrefix recognizes a "provider:rest-of-model" prefix on
// modelName, normalizing the common "ahtnorpic:" typo to "anthropic:".
// It returns ok=false for models with no recognized prefix at all,
// which should proceed through ordinary node selection.
func cloudProviderPrefix(modelName string) (cloudProvider, bool) {
	idx := strings.Index(modelName, ":")
	if idx <= 0 {
		return "", false
	}
	prefix := strings.ToLower(modelName[:idx])
	if prefix == "ahtnorpic" {
		prefix = "anthropic"
	}
	switch cloudProvider(prefix) {
	case providerOpenAI, providerGoogle, providerAnthropic:
		return cloudProvider(prefix), true
	}
	return "", false
}

var cloudEndpoints = map[cloudProvider]string{
	providerOpenAI: "https://api.openai.com/v1/chat/completions",
}

var cloudEnvVars = map[cloudProvider]string{
	providerOpenAI:    "OPENAI_API_KEY",
	providerGoogle:    "GOOGLE_API_KEY",
	providerAnthropic: "ANTHROPIC_API_KEY",
}

// servePassthrough implements §4.4: cloud-prefixed models skip node
// selection, accounting, and journaling entirely. Only openai: is
// actually wired to an upstream; the other recognized prefixes are
// reserved for future implementation.
func (h *Handler) servePassthrough(w http.ResponseWriter, r *http.Request, provider cloudProvider, inbound inboundBody, bodyBytes []byte) {
	if inbound.Stream {
		httputil.RenderError(w, r, apperrors.Validation("streaming is not supported for cloud-prefixed models"))
		return
	}

	endpoint, wired := cloudEndpoints[provider]
	if !wired {
		httputil.RenderError(w, r, apperrors.ProviderNotReady(string(provider)+" passthrough is reserved, not implemented"))
		return
	}

	envVar := cloudEnvVars[provider]
	token := os.Getenv(envVar)
	if token == "" {
		httputil.RenderError(w, r, apperrors.Validation(envVar+" is not configured"))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		httputil.RenderError(w, r, apperrors.Internal("build cloud passthrough request", err))
		return
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := h.client.Do(req)
	if err != nil {
		httputil.RenderError(w, r, apperrors.UpstreamHTTP(string(provider), err))
		return
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		httputil.RenderError(w, r, apperrors.UpstreamHTTP(string(provider), err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(respBody)
}
