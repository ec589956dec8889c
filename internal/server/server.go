// Package server wires the HTTP surface: route table, middleware chain,
// and the handler methods in the other files of this package.
package server

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/llmfleet/router/internal/auth"
	"github.com/llmfleet/router/internal/catalog"
	"github.com/llmfleet/router/internal/dashboard"
	"github.com/llmfleet/router/internal/loadmanager"
	"github.com/llmfleet/router/internal/platform/apperrors"
	"github.com/llmfleet/router/internal/platform/config"
	"github.com/llmfleet/router/internal/platform/httputil"
	"github.com/llmfleet/router/internal/platform/logging"
	"github.com/llmfleet/router/internal/platform/metrics"
	"github.com/llmfleet/router/internal/platform/middleware"
	"github.com/llmfleet/router/internal/proxy"
	"github.com/llmfleet/router/internal/registry"
	"github.com/llmfleet/router/internal/store/history"
	"github.com/llmfleet/router/internal/store/ratelimitstore"
	"github.com/llmfleet/router/internal/tasks"
)

// Server bundles the domain services consumed by this package's handlers.
type Server struct {
	registry *registry.Registry
	lm       *loadmanager.Manager
	auth     *auth.Service
	catalog  *catalog.Catalog
	tasks    *tasks.Manager
	history  *history.Store
	log      *logging.Logger

	proxy     *proxy.Handler
	dashboard *dashboard.Handler

	redisLimiter *ratelimitstore.Store
}

// SetRedisLimiter installs a distributed rate limiter. When store is nil
// (ROUTER_REDIS_ADDR unset or unreachable), the in-process limiter keeps
// serving alone.
func (s *Server) SetRedisLimiter(store *ratelimitstore.Store) {
	s.redisLimiter = store
}

func New(
	reg *registry.Registry,
	lm *loadmanager.Manager,
	authSvc *auth.Service,
	cat *catalog.Catalog,
	taskMgr *tasks.Manager,
	hist *history.Store,
	logger *logging.Logger,
	m *metrics.Metrics,
	loadBalancerMode string,
) *Server {
	return &Server{
		registry:  reg,
		lm:        lm,
		auth:      authSvc,
		catalog:   cat,
		tasks:     taskMgr,
		history:   hist,
		log:       logger,
		proxy:     proxy.New(reg, lm, hist, logger, m, loadBalancerMode),
		dashboard: dashboard.New(reg, lm, hist),
	}
}

// Router builds the full gorilla/mux route table and middleware chain
// from cfg. Every route's method, path and principal follows spec.md §6.
func (s *Server) Router(cfg *config.Config, m *metrics.Metrics) http.Handler {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	})

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	r.Handle("/metrics", m.Handler()).Methods(http.MethodGet)

	timeout := middleware.NewTimeoutMiddleware(cfg.RequestTimeout)

	// Agent-token surface: worker registration, heartbeat, and task
	// progress reporting.
	r.HandleFunc("/api/nodes", s.handleRegisterNode).Methods(http.MethodPost)
	agent := r.PathPrefix("").Subrouter()
	agent.Use(s.auth.RequireAgentToken, timeout.Handler)
	agent.HandleFunc("/api/health", s.handleHeartbeat).Methods(http.MethodPost)
	agent.HandleFunc("/api/tasks/{id}/progress", s.handleTaskProgress).Methods(http.MethodPost)

	// User-JWT surface: the operator dashboard and fleet administration.
	userAuth := r.PathPrefix("").Subrouter()
	userAuth.Use(s.auth.RequireUserJWT, timeout.Handler)
	userAuth.HandleFunc("/api/auth/me", s.handleMe).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/auth/apikeys", s.handleIssueAPIKey).Methods(http.MethodPost)
	userAuth.HandleFunc("/api/auth/apikeys", s.handleListAPIKeys).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/auth/apikeys/{id}", s.handleRevokeAPIKey).Methods(http.MethodDelete)

	userAuth.HandleFunc("/api/nodes", s.handleListNodes).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/nodes/{id}/settings", s.handleUpdateNodeSettings).Methods(http.MethodPut)
	userAuth.HandleFunc("/api/nodes/{id}/disconnect", s.handleDisconnectNode).Methods(http.MethodPost)
	userAuth.HandleFunc("/api/nodes/{id}/models", s.handleListNodeModels).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/nodes/{id}/models/pull", s.handlePullModel).Methods(http.MethodPost)

	userAuth.HandleFunc("/api/models/available", s.handleListAvailableModels).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/models/distribute", s.handleDistributeModel).Methods(http.MethodPost)

	userAuth.HandleFunc("/api/tasks/{id}", s.handleGetTask).Methods(http.MethodGet)

	userAuth.HandleFunc("/api/dashboard/summary", s.dashboard.HandleSummary).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/dashboard/nodes/{id}", s.dashboard.HandleNodeSnapshot).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/dashboard/nodes/{id}/metrics", s.dashboard.HandleNodeMetricsHistory).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/dashboard/request-history", s.dashboard.HandleRequestHistory).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/dashboard/request-history/log", s.dashboard.HandleRequestLog).Methods(http.MethodGet)
	userAuth.HandleFunc("/api/dashboard/request-history/export.csv", s.dashboard.HandleExportCSV).Methods(http.MethodGet)

	admin := userAuth.NewRoute().Subrouter()
	admin.Use(auth.RequireAdmin)
	admin.HandleFunc("/api/auth/users", s.handleCreateUser).Methods(http.MethodPost)
	admin.HandleFunc("/api/auth/users/{id}", s.handleDeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/api/nodes/{id}", s.handleDeleteNode).Methods(http.MethodDelete)

	// Unauthenticated bootstrap: only succeeds once, before any user exists.
	r.HandleFunc("/api/auth/bootstrap", s.handleBootstrap).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/login", s.handleLogin).Methods(http.MethodPost)

	// Open catalog browsing.
	r.HandleFunc("/v1/models", s.handleListOpenAIModels).Methods(http.MethodGet)
	r.HandleFunc("/v1/models/{id}", s.handleGetOpenAIModel).Methods(http.MethodGet)

	// Open native inference routes: no auth layer, matching the original
	// router's trust boundary for its own wire format.
	r.HandleFunc("/api/chat", s.proxy.HandleChat).Methods(http.MethodPost)
	r.HandleFunc("/api/generate", s.proxy.HandleGenerate).Methods(http.MethodPost)

	// API-key surface: OpenAI-compatible inference routes.
	apiKeyed := r.PathPrefix("").Subrouter()
	apiKeyed.Use(s.auth.RequireAPIKey)
	apiKeyed.HandleFunc("/v1/chat/completions", s.proxy.HandleOpenAIChatCompletions).Methods(http.MethodPost)
	apiKeyed.HandleFunc("/v1/completions", s.proxy.HandleOpenAICompletions).Methods(http.MethodPost)
	apiKeyed.HandleFunc("/v1/embeddings", s.proxy.HandleOpenAIEmbeddings).Methods(http.MethodPost)

	return s.withMiddleware(r, cfg)
}

func (s *Server) withMiddleware(h http.Handler, cfg *config.Config) http.Handler {
	cors := middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:   cfg.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAgeSeconds:    600,
	})
	recovery := middleware.NewRecoveryMiddleware(s.log)
	bodyLimit := middleware.NewBodyLimitMiddleware(cfg.MaxBodyBytes)
	reqLog := middleware.NewRequestLoggingMiddleware(s.log)
	security := middleware.NewSecurityHeadersMiddleware(middleware.DefaultSecurityHeaders())
	rateLimit := middleware.NewRateLimiterWithWindow(120, time.Minute, 30, s.log)

	// Request-scoped timeouts are applied per route group in Router, not
	// here: proxy routes stream for as long as the upstream worker takes.
	chain := recovery.Handler(h)
	chain = security.Handler(chain)
	chain = cors.Handler(chain)
	chain = reqLog.Handler(chain)
	chain = rateLimit.Handler(chain)
	chain = s.distributedRateLimit(chain)
	chain = bodyLimit.Handler(chain)
	return chain
}

// distributedRateLimit enforces a coarse per-IP cap shared across router
// replicas via Redis, ahead of the in-process limiter. A no-op when no
// redisLimiter was installed.
func (s *Server) distributedRateLimit(next http.Handler) http.Handler {
	if s.redisLimiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := "ratelimit:" + httputil.ClientIP(r)
		ok, err := s.redisLimiter.Allow(r.Context(), key, 600, time.Minute)
		if err != nil {
			s.log.WithError(err).Warn("redis rate limiter unavailable, falling back to in-process limit")
			next.ServeHTTP(w, r)
			return
		}
		if !ok {
			httputil.RenderError(w, r, apperrors.RateLimited(600, "1m"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
