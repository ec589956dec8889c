package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/llmfleet/router/internal/auth"
	"github.com/llmfleet/router/internal/catalog"
	"github.com/llmfleet/router/internal/loadmanager"
	"github.com/llmfleet/router/internal/platform/config"
	"github.com/llmfleet/router/internal/platform/logging"
	"github.com/llmfleet/router/internal/platform/metrics"
	"github.com/llmfleet/router/internal/platform/middleware"
	"github.com/llmfleet/router/internal/registry"
	"github.com/llmfleet/router/internal/server"
	"github.com/llmfleet/router/internal/store/history"
	"github.com/llmfleet/router/internal/store/ratelimitstore"
	sqlstore "github.com/llmfleet/router/internal/store/sql"
	"github.com/llmfleet/router/internal/tasks"
)

func serve() error {
	ctx := context.Background()
	cfg := config.Load()
	if addrFlag != "" {
		cfg.HTTPAddr = addrFlag
	} else if v := viper.GetString("HTTP_ADDR"); v != "" {
		cfg.HTTPAddr = v
	}

	logger := logging.NewFromEnv("router")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Fatalf("CRITICAL: create data dir %s: %v", cfg.DataDir, err)
	}
	if cfg.JWTSecret == "" {
		log.Fatalf("CRITICAL: ROUTER_JWT_SECRET is required")
	}

	store, err := sqlstore.Open(ctx, cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		log.Fatalf("CRITICAL: open credential store: %v", err)
	}
	defer store.Close()

	reg, err := registry.New(cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("CRITICAL: open node registry: %v", err)
	}
	lm := loadmanager.New(reg, cfg.MaxWaiters)
	hist, err := history.New(cfg.DataDir, logger)
	if err != nil {
		log.Fatalf("CRITICAL: open request history store: %v", err)
	}

	pruneLoop := history.NewPruneLoop(hist, cfg.HistoryPruneAfter, logger)
	pruneLoop.Start()
	defer pruneLoop.Stop()

	authSvc := auth.New(store, cfg.JWTSecret, 24*time.Hour)
	cat := catalog.New()
	taskMgr := tasks.New(logger)
	m := metrics.New()

	srv := server.New(reg, lm, authSvc, cat, taskMgr, hist, logger, m, string(cfg.LoadBalancerMode))

	redisStore, redisOK, err := ratelimitstore.Dial(ctx, cfg.RedisAddr, logger)
	if err != nil {
		logger.WithError(err).Warn("redis unreachable, falling back to in-process rate limiting")
	} else if redisOK {
		defer redisStore.Close()
		srv.SetRedisLimiter(redisStore)
		logger.WithField("addr", cfg.RedisAddr).Info("distributed rate limiting enabled")
	}

	handler := srv.Router(cfg, m)

	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Minute, // streaming inference responses run long
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	shutdown := middleware.NewGracefulShutdown(httpServer, cfg.ShutdownTimeout)
	shutdown.OnShutdown(func() {
		logger.Info("shutting down background loops")
	})
	shutdown.ListenForSignals()

	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("router starting")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("CRITICAL: server error: %v", err)
		}
	}()

	shutdown.Wait()
	return nil
}
