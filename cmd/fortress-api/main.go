// Package main is the entry point for the fortress-api server.
// User management and billing live in the dashboard app; this service owns
// audit orchestration, issue tracking and health scoring.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fortresshq/fortress-api/internal/analyzer"
	"github.com/fortresshq/fortress-api/internal/config"
	"github.com/fortresshq/fortress-api/internal/constants"
	"github.com/fortresshq/fortress-api/internal/database"
	"github.com/fortresshq/fortress-api/internal/http/handlers"
	"github.com/fortresshq/fortress-api/internal/http/mw"
	"github.com/fortresshq/fortress-api/internal/logging"
	"github.com/fortresshq/fortress-api/internal/repository"
	"github.com/fortresshq/fortress-api/internal/service"
	"github.com/fortresshq/fortress-api/internal/shutdown"
	"github.com/fortresshq/fortress-api/internal/version"
	"github.com/fortresshq/fortress-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	v := version.Get()
	logger.Info("starting fortress-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	repos := repository.NewRepositories(db)

	// Fail audits left in progress by a previous server run. Their upstream
	// jobs are gone, so they would otherwise sit pending forever.
	staleCount, err := repos.AuditRun.MarkStaleInProgressFailed(context.Background(), constants.StaleAuditAge)
	if err != nil {
		logger.Warn("failed to clean up stale audits", "error", err)
	} else if staleCount > 0 {
		logger.Info("cleaned up stale audits", "count", staleCount)
	}

	// S3-backed tier setting overrides let ops tune audit budgets without a
	// redeploy. The loader is handed to every component that resolves tier
	// envelopes; a nil loader means compiled-in defaults.
	var tiers *constants.TierSettingsLoader
	if cfg.StorageEnabled {
		s3Client, err := config.NewS3Client(context.Background(), cfg)
		if err != nil {
			logger.Error("failed to create S3 client", "error", err)
			os.Exit(1)
		}
		tiers = constants.NewTierSettingsLoader(constants.TierSettingsConfig{
			S3Client: s3Client,
			Bucket:   cfg.StorageBucket,
			Key:      cfg.TierSettingsKey,
			Logger:   logger,
		})
		logger.Info("S3 tier settings enabled", "bucket", cfg.StorageBucket, "key", cfg.TierSettingsKey)
	}

	if !cfg.AnalysisEnabled() {
		logger.Error("ANTHROPIC_API_KEY is required")
		os.Exit(1)
	}
	discoverer := analyzer.NewDiscoverer(cfg.CrawlerUserAgent, cfg.CrawlerParallelism, cfg.CrawlerTimeout, logger)
	client := analyzer.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel, discoverer, logger)

	limiter := service.NewRateLimitService(repos, tiers, logger)
	auditSvc := service.NewAuditService(repos, client, limiter, tiers, logger)
	issueSvc := service.NewIssueService(repos, logger)
	healthSvc := service.NewHealthService(repos, logger)
	scheduleSvc := service.NewScheduleService(repos, logger)

	h := handlers.NewHandlers(auditSvc, issueSvc, healthSvc, scheduleSvc, tiers, db, logger)

	// Background worker for weekly re-audits
	scheduleWorker := worker.New(repos.Schedule, auditSvc, worker.Config{
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.WorkerConcurrency,
	}, logger)
	ctx, cancel := context.WithCancel(context.Background())
	scheduleWorker.Start(ctx)

	// Idle monitor for scale-to-zero deployments (disabled when IDLE_TIMEOUT
	// is unset)
	idle := shutdown.NewIdleMonitor(shutdown.IdleMonitorConfig{
		Timeout:      cfg.IdleTimeout,
		Logger:       logger,
		ExcludePaths: []string{"/healthz", "/readyz", "/metrics"},
		Busy:         scheduleWorker.Busy,
	})
	idle.Start()

	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(idle.Middleware)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(mw.Timeout(mw.TimeoutConfig{
		Default:  constants.DefaultRequestTimeout,
		Extended: constants.AuditRequestTimeout,
		// Audit starts may block on synchronous analysis
		ExtendedPatterns: []string{"/audits"},
		// SSE streams manage their own lifetime
		SkipPatterns: []string{"/stream"},
	}))

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Session-Token"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Cache-Control headers by route
	router.Use(mw.Cache(mw.DefaultCacheConfig()))

	// Request size limit - prevent large payload attacks
	router.Use(middleware.RequestSize(int64(constants.MaxRequestBodySize)))

	// Global rate limit by IP (fallback for unauthenticated requests)
	router.Use(mw.RateLimitByIP(constants.GlobalIPRateLimitPerMinute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(constants.GlobalConcurrencyLimit))

	// Main API with OpenAPI docs
	humaConfig := huma.DefaultConfig("Fortress API", "1.0.0")
	humaConfig.Info.Description = "Content audit API that crawls a site, finds issues with an LLM, and tracks them across runs."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		"bearerAuth": {
			Type:        "http",
			Scheme:      "bearer",
			Description: "JWT issued by the dashboard. Anonymous previews use the X-Session-Token header instead.",
		},
	}
	api := humachi.New(router, humaConfig)

	// Config for hidden routes (K8s probes - no docs needed)
	hiddenConfig := huma.DefaultConfig("Fortress API", "1.0.0")
	hiddenConfig.DocsPath = ""
	hiddenConfig.OpenAPIPath = ""
	hiddenConfig.SchemasPath = ""
	hiddenAPI := humachi.New(router, hiddenConfig)

	// Config for authenticated routes (documented by the main API)
	authConfig := huma.DefaultConfig("Fortress API", "1.0.0")
	authConfig.Info.Description = humaConfig.Info.Description
	authConfig.Servers = humaConfig.Servers
	authConfig.DocsPath = ""
	authConfig.OpenAPIPath = ""
	authConfig.SchemasPath = ""

	// Health check (public, shown in docs)
	huma.Get(api, "/api/v1/health", h.HealthCheck)

	// Public pricing/tier info (for dynamic pricing pages)
	huma.Get(api, "/api/v1/pricing/tiers", h.ListTiers)

	// SSE stream OpenAPI registration; the live handler is chi-mounted below
	h.RegisterRawEndpoints(api)

	// Kubernetes probes (hidden from docs - internal use only)
	huma.Get(hiddenAPI, "/healthz", h.Livez)
	huma.Get(hiddenAPI, "/readyz", h.Readyz)

	// Prometheus metrics
	router.Handle("/metrics", promhttp.Handler())

	// Audit routes: JWT or anonymous session, tier rate limits
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth([]byte(cfg.JWTSecret)))
		r.Use(mw.RateLimitByCaller(mw.DefaultRateLimitConfig()))

		auditAPI := humachi.New(r, authConfig)
		huma.Post(auditAPI, "/api/v1/audits", h.StartAudit)
		huma.Get(auditAPI, "/api/v1/audits", h.ListAudits)
		huma.Get(auditAPI, "/api/v1/audits/{id}", h.GetAudit)

		// Raw HTTP handler for the SSE status stream
		r.Get("/api/v1/audits/{id}/stream", h.StreamAuditStatus)
	})

	// Account routes: issue decisions, health history and schedules need a
	// signed-in user
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth([]byte(cfg.JWTSecret)))
		r.Use(mw.RequireUser())
		r.Use(mw.RateLimitByCaller(mw.DefaultRateLimitConfig()))

		accountAPI := humachi.New(r, authConfig)
		huma.Patch(accountAPI, "/api/v1/issues/{id}", h.UpdateIssue)
		huma.Post(accountAPI, "/api/v1/issues/bulk", h.BulkUpdateIssues)
		huma.Get(accountAPI, "/api/v1/health-score", h.GetHealthScore)
		huma.Get(accountAPI, "/api/v1/schedules", h.GetSchedule)
		huma.Put(accountAPI, "/api/v1/schedules", h.SetSchedule)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown on signal or idle timeout
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idle.ShutdownChan():
			logger.Info("idle timeout reached, shutting down server")
		}

		// Stop the worker first
		cancel()
		scheduleWorker.Stop()
		idle.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
