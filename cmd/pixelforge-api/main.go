// Package main is the entry point for the pixelforge-api server.
// Note: User identity is handled by an external identity service; requests
// arrive with an HS256 bearer token sharing JWT_SECRET.
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
	"github.com/go-chi/httprate"

	"github.com/pixelforge-ai/pixelforge-api/internal/config"
	"github.com/pixelforge-ai/pixelforge-api/internal/database"
	"github.com/pixelforge-ai/pixelforge-api/internal/http/handlers"
	"github.com/pixelforge-ai/pixelforge-api/internal/http/mw"
	"github.com/pixelforge-ai/pixelforge-api/internal/inference"
	"github.com/pixelforge-ai/pixelforge-api/internal/logging"
	"github.com/pixelforge-ai/pixelforge-api/internal/media"
	"github.com/pixelforge-ai/pixelforge-api/internal/realtime"
	"github.com/pixelforge-ai/pixelforge-api/internal/repository"
	"github.com/pixelforge-ai/pixelforge-api/internal/service"
	"github.com/pixelforge-ai/pixelforge-api/internal/shutdown"
	"github.com/pixelforge-ai/pixelforge-api/internal/store"
	"github.com/pixelforge-ai/pixelforge-api/internal/version"
	"github.com/pixelforge-ai/pixelforge-api/internal/worker"
)

func main() {
	// Initialize logger with TTY detection, source paths, and format control
	logger := logging.SetDefault()

	// Log version info first thing
	v := version.Get()
	logger.Info("starting pixelforge-api",
		"version", v.Version,
		"commit", v.Commit,
		"built", v.Date,
		"go_version", v.GoVersion,
	)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize database
	db, err := database.New(cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	// Run migrations (with logging for each migration applied)
	if err := database.MigrateWithLogger(db, logger); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	// Initialize the job change feed and repositories
	feed := store.NewFeed(logger)
	repos := repository.NewRepositories(db, feed)

	// Requeue jobs left running by a previous server run so the dispatcher
	// picks them up again
	staleCount, err := repos.Job.RequeueStaleRunning(context.Background(), cfg.JobRescueAfter)
	if err != nil {
		logger.Warn("failed to requeue stale jobs", "error", err)
	} else if staleCount > 0 {
		logger.Info("requeued stale running jobs", "count", staleCount)
	}

	// Initialize the media rotation pool
	rotator, err := media.NewRotator(cfg.MediaAccounts, cfg.VerifySSL, logger)
	if err != nil {
		logger.Error("failed to initialize media accounts", "error", err)
		os.Exit(1)
	}

	// Initialize services
	coinsSvc := service.NewCoinService(repos, logger)
	jobSvc := service.NewJobService(repos, coinsSvc, rotator, logger)
	endpointSvc := service.NewEndpointService(repos, service.NewURLCache(), cfg.InferenceHostSuffix, logger)
	adsSvc := service.NewAdService(repos, coinsSvc, cfg.MonetagSecret, cfg.MonetagZones, logger)

	// Inference client and realtime hub
	client := inference.NewClient(cfg.VerifySSL, logger)
	hub := realtime.NewHub(feed, logger)

	// Start the in-process job dispatcher
	dispatcher := worker.New(
		repos,
		feed,
		endpointSvc,
		client,
		rotator,
		worker.Config{
			Concurrency:    cfg.WorkerConcurrency,
			RescueInterval: cfg.RescueInterval,
			RescueAfter:    cfg.JobRescueAfter,
		},
		logger,
	)
	ctx, cancel := context.WithCancel(context.Background())
	dispatcher.Start(ctx)

	// Idle monitor for scale-to-zero hosting; disabled unless IDLE_TIMEOUT
	// is set
	idleMonitor := shutdown.NewIdleMonitor(shutdown.Config{
		Timeout:      cfg.IdleTimeout,
		ExcludePaths: []string{"/health"},
		WorkCheck:    dispatcher.Busy,
		Logger:       logger,
	})
	idleMonitor.Start()

	// Create router
	router := chi.NewRouter()

	// Global middleware
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(idleMonitor.Middleware)

	// CORS configuration
	router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", "X-Worker-Token"},
		ExposedHeaders:   []string{"Link", "X-Request-ID", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Request size limit - inline input images are the largest legitimate body
	router.Use(middleware.RequestSize(64 * 1024 * 1024))

	// Global rate limit by IP (fallback for unauthenticated requests)
	router.Use(httprate.LimitByIP(100, time.Minute))

	// Global concurrency throttle - prevent system overload
	router.Use(middleware.Throttle(100))

	// Unified error body for huma validation failures and handler errors
	huma.NewError = handlers.NewError

	// Create Huma API config with OpenAPI docs
	humaConfig := huma.DefaultConfig("PixelForge API", "1.0.0")
	humaConfig.Info.Description = "Control plane for AI image and video generation: jobs, GPU endpoint rotation, media storage, and the coin economy."
	humaConfig.Servers = []*huma.Server{
		{URL: cfg.BaseURL, Description: "API Server"},
	}
	humaConfig.Components.SecuritySchemes = map[string]*huma.SecurityScheme{
		mw.SecurityScheme: {
			Type:        "http",
			Scheme:      "bearer",
			Description: "HS256 bearer token issued by the identity service.",
		},
	}

	// Main API with OpenAPI docs
	api := humachi.New(router, humaConfig)

	// Config for protected routes (documented by the main API)
	protectedConfig := huma.DefaultConfig("PixelForge API", "1.0.0")
	protectedConfig.Info.Description = humaConfig.Info.Description
	protectedConfig.Servers = humaConfig.Servers
	protectedConfig.DocsPath = ""
	protectedConfig.OpenAPIPath = ""
	protectedConfig.SchemasPath = ""

	// Health check (public, shown in docs)
	huma.Get(api, "/health", handlers.HealthCheck)

	// Ad network postback (signature verified by handler, not user auth)
	postbackHandler := handlers.NewPostbackHandler(adsSvc, logger)
	router.Post("/api/monetag/postback", postbackHandler.HandlePostback)

	// Protected routes
	router.Group(func(r chi.Router) {
		r.Use(mw.Auth(cfg.JWTSecret))

		protectedAPI := humachi.New(r, protectedConfig)

		// Job routes
		jobHandler := handlers.NewJobHandler(jobSvc, coinsSvc)
		r.Post("/jobs", jobHandler.SubmitJob)
		huma.Get(protectedAPI, "/jobs", jobHandler.ListJobs)
		huma.Get(protectedAPI, "/jobs/stats", jobHandler.JobStats)
		huma.Get(protectedAPI, "/jobs/in-progress", jobHandler.InProgress)
		huma.Get(protectedAPI, "/jobs/{id}", jobHandler.GetJob)
		huma.Delete(protectedAPI, "/jobs/{id}", jobHandler.CancelJob)

		// Raw HTTP handler for the SSE job stream
		streamHandler := handlers.NewStreamHandler(jobSvc, hub)
		r.Get("/jobs/{id}/stream", streamHandler.StreamJob)

		// Wallet routes
		coinHandler := handlers.NewCoinHandler(coinsSvc)
		huma.Get(protectedAPI, "/coins/balance", coinHandler.Balance)
		huma.Get(protectedAPI, "/coins/history", coinHandler.History)

		// Rewarded-ad routes
		adHandler := handlers.NewAdHandler(adsSvc)
		huma.Post(protectedAPI, "/ads/start-session", adHandler.StartSession)
		huma.Get(protectedAPI, "/ads/check-session/{id}", adHandler.CheckSession)
		huma.Post(protectedAPI, "/ads/claim-reward", adHandler.ClaimReward)
		huma.Post(protectedAPI, "/ads/verify-and-reward", adHandler.VerifyAndReward)

		// Endpoint registry and legacy inference passthrough
		endpointHandler := handlers.NewEndpointHandler(endpointSvc, client, cfg.InferenceHostSuffix, logger)
		huma.Get(protectedAPI, "/get-url", endpointHandler.GetURL)
		huma.Post(protectedAPI, "/invalidate-cache", endpointHandler.InvalidateCache)
		huma.Get(protectedAPI, "/list-models", endpointHandler.ListModels)
		huma.Get(protectedAPI, "/list-video-models", endpointHandler.ListVideoModels)
		r.Post("/generate", endpointHandler.Generate)
		r.Post("/generate-video", endpointHandler.GenerateVideo)
	})

	// External worker routes, guarded by the shared worker token
	router.Group(func(r chi.Router) {
		r.Use(mw.WorkerAuth(cfg.WorkerToken))

		workerAPI := humachi.New(r, protectedConfig)

		workerHandler := handlers.NewWorkerHandler(repos, coinsSvc, rotator, logger)
		huma.Get(workerAPI, "/worker/next-job", workerHandler.NextJob)
		huma.Get(workerAPI, "/worker/pending-jobs", workerHandler.PendingJobs)
		huma.Post(workerAPI, "/worker/job/{id}/progress", workerHandler.ReportProgress)
		huma.Post(workerAPI, "/worker/job/{id}/complete", workerHandler.CompleteJob)
		huma.Post(workerAPI, "/worker/job/{id}/fail", workerHandler.FailJob)
		r.Post("/worker/upload", workerHandler.UploadArtifact)
	})

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)

		select {
		case <-sigChan:
			logger.Info("shutting down server")
		case <-idleMonitor.ShutdownChan():
			logger.Info("shutting down idle server")
		}

		// Stop the dispatcher first so in-flight jobs finish or requeue
		cancel()
		dispatcher.Stop()
		idleMonitor.Stop()
		hub.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown error", "error", err)
		}
	}()

	// Start server
	logger.Info("starting server", "port", cfg.Port, "base_url", cfg.BaseURL)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
