// Tutor - checkpointed tutoring turn server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/shsh-tutor/internal/agent"
	"github.com/ashureev/shsh-tutor/internal/api"
	"github.com/ashureev/shsh-tutor/internal/config"
	"github.com/ashureev/shsh-tutor/internal/middleware"
	"github.com/ashureev/shsh-tutor/internal/session"
	"github.com/ashureev/shsh-tutor/internal/store"
	"github.com/ashureev/shsh-tutor/internal/workflow"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so deferred cleanup runs before exit.
func run() int {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		return 1
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "store_driver", cfg.StoreDriver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize persistence. A store that cannot be opened leaves the
	// server running without checkpoints.
	var checkpoints store.CheckpointStore
	var healthChecks []api.HealthCheck
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		checkpoints = store.NewMemory()
		slog.Info("Using in-memory checkpoint store")
	default:
		sqliteStore, err := store.NewSQLite(ctx, cfg.DBPath,
			store.WithCache(store.CacheConfig{MaxEntries: cfg.CacheMaxEntries, TTL: cfg.CacheTTL}),
			store.WithMetrics(store.DefaultMetrics()),
			store.WithLogger(logger),
		)
		if err != nil {
			slog.Error("Checkpoint store unavailable, running without persistence", "error", err)
			break
		}
		defer func() {
			if closeErr := sqliteStore.Close(); closeErr != nil {
				slog.Error("Failed to close checkpoint store", "error", closeErr)
			}
		}()
		checkpoints = sqliteStore
		healthChecks = append(healthChecks, api.HealthCheck{Name: "database", Check: sqliteStore.Ping, Critical: true})
		slog.Info("Database connected", "path", cfg.DBPath)
	}

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		return 1
	}

	// Initialize the text generator gRPC client (optional).
	var generator agent.TextGenerator
	if cfg.Generator.Addr != "" {
		slog.Info("Attempting to connect to text generation service via gRPC", "address", cfg.Generator.Addr)

		grpcClient, err := agent.NewGrpcClient(ctx, agent.GrpcClientConfig{
			Address:        cfg.Generator.Addr,
			ConnectTimeout: cfg.Generator.ConnectTimeout,
			RequestTimeout: cfg.Generator.RequestTimeout,
		}, logger)
		if err != nil {
			slog.Warn("Failed to connect to text generator, replies will use the fallback text", "error", err)
		} else {
			defer grpcClient.Close()
			generator = agent.NewService(grpcClient, conversationLogger)
			healthChecks = append(healthChecks, api.HealthCheck{Name: "generator", Check: grpcClient.Health})
		}
	}
	if generator == nil {
		slog.Info("Text generation disabled (GENERATOR_ADDR not set or connection failed)")
	}
	defer func() {
		if closeErr := conversationLogger.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	// Initialize the engine.
	sessions := session.NewRegistry[*workflow.Workflow](logger)
	engine := workflow.NewEngine(checkpoints, generator, sessions, workflow.PipelineConfig{
		GeneratorTimeout: cfg.Generator.RequestTimeout,
		Metrics:          workflow.DefaultMetrics(),
		Logger:           logger,
	})

	// Initialize handlers.
	rateLimiter := api.NewRateLimiter(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
	defer rateLimiter.Close()

	sessionHandler := api.NewHandler(engine, api.Options{
		MaxRequestBodySize: cfg.MaxRequestBody,
		HistoryLimit:       cfg.HistoryLimit,
		RateLimiter:        rateLimiter,
		Logger:             logger,
	})
	wsHandler := api.NewWebSocketHandler(sessionHandler, cfg.AllowedOrigins)
	healthHandler := api.NewHealthHandler(engine, healthChecks...)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	healthHandler.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())
	sessionHandler.RegisterRoutes(r)
	wsHandler.RegisterRoutes(r)

	// Create server.
	// Note: websocket turn channels are long-lived (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	workflow.StartIdleSweeper(ctx, engine, cfg.SessionIdleTTL, 0, sessionHandler.Connections().CloseSession)

	// Start server.
	serverErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serverErr:
		slog.Error("Server failed", "error", err)
		return 1
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		return 1
	}

	slog.Info("Server stopped successfully")
	return 0
}
