package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dialoguehq/dialogue/internal/v1/auth"
	"github.com/dialoguehq/dialogue/internal/v1/config"
	"github.com/dialoguehq/dialogue/internal/v1/health"
	"github.com/dialoguehq/dialogue/internal/v1/history"
	"github.com/dialoguehq/dialogue/internal/v1/hooks"
	"github.com/dialoguehq/dialogue/internal/v1/logging"
	"github.com/dialoguehq/dialogue/internal/v1/middleware"
	"github.com/dialoguehq/dialogue/internal/v1/ratelimit"
	"github.com/dialoguehq/dialogue/internal/v1/room"
	"github.com/dialoguehq/dialogue/internal/v1/transport"
)

// archiveMaxLen caps the per-(room, event) Redis list length.
const archiveMaxLen = 10000

func main() {
	// Load .env file for local development.
	// Try multiple paths to handle different ways of running the app
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool

	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	// Validate environment variables before starting the server
	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}

	skipAuth := cfg.SkipAuth
	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
		if !skipAuth && (cfg.Auth0Domain == "" || cfg.Auth0Audience == "") {
			slog.Warn("⚠️  Development Mode: Auth0 credentials missing. Auto-enabling SKIP_AUTH.")
			skipAuth = true
		}
	}

	var validator auth.TokenValidator
	if skipAuth {
		// No authenticate hook is installed; identity falls back to the
		// userId/token query params or the connection ID.
		slog.Warn("⚠️ Authentication DISABLED for development - DO NOT USE IN PRODUCTION")
	} else {
		if cfg.Auth0Domain == "" || cfg.Auth0Audience == "" {
			slog.Error("AUTH0_DOMAIN and AUTH0_AUDIENCE must be set in environment when SKIP_AUTH=false")
			return
		}
		v, err := auth.NewValidator(context.Background(), cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			slog.Error("Failed to create auth validator", "error", err)
			return
		}
		slog.Info("✅ Auth0 validator initialized", "domain", cfg.Auth0Domain, "audience", cfg.Auth0Audience)
		validator = v
	}

	// --- Redis History Archive (Optional) ---
	// Evicted history entries persist to Redis and page back in on demand.
	var archive *history.Archive
	if cfg.RedisEnabled {
		archive, err = history.NewArchive(cfg.RedisAddr, cfg.RedisPassword, archiveMaxLen)
		if err != nil {
			slog.Error("Failed to connect to Redis, history archive disabled", "error", err)
			archive = nil
		} else {
			slog.Info("✅ Redis history archive initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running without history archive (Redis disabled)")
	}

	hks := &hooks.Hooks{}
	if validator != nil {
		hks.Authenticate = transport.JWTAuthenticate(validator)
	}
	if archive != nil {
		hks.Events.OnCleanup = archive.Store
		hks.Events.OnLoad = archive.Load
	}

	guard, err := ratelimit.NewGuard(cfg.RateLimitAPI, cfg.RateLimitWsIP)
	if err != nil {
		slog.Error("Failed to build rate limiters", "error", err)
		os.Exit(1)
	}

	hub := transport.NewHub(cfg, hks, guard)

	// --- Static Rooms ---
	if cfg.RoomsFile != "" {
		static, err := room.LoadConfigFile(cfg.RoomsFile)
		if err != nil {
			slog.Error("Failed to load rooms file", "path", cfg.RoomsFile, "error", err)
			os.Exit(1)
		}
		if err := hub.Rooms().RegisterStatic(static); err != nil {
			slog.Error("Failed to register static rooms", "error", err)
			os.Exit(1)
		}
		slog.Info("✅ Static rooms registered", "count", len(static), "path", cfg.RoomsFile)
	}

	// --- Set up Server ---
	router := gin.Default()

	corsConfig := cors.DefaultConfig()
	allowedOrigins := auth.SplitOrigins(cfg.AllowedOrigins)
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowOrigins = allowedOrigins
	router.Use(cors.New(corsConfig))

	// Error handling
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	// Routing
	router.GET("/ws", hub.ServeWs)

	apiGroup := router.Group("/api/v1", guard.APIMiddleware())
	hub.RegisterAPI(apiGroup)

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Health check endpoints
	var pinger health.Pinger
	if archive != nil {
		pinger = archive
	}
	healthHandler := health.NewHandler(pinger)
	healthHandler.Register(router)

	// Start the server.
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful Shutdown ---
	// Start the server in a goroutine so it doesn't block.
	go func() {
		slog.Info("Dialogue server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	// Wait for an interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Close all active WebSocket connections gracefully
	hub.Shutdown(ctx)

	// Shutdown HTTP server
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown:", "error", err)
	}

	// Close Redis connection if it was initialized
	if archive != nil {
		if err := archive.Close(); err != nil {
			slog.Error("Failed to close Redis connection:", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}
