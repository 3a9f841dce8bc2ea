package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/slack-go/slack"
	"go.opentelemetry.io/otel"
	gormlogger "gorm.io/gorm/logger"

	"github.com/creditdesk/creditdesk/internal/api"
	"github.com/creditdesk/creditdesk/internal/config"
	"github.com/creditdesk/creditdesk/internal/database"
	"github.com/creditdesk/creditdesk/internal/handlers"
	"github.com/creditdesk/creditdesk/internal/jobs"
	"github.com/creditdesk/creditdesk/internal/logger"
	"github.com/creditdesk/creditdesk/internal/middleware"
	"github.com/creditdesk/creditdesk/internal/notify"
	"github.com/creditdesk/creditdesk/internal/observability"
	"github.com/creditdesk/creditdesk/internal/policy"
	"github.com/creditdesk/creditdesk/internal/ratelimit"
	"github.com/creditdesk/creditdesk/internal/scoring"
	"github.com/creditdesk/creditdesk/internal/services"
	"github.com/creditdesk/creditdesk/internal/workflow"
)

func main() {
	// Load .env file if it exists (ignore error if file doesn't exist)
	envErr := godotenv.Load()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logg, err := logger.New(cfg.LogMode)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logg.Sync()
	api.SetLogger(logg)
	if envErr != nil {
		logg.Debug("No .env file loaded (this is fine if using environment variables)", "error", envErr)
	}
	logg.Info("Starting creditdesk", "version", handlers.Version, "jwt_secret_source", cfg.JWTSecretFrom)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfig{
		Enabled:     cfg.OTelEnabled,
		ServiceName: "creditdesk",
		Version:     handlers.Version,
		Environment: cfg.LogMode,
		Endpoint:    cfg.OTelEndpoint,
		SampleRatio: cfg.OTelSamplerRatio,
	}, logg)
	if err != nil {
		logg.Fatal("Failed to initialize tracing", "error", err)
	}

	// Initialize database connection
	db, err := database.Connect(cfg.DatabaseURL, gormlogger.Warn, logg)
	if err != nil {
		logg.Fatal("Failed to connect to database", "error", err)
	}
	if err := database.AutoMigrate(db, logg); err != nil {
		logg.Fatal("Failed to run database migrations", "error", err)
	}
	if err := database.EnsureAdmin(db, cfg.AdminUsername, cfg.AdminPassword, "admin", logg); err != nil {
		logg.Fatal("Failed to initialize admin user", "error", err)
	}

	rolePolicy := workflow.DefaultRolePolicy()
	if cfg.PolicyFile != "" {
		loaded, err := policy.Load(cfg.PolicyFile)
		if err != nil {
			logg.Fatal("Failed to load role policy", "path", cfg.PolicyFile, "error", err)
		}
		rolePolicy = loaded.Policy
		logg.Info("Role policy loaded", "path", cfg.PolicyFile, "hash", loaded.Hash, "roles", rolePolicy.Roles())
	}

	oracle := newOracle(cfg, logg)
	repo := database.NewRepository(db)
	engine, err := workflow.NewEngine(workflow.Options{
		Repository:     repo,
		Oracle:         oracle,
		Policy:         rolePolicy,
		Logger:         logg,
		Tracer:         otel.Tracer("github.com/creditdesk/creditdesk/internal/workflow"),
		ScoringTimeout: cfg.ScoringTimeout,
		ScoringRetries: scoringRetries(cfg.ScoringRetries),
	})
	if err != nil {
		logg.Fatal("Failed to initialize workflow engine", "error", err)
	}

	// Committed events reach websocket subscribers through the hub. With
	// Redis configured the hub is fed by the bus so every instance sees them.
	hub := notify.NewHub(logg)
	var notifiers []notify.Notifier
	var bus *notify.RedisBus
	if cfg.RedisAddr != "" {
		bus, err = notify.NewRedisBus(ctx, cfg.RedisAddr, cfg.RedisChannel, logg)
		if err != nil {
			logg.Fatal("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
		}
		if err := bus.StartForwarder(ctx, hub.Broadcast); err != nil {
			logg.Fatal("Failed to subscribe to Redis channel", "channel", cfg.RedisChannel, "error", err)
		}
		notifiers = append(notifiers, bus)
		logg.Info("Redis event bus enabled", "addr", cfg.RedisAddr, "channel", cfg.RedisChannel)
	} else {
		notifiers = append(notifiers, hub)
	}
	if cfg.SlackBotToken != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(
			slack.New(cfg.SlackBotToken), cfg.SlackChannel, cfg.SlackContestationChannel, logg))
		logg.Info("Slack notifications enabled", "channel", cfg.SlackChannel)
	}

	dispatcher := jobs.NewOutboxDispatcher(database.NewOutboxStore(db), notifiers, cfg.OutboxMaxAttempts, logg)
	stopDispatcher := make(chan struct{})
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		dispatcher.Start(cfg.OutboxInterval, stopDispatcher)
	}()

	jwtAuth := middleware.NewJWTAuthMiddleware(middleware.JWTAuthConfig{
		Secret: cfg.JWTSecret,
		Expiry: cfg.JWTExpiry(),
		SkipPaths: []string{
			"/health",
			"/auth/login",
		},
	}, logg)

	router := handlers.NewRouter(handlers.RouterConfig{
		DB:          db,
		Engine:      engine,
		Repository:  repo,
		Policy:      rolePolicy,
		Hub:         hub,
		Analytics:   services.NewAnalyticsService(db),
		Users:       services.NewUserService(db, rolePolicy),
		JWTAuth:     jwtAuth,
		CORSOrigins: cfg.CORSAllowedOrigins,
		Logger:      logg,
	})

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logg.Info("Starting HTTP server", "port", cfg.HTTPPort)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logg.Fatal("HTTP server error", "error", err)
		}
	}()

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	logg.Info("Received shutdown signal, cleaning up...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	// Websocket streams are hijacked and ignored by Shutdown; closing the
	// hub sends them a going-away frame.
	hub.Close()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logg.Warn("Error shutting down HTTP server", "error", err)
	}
	close(stopDispatcher)
	<-dispatcherDone
	cancel()
	if bus != nil {
		_ = bus.Close()
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logg.Warn("Error flushing traces", "error", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	logg.Info("Shutdown complete")
}

// newOracle selects the remote scoring service when SCORING_URL is set and
// the built-in heuristic otherwise.
func newOracle(cfg *config.Config, logg *logger.Logger) workflow.Oracle {
	if cfg.ScoringURL == "" {
		logg.Warn("SCORING_URL not set, using the heuristic scorer", "noise", cfg.ScoringNoise)
		return scoring.NewHeuristic(cfg.ScoringNoise, cfg.ScoringSeed)
	}
	opts := []scoring.HTTPOracleOption{scoring.WithLogger(logg)}
	if cfg.ScoringRatePerSecond > 0 {
		opts = append(opts, scoring.WithLimiter(ratelimit.New(cfg.ScoringRatePerSecond, cfg.ScoringBurst)))
	}
	logg.Info("Using remote scoring service", "url", cfg.ScoringURL, "rate_per_second", cfg.ScoringRatePerSecond)
	return scoring.NewHTTPOracle(cfg.ScoringURL, opts...)
}

// scoringRetries maps the configured count onto engine options, where zero
// means "default" and a negative value disables retries.
func scoringRetries(n int) int {
	if n <= 0 {
		return -1
	}
	return n
}
