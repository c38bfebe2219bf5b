// cmd/service/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"

	"github-jira-sync/internal/api"
	"github-jira-sync/internal/config"
	"github-jira-sync/internal/database"
	"github-jira-sync/internal/github"
	"github-jira-sync/internal/jira"
	"github-jira-sync/internal/model"
	"github-jira-sync/internal/queue"
	"github-jira-sync/internal/ratelimit"
	"github-jira-sync/internal/store"
	"github-jira-sync/internal/subscription"
	"github-jira-sync/internal/syncer"
	"github-jira-sync/internal/telemetry"
)

var version = "dev"

func main() {
	if err := run(); err != nil {
		slog.Error("Application startup error", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Initialize structured logger
	logLevel := new(slog.LevelVar)
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	logger := slog.New(handler)
	slog.SetDefault(logger)

	// 2. Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	setLogLevel(cfg.LogLevel, logLevel)
	logger.Info("Configuration loaded successfully")

	// 3. Setup context for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Initialize database connection and run migrations
	dbpool, err := pgxpool.New(ctx, cfg.DBURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbpool.Close()
	logger.Info("Database connection established")

	if err := runMigrations(cfg.DBURL); err != nil {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations applied successfully")

	// 5. Initialize telemetry
	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Options{
		Enabled:     cfg.OtelEnabled,
		Stdout:      cfg.OtelStdout,
		ServiceName: "github-jira-sync",
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	metrics, err := telemetry.NewMetrics(telemetry.Meter())
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	// 6. Initialize application components
	st := store.New(database.New(dbpool), logger)
	ghClient, err := github.NewClient(github.Config{
		AppID:      cfg.GithubAppID,
		PrivateKey: cfg.GithubPrivateKey,
		BaseURL:    cfg.GithubBaseURL,
		PageSize:   cfg.SyncPageSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to create github client: %w", err)
	}
	jiraClients := jira.NewRegistry(st, jira.ClientConfig{
		AppKey:     cfg.JiraAppKey,
		TokenTTL:   cfg.JiraTokenTTL,
		ClockSkew:  cfg.JiraClockSkew,
		MaxRetries: 3,
	}, logger)

	q := queue.New(logger)
	q.OnEvent(metrics.QueueListener())
	limiter := ratelimit.New(ratelimit.Config{
		MaxConcurrent: cfg.RateLimitMaxConcurrent,
		MinInterval:   cfg.RateLimitMinInterval,
		TTL:           cfg.RateLimitTTL,
	}, logger)

	appSyncer := syncer.New(st, ghClient, jiraClients, q, metrics, logger)
	appSyncer.Register(q, laneOptions(cfg), limiter.Middleware())
	subs := subscription.New(st, q, jiraClients, cfg.StalledSyncThreshold, logger)

	// 7. Start the HTTP server
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.NewRouter(subs, appSyncer, st, cfg.WebhookTimeout, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	// 8. Wait for shutdown signal
	logger.Info("Application started. Waiting for shutdown signal...")
	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received. Exiting.")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelShutdown()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := q.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("queue shutdown: %w", err))
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// laneOptions sizes each lane's worker pool. Resource lanes are raised to
// RESYNC_CONCURRENCY so a resync can drain quickly.
func laneOptions(cfg *config.Config) map[model.Lane]queue.LaneOptions {
	lane := func(concurrency int) queue.LaneOptions {
		return queue.LaneOptions{
			Concurrency: concurrency,
			MaxAttempts: cfg.QueueMaxAttempts,
			RetryDelay:  5 * time.Second,
		}
	}
	return map[model.Lane]queue.LaneOptions{
		model.LaneDiscovery:    lane(cfg.DiscoveryConcurrency),
		model.LaneBranches:     lane(cfg.ResourceLaneConcurrency(cfg.BranchSyncConcurrency)),
		model.LaneCommits:      lane(cfg.ResourceLaneConcurrency(cfg.CommitSyncConcurrency)),
		model.LanePullRequests: lane(cfg.ResourceLaneConcurrency(cfg.PullSyncConcurrency)),
		model.LanePush:         lane(cfg.PushConcurrency),
		model.LaneMetrics:      lane(cfg.MetricsConcurrency),
	}
}

func runMigrations(dbURL string) error {
	m, err := migrate.New("file://migrations", dbURL)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return err
	}
	return nil
}

func setLogLevel(level string, v *slog.LevelVar) {
	switch level {
	case "debug":
		v.Set(slog.LevelDebug)
	case "warn":
		v.Set(slog.LevelWarn)
	case "error":
		v.Set(slog.LevelError)
	default:
		v.Set(slog.LevelInfo)
	}
}
