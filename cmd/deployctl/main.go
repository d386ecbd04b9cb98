// Command deployctl is the deployment engine's composition root, shaped
// after the teacher's cmd/kari-api/main.go: telemetry first, then config,
// then outbound infrastructure, then dependency injection, then background
// workers, then the HTTP gateway, then a graceful shutdown on SIGTERM/SIGINT.
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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"

	"github.com/deploycenter/deploy-center/internal/config"
	"github.com/deploycenter/deploy-center/internal/core/domain"
	"github.com/deploycenter/deploy-center/internal/core/services"
	"github.com/deploycenter/deploy-center/internal/infrastructure/crypto"
	"github.com/deploycenter/deploy-center/internal/queue"
	"github.com/deploycenter/deploy-center/internal/sshkey"
	"github.com/deploycenter/deploy-center/internal/store/memory"
	"github.com/deploycenter/deploy-center/internal/store/postgres"
	"github.com/deploycenter/deploy-center/internal/telemetry"
	transporthttp "github.com/deploycenter/deploy-center/internal/transport/http"
	"github.com/deploycenter/deploy-center/internal/transport/ws"
)

func main() {
	// --- 1. Core telemetry & configuration ---
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	logger.Info("booting deployctl")

	cfg, err := config.Load()
	if err != nil {
		logger.Error("fatal: config load failed", "error", err)
		os.Exit(1)
	}

	cryptoSvc, err := crypto.NewService(cfg.EncryptionKeyHex)
	if err != nil {
		logger.Error("fatal: cryptographic initialization failed", "error", err)
		os.Exit(1)
	}

	keys := sshkey.New(cfg.SSHTempDir, cryptoSvc, logger)
	if err := keys.Init(); err != nil {
		logger.Error("fatal: ssh key manager init failed", "error", err)
		os.Exit(1)
	}
	defer keys.Stop()

	// --- 2. Outbound infrastructure: persistence backend ---
	projects, deployments, steps, audit, notify, closeStore := buildStore(cfg, logger)
	defer closeStore()

	// --- 3. Dependency injection ---
	hub := telemetry.NewHub()
	disp := queue.New(logger)

	orchestrator := services.NewOrchestrator(
		projects, deployments, steps, audit, notify, hub, disp, cryptoSvc, keys, cfg.DeploymentsPath, logger,
	)

	rateLimiter := transporthttp.NewRateLimiter(cfg.WebhookRateLimit, int(cfg.WebhookRateLimit*3))
	wsHandler := ws.New(hub, logger)

	router := transporthttp.NewRouter(transporthttp.RouterConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		WebhookHandler: transporthttp.NewWebhookHandler(projects, orchestrator, logger),
		DeployHandler:  transporthttp.NewDeploymentHandler(deployments, orchestrator, logger),
		WSHandler:      wsHandler.StreamDeployment,
		RateLimiter:    rateLimiter,
		Logger:         logger,
	})

	// --- 4. HTTP gateway ---
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("http gateway active", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("fatal: server crashed", "error", err)
			os.Exit(1)
		}
	}()

	// --- 5. Graceful shutdown ---
	<-stop
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("forced shutdown", "error", err)
	}
	logger.Info("deployctl shutdown complete")
}

// buildStore picks the persistence backend: Postgres when DATABASE_URL is
// set, otherwise the in-memory reference store for demos and local
// development (§6).
func buildStore(cfg *config.Config, logger *slog.Logger) (
	domain.ProjectRepository,
	domain.DeploymentRepository,
	domain.DeploymentStepRepository,
	domain.AuditRepository,
	domain.NotificationSink,
	func(),
) {
	if cfg.DatabaseURL == "" {
		logger.Info("no DATABASE_URL set, using in-memory store")
		return memory.NewProjectStore(), memory.NewDeploymentStore(), memory.NewStepStore(),
			memory.NewAuditStore(), memory.NewNotificationLog(), func() {}
	}

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Error("fatal: postgres pool init failed", "error", err)
		os.Exit(1)
	}

	// StepRepo uses sqlx's named-query ergonomics, so it rides on a
	// stdlib *sql.DB backed by the same pool rather than a second
	// connection pool.
	sqlxDB := sqlx.NewDb(stdlib.OpenDBFromPool(pool), "pgx")

	return postgres.NewProjectRepo(pool), postgres.NewDeploymentRepo(pool), postgres.NewStepRepo(sqlxDB),
		postgres.NewAuditRepo(pool), memory.NewNotificationLog(), func() {
			_ = sqlxDB.Close()
			pool.Close()
		}
}
