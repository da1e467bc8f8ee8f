// Command server starts the Lead Scout HTTP API.
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

	"github.com/redis/go-redis/v9"

	httpserver "github.com/fairyhunter13/lead-scout/internal/adapter/httpserver"
	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/lead-scout/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/lead-scout/internal/app"
	"github.com/fairyhunter13/lead-scout/internal/config"
	"github.com/fairyhunter13/lead-scout/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register all Prometheus metrics once per process so that /metrics
	// exposes HTTP, search, LLM, and job instrumentation.
	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	jobRepo := postgres.NewJobRepo(pool)
	contactRepo := postgres.NewDecisionMakerRepo(pool)
	creditRepo := postgres.NewCreditRepo(pool)
	subRepo := postgres.NewSubscriptionRepo(pool)
	userDir := postgres.NewUserDirectory(pool)
	statsRepo := postgres.NewStatsRepo(pool)

	// Data retention cleanup
	if cfg.DataRetentionDays > 0 {
		cleanupSvc := postgres.NewCleanupService(pool, cfg.DataRetentionDays)
		go cleanupSvc.RunPeriodic(ctx, cfg.CleanupInterval)
		slog.Info("cleanup service started", slog.Int("retention_days", cfg.DataRetentionDays), slog.Duration("interval", cfg.CleanupInterval))
	}

	// Queue client (Redpanda producer)
	producer, err := redpanda.NewProducer(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("redpanda producer connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := producer.Close(); err != nil {
			slog.Error("failed to close queue producer", slog.Any("error", err))
		}
	}()

	// Redis backs the distributed search limiter in the workers; the API
	// process only pings it for readiness.
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
	}

	// Usecases
	jobSvc := usecase.NewJobService(jobRepo, contactRepo, producer, cfg.MaxJobRows)
	creditSvc := usecase.NewCreditService(creditRepo, subRepo, cfg.CouponCodes)
	uploadSvc := usecase.NewUploadService()

	dbCheck, redisCheck, kafkaCheck := app.BuildReadinessChecks(pool, rdb, producer)

	// HTTP server
	srv := httpserver.NewServer(cfg, jobSvc, creditSvc, uploadSvc, userDir, statsRepo, dbCheck, redisCheck, kafkaCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port), slog.String("env", cfg.AppEnv))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
	slog.Info("server stopped")
}
