// Package main provides the worker application entry point.
// The worker consumes research jobs from the Redpanda queue, runs the
// plan/search/extract pipeline, and persists decision-maker contacts.
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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/lead-scout/internal/adapter/ai/openrouter"
	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/adapter/queue/redpanda"
	"github.com/fairyhunter13/lead-scout/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/lead-scout/internal/adapter/search/serper"
	"github.com/fairyhunter13/lead-scout/internal/app"
	"github.com/fairyhunter13/lead-scout/internal/config"
	obsctx "github.com/fairyhunter13/lead-scout/internal/observability"
	"github.com/fairyhunter13/lead-scout/internal/service/ratelimiter"
	"github.com/fairyhunter13/lead-scout/internal/service/researchcache"
	"github.com/fairyhunter13/lead-scout/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("error", err))
		os.Exit(1)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	// Register Prometheus metrics in the worker process and expose them on a
	// dedicated /metrics endpoint so Prometheus can scrape job-queue metrics.
	observability.InitMetrics()
	observability.DriftMonitor.UpdateBaseline(observability.MetricLowConfidenceShare, cfg.ConfidenceLowBaseline)
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.WorkerMetricsPort), mux); err != nil {
			slog.Error("worker metrics server error", slog.Any("error", err))
		}
	}()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	slog.Info("starting worker", slog.String("env", cfg.AppEnv))

	// Database connection
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("database connection failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	// Repositories
	jobRepo := postgres.NewJobRepo(pool)
	contactRepo := postgres.NewDecisionMakerRepo(pool)
	creditRepo := postgres.NewCreditRepo(pool)
	userDir := postgres.NewUserDirectory(pool)

	// Planner and extractor prompts
	prompts := config.DefaultPrompts()
	if cfg.PromptsFile != "" {
		prompts, err = config.LoadPrompts(cfg.PromptsFile)
		if err != nil {
			slog.Error("prompts load failed", slog.String("path", cfg.PromptsFile), slog.Any("error", err))
			os.Exit(1)
		}
		slog.Info("prompts loaded", slog.String("path", cfg.PromptsFile))
	}

	// Search rate limiter. Redis coordinates the Serper budget across worker
	// replicas; without it each process gets its own window.
	var limiter ratelimiter.Limiter
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		limiter = ratelimiter.NewRedisLuaLimiter(rdb, "serper", cfg.SerperQPS, time.Second)
		slog.Info("search limiter using redis", slog.String("addr", cfg.RedisAddr), slog.Int("qps", cfg.SerperQPS))
	} else {
		limiter = ratelimiter.NewWindowLimiter(cfg.SerperQPS)
		slog.Info("search limiter in-process", slog.Int("qps", cfg.SerperQPS))
	}

	// Research pipeline: Serper search plus the OpenRouter LLM, both wrapped
	// with logging decorators, sharing one response cache.
	searchClient := obsctx.NewObservableSearchClient(serper.New(cfg.SerperBaseURL, cfg.SerperAPIKey, cfg.SerperNum, limiter))
	aiClient := obsctx.NewObservableAIClient(openrouter.New(cfg))
	cache := researchcache.New(cfg.ResearchCacheMaxItems, cfg.ResearchCacheTTL())
	researchSvc := usecase.NewResearchService(searchClient, aiClient, cache, prompts)

	runner := usecase.NewRunner(jobRepo, contactRepo, creditRepo, userDir, researchSvc, cfg)

	// Worker (Redpanda consumer)
	consumer, err := redpanda.NewConsumer(cfg.KafkaBrokers, cfg.WorkerGroup, runner)
	if err != nil {
		slog.Error("redpanda consumer init failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			slog.Error("failed to close consumer", slog.Any("error", err))
		}
	}()

	// Start stuck-job sweeper to ensure processing jobs eventually reach a
	// failed terminal state even if the worker handling them crashes.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if sweeper := app.NewStuckJobSweeper(jobRepo, cfg.StuckJobMaxAge, cfg.StuckJobSweepEvery); sweeper != nil {
		go sweeper.Run(runCtx)
	}

	// Start worker in background
	slog.Info("starting redpanda consumer", slog.String("group", cfg.WorkerGroup))
	go func() {
		if err := consumer.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("worker error", slog.Any("error", err))
		}
	}()

	// Wait for shutdown signals
	slog.Info("worker started, waiting for shutdown signal")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	slog.Info("signal received, shutting down", slog.String("signal", sig.String()))
	cancel()
	slog.Info("worker stopped")
}
