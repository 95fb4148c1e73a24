package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/inferno-ml/inferno/archive"
	"github.com/inferno-ml/inferno/broker"
	"github.com/inferno-ml/inferno/config"
	"github.com/inferno-ml/inferno/events"
	"github.com/inferno-ml/inferno/gateway/middleware"
	"github.com/inferno-ml/inferno/idempotency"
	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/models"
	"github.com/inferno-ml/inferno/models/runners"
	"github.com/inferno-ml/inferno/observability"
	"github.com/inferno-ml/inferno/ratelimit"
)

func main() {
	cfg := config.Load()
	log.Init(log.Config{
		Level:      os.Getenv("LOG_LEVEL"),
		JSONOutput: cfg.Environment != "development",
	})
	logger := log.WithComponent("gateway")

	registry := models.NewRegistry()
	runners.RegisterAll(registry)
	logger.Info().Strs("models", registry.List()).Msg("available models")

	b, err := broker.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("broker connect failed")
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var arch *archive.Archive
	if cfg.DatabaseURL != "" {
		arch, err = archive.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("archive connect failed")
		}
		defer arch.Close()
		logger.Info().Msg("task archive enabled")
	}

	hub := events.NewHub(func(ctx context.Context) map[string]int64 {
		depths := make(map[string]int64, 3)
		for _, queue := range broker.Queues() {
			n, err := b.QueueDepth(ctx, queue)
			if err != nil {
				continue
			}
			depths[queue] = n
			observability.QueueSize.WithLabelValues(queue).Set(float64(n))
		}
		return depths
	})
	go hub.Run(ctx)

	api := NewAPI(
		cfg,
		registry,
		NewDispatcher(b),
		b,
		ratelimit.NewLimiter(cfg.RateLimitPerMinute),
		idempotency.NewCache(idempotency.DefaultTTL),
		arch,
		hub,
	)

	auth := middleware.Auth(cfg.APIKeys)

	mux := http.NewServeMux()
	mux.Handle("GET /health",
		middleware.Instrument("/health", http.HandlerFunc(api.handleHealth)))
	mux.Handle("POST /v1/tasks",
		middleware.Instrument("/v1/tasks", auth(http.HandlerFunc(api.handleSubmitTask))))
	mux.Handle("GET /v1/tasks/{task_id}",
		middleware.Instrument("/v1/tasks/{task_id}", auth(http.HandlerFunc(api.handleGetTaskStatus))))
	mux.Handle("GET /v1/events", auth(http.HandlerFunc(api.handleEvents)))
	if cfg.PrometheusEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	server := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      middleware.CORS(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan
		logger.Info().Msg("shutting down")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
		cancel()
	}()

	logger.Info().Str("addr", cfg.ListenAddr).Str("environment", cfg.Environment).
		Msg("inference gateway listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal().Err(err).Msg("server failed")
	}

	registry.Cleanup("", 0)
	logger.Info().Msg("gateway stopped")
}
