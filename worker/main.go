package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/inferno-ml/inferno/archive"
	"github.com/inferno-ml/inferno/broker"
	"github.com/inferno-ml/inferno/config"
	"github.com/inferno-ml/inferno/log"
	"github.com/inferno-ml/inferno/models"
	"github.com/inferno-ml/inferno/models/runners"
	"github.com/inferno-ml/inferno/observability"
)

const (
	pollInterval      = 250 * time.Millisecond
	heartbeatInterval = 10 * time.Second
	heartbeatTTL      = 30 * time.Second
	janitorInterval   = 15 * time.Second
)

func main() {
	cfg := config.Load()
	log.Init(log.Config{
		Level:      os.Getenv("LOG_LEVEL"),
		JSONOutput: cfg.Environment != "development",
	})

	deviceID := deviceFromEnv()
	hostname, _ := os.Hostname()
	consumer := fmt.Sprintf("%s-gpu%d-%s", hostname, deviceID, uuid.NewString()[:8])
	logger := log.WithComponent("worker").With().Str("consumer", consumer).
		Int("gpu_id", deviceID).Logger()

	registry := models.NewRegistry()
	runners.RegisterAll(registry)

	b, err := broker.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.ResultTTL)
	if err != nil {
		logger.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("broker connect failed")
	}
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info().Msg("received shutdown signal")
		cancel()
	}()

	var arch *archive.Archive
	if cfg.DatabaseURL != "" {
		arch, err = archive.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("archive connect failed")
		}
		defer arch.Close()
	}

	// Liveness first, so the reaper never mistakes this consumer for
	// dead while its first job is in flight.
	if err := b.Heartbeat(ctx, consumer, heartbeatTTL); err != nil {
		logger.Fatal().Err(err).Msg("initial heartbeat failed")
	}
	go heartbeatLoop(ctx, b, consumer, logger)
	go janitorLoop(ctx, b, logger)

	executor := NewExecutor(cfg, registry, b, arch, deviceID, consumer)

	gpuLabel := strconv.Itoa(deviceID)
	observability.ActiveWorkers.WithLabelValues(gpuLabel).Set(1)
	defer observability.ActiveWorkers.WithLabelValues(gpuLabel).Set(0)

	logger.Info().Int("max_tasks", cfg.MaxTasksPerChild).Msg("worker started")

	// Prefetch is 1: one in-flight job per slot. The loop exits after
	// MaxTasksPerChild jobs to bound long-lived device memory drift;
	// the process supervisor restarts the binary.
	processed := 0
	for processed < cfg.MaxTasksPerChild {
		if ctx.Err() != nil {
			break
		}

		d, err := b.TryDequeue(ctx, consumer)
		if err != nil {
			logger.Error().Err(err).Msg("dequeue failed")
			sleep(ctx, time.Second)
			continue
		}
		if d == nil {
			sleep(ctx, pollInterval)
			continue
		}

		executor.Process(ctx, d)
		processed++
	}

	registry.Cleanup("", 0)
	if processed >= cfg.MaxTasksPerChild {
		logger.Info().Int("processed", processed).Msg("max tasks per child reached, exiting for recycle")
	} else {
		logger.Info().Int("processed", processed).Msg("worker stopped")
	}
}

// heartbeatLoop keeps the consumer's liveness key fresh. If this stops
// (process death), the reaper requeues whatever the slot was holding.
func heartbeatLoop(ctx context.Context, b *broker.Redis, consumer string, logger zerolog.Logger) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.Heartbeat(ctx, consumer, heartbeatTTL); err != nil {
				logger.Error().Err(err).Msg("heartbeat failed")
			}
		}
	}
}

// janitorLoop promotes due retries back onto their queues and requeues
// jobs abandoned by dead consumers. Every worker runs one; the
// operations are idempotent so overlap between workers is harmless.
func janitorLoop(ctx context.Context, b *broker.Redis, logger zerolog.Logger) {
	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := b.PromoteDueRetries(ctx); err != nil {
				logger.Error().Err(err).Msg("retry promotion failed")
			} else if n > 0 {
				logger.Info().Int("promoted", n).Msg("promoted due retries")
			}
			if _, err := b.ReapStale(ctx); err != nil {
				logger.Error().Err(err).Msg("stale reap failed")
			}
		}
	}
}

func sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// deviceFromEnv reads the accelerator index, defaulting to 0.
func deviceFromEnv() int {
	if v := os.Getenv("CUDA_VISIBLE_DEVICES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}
