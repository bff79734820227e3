package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/relaywork/jobqueue/config"
	"github.com/relaywork/jobqueue/internal/bootstrap"
	"github.com/relaywork/jobqueue/internal/queue"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger()
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logStartupInfo(ctx, logger, &cfg)

	if err := bootstrap.ValidateServiceConfig(&cfg); err != nil {
		return err
	}

	redisClient, err := bootstrap.ConnectRedis(bootstrap.DatabaseConfig{
		RedisConfig: cfg.Redis,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := redisClient.Close(); cerr != nil {
			logger.ErrorContext(ctx, "close redis failed", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := queue.NewEngine(redisClient, queue.RealClock{}, cfg.Scheduler.MaxBackoffMs)

	group, groupCtx := errgroup.WithContext(ctx)
	if cfg.IsSchedulerEnabled() {
		group.Go(func() error {
			runScheduler(groupCtx, logger, engine, redisClient, &cfg.Scheduler)
			return nil
		})
	}
	if cfg.IsWorkerEnabled() {
		group.Go(func() error {
			runWorker(groupCtx, logger, engine, redisClient, &cfg.Worker)
			return nil
		})
	}

	if cfg.IsSchedulerEnabled() {
		scheduleDemoJob(groupCtx, logger, engine)
	}

	return group.Wait()
}

func runScheduler(ctx context.Context, logger *slog.Logger, engine *queue.Engine, client redis.UniversalClient, cfg *config.SchedulerConfig) {
	sched := queue.NewScheduler(client, engine, queue.RealClock{}, logger, cfg.PromoteBatchSize, cfg.ReclaimBatchSize)
	logger.InfoContext(ctx, "scheduler started", "tick_interval", cfg.TickInterval)

	ticker := time.NewTicker(cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.InfoContext(ctx, "scheduler stopping")
			return
		case <-ticker.C:
			if err := sched.Tick(ctx); err != nil {
				logger.WarnContext(ctx, "scheduler tick failed", "error", err)
			}
		}
	}
}

func runWorker(ctx context.Context, logger *slog.Logger, engine *queue.Engine, client redis.UniversalClient, cfg *config.WorkerConfig) {
	registry := queue.NewMapRegistry(nil)
	registry.Register("echo", func(_ context.Context, payload json.RawMessage) error {
		logger.Info("echo task ran", "payload", string(payload))
		return nil
	})

	pool := queue.NewPool(client, engine, registry, logger, cfg.Concurrency, cfg.PollInterval, cfg.LeaseDuration)
	logger.InfoContext(ctx, "worker pool started", "concurrency", cfg.Concurrency)
	pool.Run(ctx)
	logger.InfoContext(ctx, "worker pool stopped")
}

// scheduleDemoJob submits one echo job shortly after startup so a fresh
// deployment demonstrates the full schedule -> queued -> running ->
// completed path without requiring an external submitter.
func scheduleDemoJob(ctx context.Context, logger *slog.Logger, engine *queue.Engine) {
	id := uuid.NewString()
	payload, err := json.Marshal(map[string]string{"message": "hello from jobqueue"})
	if err != nil {
		logger.WarnContext(ctx, "marshal demo payload failed", "error", err)
		return
	}

	if err := engine.Schedule(ctx, id, "echo", payload, 0, 5, 500); err != nil {
		logger.WarnContext(ctx, "schedule demo job failed", "error", err)
		return
	}
	logger.InfoContext(ctx, "scheduled demo job", "job_id", id)
}

func logStartupInfo(ctx context.Context, logger *slog.Logger, cfg *config.AppConfig) {
	enabledServices := bootstrap.GetEnabledServices(cfg)
	logger.InfoContext(ctx, "starting jobqueue service",
		"redis_uri", cfg.Redis.URI,
		"enabled_services", enabledServices)
}
