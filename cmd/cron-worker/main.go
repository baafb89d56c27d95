package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/otcsettle/internal/agents"
	"github.com/angelmondragon/otcsettle/internal/audit"
	"github.com/angelmondragon/otcsettle/internal/confirmation"
	"github.com/angelmondragon/otcsettle/internal/cron"
	"github.com/angelmondragon/otcsettle/pkg/config"
	"github.com/angelmondragon/otcsettle/pkg/db"
	"github.com/angelmondragon/otcsettle/pkg/enums"
	"github.com/angelmondragon/otcsettle/pkg/logger"
	"github.com/angelmondragon/otcsettle/pkg/metrics"
	"github.com/angelmondragon/otcsettle/pkg/migrate"
	"github.com/angelmondragon/otcsettle/pkg/outbox"
	"github.com/angelmondragon/otcsettle/pkg/redis"
)

const lockName = "cron-worker"

func main() {
	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	var lock cron.Lock
	if cfg.Redis.Enabled() {
		redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
		if err != nil {
			logg.Error(context.Background(), "failed to bootstrap redis", err)
			os.Exit(1)
		}
		defer func() {
			if err := redisClient.Close(); err != nil {
				logg.Error(context.Background(), "error closing redis", err)
			}
		}()
		lock, err = cron.NewRedisLock(redisClient, redisClient.CronLockKey(lockName), cfg.Cron.LockTTL)
		if err != nil {
			logg.Error(context.Background(), "failed to create cron lock", err)
			os.Exit(1)
		}
	} else {
		logg.Warn(context.Background(), "redis disabled, cron lock is process local")
		lock = cron.NewLocalLock()
	}

	recorder, err := audit.NewRecorder(outbox.NewService(outbox.NewRepository(dbClient.DB()), logg), logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create audit recorder", err)
		os.Exit(1)
	}
	settlementMetrics := metrics.NewSettlementMetrics(prometheus.DefaultRegisterer)
	agentService, err := agents.NewService(
		agents.NewRepository(dbClient.DB()),
		dbClient,
		recorder,
		settlementMetrics,
		logg,
		agents.WithDefaultMethod(enums.AssignmentMethod(cfg.Agents.DefaultMethod)),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create agent service", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, dbClient, agentService)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"interval": cfg.Cron.Interval.String(),
	})
	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, agentService agents.Service) (*cron.Registry, error) {
	reconcile, err := cron.NewAgentLoadReconcileJob(logg, agentService)
	if err != nil {
		return nil, err
	}
	stale, err := cron.NewStaleAssignmentReleaseJob(logg, agentService, cfg.Agents.AssignmentMaxAge)
	if err != nil {
		return nil, err
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: outbox.NewRepository(dbClient.DB()),
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, err
	}
	jobs := []cron.Job{reconcile, stale, retention}

	// the Redis store expires keys itself
	if !cfg.FeatureFlags.RedisConfirmations || !cfg.Redis.Enabled() {
		cleanup, err := cron.NewConfirmationCleanupJob(logg, confirmation.NewSQLStore(dbClient.DB()))
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, cleanup)
	}
	return cron.NewRegistry(jobs...)
}
