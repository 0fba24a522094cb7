package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/evrent-backend/internal/bootstrap"
	"github.com/angelmondragon/evrent-backend/internal/cron"
	"github.com/angelmondragon/evrent-backend/pkg/config"
	"github.com/angelmondragon/evrent-backend/pkg/db"
	"github.com/angelmondragon/evrent-backend/pkg/instance"
	"github.com/angelmondragon/evrent-backend/pkg/logger"
	"github.com/angelmondragon/evrent-backend/pkg/metrics"
	"github.com/angelmondragon/evrent-backend/pkg/migrate"
	"github.com/angelmondragon/evrent-backend/pkg/outbox"
	"github.com/angelmondragon/evrent-backend/pkg/redis"
)

const (
	serviceKind   = "cron-worker"
	lockKeyFormat = "evrent:cron-worker:lock:%s"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind
	logg = logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": serviceKind,
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	flowMetrics := metrics.NewFlowMetrics(prometheus.DefaultRegisterer)
	// Publish-only: API replicas deliver to their own hubs.
	dispatcher, _, err := bootstrap.NewDispatcher(cfg.Realtime, redisClient, nil, logg, flowMetrics)
	if err != nil {
		return fmt.Errorf("realtime dispatcher: %w", err)
	}
	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	dispatcher.Start(dispatchCtx)
	defer dispatcher.Wait()
	defer stopDispatch()

	core, err := bootstrap.NewCore(ctx, bootstrap.CoreParams{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Notifier: dispatcher,
		Metrics:  flowMetrics,
	})
	if err != nil {
		return fmt.Errorf("wire domain services: %w", err)
	}

	schedule, err := buildSchedule(cfg, logg, core, dbClient)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.AutoRefund.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Schedule: schedule,
		Lock:     lock,
		Metrics:  metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Tick:     cfg.Cron.Tick,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(logg.WithField(ctx, "jobs", schedule.Len()), "starting cron worker")
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return service.Run(gctx) })
	if cfg.Cron.MetricsAddr != "" {
		g.Go(func() error { return serveMetrics(gctx, cfg.Cron.MetricsAddr, logg) })
	}
	return g.Wait()
}

func buildSchedule(cfg *config.Config, logg *logger.Logger, core *bootstrap.Core, dbClient *db.Client) (*cron.Schedule, error) {
	schedule := cron.NewSchedule()
	if cfg.AutoRefund.Enabled {
		autoRefund, err := cron.NewAutoRefundJob(cron.AutoRefundJobParams{
			Logger:     logg,
			Orders:     core.Orders,
			StaleAfter: cfg.AutoRefund.StaleAfter,
			BatchSize:  cfg.AutoRefund.BatchSize,
			Workers:    cfg.AutoRefund.Workers,
		})
		if err != nil {
			return nil, fmt.Errorf("auto refund job: %w", err)
		}
		if err := schedule.Add(autoRefund, cfg.AutoRefund.Interval); err != nil {
			return nil, fmt.Errorf("schedule auto refund: %w", err)
		}
	}

	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:        logg,
		DB:            dbClient,
		Repository:    outbox.NewRepository(dbClient.DB()),
		RetentionDays: cfg.Outbox.RetentionDays,
		BatchSize:     cfg.Outbox.RetentionBatch,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	if err := schedule.Add(retention, cfg.Outbox.RetentionEvery); err != nil {
		return nil, fmt.Errorf("schedule outbox retention: %w", err)
	}
	return schedule, nil
}

func serveMetrics(ctx context.Context, addr string, logg *logger.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logg.Error(ctx, "metrics server shutdown", err)
		}
	}()

	logg.Info(logg.WithField(ctx, "addr", addr), "serving worker metrics")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return ctx.Err()
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
