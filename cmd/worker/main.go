package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/allocation"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/app"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/chain"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/entitlement"
	jobmetrics "github.com/antonioqueb/stock-whole-lot-removal/internal/jobs"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/observability"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/platform/db"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/shared"
	"github.com/antonioqueb/stock-whole-lot-removal/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()
	tracker := jobmetrics.NewMetrics(metrics.Registerer())
	auditLogger := shared.NewAuditLogger(pool)

	ledger := quant.NewRepository(pool, cfg.UOMRounding)
	store := allocation.NewRepository(pool)
	entitlements := entitlement.NewRepository(pool)

	allocService := allocation.NewService(store, ledger, entitlements, auditLogger, metrics, logger)
	chainService := chain.NewService(store, ledger, allocService, entitlements, store, logger)

	stepHandler := jobs.HandleStepExecutedTask(chainService, logger)
	sweepHandler := jobs.HandleBackorderSweepTask(chainService, logger)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskStepExecuted, Handler: func(ctx context.Context, t *asynq.Task) error {
				return tracker.Track("step_executed").End(stepHandler(ctx, t))
			}},
			{Type: jobs.TaskBackorderSweep, Handler: func(ctx context.Context, t *asynq.Task) error {
				return tracker.Track("backorder_sweep").End(sweepHandler(ctx, t))
			}},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.BackorderSweepCron, Task: jobs.NewBackorderSweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("worker started", slog.String("redis", cfg.RedisAddr))
	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker exit", slog.Any("error", err))
		os.Exit(1)
	}
}
