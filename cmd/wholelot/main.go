package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/antonioqueb/stock-whole-lot-removal/internal/allocation"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/app"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/chain"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/entitlement"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/observability"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/platform/cache"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/platform/db"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/quant"
	"github.com/antonioqueb/stock-whole-lot-removal/internal/shared"
	"github.com/antonioqueb/stock-whole-lot-removal/jobs"
)

func main() {
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, step events will be processed synchronously", slog.Any("error", err))
	} else {
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}()
	}

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	ledger := quant.NewRepository(pool, cfg.UOMRounding)
	store := allocation.NewRepository(pool)
	entitlements := entitlement.NewRepository(pool)

	allocService := allocation.NewService(store, ledger, entitlements, auditLogger, metrics, logger)
	chainService := chain.NewService(store, ledger, allocService, entitlements, store, logger)

	var queue chain.Queue
	var jobHandler *jobs.Handler
	if redisClient != nil {
		client, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Error("init jobs client", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				logger.Warn("jobs client close", slog.Any("error", err))
			}
		}()
		queue = client
		jobHandler = jobs.NewHandler(asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr}), logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		AllocationHandler: allocation.NewHandler(logger, allocService, store),
		ChainHandler:      chain.NewHandler(logger, chainService, queue, idempotency),
		JobHandler:        jobHandler,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && err != context.Canceled {
		logger.Error("server exit", slog.Any("error", err))
		os.Exit(1)
	}
}
