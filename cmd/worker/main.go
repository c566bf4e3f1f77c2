package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/buildflow/internal/app"
	"github.com/odyssey-erp/buildflow/internal/identity"
	"github.com/odyssey-erp/buildflow/internal/inventory"
	jobmetrics "github.com/odyssey-erp/buildflow/internal/jobs"
	"github.com/odyssey-erp/buildflow/internal/observability"
	"github.com/odyssey-erp/buildflow/internal/platform/cache"
	"github.com/odyssey-erp/buildflow/internal/platform/db"
	"github.com/odyssey-erp/buildflow/internal/procurement"
	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
	"github.com/odyssey-erp/buildflow/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	domainMetrics := observability.NewMetrics().Domain()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	locker := cache.NewLocker(redisClient, time.Minute)

	inventoryService := inventory.NewService(
		inventory.NewRepository(pool),
		auditLogger,
		idempotencyStore,
		domainMetrics,
		logger,
		inventory.ServiceConfig{DefaultLocation: cfg.DefaultStockLocation, HistoryPageSize: cfg.StockHistoryPageSize},
	)
	procurementRepo := procurement.NewRepository(pool)
	procurementService := procurement.NewService(
		procurementRepo,
		inventoryService,
		identity.NewRepository(pool),
		auditLogger,
		workflow.NewEngine(domainMetrics, logger),
		procurement.NewNumberer(procurementRepo, cache.NewLocker(redisClient, cfg.OrderNumberLockTTL), domainMetrics, logger),
		logger,
		procurement.ServiceConfig{DefaultLocation: cfg.DefaultStockLocation},
	)

	metrics := jobmetrics.NewMetrics(nil)
	lowStockJob := jobs.NewLowStockScanJob(inventoryService, locker, logger, metrics)
	staleJob := jobs.NewStaleOrdersJob(procurementService, logger, metrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(idempotencyStore, logger, metrics)

	lowStockTask, err := jobs.NewLowStockScanTask(time.Time{})
	if err != nil {
		logger.Error("build low stock task", slog.Any("error", err))
		os.Exit(1)
	}
	staleTask, err := jobs.NewStaleOrdersTask(cfg.StaleOrderAge)
	if err != nil {
		logger.Error("build stale orders task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB},
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLowStockScan, Handler: lowStockJob.Handle},
			{Type: jobs.TaskStaleOrders, Handler: staleJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.LowStockScanCron, Task: lowStockTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.StaleOrdersCron, Task: staleTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.IdempotencyCleanupCron, Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(1)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
