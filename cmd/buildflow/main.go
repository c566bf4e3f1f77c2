package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/buildflow/cmd/buildflow/cli"
	"github.com/odyssey-erp/buildflow/internal/app"
	"github.com/odyssey-erp/buildflow/internal/identity"
	"github.com/odyssey-erp/buildflow/internal/inventory"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := app.NewLogger(cfg)

	if len(os.Args) > 1 && os.Args[1] == "jobs" {
		if err := runJobsCommand(cfg, os.Args[2:]); err != nil {
			logger.Error("jobs command", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)
	directory := identity.NewRepository(dbpool)

	inventoryService := inventory.NewService(
		inventory.NewRepository(dbpool),
		auditLogger,
		idempotencyStore,
		metrics.Domain(),
		logger,
		inventory.ServiceConfig{DefaultLocation: cfg.DefaultStockLocation, HistoryPageSize: cfg.StockHistoryPageSize},
	)

	procurementRepo := procurement.NewRepository(dbpool)
	numberer := procurement.NewNumberer(procurementRepo, cache.NewLocker(redisClient, cfg.OrderNumberLockTTL), metrics.Domain(), logger)
	procurementService := procurement.NewService(
		procurementRepo,
		inventoryService,
		directory,
		auditLogger,
		workflow.NewEngine(metrics.Domain(), logger),
		numberer,
		logger,
		procurement.ServiceConfig{DefaultLocation: cfg.DefaultStockLocation},
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, DB: cfg.RedisDB}
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		Identity:           identity.Middleware{Directory: directory, Logger: logger},
		InventoryHandler:   inventory.NewHandler(logger, inventoryService),
		ProcurementHandler: procurement.NewHandler(logger, procurementService),
		JobHandler:         jobs.NewHandler(inspector, jobClient, logger),
		Metrics:            metrics,
		Checks: map[string]app.Pinger{
			"postgres": dbpool,
			"redis":    app.PingFunc(func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}

// runJobsCommand handles `buildflow jobs trigger <name>` and `buildflow jobs stats`.
func runJobsCommand(cfg *app.Config, args []string) error {
	c := cli.NewJobsCLI(cfg.RedisAddr, cli.Defaults{
		StaleOrderAge:        cfg.StaleOrderAge,
		IdempotencyRetention: cfg.IdempotencyRetention,
	})
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch {
	case len(args) == 2 && args[0] == "trigger":
		info, err := c.Trigger(ctx, args[1])
		if err != nil {
			return err
		}
		fmt.Printf("enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
	case len(args) == 1 && args[0] == "stats":
		stats, err := c.InspectQueue(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("queue=%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	default:
		return fmt.Errorf("usage: buildflow jobs trigger <%s> | buildflow jobs stats", strings.Join(cli.Supported(), "|"))
	}
	return nil
}
