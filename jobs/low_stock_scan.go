package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/buildflow/internal/inventory"
	jobmetrics "github.com/odyssey-erp/buildflow/internal/jobs"
	"github.com/odyssey-erp/buildflow/internal/platform/cache"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// LowStockScanner lists every stock record at or under its threshold.
type LowStockScanner interface {
	ScanLowStock(ctx context.Context) ([]inventory.Stock, error)
}

// LowStockScanJob reports low stock across companies. Runs are serialised
// through a redis lock so overlapping schedules do not double report.
type LowStockScanJob struct {
	Scanner LowStockScanner
	Locker  *cache.Locker
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLowStockScanJob initialises the low stock scan handler.
func NewLowStockScanJob(scanner LowStockScanner, locker *cache.Locker, logger *slog.Logger, metrics *jobmetrics.Metrics) *LowStockScanJob {
	return &LowStockScanJob{
		Scanner: scanner,
		Locker:  locker,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the scan.
func (j *LowStockScanJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Scanner == nil {
		return errors.New("low stock scan: handler not configured")
	}
	var payload LowStockScanPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	tracker := j.Metrics.Track(TaskLowStockScan)
	start := j.clock()
	logger := j.logger()

	err := j.Locker.WithLock(ctx, shared.LowStockScanLockKey(), func(ctx context.Context) error {
		low, err := j.Scanner.ScanLowStock(ctx)
		if err != nil {
			return err
		}
		perCompany := make(map[int64]int)
		for _, s := range low {
			perCompany[s.CompanyID]++
			logger.Warn("stock below threshold",
				slog.Int64("company_id", s.CompanyID),
				slog.Int64("stock_id", s.ID),
				slog.String("item", s.ItemName),
				slog.String("location", s.Location),
				slog.String("quantity", s.Quantity.String()),
				slog.String("threshold", s.MinThreshold.Decimal.String()),
			)
		}
		j.Metrics.ResetLowStock()
		for companyID, count := range perCompany {
			j.Metrics.SetLowStock(companyID, count)
		}
		logger.Info("completed low stock scan",
			slog.Int("items", len(low)),
			slog.Int("companies", len(perCompany)),
			slog.Duration("duration", j.clock().Sub(start)),
		)
		return nil
	})
	if errors.Is(err, cache.ErrLockNotObtained) {
		logger.Info("low stock scan already running, skipping")
		return tracker.End(nil)
	}
	if err != nil {
		logger.Error("low stock scan failed", slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *LowStockScanJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLowStockScan))
	}
	return slog.Default().With(slog.String("job", TaskLowStockScan))
}
