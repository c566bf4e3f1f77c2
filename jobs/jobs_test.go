package jobs

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/inventory"
	jobmetrics "github.com/odyssey-erp/buildflow/internal/jobs"
	"github.com/odyssey-erp/buildflow/internal/platform/cache"
	"github.com/odyssey-erp/buildflow/internal/procurement"
	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

type scannerFunc func(ctx context.Context) ([]inventory.Stock, error)

func (f scannerFunc) ScanLowStock(ctx context.Context) ([]inventory.Stock, error) { return f(ctx) }

type staleFunc func(ctx context.Context, age time.Duration) ([]procurement.PurchaseOrder, error)

func (f staleFunc) StaleOrders(ctx context.Context, age time.Duration) ([]procurement.PurchaseOrder, error) {
	return f(ctx, age)
}

type cleanerFunc func(ctx context.Context, olderThan time.Duration) (int64, error)

func (f cleanerFunc) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	return f(ctx, olderThan)
}

func newLocker(t *testing.T) (*cache.Locker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return cache.NewLocker(client, time.Minute), mr
}

func lowStock(companyID int64, name string, qty, threshold int64) inventory.Stock {
	return inventory.Stock{
		CompanyID:    companyID,
		ItemName:     name,
		Location:     "main",
		Quantity:     decimal.NewFromInt(qty),
		MinThreshold: decimal.NewNullDecimal(decimal.NewFromInt(threshold)),
	}
}

func TestLowStockScanPublishesPerCompany(t *testing.T) {
	locker, mr := newLocker(t)
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewLowStockScanJob(scannerFunc(func(ctx context.Context) ([]inventory.Stock, error) {
		require.True(t, mr.Exists(shared.LowStockScanLockKey()))
		return []inventory.Stock{
			lowStock(1, "Ciment", 2, 10),
			lowStock(1, "Sable", 5, 5),
			lowStock(2, "Fer à béton", 0, 40),
		}, nil
	}), locker, nil, metrics)

	task, err := NewLowStockScanTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.InDelta(t, 2, testutil.ToFloat64(metrics.LowStockGauge(1)), 0)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.LowStockGauge(2)), 0)
	require.False(t, mr.Exists(shared.LowStockScanLockKey()))
}

func TestLowStockScanDropsCompaniesThatRecovered(t *testing.T) {
	locker, _ := newLocker(t)
	registry := prometheus.NewRegistry()
	metrics := jobmetrics.NewMetrics(registry)
	low := []inventory.Stock{lowStock(1, "Ciment", 2, 10), lowStock(2, "Fer à béton", 0, 40)}
	job := NewLowStockScanJob(scannerFunc(func(ctx context.Context) ([]inventory.Stock, error) {
		return low, nil
	}), locker, nil, metrics)
	task, err := NewLowStockScanTask(time.Now())
	require.NoError(t, err)

	require.NoError(t, job.Handle(context.Background(), task))
	series, err := testutil.GatherAndCount(registry, "buildflow_low_stock_items")
	require.NoError(t, err)
	require.Equal(t, 2, series)

	low = low[1:]
	require.NoError(t, job.Handle(context.Background(), task))
	series, err = testutil.GatherAndCount(registry, "buildflow_low_stock_items")
	require.NoError(t, err)
	require.Equal(t, 1, series)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.LowStockGauge(2)), 0)
}

func TestLowStockScanSkipsWhenAnotherRunHoldsTheLock(t *testing.T) {
	locker, mr := newLocker(t)
	require.NoError(t, mr.Set(shared.LowStockScanLockKey(), "other-worker"))
	called := false
	job := NewLowStockScanJob(scannerFunc(func(ctx context.Context) ([]inventory.Stock, error) {
		called = true
		return nil, nil
	}), locker.WithRetry(1, time.Millisecond), nil, nil)

	task, err := NewLowStockScanTask(time.Now())
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.False(t, called)
}

func TestLowStockScanReportsFailure(t *testing.T) {
	locker, _ := newLocker(t)
	boom := errors.New("database down")
	job := NewLowStockScanJob(scannerFunc(func(ctx context.Context) ([]inventory.Stock, error) {
		return nil, boom
	}), locker, nil, nil)

	task, err := NewLowStockScanTask(time.Now())
	require.NoError(t, err)
	require.ErrorIs(t, job.Handle(context.Background(), task), boom)
}

func TestMalformedPayloadSkipsRetry(t *testing.T) {
	bad := asynq.NewTask(TaskLowStockScan, []byte("{"))
	job := NewLowStockScanJob(scannerFunc(func(ctx context.Context) ([]inventory.Stock, error) { return nil, nil }), nil, nil, nil)
	require.ErrorIs(t, job.Handle(context.Background(), bad), asynq.SkipRetry)

	stale := NewStaleOrdersJob(staleFunc(func(ctx context.Context, age time.Duration) ([]procurement.PurchaseOrder, error) {
		return nil, nil
	}), nil, nil)
	require.ErrorIs(t, stale.Handle(context.Background(), asynq.NewTask(TaskStaleOrders, []byte("nope"))), asynq.SkipRetry)
}

func TestStaleOrdersCountsByStatus(t *testing.T) {
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	var asked time.Duration
	job := NewStaleOrdersJob(staleFunc(func(ctx context.Context, age time.Duration) ([]procurement.PurchaseOrder, error) {
		asked = age
		return []procurement.PurchaseOrder{
			{ID: 1, Number: "PO-2026-03-0001", Status: workflow.StatusPendingManagement},
			{ID: 2, Number: "PO-2026-03-0002", Status: workflow.StatusPendingManagement},
			{ID: 3, Number: "PO-2026-03-0003", Status: workflow.StatusPendingSupplier},
		}, nil
	}), nil, metrics)

	task, err := NewStaleOrdersTask(48 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))

	require.Equal(t, 48*time.Hour, asked)
	require.InDelta(t, 2, testutil.ToFloat64(metrics.StaleOrdersGauge(string(workflow.StatusPendingManagement))), 0)
	require.InDelta(t, 1, testutil.ToFloat64(metrics.StaleOrdersGauge(string(workflow.StatusPendingSupplier))), 0)
	require.InDelta(t, 0, testutil.ToFloat64(metrics.StaleOrdersGauge(string(workflow.StatusPendingSiteManager))), 0)
}

func TestStaleOrdersDefaultsAge(t *testing.T) {
	var asked time.Duration
	job := NewStaleOrdersJob(staleFunc(func(ctx context.Context, age time.Duration) ([]procurement.PurchaseOrder, error) {
		asked = age
		return nil, nil
	}), nil, nil)
	require.NoError(t, job.Handle(context.Background(), asynq.NewTask(TaskStaleOrders, []byte(`{}`))))
	require.Equal(t, defaultStaleAfter, asked)
}

func TestIdempotencyCleanupUsesRetention(t *testing.T) {
	var retention time.Duration
	job := NewIdempotencyCleanupJob(cleanerFunc(func(ctx context.Context, olderThan time.Duration) (int64, error) {
		retention = olderThan
		return 12, nil
	}), nil, nil)

	task, err := NewIdempotencyCleanupTask(24 * time.Hour)
	require.NoError(t, err)
	require.NoError(t, job.Handle(context.Background(), task))
	require.Equal(t, 24*time.Hour, retention)

	failing := NewIdempotencyCleanupJob(cleanerFunc(func(ctx context.Context, olderThan time.Duration) (int64, error) {
		return 0, shared.Backend(errors.New("timeout"))
	}), nil, nil)
	require.ErrorIs(t, failing.Handle(context.Background(), task), shared.ErrBackend)
}

func TestJobsHealthWithoutInspector(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/jobs", NewHandler(nil, nil, nil).MountRoutes)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/jobs/health", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"queue":"default","pending":0,"active":0,"retry":0,"archived":0}`, rr.Body.String())

	rr = httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/jobs/low-stock-scan", nil))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
}
