package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/buildflow/internal/jobs"
	"github.com/odyssey-erp/buildflow/internal/procurement"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

// defaultStaleAfter applies when the payload leaves the age unset.
const defaultStaleAfter = 72 * time.Hour

// StaleOrderFinder lists orders waiting on a decision for longer than age.
type StaleOrderFinder interface {
	StaleOrders(ctx context.Context, age time.Duration) ([]procurement.PurchaseOrder, error)
}

// StaleOrdersJob logs purchase orders nobody has acted on.
type StaleOrdersJob struct {
	Orders  StaleOrderFinder
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewStaleOrdersJob initialises the stale order handler.
func NewStaleOrdersJob(orders StaleOrderFinder, logger *slog.Logger, metrics *jobmetrics.Metrics) *StaleOrdersJob {
	return &StaleOrdersJob{Orders: orders, Logger: logger, Metrics: metrics}
}

// Handle executes the report.
func (j *StaleOrdersJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Orders == nil {
		return errors.New("stale orders: handler not configured")
	}
	var payload StaleOrdersPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	age := time.Duration(payload.OlderThanHours) * time.Hour
	if age <= 0 {
		age = defaultStaleAfter
	}

	tracker := j.Metrics.Track(TaskStaleOrders)
	logger := j.logger().With(slog.Duration("older_than", age))

	orders, err := j.Orders.StaleOrders(ctx, age)
	if err != nil {
		logger.Error("stale order lookup failed", slog.Any("error", err))
		return tracker.End(err)
	}
	counts := map[workflow.Status]int{
		workflow.StatusPendingSiteManager: 0,
		workflow.StatusPendingManagement:  0,
		workflow.StatusPendingSupplier:    0,
	}
	for _, o := range orders {
		counts[o.Status]++
		logger.Warn("purchase order waiting on decision",
			slog.Int64("order_id", o.ID),
			slog.String("number", o.Number),
			slog.Int64("company_id", o.CompanyID),
			slog.String("status", string(o.Status)),
			slog.Time("updated_at", o.UpdatedAt),
		)
	}
	for status, n := range counts {
		j.Metrics.SetStaleOrders(string(status), n)
	}
	logger.Info("completed stale order report", slog.Int("orders", len(orders)))
	return tracker.End(nil)
}

func (j *StaleOrdersJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStaleOrders))
	}
	return slog.Default().With(slog.String("job", TaskStaleOrders))
}
