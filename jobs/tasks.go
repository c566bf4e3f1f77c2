package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskLowStockScan reports stock records at or below their threshold.
	TaskLowStockScan = "inventory:low-stock-scan"
	// TaskStaleOrders reports purchase orders stuck waiting on a decision.
	TaskStaleOrders = "procurement:stale-orders"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency-cleanup"
)

// LowStockScanPayload carries scheduling metadata.
type LowStockScanPayload struct {
	ScheduledFor time.Time `json:"scheduled_for"`
}

// StaleOrdersPayload sets how long an order may wait before being reported.
type StaleOrdersPayload struct {
	OlderThanHours int `json:"older_than_hours"`
}

// IdempotencyCleanupPayload sets how long processed keys are retained.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewLowStockScanTask constructs an Asynq task for the low stock scan.
func NewLowStockScanTask(at time.Time) (*asynq.Task, error) {
	return newTask(TaskLowStockScan, LowStockScanPayload{ScheduledFor: at})
}

// NewStaleOrdersTask constructs an Asynq task for the stale order report.
func NewStaleOrdersTask(olderThan time.Duration) (*asynq.Task, error) {
	return newTask(TaskStaleOrders, StaleOrdersPayload{OlderThanHours: int(olderThan / time.Hour)})
}

// NewIdempotencyCleanupTask constructs an Asynq task purging old keys.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	return newTask(TaskIdempotencyCleanup, IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
}

func newTask(kind string, payload any) (*asynq.Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(kind, body, asynq.Queue(QueueDefault)), nil
}
