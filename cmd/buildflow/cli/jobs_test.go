package cli

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/jobs"
)

func TestBuildTaskUsesDefaults(t *testing.T) {
	c := &JobsCLI{defaults: Defaults{StaleOrderAge: 96 * time.Hour, IdempotencyRetention: 48 * time.Hour}}

	task, err := c.BuildTask(jobs.TaskStaleOrders)
	require.NoError(t, err)
	var stale jobs.StaleOrdersPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &stale))
	require.Equal(t, 96, stale.OlderThanHours)

	task, err = c.BuildTask(jobs.TaskIdempotencyCleanup)
	require.NoError(t, err)
	var cleanup jobs.IdempotencyCleanupPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &cleanup))
	require.Equal(t, 48, cleanup.RetentionHours)

	task, err = c.BuildTask(jobs.TaskLowStockScan)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLowStockScan, task.Type())
}

func TestBuildTaskRejectsUnknownJob(t *testing.T) {
	_, err := (&JobsCLI{}).BuildTask("analytics:warmup")
	require.Error(t, err)
	require.Len(t, Supported(), 3)
}
