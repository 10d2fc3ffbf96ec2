package jobs

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"

	// TaskCostRollup recomputes every kit's calculated cost.
	TaskCostRollup = "bom:cost_rollup"
	// TaskLedgerIntegrity replays the ledger against stored balances.
	TaskLedgerIntegrity = "ledger:integrity"
	// TaskReorderScan rebuilds the cached reorder report.
	TaskReorderScan = "reorder:scan"
	// TaskLevelsExport stores an inventory levels workbook in object storage.
	TaskLevelsExport = "reports:levels_export"
	// TaskIdempotencyPrune deletes expired idempotency keys.
	TaskIdempotencyPrune = "maintenance:idempotency_prune"
)

// TaskTypes lists every task the worker handles.
var TaskTypes = []string{TaskCostRollup, TaskLedgerIntegrity, TaskReorderScan, TaskLevelsExport, TaskIdempotencyPrune}

// IdempotencyPrunePayload overrides the configured retention for one run.
type IdempotencyPrunePayload struct {
	Retention string `json:"retention,omitempty"`
}

// LedgerIntegrityPayload narrows an integrity run. An empty SKU checks
// every tracked item.
type LedgerIntegrityPayload struct {
	SKU         string `json:"sku,omitempty"`
	Parallelism int    `json:"parallelism,omitempty"`
}

// NewTask builds a task of the given type. Payload may be nil.
func NewTask(taskType string, payload any) (*asynq.Task, error) {
	known := false
	for _, t := range TaskTypes {
		if t == taskType {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("jobs: unknown task %q", taskType)
	}
	if payload == nil {
		return asynq.NewTask(taskType, nil), nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(taskType, data), nil
}

// NewIdempotencyPruneTask constructs a prune task.
func NewIdempotencyPruneTask(payload IdempotencyPrunePayload) (*asynq.Task, error) {
	if payload.Retention == "" {
		return NewTask(TaskIdempotencyPrune, nil)
	}
	return NewTask(TaskIdempotencyPrune, payload)
}

// NewLedgerIntegrityTask constructs an integrity task.
func NewLedgerIntegrityTask(payload LedgerIntegrityPayload) (*asynq.Task, error) {
	return NewTask(TaskLedgerIntegrity, payload)
}

func decodePayload(t *asynq.Task, dst any) error {
	if len(t.Payload()) == 0 {
		return nil
	}
	if err := json.Unmarshal(t.Payload(), dst); err != nil {
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	return nil
}
