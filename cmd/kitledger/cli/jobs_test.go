package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/kitledger/jobs"
)

func TestBuildTask(t *testing.T) {
	task, err := BuildTask(jobs.TaskLedgerIntegrity, []string{" SKU-1 "})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskLedgerIntegrity, task.Type())
	var payload jobs.LedgerIntegrityPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "SKU-1", payload.SKU)

	for _, name := range []string{jobs.TaskCostRollup, jobs.TaskReorderScan, jobs.TaskLevelsExport} {
		task, err := BuildTask(name, nil)
		require.NoError(t, err, name)
		require.Equal(t, name, task.Type())
	}

	task, err = BuildTask(jobs.TaskIdempotencyPrune, []string{"48h"})
	require.NoError(t, err)
	var prune jobs.IdempotencyPrunePayload
	require.NoError(t, json.Unmarshal(task.Payload(), &prune))
	require.Equal(t, "48h", prune.Retention)
	task, err = BuildTask(jobs.TaskIdempotencyPrune, nil)
	require.NoError(t, err)
	require.Empty(t, task.Payload())

	_, err = BuildTask(jobs.TaskCostRollup, []string{"extra"})
	require.ErrorContains(t, err, "takes no arguments")

	_, err = BuildTask("fx:backfill", nil)
	require.ErrorContains(t, err, "unsupported job")
}

func TestUnconfiguredCLI(t *testing.T) {
	var c *JobsCLI
	_, err := c.Trigger(context.Background(), jobs.TaskReorderScan)
	require.ErrorContains(t, err, "client not configured")
	_, err = c.InspectQueue(context.Background())
	require.Error(t, err)

	var out bytes.Buffer
	require.ErrorContains(t, (&JobsCLI{}).Run(context.Background(), nil, &out), "usage")
	require.ErrorContains(t, (&JobsCLI{}).Run(context.Background(), []string{"nope"}, &out), "unsupported job")
	require.Empty(t, out.String())

	_, err = NewJobsCLI("")
	require.Error(t, err)
}
