package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
)

func noop(context.Context, *asynq.Task) error { return nil }

func TestNewMuxRejectsBadRegistrations(t *testing.T) {
	_, err := NewMux(nil, []TaskHandler{{Type: "email:send", Handler: noop}})
	require.ErrorContains(t, err, "unknown task")

	_, err = NewMux(nil, []TaskHandler{{Type: TaskReorderScan, Handler: noop}, {Type: TaskReorderScan, Handler: noop}})
	require.ErrorContains(t, err, "duplicate")

	_, err = NewMux(nil, []TaskHandler{{Type: TaskCostRollup}})
	require.ErrorContains(t, err, "nil handler")
}

func TestMuxDispatchesByType(t *testing.T) {
	var got []string
	record := func(_ context.Context, task *asynq.Task) error {
		got = append(got, task.Type())
		return nil
	}
	mux, err := NewMux(nil, []TaskHandler{
		{Type: TaskCostRollup, Handler: record},
		{Type: TaskReorderScan, Handler: record},
	})
	require.NoError(t, err)

	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskReorderScan, nil)))
	require.NoError(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskCostRollup, nil)))
	require.Error(t, mux.ProcessTask(context.Background(), asynq.NewTask(TaskLevelsExport, nil)))
	require.Equal(t, []string{TaskReorderScan, TaskCostRollup}, got)
}

type stubInspector struct {
	info *asynq.QueueInfo
	err  error
}

func (s stubInspector) GetQueueInfo(string) (*asynq.QueueInfo, error) { return s.info, s.err }

func getHealth(t *testing.T, h *Handler) (int, QueueHealth) {
	t.Helper()
	r := chi.NewRouter()
	h.MountRoutes(r)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	var out QueueHealth
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec.Code, out
}

func TestHealthReportsQueueState(t *testing.T) {
	code, out := getHealth(t, NewHandler(nil, nil))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, QueueDefault, out.Queue)
	require.Zero(t, out.Pending)

	code, out = getHealth(t, NewHandler(stubInspector{info: &asynq.QueueInfo{
		Queue: QueueDefault, Pending: 4, Retry: 1, Failed: 2, Latency: 1500 * time.Millisecond,
	}}, nil))
	require.Equal(t, http.StatusOK, code)
	require.Equal(t, 4, out.Pending)
	require.Equal(t, 1, out.Retry)
	require.Equal(t, 2, out.FailedToday)
	require.EqualValues(t, 1500, out.LatencyMillis)

	code, _ = getHealth(t, NewHandler(stubInspector{err: errors.New("redis down")}, nil))
	require.Equal(t, http.StatusServiceUnavailable, code)
}

func TestWorkerRequiresConfiguration(t *testing.T) {
	var w *Worker
	require.Error(t, w.Run(context.Background()))
}
