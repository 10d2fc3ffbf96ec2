package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"
)

type stubRepo struct {
	rows  []TimelineRow
	calls []Query
}

func (s *stubRepo) Timeline(_ context.Context, q Query) ([]TimelineRow, error) {
	s.calls = append(s.calls, q)
	rows := s.rows
	if q.Offset < len(rows) {
		rows = rows[q.Offset:]
	} else {
		rows = nil
	}
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, nil
}

func sampleRows(n int) []TimelineRow {
	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	rows := make([]TimelineRow, 0, n)
	for i := 0; i < n; i++ {
		rows = append(rows, TimelineRow{
			ID:       int64(n - i),
			At:       base.Add(-time.Duration(i) * time.Hour),
			Actor:    "alice",
			Action:   "inventory.adjust",
			Entity:   "item",
			EntityID: "SKU-1",
		})
	}
	return rows
}

func TestTimelinePaging(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(3)}
	svc := NewService(repo)

	res, err := svc.Timeline(context.Background(), TimelineFilters{Page: 1, PageSize: 2, Actor: " alice "})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.True(t, res.Paging.HasNext)
	require.Equal(t, 2, res.Paging.NextPage)
	require.Zero(t, res.Paging.PrevPage)
	require.Equal(t, Query{Actor: "alice", Limit: 3}, repo.calls[0])

	res, err = svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Rows, 1)
	require.False(t, res.Paging.HasNext)
	require.Equal(t, 1, res.Paging.PrevPage)
	require.Equal(t, 2, repo.calls[1].Offset)
}

func TestTimelinePageSizeBounds(t *testing.T) {
	repo := &stubRepo{}
	svc := NewService(repo)

	res, err := svc.Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, maxPageSize, res.Paging.PageSize)
	require.Equal(t, maxPageSize+1, repo.calls[0].Limit)

	res, err = svc.Timeline(context.Background(), TimelineFilters{})
	require.NoError(t, err)
	require.Equal(t, defaultPageSize, res.Paging.PageSize)
	require.Equal(t, 1, res.Paging.Page)
}

func TestUnconfiguredService(t *testing.T) {
	_, err := NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
	_, err = NewService(nil).Export(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func newTestRouter(repo Repository) http.Handler {
	h := NewHandler(nil, NewService(repo))
	h.now = func() time.Time { return time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC) }
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r
}

func TestHandlerTimelineDefaultsToLastWeek(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(2)}
	rec := httptest.NewRecorder()
	newTestRouter(repo).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit?entity=item&entity_id=SKU-1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var res Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Rows, 2)

	q := repo.calls[0]
	require.Equal(t, time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC), q.From)
	require.Equal(t, time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC), q.To)
	require.Equal(t, "item", q.Entity)
	require.Equal(t, "SKU-1", q.EntityID)
}

func TestHandlerRejectsBadFilters(t *testing.T) {
	router := newTestRouter(&stubRepo{})
	for _, target := range []string{
		"/audit?from=yesterday",
		"/audit?from=2026-03-10&to=2026-03-01",
		"/audit?from=2025-01-01&to=2026-03-01",
		"/audit?page=0",
		"/audit?page_size=x",
	} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
		require.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestHandlerExportCSV(t *testing.T) {
	repo := &stubRepo{rows: sampleRows(2)}
	rec := httptest.NewRecorder()
	newTestRouter(repo).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/audit/export.csv?from=2026-03-01&to=2026-03-10", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	require.Equal(t, "at,actor,action,entity,entity_id", lines[0])
	require.Equal(t, "2026-03-10T12:00:00Z,alice,inventory.adjust,item,SKU-1", lines[1])
	require.Equal(t, maxExportRows, repo.calls[0].Limit)
}
