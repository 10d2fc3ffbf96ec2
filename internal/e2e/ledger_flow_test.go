package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/kitledger/internal/app"
	"github.com/odyssey-erp/kitledger/internal/assembly"
	"github.com/odyssey-erp/kitledger/internal/bom"
	"github.com/odyssey-erp/kitledger/internal/catalog"
	"github.com/odyssey-erp/kitledger/internal/inventory"
	"github.com/odyssey-erp/kitledger/internal/platform/db"
	"github.com/odyssey-erp/kitledger/internal/procurement"
	"github.com/odyssey-erp/kitledger/internal/reorder"
	"github.com/odyssey-erp/kitledger/internal/reports"
	"github.com/odyssey-erp/kitledger/internal/shared"
	"github.com/odyssey-erp/kitledger/internal/testing/memstore"
)

type memIdempotency struct {
	mu   sync.Mutex
	keys map[string]string
}

func (m *memIdempotency) CheckAndInsert(_ context.Context, key, module string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = module
	return nil
}

func (m *memIdempotency) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, key)
	return nil
}

type api struct {
	t      *testing.T
	server *httptest.Server
}

func newAPI(t *testing.T) *api {
	t.Helper()
	retry := db.RetryPolicy{Attempts: 3, BaseDelay: time.Millisecond}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()

	catalogSvc := catalog.NewService(store.Catalog(), nil, logger)
	ledger := inventory.NewService(store.Ledger(), nil, logger, inventory.ServiceConfig{Retry: retry})
	bomSvc := bom.NewService(store.BOM(), ledger, nil, logger, db.RetryPolicy{})
	assemblySvc := assembly.NewService(store.Assembly(), ledger, bomSvc, nil, logger, retry)
	procurementSvc := procurement.NewService(store.Procurement(), ledger, nil, logger, retry)
	reorderSvc := reorder.NewService(ledger, nil, logger)
	catalogSvc.UseCascade(bomSvc, db.RetryPolicy{})
	catalogSvc.Subscribe(reorderSvc)
	ledger.Subscribe(reorderSvc)

	idem := &memIdempotency{keys: map[string]string{}}
	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		CatalogHandler:     catalog.NewHandler(logger, catalogSvc),
		BOMHandler:         bom.NewHandler(logger, bomSvc),
		InventoryHandler:   inventory.NewHandler(logger, ledger),
		AssemblyHandler:    assembly.NewHandler(logger, assemblySvc, idem),
		ProcurementHandler: procurement.NewHandler(logger, procurementSvc, idem),
		ReorderHandler:     reorder.NewHandler(logger, reorderSvc),
		ReportsHandler:     reports.NewHandler(logger, reports.NewService(ledger)),
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &api{t: t, server: srv}
}

func (a *api) do(method, path string, body any, headers map[string]string) *http.Response {
	a.t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(a.t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, a.server.URL+app.APIPrefix+path, reader)
	require.NoError(a.t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(app.ActorHeader, "planner")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := a.server.Client().Do(req)
	require.NoError(a.t, err)
	a.t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (a *api) expect(resp *http.Response, status int, dst any) {
	a.t.Helper()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(a.t, err)
	require.Equal(a.t, status, resp.StatusCode, string(raw))
	if dst != nil {
		require.NoError(a.t, json.Unmarshal(raw, dst))
	}
}

func (a *api) register(sku string, category catalog.Category, cost string, reorderPoint int64) {
	a.t.Helper()
	a.expect(a.do(http.MethodPost, "/items", map[string]any{
		"sku":              sku,
		"title":            sku,
		"category":         category,
		"base_cost":        cost,
		"reorder_point":    reorderPoint,
		"reorder_quantity": 25,
	}, nil), http.StatusCreated, nil)
}

func (a *api) onHand(sku string) int64 {
	a.t.Helper()
	var view struct {
		OnHand    int64 `json:"on_hand"`
		Available int64 `json:"available"`
	}
	a.expect(a.do(http.MethodGet, "/inventory/"+sku+"/", nil, nil), http.StatusOK, &view)
	return view.OnHand
}

func TestPurchaseReceiveAssembleFlow(t *testing.T) {
	a := newAPI(t)
	a.register("RM-PCB", catalog.CategoryRawMaterial, "4.00", 10)
	a.register("CMP-MCU", catalog.CategoryComponent, "2.50", 20)
	a.register("KIT-CTRL", catalog.CategoryKit, "0", 0)

	a.expect(a.do(http.MethodPut, "/kits/KIT-CTRL/bom", map[string]any{
		"lines": []map[string]any{
			{"component_sku": "RM-PCB", "quantity": 1},
			{"component_sku": "CMP-MCU", "quantity": 2},
		},
	}, nil), http.StatusOK, nil)

	var order procurement.Order
	a.expect(a.do(http.MethodPost, "/orders", map[string]any{
		"supplier_name": "Acme Boards",
		"lines": []map[string]any{
			{"sku": "RM-PCB", "quantity": 10, "unit_cost": "4.00"},
			{"sku": "CMP-MCU", "quantity": 30, "unit_cost": "2.50"},
		},
	}, nil), http.StatusCreated, &order)
	require.Equal(t, procurement.StatusOrdered, order.Status)
	require.Len(t, order.Lines, 2)
	require.True(t, order.Total.Equal(order.Subtotal))

	a.expect(a.do(http.MethodPost, fmt.Sprintf("/orders/%d/receive-all", order.ID), nil, nil), http.StatusOK, &order)
	require.Equal(t, procurement.StatusReceived, order.Status)
	require.True(t, order.FullyReceived())
	require.EqualValues(t, 10, a.onHand("RM-PCB"))
	require.EqualValues(t, 30, a.onHand("CMP-MCU"))

	key := map[string]string{"Idempotency-Key": "build-ctrl-5"}
	var result assembly.Result
	a.expect(a.do(http.MethodPost, "/assemblies", map[string]any{"kit_sku": "KIT-CTRL", "quantity": 5}, key), http.StatusCreated, &result)
	require.NotEmpty(t, result.ReferenceID)
	require.EqualValues(t, 5, result.Quantity)
	require.Len(t, result.Transactions, 3)

	a.expect(a.do(http.MethodPost, "/assemblies", map[string]any{"kit_sku": "KIT-CTRL", "quantity": 5}, key), http.StatusConflict, nil)
	require.EqualValues(t, 5, a.onHand("KIT-CTRL"))
	require.EqualValues(t, 5, a.onHand("RM-PCB"))
	require.EqualValues(t, 20, a.onHand("CMP-MCU"))

	var problem struct {
		Status int `json:"status"`
	}
	a.expect(a.do(http.MethodPost, "/assemblies", map[string]any{"kit_sku": "KIT-CTRL", "quantity": 100}, nil), http.StatusUnprocessableEntity, &problem)
	require.Equal(t, http.StatusUnprocessableEntity, problem.Status)
	require.EqualValues(t, 5, a.onHand("KIT-CTRL"))

	var history inventory.HistoryPage
	a.expect(a.do(http.MethodGet, "/inventory/CMP-MCU/history", nil, nil), http.StatusOK, &history)
	require.Len(t, history.Transactions, 2)
	for _, tx := range history.Transactions {
		require.Equal(t, "planner", tx.Actor)
		switch tx.Type {
		case inventory.TypeKitConsume:
			require.Equal(t, assembly.ReferenceType, tx.ReferenceType)
			require.Equal(t, result.ReferenceID, tx.ReferenceID)
			require.EqualValues(t, -10, tx.QuantityDelta)
		case inventory.TypeInboundReceipt:
			require.Equal(t, procurement.ReferenceType, tx.ReferenceType)
			require.Equal(t, fmt.Sprint(order.ID), tx.ReferenceID)
		default:
			t.Fatalf("unexpected transaction type %s", tx.Type)
		}
	}

	var report reorder.Report
	a.expect(a.do(http.MethodGet, "/reorder", nil, nil), http.StatusOK, &report)
	require.Equal(t, 2, report.Count)
	require.Equal(t, "RM-PCB", report.Suggestions[0].SKU)
	require.EqualValues(t, 5, report.Suggestions[0].Shortfall)
	require.EqualValues(t, 25, report.Suggestions[0].SuggestedQuantity)
	require.Equal(t, "CMP-MCU", report.Suggestions[1].SKU)

	resp := a.do(http.MethodGet, "/reports/levels?format=csv", nil, nil)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/csv", resp.Header.Get("Content-Type"))
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 4)
	require.True(t, strings.HasPrefix(lines[0], "SKU,Title,Category"))
	require.Contains(t, string(raw), "KIT-CTRL")
}

func TestErrorStatusMapping(t *testing.T) {
	a := newAPI(t)
	a.register("RM-PCB", catalog.CategoryRawMaterial, "4.00", 0)

	a.expect(a.do(http.MethodGet, "/items/NOPE", nil, nil), http.StatusNotFound, nil)
	a.expect(a.do(http.MethodPost, "/items", map[string]any{"sku": "RM-PCB", "title": "dup", "category": "raw_material"}, nil), http.StatusConflict, nil)
	a.expect(a.do(http.MethodPost, "/items", map[string]any{"sku": "", "title": "x", "category": "raw_material"}, nil), http.StatusBadRequest, nil)
	a.expect(a.do(http.MethodPost, "/inventory/RM-PCB/adjustments", map[string]any{"delta": -3}, nil), http.StatusUnprocessableEntity, nil)
	a.expect(a.do(http.MethodGet, "/orders/abc", nil, nil), http.StatusBadRequest, nil)

	var tx inventory.Transaction
	a.expect(a.do(http.MethodPost, "/inventory/RM-PCB/adjustments", map[string]any{"delta": 7, "note": "cycle count"}, nil), http.StatusCreated, &tx)
	require.Equal(t, "planner", tx.Actor)
	require.EqualValues(t, 7, tx.OnHandAfter)
}
