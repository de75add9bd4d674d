package manufacturing

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-books/internal/platform/httpx"
)

func newHandlerRouter(t *testing.T, stock StockReader) http.Handler {
	t.Helper()
	repo := newMemoryRepo()
	seedFormula(repo)
	svc, _ := newTestService(repo, stock)
	r := chi.NewRouter()
	r.Route("/api/manufacturing", NewHandler(nil, svc).MountRoutes)
	return r
}

func call(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(httpx.ActorHeader, "5")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandlerProcessLifecycle(t *testing.T) {
	router := newHandlerRouter(t, stubStock{levels: map[int64]decimal.Decimal{101: dec("10"), 102: dec("40")}})

	rec := call(t, router, http.MethodPost, "/api/manufacturing/processes", `{"company_id":7,"formula_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var process Process
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &process))
	require.Equal(t, "MF-000001", process.DocNumber)
	require.Equal(t, StatusDraft, process.Status)
	require.Equal(t, int64(5), process.CreatedBy)

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes/1/start", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes/1/consumptions", `{"component_item_id":101,"quantity":"4"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes/1/consumptions", `{"component_item_id":555,"quantity":"1"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes/1/complete", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &process))
	require.Equal(t, StatusCompleted, process.Status)

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes/1/cancel", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, router, http.MethodGet, "/api/manufacturing/processes/1/cost", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var cost CostBreakdown
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &cost))
	require.Equal(t, "50", cost.ActualMaterialCost.String())
}

func TestHandlerMapsManufacturingErrors(t *testing.T) {
	router := newHandlerRouter(t, stubStock{levels: map[int64]decimal.Decimal{}})

	rec := call(t, router, http.MethodGet, "/api/manufacturing/formulas/99/cost", "")
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = call(t, router, http.MethodGet, "/api/manufacturing/formulas/abc/availability", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = call(t, router, http.MethodGet, "/api/manufacturing/formulas/1/availability", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report Availability
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	require.False(t, report.AllAvailable)

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes", `{"company_id":7,"formula_id":1}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes/1/start", "")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, router, http.MethodPost, "/api/manufacturing/processes", `{"formula_id":1}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
