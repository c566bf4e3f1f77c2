package inventory_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/inventory"
	"github.com/odyssey-erp/buildflow/internal/inventory/inventorytest"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

type memoryKeys map[string]bool

func (m memoryKeys) CheckAndInsert(ctx context.Context, key, module string) error {
	if m[module+":"+key] {
		return shared.ErrIdempotencyConflict
	}
	m[module+":"+key] = true
	return nil
}

func newTestRouter(t *testing.T) (http.Handler, *inventory.Service) {
	t.Helper()
	svc := inventory.NewService(inventorytest.NewRepo(), nil, memoryKeys{}, nil, nil, inventory.ServiceConfig{DefaultLocation: "main"})
	r := chi.NewRouter()
	r.Route("/api/stock", inventory.NewHandler(nil, svc).MountRoutes)
	return r, svc
}

func do(h http.Handler, actor *shared.Actor, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range header {
		req.Header.Set(k, v)
	}
	if actor != nil {
		req = req.WithContext(shared.ContextWithActor(req.Context(), *actor))
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestAddStockHonoursIdempotencyHeader(t *testing.T) {
	h, _ := newTestRouter(t)
	key := map[string]string{inventory.IdempotencyHeader: "6F9619FF-8B86-D011-B42D-00C04FC964FF"}
	body := `{"name":"Ciment","quantity":"10","unit":"sac"}`

	rr := do(h, &clerk, http.MethodPost, "/api/stock/", body, key)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	var created inventory.Stock
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &created))
	require.Equal(t, "10", created.Quantity.String())
	require.Equal(t, "main", created.Location)

	rr = do(h, &clerk, http.MethodPost, "/api/stock/", body, key)
	require.Equal(t, http.StatusConflict, rr.Code)

	rr = do(h, &clerk, http.MethodPost, "/api/stock/", body, map[string]string{inventory.IdempotencyHeader: "retry-1"})
	require.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRemoveStockReportsShortfall(t *testing.T) {
	h, svc := newTestRouter(t)
	s := seed(t, svc, "Sable", 4, "")

	rr := do(h, &clerk, http.MethodPost, "/api/stock/"+strconv.FormatInt(s.ID, 10)+"/remove", `{"quantity":"6"}`, nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	var problem map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &problem))
	require.Equal(t, "Insufficient inventory.Stock", problem["title"])
	require.Equal(t, "6", problem["requested"])
	require.Equal(t, "4", problem["available"])
}

func TestStockHandlerScopesByCompany(t *testing.T) {
	h, svc := newTestRouter(t)
	s := seed(t, svc, "Gravier", 8, "")

	stranger := shared.Actor{UserID: 99, CompanyID: 2, Role: shared.RoleManagement}
	rr := do(h, &stranger, http.MethodGet, "/api/stock/"+strconv.FormatInt(s.ID, 10), "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)

	rr = do(h, nil, http.MethodGet, "/api/stock/"+strconv.FormatInt(s.ID, 10), "", nil)
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = do(h, &clerk, http.MethodGet, "/api/stock/"+strconv.FormatInt(s.ID, 10), "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
}
