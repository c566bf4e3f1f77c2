package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/identity"
	"github.com/odyssey-erp/buildflow/internal/observability"
	"github.com/odyssey-erp/buildflow/jobs"
)

func newTestRouter(checks map[string]Pinger) http.Handler {
	return NewRouter(RouterParams{
		Config:     &Config{AppEnv: "test"},
		Identity:   identity.Middleware{},
		JobHandler: jobs.NewHandler(nil, nil, nil),
		Metrics:    observability.NewMetrics(),
		Checks:     checks,
	})
}

func get(h http.Handler, path string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
	return rr
}

func TestHealthz(t *testing.T) {
	rr := get(newTestRouter(nil), "/healthz")
	require.Equal(t, http.StatusOK, rr.Code)
	require.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestReadyzReportsEachDependency(t *testing.T) {
	ok := PingFunc(func(context.Context) error { return nil })
	down := PingFunc(func(context.Context) error { return errors.New("dial tcp: refused") })

	rr := get(newTestRouter(map[string]Pinger{"postgres": ok, "redis": ok}), "/readyz")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = get(newTestRouter(map[string]Pinger{"postgres": ok, "redis": down}), "/readyz")
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, map[string]string{"postgres": "ok", "redis": "unavailable"}, body)
}

func TestAPIRequiresActor(t *testing.T) {
	h := newTestRouter(nil)

	rr := get(h, "/api/jobs/health")
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = get(h, "/metrics")
	require.Equal(t, http.StatusOK, rr.Code)
	require.Contains(t, rr.Body.String(), "buildflow_http_requests_total")
}
