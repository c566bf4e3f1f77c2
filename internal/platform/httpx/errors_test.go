package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/shared"
)

func TestRespondErrorStatusMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"validation", shared.Validationf("quantity must be positive"), http.StatusBadRequest},
		{"forbidden", fmt.Errorf("%w: approve_site", shared.ErrForbidden), http.StatusForbidden},
		{"illegal", fmt.Errorf("%w: completed -> submit", shared.ErrIllegalTransition), http.StatusConflict},
		{"not found", fmt.Errorf("order 7: %w", shared.ErrNotFound), http.StatusNotFound},
		{"conflict", shared.ErrConflict, http.StatusConflict},
		{"backend", shared.Backend(errors.New("connection reset")), http.StatusServiceUnavailable},
		{"unauthenticated", shared.ErrUnauthenticated, http.StatusUnauthorized},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			RespondError(rr, tc.err)
			require.Equal(t, tc.want, rr.Code)
			require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
		})
	}
}

func TestRespondErrorInsufficientStockCarriesQuantities(t *testing.T) {
	err := fmt.Errorf("order 3: %w", &shared.InsufficientStockError{
		StockID:   42,
		Item:      "Ciment",
		Location:  "main",
		Requested: decimal.NewFromInt(10),
		Available: decimal.NewFromInt(4),
	})
	rr := httptest.NewRecorder()
	RespondError(rr, err)

	require.Equal(t, http.StatusConflict, rr.Code)
	var body ProblemDetail
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Equal(t, int64(42), body.StockID)
	require.Equal(t, "10", body.Requested)
	require.Equal(t, "4", body.Available)
}

func TestDecodeAndValidateReportsFields(t *testing.T) {
	type payload struct {
		Name string `json:"name" validate:"required"`
	}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":""}`))
	var p payload
	err := DecodeAndValidate(req, &p)
	require.Error(t, err)

	rr := httptest.NewRecorder()
	RespondError(rr, err)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "payload.Name")
}

func TestDecodeJSONRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"extra":1}`))
	var target struct{}
	err := DecodeJSON(req, &target)
	require.ErrorIs(t, err, shared.ErrValidation)
}
