package shared

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/platform/db"
)

func TestBackendMapsSerializationFailureToConflict(t *testing.T) {
	err := Backend(fmt.Errorf("%w after 3 attempts: %w", db.ErrSerialization, &pgconn.PgError{Code: "40001"}))
	require.ErrorIs(t, err, ErrConflict)
	require.NotErrorIs(t, err, ErrBackend)

	err = Backend(&pgconn.PgError{Code: "40P01"})
	require.ErrorIs(t, err, ErrConflict)
}

func TestBackendWrapsUnclassified(t *testing.T) {
	err := Backend(errors.New("dial tcp: refused"))
	require.ErrorIs(t, err, ErrBackend)

	require.Nil(t, Backend(nil))
	require.ErrorIs(t, Backend(Validationf("bad")), ErrValidation)
	require.NotErrorIs(t, Backend(Validationf("bad")), ErrBackend)
}

func TestFitsScale(t *testing.T) {
	require.True(t, FitsScale(decimal.RequireFromString("1.5000"), QuantityScale))
	require.True(t, FitsScale(decimal.RequireFromString("1.500000"), QuantityScale))
	require.True(t, FitsScale(decimal.RequireFromString("0.0001"), QuantityScale))
	require.False(t, FitsScale(decimal.RequireFromString("0.00001"), QuantityScale))
	require.True(t, FitsScale(decimal.RequireFromString("12.50"), MoneyScale))
	require.False(t, FitsScale(decimal.RequireFromString("0.005"), MoneyScale))
}
