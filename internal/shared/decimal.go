package shared

import "github.com/shopspring/decimal"

// Column scales of the NUMERIC types the ledger and orders are stored in.
const (
	QuantityScale int32 = 4
	MoneyScale    int32 = 2
)

// FitsScale reports whether d carries no significant digits beyond places.
// Trailing zeros do not count, so 1.50000 fits a scale of 4.
func FitsScale(d decimal.Decimal, places int32) bool {
	return d.Equal(d.Truncate(places))
}
