package shared

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/platform/db"
)

var (
	// ErrValidation indicates malformed or invariant-violating input.
	ErrValidation = errors.New("validation failed")
	// ErrForbidden indicates the actor may not perform the action in the current state.
	ErrForbidden = errors.New("forbidden")
	// ErrIllegalTransition indicates no workflow edge exists for the requested action.
	ErrIllegalTransition = errors.New("illegal transition")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInsufficientStock indicates a ledger quantity guard failed.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrConflict indicates the resource changed state underneath the caller.
	ErrConflict = errors.New("conflict")
	// ErrBackend indicates the persistence layer itself failed or timed out.
	ErrBackend = errors.New("backend failure")
	// ErrUnauthenticated indicates no acting identity could be resolved.
	ErrUnauthenticated = errors.New("unauthenticated")
)

// InsufficientStockError carries the quantities behind a failed stock guard.
type InsufficientStockError struct {
	StockID   int64
	Item      string
	Location  string
	Requested decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("%s: %s at %s requested %s, available %s", ErrInsufficientStock, e.Item, e.Location, e.Requested.String(), e.Available.String())
}

// Is lets errors.Is match the ErrInsufficientStock sentinel.
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// Validationf builds an ErrValidation with a formatted detail.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Backend wraps unclassified store errors as ErrBackend. Errors that already
// belong to the taxonomy pass through untouched, and serialization failures
// that outlived their retries surface as ErrConflict.
func Backend(err error) error {
	if err == nil {
		return nil
	}
	if Classified(err) {
		return err
	}
	if db.IsSerializationFailure(err) || errors.Is(err, db.ErrSerialization) {
		return fmt.Errorf("%w: concurrent update, retry the request: %w", ErrConflict, err)
	}
	return fmt.Errorf("%w: %w", ErrBackend, err)
}

// Classified reports whether err already maps to one of the taxonomy kinds.
func Classified(err error) bool {
	for _, kind := range []error{ErrValidation, ErrForbidden, ErrIllegalTransition, ErrNotFound, ErrInsufficientStock, ErrConflict, ErrBackend, ErrUnauthenticated} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
