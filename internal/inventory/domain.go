package inventory

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

// TransactionType enumerates supported ledger movements.
type TransactionType string

const (
	// TransactionEntry adds quantity to a stock record.
	TransactionEntry TransactionType = "entry"
	// TransactionExit removes quantity from a stock record.
	TransactionExit TransactionType = "exit"
	// TransactionAdjustment records a physical recount.
	TransactionAdjustment TransactionType = "adjustment"
	// TransactionTransfer moves quantity between locations.
	TransactionTransfer TransactionType = "transfer"
)

// Valid reports whether t is a known transaction type.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionEntry, TransactionExit, TransactionAdjustment, TransactionTransfer:
		return true
	}
	return false
}

// RefPurchaseOrder tags ledger rows produced by purchase order fulfilment or receipt.
const RefPurchaseOrder = "purchase_order"

// ItemKey identifies an item within a company: a product reference when one
// exists, otherwise the normalized item name.
type ItemKey string

// KeyFor builds the item key for a product id or a free-text name.
func KeyFor(productID int64, name string) ItemKey {
	if productID > 0 {
		return ItemKey("p:" + strconv.FormatInt(productID, 10))
	}
	return ItemKey("n:" + NormalizeName(name))
}

// NormalizeName trims, collapses inner whitespace and applies NFC so that
// visually identical names share one stock record.
func NormalizeName(name string) string {
	return norm.NFC.String(strings.Join(strings.Fields(name), " "))
}

// Stock is one internal stock record per (company, item, location).
type Stock struct {
	ID            int64               `json:"id"`
	CompanyID     int64               `json:"company_id"`
	ProductID     int64               `json:"product_id,omitempty"`
	ItemName      string              `json:"item_name"`
	ItemKey       ItemKey             `json:"-"`
	Location      string              `json:"location"`
	Quantity      decimal.Decimal     `json:"quantity"`
	Unit          string              `json:"unit"`
	MinThreshold  decimal.NullDecimal `json:"min_threshold"`
	LastCountedAt *time.Time          `json:"last_counted_at,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

// Low reports whether the record sits at or under its threshold.
func (s Stock) Low() bool {
	return s.MinThreshold.Valid && s.Quantity.LessThanOrEqual(s.MinThreshold.Decimal)
}

// urgency is quantity/threshold; lower is more urgent.
func (s Stock) urgency() decimal.Decimal {
	if !s.MinThreshold.Valid || s.MinThreshold.Decimal.IsZero() {
		return decimal.Zero
	}
	return s.Quantity.Div(s.MinThreshold.Decimal)
}

// Transaction is one append-only ledger row.
type Transaction struct {
	ID           int64           `json:"id"`
	CompanyID    int64           `json:"company_id"`
	StockID      int64           `json:"stock_id"`
	Type         TransactionType `json:"type"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	RefType      string          `json:"ref_type,omitempty"`
	RefID        int64           `json:"ref_id,omitempty"`
	FromLocation string          `json:"from_location,omitempty"`
	ToLocation   string          `json:"to_location,omitempty"`
	Note         string          `json:"note,omitempty"`
	ActorID      int64           `json:"actor_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// AddStockInput describes an inbound movement.
type AddStockInput struct {
	ProductID      int64
	Name           string
	Quantity       decimal.Decimal
	Unit           string
	Location       string
	RefType        string
	RefID          int64
	Note           string
	IdempotencyKey string
}

// RemoveStockInput describes an outbound movement.
type RemoveStockInput struct {
	StockID        int64
	Quantity       decimal.Decimal
	RefType        string
	RefID          int64
	Note           string
	IdempotencyKey string
}

// AdjustStockInput sets a counted quantity.
type AdjustStockInput struct {
	StockID     int64
	NewQuantity decimal.Decimal
	Reason      string
}

// TransferStockInput moves quantity to another location.
type TransferStockInput struct {
	StockID    int64
	Quantity   decimal.Decimal
	ToLocation string
	Note       string
}

// StockFilter narrows stock listings. CompanyID zero scans every company.
type StockFilter struct {
	CompanyID    int64
	ProductID    int64
	Location     string
	HasThreshold bool
}

// HistoryFilter narrows ledger history.
type HistoryFilter struct {
	CompanyID int64
	ProductID int64
	Location  string
	Type      TransactionType
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// DemandLine is one item an order wants from stock.
type DemandLine struct {
	ProductID int64
	Name      string
	Quantity  decimal.Decimal
	Unit      string
}

// OrderDemand is the stock request derived from a purchase order.
type OrderDemand struct {
	OrderID     int64
	OrderNumber string
	CompanyID   int64
	Location    string
	Lines       []DemandLine
}

// LineAvailability is the availability verdict for one demand line.
type LineAvailability struct {
	Line      DemandLine
	StockID   int64
	Requested decimal.Decimal
	Available decimal.Decimal
}

// Sufficient reports whether the matched stock covers the request.
func (l LineAvailability) Sufficient() bool {
	return l.StockID != 0 && l.Available.GreaterThanOrEqual(l.Requested)
}

// Availability aggregates line verdicts.
type Availability struct {
	Lines []LineAvailability
}

// Sufficient reports whether every line is covered.
func (a Availability) Sufficient() bool {
	for _, l := range a.Lines {
		if !l.Sufficient() {
			return false
		}
	}
	return len(a.Lines) > 0
}

func describe(line DemandLine) string {
	if line.ProductID > 0 {
		return fmt.Sprintf("product %d (%s)", line.ProductID, line.Name)
	}
	return line.Name
}
