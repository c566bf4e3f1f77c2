package procurement

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/inventory"
	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

// OrderType classifies how an order is sourced.
type OrderType string

const (
	// OrderInternal is drawn from an organisational unit's stock (BCI).
	OrderInternal OrderType = "internal"
	// OrderExternal is routed to a supplier for a project (BCE).
	OrderExternal OrderType = "external"
)

// Valid reports whether t is a known order type.
func (t OrderType) Valid() bool {
	return t == OrderInternal || t == OrderExternal
}

// PurchaseOrder is the aggregate root of the workflow.
type PurchaseOrder struct {
	ID                   int64           `json:"id"`
	Number               string          `json:"number"`
	OrderType            OrderType       `json:"order_type"`
	CompanyID            int64           `json:"company_id"`
	CreatedBy            int64           `json:"created_by"`
	SiteManagerID        int64           `json:"site_manager_id,omitempty"`
	SupplierCompanyID    int64           `json:"supplier_company_id,omitempty"`
	ProjectID            int64           `json:"project_id,omitempty"`
	OrgUnitID            int64           `json:"org_unit_id,omitempty"`
	Location             string          `json:"location"`
	Status               workflow.Status `json:"status"`
	Notes                string          `json:"notes,omitempty"`
	RejectionReason      string          `json:"rejection_reason,omitempty"`
	CancellationReason   string          `json:"cancellation_reason,omitempty"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
	SubmittedAt          *time.Time      `json:"submitted_at,omitempty"`
	SiteApprovedAt       *time.Time      `json:"site_approved_at,omitempty"`
	ManagementApprovedAt *time.Time      `json:"management_approved_at,omitempty"`
	SupplierSubmittedAt  *time.Time      `json:"supplier_submitted_at,omitempty"`
	SupplierAcceptedAt   *time.Time      `json:"supplier_accepted_at,omitempty"`
	DeliveredAt          *time.Time      `json:"delivered_at,omitempty"`
	CompletedAt          *time.Time      `json:"completed_at,omitempty"`
	CancelledAt          *time.Time      `json:"cancelled_at,omitempty"`
	Items                []Item          `json:"items"`
}

// Item is one purchase order line.
type Item struct {
	ID          int64           `json:"id"`
	OrderID     int64           `json:"order_id"`
	ProductID   int64           `json:"product_id,omitempty"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price"`
}

// Total sums line totals.
func (o PurchaseOrder) Total() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.TotalPrice)
	}
	return total
}

// VisibleTo reports whether actor belongs to the buyer company, or to the
// supplier company once the order has been submitted to it.
func (o PurchaseOrder) VisibleTo(actor shared.Actor) bool {
	if actor.CompanyID == o.CompanyID && actor.Role != shared.RoleSupplier {
		return true
	}
	return o.SupplierCompanyID != 0 && actor.CompanyID == o.SupplierCompanyID && actor.Role == shared.RoleSupplier &&
		o.SupplierSubmittedAt != nil
}

func (o PurchaseOrder) workflowOrder() workflow.Order {
	return workflow.Order{
		ID:                o.ID,
		Number:            o.Number,
		CompanyID:         o.CompanyID,
		CreatedBy:         o.CreatedBy,
		SiteManagerID:     o.SiteManagerID,
		SupplierCompanyID: o.SupplierCompanyID,
		Status:            o.Status,
		Version:           o.Version,
	}
}

func (o PurchaseOrder) demand() inventory.OrderDemand {
	lines := make([]inventory.DemandLine, 0, len(o.Items))
	for _, item := range o.Items {
		lines = append(lines, inventory.DemandLine{
			ProductID: item.ProductID,
			Name:      item.Name,
			Quantity:  item.Quantity,
			Unit:      item.Unit,
		})
	}
	return inventory.OrderDemand{
		OrderID:     o.ID,
		OrderNumber: o.Number,
		CompanyID:   o.CompanyID,
		Location:    o.Location,
		Lines:       lines,
	}
}

// ItemInput is a client supplied line. Totals are always recomputed.
type ItemInput struct {
	ProductID   int64
	Name        string
	Description string
	Quantity    decimal.Decimal
	Unit        string
	UnitPrice   decimal.Decimal
}

// DraftInput describes a draft to create or the full replacement of one.
type DraftInput struct {
	OrderType         OrderType
	ProjectID         int64
	OrgUnitID         int64
	SupplierCompanyID int64
	SiteManagerID     int64
	Location          string
	Notes             string
	Items             []ItemInput
}

// DeliveryInput controls MarkAsDelivered.
type DeliveryInput struct {
	Note string
	// ReceiveIntoStock books the delivered lines into the buyer's stock.
	ReceiveIntoStock bool
}

// ListFilters narrows order listings.
type ListFilters struct {
	Status    workflow.Status
	OrderType OrderType
	ProjectID int64
	Search    string
	SortBy    string
	SortDir   string
	Page      int
	PerPage   int
}

// listQuery is ListFilters resolved against the caller's visibility.
type listQuery struct {
	ListFilters
	CompanyID         int64
	SupplierCompanyID int64
	Limit             int
	Offset            int
}

// StockCheck previews availability of every line.
type StockCheck struct {
	OrderID    int64       `json:"order_id"`
	Location   string      `json:"location"`
	Sufficient bool        `json:"sufficient"`
	Lines      []LineCheck `json:"lines"`
}

// LineCheck is the availability of one line.
type LineCheck struct {
	Name      string          `json:"name"`
	StockID   int64           `json:"stock_id,omitempty"`
	Requested decimal.Decimal `json:"requested"`
	Available decimal.Decimal `json:"available"`
	Covered   bool            `json:"covered"`
}

// pendingStatuses are the states that wait on a human decision.
var pendingStatuses = []workflow.Status{
	workflow.StatusPendingSiteManager,
	workflow.StatusPendingManagement,
	workflow.StatusPendingSupplier,
}

func buildItems(inputs []ItemInput) ([]Item, error) {
	if len(inputs) == 0 {
		return nil, shared.Validationf("order requires at least one item")
	}
	items := make([]Item, 0, len(inputs))
	for i, in := range inputs {
		name := inventory.NormalizeName(in.Name)
		if name == "" {
			return nil, shared.Validationf("item %d: name required", i+1)
		}
		if !in.Quantity.IsPositive() {
			return nil, shared.Validationf("item %d (%s): quantity must be greater than zero", i+1, name)
		}
		if !shared.FitsScale(in.Quantity, shared.QuantityScale) {
			return nil, shared.Validationf("item %d (%s): quantity allows at most %d decimal places", i+1, name, shared.QuantityScale)
		}
		if in.UnitPrice.IsNegative() {
			return nil, shared.Validationf("item %d (%s): unit price must be >= 0", i+1, name)
		}
		if !shared.FitsScale(in.UnitPrice, shared.MoneyScale) {
			return nil, shared.Validationf("item %d (%s): unit price allows at most %d decimal places", i+1, name, shared.MoneyScale)
		}
		items = append(items, Item{
			ProductID:   in.ProductID,
			Name:        name,
			Description: strings.TrimSpace(in.Description),
			Quantity:    in.Quantity,
			Unit:        strings.TrimSpace(in.Unit),
			UnitPrice:   in.UnitPrice,
			TotalPrice:  in.Quantity.Mul(in.UnitPrice).Round(shared.MoneyScale),
		})
	}
	return items, nil
}
