package procurement

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

type itemRequest struct {
	ProductID   int64           `json:"product_id" validate:"gte=0"`
	Name        string          `json:"name" validate:"required,max=200"`
	Description string          `json:"description" validate:"max=1000"`
	Quantity    decimal.Decimal `json:"quantity"`
	Unit        string          `json:"unit" validate:"max=20"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type draftRequest struct {
	OrderType         string        `json:"order_type" validate:"required,oneof=internal external"`
	ProjectID         int64         `json:"project_id" validate:"gte=0"`
	OrgUnitID         int64         `json:"org_unit_id" validate:"gte=0"`
	SupplierCompanyID int64         `json:"supplier_company_id" validate:"gte=0"`
	SiteManagerID     int64         `json:"site_manager_id" validate:"gte=0"`
	Location          string        `json:"location" validate:"max=100"`
	Notes             string        `json:"notes" validate:"max=2000"`
	Items             []itemRequest `json:"items" validate:"required,min=1,dive"`
}

func (r draftRequest) input() DraftInput {
	items := make([]ItemInput, 0, len(r.Items))
	for _, it := range r.Items {
		items = append(items, ItemInput{
			ProductID:   it.ProductID,
			Name:        it.Name,
			Description: it.Description,
			Quantity:    it.Quantity,
			Unit:        it.Unit,
			UnitPrice:   it.UnitPrice,
		})
	}
	return DraftInput{
		OrderType:         OrderType(r.OrderType),
		ProjectID:         r.ProjectID,
		OrgUnitID:         r.OrgUnitID,
		SupplierCompanyID: r.SupplierCompanyID,
		SiteManagerID:     r.SiteManagerID,
		Location:          r.Location,
		Notes:             r.Notes,
		Items:             items,
	}
}

type noteRequest struct {
	Note string `json:"note" validate:"max=1000"`
}

type reasonRequest struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type managementApprovalRequest struct {
	SupplierCompanyID int64  `json:"supplier_company_id" validate:"gte=0"`
	Note              string `json:"note" validate:"max=1000"`
}

type deliveryRequest struct {
	Note             string `json:"note" validate:"max=1000"`
	ReceiveIntoStock bool   `json:"receive_into_stock"`
}

type siteManagerRequest struct {
	UserID int64 `json:"user_id" validate:"required,gt=0"`
}

type orderResponse struct {
	PurchaseOrder
	Total   decimal.Decimal   `json:"total"`
	Actions []workflow.Action `json:"actions"`
}

type listResponse struct {
	Orders     []PurchaseOrder   `json:"orders"`
	Pagination shared.Pagination `json:"pagination"`
}
