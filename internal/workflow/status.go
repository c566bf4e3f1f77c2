package workflow

// Status is the closed set of purchase order states.
type Status string

const (
	StatusDraft               Status = "draft"
	StatusPendingSiteManager  Status = "pending_site_manager"
	StatusApprovedSiteManager Status = "approved_site_manager"
	StatusCheckingStock       Status = "checking_stock"
	StatusFulfilledInternal   Status = "fulfilled_internal"
	StatusNeedsExternalOrder  Status = "needs_external_order"
	StatusPendingManagement   Status = "pending_management"
	StatusApprovedManagement  Status = "approved_management"
	StatusRejectedManagement  Status = "rejected_management"
	StatusSubmittedToSupplier Status = "submitted_to_supplier"
	StatusPendingSupplier     Status = "pending_supplier"
	StatusAcceptedSupplier    Status = "accepted_supplier"
	StatusRejectedSupplier    Status = "rejected_supplier"
	StatusInTransit           Status = "in_transit"
	StatusDelivered           Status = "delivered"
	StatusCompleted           Status = "completed"
	StatusCancelled           Status = "cancelled"
)

// Statuses lists every state in lifecycle order.
var Statuses = []Status{
	StatusDraft,
	StatusPendingSiteManager,
	StatusApprovedSiteManager,
	StatusCheckingStock,
	StatusFulfilledInternal,
	StatusNeedsExternalOrder,
	StatusPendingManagement,
	StatusApprovedManagement,
	StatusRejectedManagement,
	StatusSubmittedToSupplier,
	StatusPendingSupplier,
	StatusAcceptedSupplier,
	StatusRejectedSupplier,
	StatusInTransit,
	StatusDelivered,
	StatusCompleted,
	StatusCancelled,
}

// Valid reports whether s is a known state.
func (s Status) Valid() bool {
	for _, known := range Statuses {
		if s == known {
			return true
		}
	}
	return false
}

// Terminal reports whether no transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejectedManagement, StatusRejectedSupplier, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Action names a transition trigger.
type Action string

const (
	ActionSubmit            Action = "submit"
	ActionApproveSite       Action = "approve_site"
	ActionRejectSite        Action = "reject_site"
	ActionBeginStockCheck   Action = "begin_stock_check"
	ActionStockAvailable    Action = "stock_available"
	ActionStockShort        Action = "stock_short"
	ActionEscalate          Action = "escalate"
	ActionApproveManagement Action = "approve_management"
	ActionRejectManagement  Action = "reject_management"
	ActionSubmitToSupplier  Action = "submit_to_supplier"
	ActionAwaitSupplier     Action = "await_supplier"
	ActionAcceptSupplier    Action = "accept_supplier"
	ActionRejectSupplier    Action = "reject_supplier"
	ActionShip              Action = "ship"
	ActionDeliver           Action = "deliver"
	ActionComplete          Action = "complete"
	ActionCancel            Action = "cancel"
)

// Milestone names the timestamp stamped when a state is reached.
type Milestone string

const (
	MilestoneNone                Milestone = ""
	MilestoneSubmitted           Milestone = "submitted_at"
	MilestoneSiteApproved        Milestone = "site_approved_at"
	MilestoneManagementApproved  Milestone = "management_approved_at"
	MilestoneSubmittedToSupplier Milestone = "supplier_submitted_at"
	MilestoneAcceptedBySupplier  Milestone = "supplier_accepted_at"
	MilestoneDelivered           Milestone = "delivered_at"
	MilestoneCompleted           Milestone = "completed_at"
	MilestoneCancelled           Milestone = "cancelled_at"
)
