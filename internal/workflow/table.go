package workflow

import (
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// Guard decides whether actor may fire a rule on order.
type Guard func(order Order, actor shared.Actor) bool

// ReasonKind tells which free-text reason a rule records.
type ReasonKind int

const (
	ReasonNone ReasonKind = iota
	ReasonRejection
	ReasonCancellation
)

// Effect names the machine activity attached to a transition.
type Effect int

const (
	EffectNone Effect = iota
	// EffectDeductStock fulfils the order lines from internal stock.
	EffectDeductStock
)

// Verdict selects one branch of a state that forks on stock availability.
type Verdict int

const (
	VerdictAny Verdict = iota
	VerdictStockAvailable
	VerdictStockShort
)

// Rule is one edge of the transition table.
type Rule struct {
	From      Status
	Action    Action
	To        Status
	Auto      bool
	Guard     Guard
	Milestone Milestone
	Reason    ReasonKind
	Effect    Effect
	Branch    Verdict
}

func systemOnly(_ Order, actor shared.Actor) bool {
	return actor.IsSystem()
}

func creatorOrManagement(order Order, actor shared.Actor) bool {
	if !actor.Buyer(order.CompanyID) {
		return false
	}
	return actor.UserID == order.CreatedBy || actor.IsManagement()
}

// siteManager accepts the assigned site manager, or any site manager of the
// buyer company while nobody is assigned.
func siteManager(order Order, actor shared.Actor) bool {
	if !actor.Buyer(order.CompanyID) {
		return false
	}
	if order.SiteManagerID != 0 {
		return actor.UserID == order.SiteManagerID
	}
	return actor.Role == shared.RoleSiteManager
}

func management(order Order, actor shared.Actor) bool {
	return actor.Buyer(order.CompanyID) && actor.IsManagement()
}

func systemOrManagement(order Order, actor shared.Actor) bool {
	return actor.IsSystem() || management(order, actor)
}

func supplier(order Order, actor shared.Actor) bool {
	return !actor.IsSystem() &&
		actor.Role == shared.RoleSupplier &&
		order.SupplierCompanyID != 0 &&
		actor.CompanyID == order.SupplierCompanyID
}

func receiver(order Order, actor shared.Actor) bool {
	return actor.Buyer(order.CompanyID) || supplier(order, actor)
}

func completer(order Order, actor shared.Actor) bool {
	if !actor.Buyer(order.CompanyID) {
		return false
	}
	return actor.UserID == order.CreatedBy ||
		(order.SiteManagerID != 0 && actor.UserID == order.SiteManagerID) ||
		actor.IsManagement()
}

var table = buildTable()

func buildTable() []Rule {
	rules := []Rule{
		{From: StatusDraft, Action: ActionSubmit, To: StatusPendingSiteManager, Guard: creatorOrManagement, Milestone: MilestoneSubmitted},
		{From: StatusPendingSiteManager, Action: ActionApproveSite, To: StatusApprovedSiteManager, Guard: siteManager, Milestone: MilestoneSiteApproved},
		{From: StatusPendingSiteManager, Action: ActionRejectSite, To: StatusDraft, Guard: siteManager, Reason: ReasonRejection},
		{From: StatusApprovedSiteManager, Action: ActionBeginStockCheck, To: StatusCheckingStock, Auto: true, Guard: systemOnly},
		{From: StatusCheckingStock, Action: ActionStockAvailable, To: StatusFulfilledInternal, Auto: true, Guard: systemOnly, Branch: VerdictStockAvailable},
		{From: StatusCheckingStock, Action: ActionStockShort, To: StatusNeedsExternalOrder, Auto: true, Guard: systemOnly, Branch: VerdictStockShort},
		{From: StatusNeedsExternalOrder, Action: ActionEscalate, To: StatusPendingManagement, Auto: true, Guard: systemOnly},
		{From: StatusPendingManagement, Action: ActionApproveManagement, To: StatusApprovedManagement, Guard: management, Milestone: MilestoneManagementApproved},
		{From: StatusPendingManagement, Action: ActionRejectManagement, To: StatusRejectedManagement, Guard: management, Reason: ReasonRejection},
		{From: StatusApprovedManagement, Action: ActionSubmitToSupplier, To: StatusSubmittedToSupplier, Auto: true, Guard: systemOrManagement, Milestone: MilestoneSubmittedToSupplier},
		{From: StatusSubmittedToSupplier, Action: ActionAwaitSupplier, To: StatusPendingSupplier, Auto: true, Guard: systemOnly},
		{From: StatusPendingSupplier, Action: ActionAcceptSupplier, To: StatusAcceptedSupplier, Guard: supplier, Milestone: MilestoneAcceptedBySupplier},
		{From: StatusPendingSupplier, Action: ActionRejectSupplier, To: StatusRejectedSupplier, Guard: supplier, Reason: ReasonRejection},
		{From: StatusAcceptedSupplier, Action: ActionShip, To: StatusInTransit, Auto: true, Guard: systemOnly},
		{From: StatusInTransit, Action: ActionDeliver, To: StatusDelivered, Guard: receiver, Milestone: MilestoneDelivered},
		{From: StatusAcceptedSupplier, Action: ActionDeliver, To: StatusDelivered, Guard: receiver, Milestone: MilestoneDelivered},
		{From: StatusFulfilledInternal, Action: ActionComplete, To: StatusCompleted, Guard: completer, Milestone: MilestoneCompleted, Effect: EffectDeductStock},
		{From: StatusDelivered, Action: ActionComplete, To: StatusCompleted, Guard: completer, Milestone: MilestoneCompleted},
	}
	for _, from := range Statuses {
		if from.Terminal() || from == StatusInTransit || from == StatusDelivered {
			continue
		}
		rules = append(rules, Rule{From: from, Action: ActionCancel, To: StatusCancelled, Guard: creatorOrManagement, Milestone: MilestoneCancelled, Reason: ReasonCancellation})
	}
	return rules
}

// Rules returns a copy of the transition table.
func Rules() []Rule {
	return append([]Rule(nil), table...)
}

// Lookup finds the edge leaving from on action.
func Lookup(from Status, action Action) (Rule, bool) {
	for _, rule := range table {
		if rule.From == from && rule.Action == action {
			return rule, true
		}
	}
	return Rule{}, false
}

// Next returns the automatic rules leaving status. An empty result means the
// state is stable; more than one means the state branches on a Verdict.
func Next(status Status) []Rule {
	var out []Rule
	for _, rule := range table {
		if rule.From == status && rule.Auto {
			out = append(out, rule)
		}
	}
	return out
}
