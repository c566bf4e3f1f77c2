package workflow

import (
	"context"
	"fmt"

	sm "github.com/im-adarsh/go-statemachine/workflow"
)

// signalStockVerdict resolves checking_stock into fulfilled_internal or
// needs_external_order. The table records the outcome as stock_available or
// stock_short.
const signalStockVerdict = "stock_verdict"

// transit is the payload threaded through one signal. Conditions and
// activities cannot return rich errors to the engine, so they park them in err.
type transit struct {
	order   Order
	effects Effects
	err     error
}

func (t *transit) fail(err error) error {
	if t.err == nil {
		t.err = err
	}
	return err
}

// stockCovered is the condition on the checking_stock fork.
func stockCovered(ctx context.Context, t *transit) bool {
	if t.effects == nil {
		t.fail(fmt.Errorf("workflow: order %d needs a stock verdict but no stock effects are configured", t.order.ID))
		return false
	}
	ok, err := t.effects.CheckStock(ctx, t.order)
	if err != nil {
		t.fail(err)
		return false
	}
	return ok
}

// deductStock is the activity of completing an internally fulfilled order.
func deductStock(ctx context.Context, t *transit) error {
	if t.effects == nil {
		return t.fail(fmt.Errorf("workflow: order %d needs stock deduction but no stock effects are configured", t.order.ID))
	}
	if err := t.effects.DeductStock(ctx, t.order); err != nil {
		return t.fail(err)
	}
	return nil
}

func state(status Status) string { return string(status) }
func event(action Action) string { return string(action) }

// cancellable lists the states with a cancel edge in the table.
func cancellable() []string {
	var out []string
	for _, rule := range table {
		if rule.Action == ActionCancel {
			out = append(out, state(rule.From))
		}
	}
	return out
}

// machine is the executable form of table. Every Rule maps to one
// From/On/To edge, except the two stock verdict rules which share one
// conditional edge.
var machine = sm.Define[*transit]().
	From(state(StatusDraft)).On(event(ActionSubmit)).To(state(StatusPendingSiteManager)).
	From(state(StatusPendingSiteManager)).On(event(ActionApproveSite)).To(state(StatusApprovedSiteManager)).
	From(state(StatusPendingSiteManager)).On(event(ActionRejectSite)).To(state(StatusDraft)).
	From(state(StatusApprovedSiteManager)).On(event(ActionBeginStockCheck)).To(state(StatusCheckingStock)).
	From(state(StatusCheckingStock)).On(signalStockVerdict).
	If(stockCovered, state(StatusFulfilledInternal)).
	Else(state(StatusNeedsExternalOrder)).
	From(state(StatusNeedsExternalOrder)).On(event(ActionEscalate)).To(state(StatusPendingManagement)).
	From(state(StatusPendingManagement)).On(event(ActionApproveManagement)).To(state(StatusApprovedManagement)).
	From(state(StatusPendingManagement)).On(event(ActionRejectManagement)).To(state(StatusRejectedManagement)).
	From(state(StatusApprovedManagement)).On(event(ActionSubmitToSupplier)).To(state(StatusSubmittedToSupplier)).
	From(state(StatusSubmittedToSupplier)).On(event(ActionAwaitSupplier)).To(state(StatusPendingSupplier)).
	From(state(StatusPendingSupplier)).On(event(ActionAcceptSupplier)).To(state(StatusAcceptedSupplier)).
	From(state(StatusPendingSupplier)).On(event(ActionRejectSupplier)).To(state(StatusRejectedSupplier)).
	From(state(StatusAcceptedSupplier)).On(event(ActionShip)).To(state(StatusInTransit)).
	From(state(StatusInTransit), state(StatusAcceptedSupplier)).On(event(ActionDeliver)).To(state(StatusDelivered)).
	From(state(StatusFulfilledInternal)).On(event(ActionComplete)).To(state(StatusCompleted)).
	Activity(deductStock).
	From(state(StatusDelivered)).On(event(ActionComplete)).To(state(StatusCompleted)).
	From(cancellable()...).On(event(ActionCancel)).To(state(StatusCancelled)).
	MustBuild()

// signalFor returns the machine signal that fires rule.
func signalFor(rule Rule) string {
	if rule.Branch != VerdictAny {
		return signalStockVerdict
	}
	return event(rule.Action)
}

// resolve finds the table rule behind a machine move from -> to on signal.
func resolve(from, to Status, signal string) (Rule, error) {
	for _, rule := range table {
		if rule.From == from && rule.To == to && signalFor(rule) == signal {
			return rule, nil
		}
	}
	return Rule{}, fmt.Errorf("workflow: machine moved %s to %s on %s, which the table does not allow", from, to, signal)
}
