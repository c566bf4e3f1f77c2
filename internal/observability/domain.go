package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Domain holds procurement and stock ledger collectors. A nil *Domain is a no-op.
type Domain struct {
	transitions    *prometheus.CounterVec
	stockMovements *prometheus.CounterVec
	numberFallback prometheus.Counter
}

// NewDomain registers the domain collectors on registerer.
func NewDomain(registerer prometheus.Registerer) *Domain {
	transitions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildflow_workflow_transitions_total",
		Help: "Purchase order state transitions by source, target and action.",
	}, []string{"from", "to", "action"})
	movements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "buildflow_stock_movements_total",
		Help: "Stock ledger transactions by type.",
	}, []string{"type"})
	fallback := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "buildflow_order_number_fallbacks_total",
		Help: "Order numbers issued from the timestamp fallback instead of the sequence.",
	})
	registerer.MustRegister(transitions, movements, fallback)
	return &Domain{transitions: transitions, stockMovements: movements, numberFallback: fallback}
}

// ObserveTransition counts one recorded workflow step.
func (d *Domain) ObserveTransition(from, to, action string) {
	if d == nil {
		return
	}
	d.transitions.WithLabelValues(from, to, action).Inc()
}

// ObserveStockMovement counts one ledger transaction.
func (d *Domain) ObserveStockMovement(kind string) {
	if d == nil {
		return
	}
	d.stockMovements.WithLabelValues(kind).Inc()
}

// ObserveNumberFallback counts a non-sequential order number.
func (d *Domain) ObserveNumberFallback() {
	if d == nil {
		return
	}
	d.numberFallback.Inc()
}
