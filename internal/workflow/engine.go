package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/buildflow/internal/observability"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// Order is the slice of a purchase order the engine needs to authorize and
// persist transitions.
type Order struct {
	ID                int64
	Number            string
	CompanyID         int64
	CreatedBy         int64
	SiteManagerID     int64
	SupplierCompanyID int64
	Status            Status
	Version           int64
}

// Change is one conditional status write.
type Change struct {
	OrderID            int64
	From               Status
	To                 Status
	ExpectedVersion    int64
	At                 time.Time
	Milestone          Milestone
	RejectionReason    *string
	CancellationReason *string
}

// Store persists transitions. UpdateStatus must fail with shared.ErrConflict
// when the order no longer sits at From with ExpectedVersion.
type Store interface {
	UpdateStatus(ctx context.Context, change Change) error
	AppendHistory(ctx context.Context, entry HistoryEntry) (int64, error)
}

// Effects runs the stock side of the state machine.
type Effects interface {
	// CheckStock reports whether internal stock covers every order line.
	CheckStock(ctx context.Context, order Order) (bool, error)
	// DeductStock fulfils every order line from internal stock.
	DeductStock(ctx context.Context, order Order) error
}

// Command is a human-initiated transition request.
type Command struct {
	Action Action
	Actor  shared.Actor
	Note   string
	Reason string
}

// Engine authorizes commands against the table and drives the state machine.
type Engine struct {
	metrics *observability.Domain
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine constructs Engine.
func NewEngine(metrics *observability.Domain, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{metrics: metrics, logger: logger, now: func() time.Time { return time.Now().UTC() }}
}

// maxCascade bounds the automatic steps taken after one command.
var maxCascade = len(Statuses)

// Authorize checks that action is legal from the order's state and that actor
// may fire it.
func (e *Engine) Authorize(order Order, action Action, actor shared.Actor) (Rule, error) {
	if order.Status.Terminal() {
		return Rule{}, fmt.Errorf("%w: order %d is %s", shared.ErrIllegalTransition, order.ID, order.Status)
	}
	rule, ok := Lookup(order.Status, action)
	if !ok {
		return Rule{}, fmt.Errorf("%w: %s from %s", shared.ErrIllegalTransition, action, order.Status)
	}
	if rule.Guard == nil || !rule.Guard(order, actor) {
		return Rule{}, fmt.Errorf("%w: %s may not %s order %d in %s", shared.ErrForbidden, actor, action, order.ID, order.Status)
	}
	return rule, nil
}

// Permitted lists the actions actor may fire on order right now.
func (e *Engine) Permitted(order Order, actor shared.Actor) []Action {
	var out []Action
	for _, rule := range table {
		if rule.From != order.Status || rule.Guard == nil {
			continue
		}
		if rule.Guard(order, actor) {
			out = append(out, rule.Action)
		}
	}
	return out
}

// Apply fires cmd on order, then follows automatic transitions until the
// order reaches a stable state. The moves themselves come from the state
// machine; every step is persisted through store as a conditional status
// write plus one history row. Callers run Apply inside one transaction so a
// failed step leaves the last committed state untouched, and call Record once
// that transaction commits.
func (e *Engine) Apply(ctx context.Context, store Store, order Order, cmd Command, effects Effects) (Order, []HistoryEntry, error) {
	rule, err := e.Authorize(order, cmd.Action, cmd.Actor)
	if err != nil {
		return order, nil, err
	}
	reason := strings.TrimSpace(cmd.Reason)
	if rule.Reason != ReasonNone && reason == "" {
		return order, nil, shared.Validationf("%s requires a reason", cmd.Action)
	}
	note := strings.TrimSpace(cmd.Note)
	if note == "" {
		note = reason
	}

	exec := machine.NewExecution(ctx, state(order.Status))
	defer exec.Cancel()
	payload := &transit{effects: effects}
	fire := func(signal string) (Rule, error) {
		from := order.Status
		payload.order = order
		payload.err = nil
		err := exec.Signal(ctx, signal, payload)
		if payload.err != nil {
			return Rule{}, payload.err
		}
		if err != nil {
			return Rule{}, fmt.Errorf("%w: %s from %s: %v", shared.ErrIllegalTransition, signal, from, err)
		}
		return resolve(from, Status(exec.CurrentState()), signal)
	}

	fired, err := fire(signalFor(rule))
	if err != nil {
		return order, nil, err
	}
	if fired.Action != rule.Action {
		return order, nil, fmt.Errorf("workflow: %s from %s resolved to %s", rule.Action, rule.From, fired.Action)
	}
	var history []HistoryEntry
	entry, err := e.persist(ctx, store, &order, fired, cmd.Actor, note, reason)
	if err != nil {
		return order, nil, err
	}
	history = append(history, entry)

	for i := 0; ; i++ {
		if i >= maxCascade {
			return order, nil, fmt.Errorf("workflow: cascade from %s did not settle", order.Status)
		}
		candidates := Next(order.Status)
		if len(candidates) == 0 {
			break
		}
		next, err := fire(signalFor(candidates[0]))
		if err != nil {
			return order, nil, err
		}
		entry, err := e.persist(ctx, store, &order, next, shared.SystemActor, autoNote(next), "")
		if err != nil {
			return order, nil, err
		}
		history = append(history, entry)
	}
	return order, history, nil
}

// Record counts and logs committed steps. Apply never does this itself, so a
// rolled back transaction leaves no trace in metrics.
func (e *Engine) Record(history []HistoryEntry) {
	for _, entry := range history {
		e.metrics.ObserveTransition(string(entry.From), string(entry.To), string(entry.Action))
		e.logger.Info("order transition",
			slog.Int64("order_id", entry.OrderID),
			slog.String("from", string(entry.From)),
			slog.String("to", string(entry.To)),
			slog.String("action", string(entry.Action)),
			slog.Int64("actor_id", entry.ActorID),
		)
	}
}

func (e *Engine) persist(ctx context.Context, store Store, order *Order, rule Rule, actor shared.Actor, note, reason string) (HistoryEntry, error) {
	at := e.now()
	change := Change{
		OrderID:         order.ID,
		From:            order.Status,
		To:              rule.To,
		ExpectedVersion: order.Version,
		At:              at,
		Milestone:       rule.Milestone,
	}
	switch rule.Reason {
	case ReasonRejection:
		change.RejectionReason = &reason
	case ReasonCancellation:
		change.CancellationReason = &reason
	}
	if err := store.UpdateStatus(ctx, change); err != nil {
		return HistoryEntry{}, fmt.Errorf("order %d %s: %w", order.ID, rule.Action, err)
	}

	entry := HistoryEntry{
		OrderID: order.ID,
		From:    rule.From,
		To:      rule.To,
		Action:  rule.Action,
		ActorID: actor.UserID,
		Note:    note,
		At:      at,
	}
	id, err := store.AppendHistory(ctx, entry)
	if err != nil {
		return HistoryEntry{}, fmt.Errorf("order %d history: %w", order.ID, err)
	}
	entry.ID = id

	order.Status = rule.To
	order.Version++
	return entry, nil
}

func autoNote(rule Rule) string {
	switch rule.Action {
	case ActionStockAvailable:
		return "internal stock covers every item"
	case ActionStockShort:
		return "internal stock insufficient"
	}
	return ""
}
