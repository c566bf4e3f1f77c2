package workflow

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/buildflow/internal/observability"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

type memoryStore struct {
	status   Status
	version  int64
	changes  []Change
	history  []HistoryEntry
	failWith error
}

func (m *memoryStore) UpdateStatus(ctx context.Context, change Change) error {
	if m.failWith != nil {
		return m.failWith
	}
	if change.From != m.status || change.ExpectedVersion != m.version {
		return shared.ErrConflict
	}
	m.status = change.To
	m.version++
	m.changes = append(m.changes, change)
	return nil
}

func (m *memoryStore) AppendHistory(ctx context.Context, entry HistoryEntry) (int64, error) {
	m.history = append(m.history, entry)
	return int64(len(m.history)), nil
}

type fakeEffects struct {
	available bool
	checkErr  error
	deducted  int
	deductErr error
}

func (f *fakeEffects) CheckStock(ctx context.Context, order Order) (bool, error) {
	return f.available, f.checkErr
}

func (f *fakeEffects) DeductStock(ctx context.Context, order Order) error {
	if f.deductErr != nil {
		return f.deductErr
	}
	f.deducted++
	return nil
}

var (
	creator  = shared.Actor{UserID: 10, CompanyID: 1, Role: shared.RoleStaff}
	siteMgr  = shared.Actor{UserID: 11, CompanyID: 1, Role: shared.RoleSiteManager}
	manager  = shared.Actor{UserID: 12, CompanyID: 1, Role: shared.RoleManagement}
	vendor   = shared.Actor{UserID: 30, CompanyID: 3, Role: shared.RoleSupplier}
	outsider = shared.Actor{UserID: 40, CompanyID: 2, Role: shared.RoleManagement}
)

func newOrder(status Status) (Order, *memoryStore) {
	order := Order{ID: 1, Number: "PO-2026-03-0001", CompanyID: 1, CreatedBy: creator.UserID, SupplierCompanyID: 3, Status: status, Version: 4}
	return order, &memoryStore{status: status, version: 4}
}

func TestTerminalStatesHaveNoEdges(t *testing.T) {
	for _, rule := range Rules() {
		require.False(t, rule.From.Terminal(), "rule %s leaves terminal %s", rule.Action, rule.From)
		require.True(t, rule.To.Valid())
	}
	for _, status := range Statuses {
		if status.Terminal() {
			require.Empty(t, Next(status))
		}
	}
}

func TestEveryStableStateHasAnExitOrIsTerminal(t *testing.T) {
	for _, status := range Statuses {
		if status.Terminal() {
			continue
		}
		found := false
		for _, rule := range Rules() {
			if rule.From == status {
				found = true
				break
			}
		}
		require.True(t, found, "status %s is a dead end", status)
	}
}

func TestSubmitRecordsOneHistoryRow(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusDraft)

	updated, history, err := engine.Apply(context.Background(), store, order, Command{Action: ActionSubmit, Actor: creator}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusPendingSiteManager, updated.Status)
	require.Equal(t, int64(5), updated.Version)
	require.Len(t, history, 1)
	require.Len(t, store.history, 1)
	require.Equal(t, MilestoneSubmitted, store.changes[0].Milestone)
	require.Equal(t, creator.UserID, store.history[0].ActorID)
}

func TestSiteApprovalCascadesToFulfilledWhenStockCovers(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingSiteManager)

	updated, history, err := engine.Apply(context.Background(), store, order, Command{Action: ActionApproveSite, Actor: siteMgr}, &fakeEffects{available: true})
	require.NoError(t, err)
	require.Equal(t, StatusFulfilledInternal, updated.Status)

	var path []Status
	for _, h := range history {
		path = append(path, h.To)
		require.NotEqual(t, StatusPendingManagement, h.To)
	}
	require.Equal(t, []Status{StatusApprovedSiteManager, StatusCheckingStock, StatusFulfilledInternal}, path)
	require.Equal(t, int64(0), history[1].ActorID)
	require.Equal(t, int64(0), history[2].ActorID)
}

func TestSiteApprovalCascadesToManagementWhenShort(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingSiteManager)
	effects := &fakeEffects{available: false}

	updated, history, err := engine.Apply(context.Background(), store, order, Command{Action: ActionApproveSite, Actor: siteMgr}, effects)
	require.NoError(t, err)
	require.Equal(t, StatusPendingManagement, updated.Status)
	require.Len(t, history, 4)
	require.Equal(t, ActionEscalate, history[3].Action)
	require.Zero(t, effects.deducted)
}

func TestManagementApprovalReachesPendingSupplier(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingManagement)

	updated, history, err := engine.Apply(context.Background(), store, order, Command{Action: ActionApproveManagement, Actor: manager}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusPendingSupplier, updated.Status)
	require.Len(t, history, 3)
	require.Equal(t, MilestoneSubmittedToSupplier, store.changes[1].Milestone)
}

func TestSupplierAcceptCascadesToTransit(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingSupplier)

	_, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionAcceptSupplier, Actor: shared.Actor{UserID: 31, CompanyID: 9, Role: shared.RoleSupplier}}, nil)
	require.ErrorIs(t, err, shared.ErrForbidden)

	updated, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionAcceptSupplier, Actor: vendor}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusInTransit, updated.Status)
}

func TestSiteManagerMustBeTheAssignedOne(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, _ := newOrder(StatusPendingSiteManager)
	order.SiteManagerID = 99

	_, err := engine.Authorize(order, ActionApproveSite, siteMgr)
	require.ErrorIs(t, err, shared.ErrForbidden)

	order.SiteManagerID = siteMgr.UserID
	_, err = engine.Authorize(order, ActionApproveSite, siteMgr)
	require.NoError(t, err)

	_, err = engine.Authorize(order, ActionApproveSite, shared.Actor{UserID: siteMgr.UserID, CompanyID: 2, Role: shared.RoleSiteManager})
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestHumansCannotFireSystemTransitions(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, _ := newOrder(StatusCheckingStock)
	_, err := engine.Authorize(order, ActionStockAvailable, manager)
	require.ErrorIs(t, err, shared.ErrForbidden)

	order.Status = StatusApprovedManagement
	_, err = engine.Authorize(order, ActionSubmitToSupplier, manager)
	require.NoError(t, err)
	_, err = engine.Authorize(order, ActionSubmitToSupplier, outsider)
	require.ErrorIs(t, err, shared.ErrForbidden)
}

func TestTerminalStatesRejectEveryAction(t *testing.T) {
	engine := NewEngine(nil, nil)
	for _, status := range []Status{StatusCompleted, StatusCancelled, StatusRejectedManagement, StatusRejectedSupplier} {
		order, store := newOrder(status)
		for _, action := range []Action{ActionSubmit, ActionCancel, ActionComplete, ActionApproveManagement} {
			_, _, err := engine.Apply(context.Background(), store, order, Command{Action: action, Actor: manager, Reason: "x"}, nil)
			require.ErrorIs(t, err, shared.ErrIllegalTransition)
		}
		require.Empty(t, store.history)
	}
}

func TestIllegalTransitionBeforePermission(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusDraft)
	_, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionApproveManagement, Actor: outsider}, nil)
	require.ErrorIs(t, err, shared.ErrIllegalTransition)
}

func TestCancelRequiresReasonAndIsBlockedInTransit(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingManagement)

	_, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionCancel, Actor: creator}, nil)
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Empty(t, store.history)

	updated, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionCancel, Actor: creator, Reason: "projet suspendu"}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, updated.Status)
	require.NotNil(t, store.changes[0].CancellationReason)
	require.Equal(t, "projet suspendu", *store.changes[0].CancellationReason)

	for _, status := range []Status{StatusInTransit, StatusDelivered} {
		_, ok := Lookup(status, ActionCancel)
		require.False(t, ok)
	}
}

func TestRejectSiteReturnsToDraftWithReason(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingSiteManager)

	updated, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionRejectSite, Actor: siteMgr, Reason: "quantités à revoir"}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, updated.Status)
	require.Equal(t, "quantités à revoir", *store.changes[0].RejectionReason)
	require.Equal(t, "quantités à revoir", store.history[0].Note)
}

func TestCompleteFromFulfilledDeductsStock(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusFulfilledInternal)
	effects := &fakeEffects{}

	updated, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionComplete, Actor: creator}, effects)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, updated.Status)
	require.Equal(t, 1, effects.deducted)

	order, store = newOrder(StatusDelivered)
	_, _, err = engine.Apply(context.Background(), store, order, Command{Action: ActionComplete, Actor: creator}, effects)
	require.NoError(t, err)
	require.Equal(t, 1, effects.deducted)
}

func TestFailedDeductionLeavesStateUntouched(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusFulfilledInternal)
	short := &shared.InsufficientStockError{Item: "Ciment"}

	updated, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionComplete, Actor: creator}, &fakeEffects{deductErr: short})
	require.ErrorIs(t, err, shared.ErrInsufficientStock)
	require.Equal(t, StatusFulfilledInternal, updated.Status)
	require.Equal(t, StatusFulfilledInternal, store.status)
	require.Empty(t, store.history)
}

func TestStaleVersionIsConflict(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusDraft)
	store.version = 7

	_, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionSubmit, Actor: creator}, nil)
	require.ErrorIs(t, err, shared.ErrConflict)
	require.Empty(t, store.history)
}

func TestStockCheckErrorPropagates(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusPendingSiteManager)
	boom := errors.New("ledger unreachable")

	_, _, err := engine.Apply(context.Background(), store, order, Command{Action: ActionApproveSite, Actor: siteMgr}, &fakeEffects{checkErr: boom})
	require.ErrorIs(t, err, boom)
	require.NotEqual(t, StatusFulfilledInternal, store.status)
	require.NotEqual(t, StatusNeedsExternalOrder, store.status)
}

func TestMachineFollowsTable(t *testing.T) {
	ctx := context.Background()
	for _, rule := range Rules() {
		effects := &fakeEffects{available: rule.Branch == VerdictStockAvailable}
		exec := machine.NewExecution(ctx, state(rule.From))
		payload := &transit{order: Order{ID: 1, Status: rule.From}, effects: effects}

		require.NoError(t, exec.Signal(ctx, signalFor(rule), payload), "%s from %s", rule.Action, rule.From)
		require.NoError(t, payload.err)
		require.Equal(t, state(rule.To), exec.CurrentState(), "%s from %s", rule.Action, rule.From)

		resolved, err := resolve(rule.From, rule.To, signalFor(rule))
		require.NoError(t, err)
		require.Equal(t, rule.Action, resolved.Action)

		if rule.Effect == EffectDeductStock {
			require.Equal(t, 1, effects.deducted, "%s from %s", rule.Action, rule.From)
		} else {
			require.Zero(t, effects.deducted, "%s from %s", rule.Action, rule.From)
		}
		exec.Cancel()
	}
}

func TestMachineRejectsEdgesOutsideTable(t *testing.T) {
	ctx := context.Background()
	exec := machine.NewExecution(ctx, state(StatusDraft))
	defer exec.Cancel()

	err := exec.Signal(ctx, event(ActionComplete), &transit{})
	require.Error(t, err)
	require.Equal(t, state(StatusDraft), exec.CurrentState())
}

func TestRecordCountsOnlyWhenCalled(t *testing.T) {
	metrics := observability.NewMetrics()
	engine := NewEngine(metrics.Domain(), nil)
	order, store := newOrder(StatusDraft)

	_, history, err := engine.Apply(context.Background(), store, order, Command{Action: ActionSubmit, Actor: creator}, nil)
	require.NoError(t, err)
	require.NotContains(t, scrape(t, metrics), `buildflow_workflow_transitions_total{action="submit"`)

	engine.Record(history)
	require.Contains(t, scrape(t, metrics), `buildflow_workflow_transitions_total{action="submit",from="draft",to="pending_site_manager"} 1`)
}

func scrape(t *testing.T, metrics *observability.Metrics) string {
	t.Helper()
	rr := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	return rr.Body.String()
}

func TestPermittedActions(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, _ := newOrder(StatusPendingManagement)
	require.ElementsMatch(t, []Action{ActionApproveManagement, ActionRejectManagement, ActionCancel}, engine.Permitted(order, manager))
	require.ElementsMatch(t, []Action{ActionCancel}, engine.Permitted(order, creator))
	require.Empty(t, engine.Permitted(order, vendor))
}

func TestReplayReconstructsStatus(t *testing.T) {
	engine := NewEngine(nil, nil)
	order, store := newOrder(StatusDraft)
	ctx := context.Background()

	order, _, err := engine.Apply(ctx, store, order, Command{Action: ActionSubmit, Actor: creator}, nil)
	require.NoError(t, err)
	order, _, err = engine.Apply(ctx, store, order, Command{Action: ActionApproveSite, Actor: siteMgr}, &fakeEffects{})
	require.NoError(t, err)
	order, _, err = engine.Apply(ctx, store, order, Command{Action: ActionApproveManagement, Actor: manager}, nil)
	require.NoError(t, err)

	status, err := Replay(store.history)
	require.NoError(t, err)
	require.Equal(t, order.Status, status)
	require.Equal(t, StatusPendingSupplier, status)

	broken := append([]HistoryEntry(nil), store.history...)
	broken[2].From = StatusDelivered
	_, err = Replay(broken)
	require.Error(t, err)
}
