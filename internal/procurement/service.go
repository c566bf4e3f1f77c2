package procurement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/buildflow/internal/identity"
	"github.com/odyssey-erp/buildflow/internal/inventory"
	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

// RepositoryPort describes repository operations used by Service.
type RepositoryPort interface {
	NumberSource
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetOrder(ctx context.Context, id int64) (PurchaseOrder, error)
	ListItems(ctx context.Context, orderID int64) ([]Item, error)
	ListOrders(ctx context.Context, q listQuery) ([]PurchaseOrder, int, error)
	ListHistory(ctx context.Context, orderID int64) ([]workflow.HistoryEntry, error)
	ListStale(ctx context.Context, statuses []workflow.Status, before time.Time, after staleCursor, limit int) ([]PurchaseOrder, error)
}

// StockPort exposes the stock ledger operations the workflow relies on.
type StockPort interface {
	CheckAvailability(ctx context.Context, demand inventory.OrderDemand) (inventory.Availability, error)
	FulfillFromStock(ctx context.Context, actor shared.Actor, demand inventory.OrderDemand) ([]inventory.Transaction, error)
	ReceiveOrder(ctx context.Context, actor shared.Actor, demand inventory.OrderDemand) ([]inventory.Stock, error)
}

// AuditPort reused from shared.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultLocation string
	StalePageSize   int
}

// Service orchestrates the purchase order lifecycle.
type Service struct {
	repo      RepositoryPort
	stock     StockPort
	directory identity.Directory
	audit     AuditPort
	engine    *workflow.Engine
	numbers   *Numberer
	logger    *slog.Logger
	cfg       ServiceConfig
}

// NewService constructs procurement service.
func NewService(repo RepositoryPort, stock StockPort, directory identity.Directory, audit AuditPort, engine *workflow.Engine, numbers *Numberer, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if engine == nil {
		engine = workflow.NewEngine(nil, logger)
	}
	if numbers == nil {
		numbers = NewNumberer(repo, nil, nil, logger)
	}
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = "main"
	}
	if cfg.StalePageSize <= 0 {
		cfg.StalePageSize = 100
	}
	return &Service{repo: repo, stock: stock, directory: directory, audit: audit, engine: engine, numbers: numbers, logger: logger, cfg: cfg}
}

// CreateDraft validates and stores a new draft with a freshly issued number.
// Header and items are written in one transaction.
func (s *Service) CreateDraft(ctx context.Context, actor shared.Actor, input DraftInput) (PurchaseOrder, error) {
	if err := requireBuyer(actor); err != nil {
		return PurchaseOrder{}, err
	}
	draft := PurchaseOrder{
		OrderType:         input.OrderType,
		CompanyID:         actor.CompanyID,
		CreatedBy:         actor.UserID,
		SiteManagerID:     input.SiteManagerID,
		SupplierCompanyID: input.SupplierCompanyID,
		ProjectID:         input.ProjectID,
		OrgUnitID:         input.OrgUnitID,
		Location:          s.location(input.Location),
		Status:            workflow.StatusDraft,
		Notes:             strings.TrimSpace(input.Notes),
	}
	items, err := buildItems(input.Items)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if err := s.validateComposition(ctx, draft); err != nil {
		return PurchaseOrder{}, err
	}

	var orderID int64
	err = s.numbers.Issue(ctx, actor.CompanyID, func(ctx context.Context, number string) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			draft.Number = number
			created, err := tx.InsertOrder(ctx, draft)
			if err != nil {
				return err
			}
			if _, err := tx.InsertItems(ctx, created.ID, items); err != nil {
				return err
			}
			orderID = created.ID
			return nil
		})
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_CREATE", order, map[string]any{"number": order.Number, "type": order.OrderType, "total": order.Total().String()})
	return order, nil
}

// UpdateDraft replaces the editable fields and items of a draft.
func (s *Service) UpdateDraft(ctx context.Context, actor shared.Actor, orderID int64, input DraftInput) (PurchaseOrder, error) {
	if err := requireBuyer(actor); err != nil {
		return PurchaseOrder{}, err
	}
	items, err := buildItems(input.Items)
	if err != nil {
		return PurchaseOrder{}, err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := s.editableDraft(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		order.OrderType = input.OrderType
		order.SiteManagerID = input.SiteManagerID
		order.SupplierCompanyID = input.SupplierCompanyID
		order.ProjectID = input.ProjectID
		order.OrgUnitID = input.OrgUnitID
		order.Location = s.location(input.Location)
		order.Notes = strings.TrimSpace(input.Notes)
		if err := s.validateComposition(ctx, order); err != nil {
			return err
		}
		if err := tx.UpdateDraft(ctx, order); err != nil {
			return err
		}
		if err := tx.DeleteItems(ctx, order.ID); err != nil {
			return err
		}
		_, err = tx.InsertItems(ctx, order.ID, items)
		return err
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_UPDATE", order, map[string]any{"items": len(order.Items), "total": order.Total().String()})
	return order, nil
}

// DeleteDraft removes a draft and its items.
func (s *Service) DeleteDraft(ctx context.Context, actor shared.Actor, orderID int64) error {
	if err := requireBuyer(actor); err != nil {
		return err
	}
	var deleted PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := s.editableDraft(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		deleted = order
		return tx.DeleteDraft(ctx, order.ID, order.Version)
	})
	if err != nil {
		return err
	}
	s.recordAudit(ctx, actor, "PO_DELETE", deleted, map[string]any{"number": deleted.Number})
	return nil
}

// SubmitForApproval sends a draft to the site manager.
func (s *Service) SubmitForApproval(ctx context.Context, actor shared.Actor, orderID int64, note string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionSubmit, Note: note}, transitionHooks{
		before: func(ctx context.Context, tx TxRepository, order *PurchaseOrder) error {
			if len(order.Items) == 0 {
				return shared.Validationf("order %d has no items", order.ID)
			}
			return s.validateComposition(ctx, *order)
		},
	})
}

// ApproveBySiteManager approves the order and lets the stock check route it.
func (s *Service) ApproveBySiteManager(ctx context.Context, actor shared.Actor, orderID int64, note string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionApproveSite, Note: note}, transitionHooks{})
}

// RejectBySiteManager sends the order back to draft.
func (s *Service) RejectBySiteManager(ctx context.Context, actor shared.Actor, orderID int64, reason string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionRejectSite, Reason: reason}, transitionHooks{})
}

// ApproveByManagement routes the order to its supplier. supplierCompanyID
// designates one when the order has none yet.
func (s *Service) ApproveByManagement(ctx context.Context, actor shared.Actor, orderID, supplierCompanyID int64, note string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionApproveManagement, Note: note}, transitionHooks{
		before: func(ctx context.Context, tx TxRepository, order *PurchaseOrder) error {
			if order.SupplierCompanyID != 0 {
				if supplierCompanyID != 0 && supplierCompanyID != order.SupplierCompanyID {
					return shared.Validationf("order %d already routed to supplier %d", order.ID, order.SupplierCompanyID)
				}
				return s.requireApprovedSupplier(ctx, order.SupplierCompanyID)
			}
			if supplierCompanyID == 0 {
				return shared.Validationf("order %d needs a supplier before management approval", order.ID)
			}
			if err := s.requireApprovedSupplier(ctx, supplierCompanyID); err != nil {
				return err
			}
			if err := tx.SetSupplier(ctx, order.ID, supplierCompanyID, order.Version); err != nil {
				return err
			}
			order.SupplierCompanyID = supplierCompanyID
			order.Version++
			return nil
		},
	})
}

// RejectByManagement closes the order as rejected.
func (s *Service) RejectByManagement(ctx context.Context, actor shared.Actor, orderID int64, reason string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionRejectManagement, Reason: reason}, transitionHooks{})
}

// SubmitToSupplier pushes a management-approved order to its supplier.
func (s *Service) SubmitToSupplier(ctx context.Context, actor shared.Actor, orderID int64, note string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionSubmitToSupplier, Note: note}, transitionHooks{})
}

// AcceptBySupplier accepts the order on behalf of the supplier company.
func (s *Service) AcceptBySupplier(ctx context.Context, actor shared.Actor, orderID int64, note string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionAcceptSupplier, Note: note}, transitionHooks{})
}

// RejectBySupplier declines the order on behalf of the supplier company.
func (s *Service) RejectBySupplier(ctx context.Context, actor shared.Actor, orderID int64, reason string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionRejectSupplier, Reason: reason}, transitionHooks{})
}

// MarkAsDelivered records delivery and optionally books the goods into stock.
func (s *Service) MarkAsDelivered(ctx context.Context, actor shared.Actor, orderID int64, input DeliveryInput) (PurchaseOrder, error) {
	if input.ReceiveIntoStock && actor.Role == shared.RoleSupplier {
		return PurchaseOrder{}, fmt.Errorf("%w: suppliers cannot receive into buyer stock", shared.ErrForbidden)
	}
	hooks := transitionHooks{}
	if input.ReceiveIntoStock {
		hooks.after = func(ctx context.Context, tx TxRepository, order *PurchaseOrder) error {
			_, err := s.stock.ReceiveOrder(ctx, actor, order.demand())
			return err
		}
	}
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionDeliver, Note: input.Note}, hooks)
}

// Complete closes the order. Orders fulfilled internally have their lines
// deducted from stock as part of the same transaction.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, orderID int64, note string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionComplete, Note: note}, transitionHooks{})
}

// Cancel abandons the order.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, orderID int64, reason string) (PurchaseOrder, error) {
	return s.transition(ctx, actor, orderID, workflow.Command{Action: workflow.ActionCancel, Reason: reason}, transitionHooks{})
}

// AssignSiteManager designates who approves the order on site.
func (s *Service) AssignSiteManager(ctx context.Context, actor shared.Actor, orderID, userID int64) (PurchaseOrder, error) {
	if err := requireBuyer(actor); err != nil {
		return PurchaseOrder{}, err
	}
	var assigned PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		order, err := s.visibleForUpdate(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		if order.Status != workflow.StatusDraft && order.Status != workflow.StatusPendingSiteManager {
			return fmt.Errorf("%w: order %d is %s", shared.ErrConflict, order.ID, order.Status)
		}
		if actor.UserID != order.CreatedBy && !actor.IsManagement() {
			return fmt.Errorf("%w: only the creator or management may assign a site manager", shared.ErrForbidden)
		}
		order.SiteManagerID = userID
		if err := s.validateSiteManager(ctx, order); err != nil {
			return err
		}
		assigned = order
		return tx.SetSiteManager(ctx, order.ID, userID, order.Version)
	})
	if err != nil {
		return PurchaseOrder{}, err
	}
	s.recordAudit(ctx, actor, "PO_ASSIGN_SITE_MANAGER", assigned, map[string]any{"site_manager_id": userID})
	return s.load(ctx, orderID)
}

// GetByID returns the order with its items.
func (s *Service) GetByID(ctx context.Context, actor shared.Actor, orderID int64) (PurchaseOrder, error) {
	if err := actor.RequireUser(); err != nil {
		return PurchaseOrder{}, err
	}
	order, err := s.load(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !order.VisibleTo(actor) {
		return PurchaseOrder{}, fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
	}
	return order, nil
}

// Permitted lists the workflow actions actor may take on order.
func (s *Service) Permitted(order PurchaseOrder, actor shared.Actor) []workflow.Action {
	return s.engine.Permitted(order.workflowOrder(), actor)
}

// List returns one page of orders visible to actor. Suppliers see orders
// submitted to their company; everyone else sees their company's orders.
func (s *Service) List(ctx context.Context, actor shared.Actor, filters ListFilters) ([]PurchaseOrder, shared.Pagination, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, shared.Pagination{}, err
	}
	if filters.Status != "" && !filters.Status.Valid() {
		return nil, shared.Pagination{}, shared.Validationf("unknown status %q", filters.Status)
	}
	if filters.OrderType != "" && !filters.OrderType.Valid() {
		return nil, shared.Pagination{}, shared.Validationf("unknown order type %q", filters.OrderType)
	}
	page, perPage := shared.NormalizePage(filters.Page, filters.PerPage)
	q := listQuery{ListFilters: filters, Limit: perPage, Offset: (page - 1) * perPage}
	if actor.Role == shared.RoleSupplier {
		q.SupplierCompanyID = actor.CompanyID
	} else {
		q.CompanyID = actor.CompanyID
	}
	orders, total, err := s.repo.ListOrders(ctx, q)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return orders, shared.NewPagination(page, perPage, total), nil
}

// GetWorkflowHistory returns the audit trail of an order, most recent first.
func (s *Service) GetWorkflowHistory(ctx context.Context, actor shared.Actor, orderID int64) ([]workflow.HistoryEntry, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.VisibleTo(actor) {
		return nil, fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
	}
	return s.repo.ListHistory(ctx, orderID)
}

// CheckStock previews, without deducting, whether internal stock covers the order.
func (s *Service) CheckStock(ctx context.Context, actor shared.Actor, orderID int64) (StockCheck, error) {
	if err := requireBuyer(actor); err != nil {
		return StockCheck{}, err
	}
	order, err := s.GetByID(ctx, actor, orderID)
	if err != nil {
		return StockCheck{}, err
	}
	availability, err := s.stock.CheckAvailability(ctx, order.demand())
	if err != nil {
		return StockCheck{}, err
	}
	check := StockCheck{OrderID: order.ID, Location: order.Location, Sufficient: availability.Sufficient()}
	for _, line := range availability.Lines {
		check.Lines = append(check.Lines, LineCheck{
			Name:      line.Line.Name,
			StockID:   line.StockID,
			Requested: line.Requested,
			Available: line.Available,
			Covered:   line.Sufficient(),
		})
	}
	return check, nil
}

// StaleOrders lists orders waiting on a human decision for longer than age.
func (s *Service) StaleOrders(ctx context.Context, age time.Duration) ([]PurchaseOrder, error) {
	if age <= 0 {
		return nil, shared.Validationf("stale age must be positive")
	}
	before := time.Now().Add(-age)
	var (
		out    []PurchaseOrder
		cursor staleCursor
	)
	for {
		page, err := s.repo.ListStale(ctx, pendingStatuses, before, cursor, s.cfg.StalePageSize)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
		if len(page) < s.cfg.StalePageSize {
			return out, nil
		}
		last := page[len(page)-1]
		cursor = staleCursor{UpdatedAt: last.UpdatedAt, ID: last.ID}
	}
}

// staleCursor is the keyset position of the last stale order read.
type staleCursor struct {
	UpdatedAt time.Time
	ID        int64
}

type transitionHooks struct {
	before func(ctx context.Context, tx TxRepository, order *PurchaseOrder) error
	after  func(ctx context.Context, tx TxRepository, order *PurchaseOrder) error
}

// transition locks the order, authorizes cmd, runs hooks and the engine in
// one transaction, records the committed moves, then re-reads the settled
// order.
func (s *Service) transition(ctx context.Context, actor shared.Actor, orderID int64, cmd workflow.Command, hooks transitionHooks) (PurchaseOrder, error) {
	if err := actor.RequireUser(); err != nil {
		return PurchaseOrder{}, err
	}
	cmd.Actor = actor
	var history []workflow.HistoryEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		history = nil
		order, err := s.visibleForUpdate(ctx, tx, actor, orderID)
		if err != nil {
			return err
		}
		items, err := s.repo.ListItems(ctx, order.ID)
		if err != nil {
			return err
		}
		order.Items = items
		if _, err := s.engine.Authorize(order.workflowOrder(), cmd.Action, actor); err != nil {
			return err
		}
		if hooks.before != nil {
			if err := hooks.before(ctx, tx, &order); err != nil {
				return err
			}
		}
		settled, applied, err := s.engine.Apply(ctx, tx, order.workflowOrder(), cmd, stockEffects{stock: s.stock, actor: actor, order: order})
		if err != nil {
			return err
		}
		history = applied
		order.Status = settled.Status
		order.Version = settled.Version
		if hooks.after != nil {
			return hooks.after(ctx, tx, &order)
		}
		return nil
	})
	if err != nil {
		if !shared.Classified(err) || errors.Is(err, shared.ErrBackend) {
			s.logger.Error("order transition", slog.Int64("order_id", orderID), slog.String("action", string(cmd.Action)), slog.Any("error", err))
		}
		return PurchaseOrder{}, err
	}
	s.engine.Record(history)
	return s.load(ctx, orderID)
}

// load reads header and items concurrently. It must not run inside a
// transaction since a pgx.Tx is not safe for concurrent use.
func (s *Service) load(ctx context.Context, orderID int64) (PurchaseOrder, error) {
	var (
		order PurchaseOrder
		items []Item
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		order, err = s.repo.GetOrder(gctx, orderID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.repo.ListItems(gctx, orderID)
		return err
	})
	if err := g.Wait(); err != nil {
		return PurchaseOrder{}, err
	}
	order.Items = items
	return order, nil
}

func (s *Service) visibleForUpdate(ctx context.Context, tx TxRepository, actor shared.Actor, orderID int64) (PurchaseOrder, error) {
	order, err := tx.GetOrderForUpdate(ctx, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if !order.VisibleTo(actor) {
		return PurchaseOrder{}, fmt.Errorf("order %d: %w", orderID, shared.ErrNotFound)
	}
	return order, nil
}

func (s *Service) editableDraft(ctx context.Context, tx TxRepository, actor shared.Actor, orderID int64) (PurchaseOrder, error) {
	order, err := s.visibleForUpdate(ctx, tx, actor, orderID)
	if err != nil {
		return PurchaseOrder{}, err
	}
	if order.Status != workflow.StatusDraft {
		return PurchaseOrder{}, fmt.Errorf("%w: order %d is %s, only drafts can change", shared.ErrConflict, order.ID, order.Status)
	}
	if actor.UserID != order.CreatedBy && !actor.IsManagement() {
		return PurchaseOrder{}, fmt.Errorf("%w: only the creator or management may edit order %d", shared.ErrForbidden, order.ID)
	}
	return order, nil
}

// validateComposition enforces the order type invariants.
func (s *Service) validateComposition(ctx context.Context, o PurchaseOrder) error {
	switch o.OrderType {
	case OrderInternal:
		if o.OrgUnitID == 0 {
			return shared.Validationf("internal order requires an organisational unit")
		}
		if o.SupplierCompanyID != 0 {
			return shared.Validationf("internal order cannot reference a supplier")
		}
	case OrderExternal:
		if o.ProjectID == 0 {
			return shared.Validationf("external order requires a project")
		}
		if o.SupplierCompanyID == 0 {
			return shared.Validationf("external order requires a supplier")
		}
		if o.OrgUnitID != 0 {
			return shared.Validationf("external order cannot reference an organisational unit")
		}
		if err := s.requireApprovedSupplier(ctx, o.SupplierCompanyID); err != nil {
			return err
		}
	default:
		return shared.Validationf("unknown order type %q", o.OrderType)
	}
	return s.validateSiteManager(ctx, o)
}

func (s *Service) requireApprovedSupplier(ctx context.Context, companyID int64) error {
	if s.directory == nil {
		return errors.New("procurement: company directory not configured")
	}
	company, err := s.directory.GetCompany(ctx, companyID)
	if err != nil {
		return err
	}
	if !company.ApprovedSupplier() {
		return shared.Validationf("company %d is not an approved supplier", companyID)
	}
	return nil
}

func (s *Service) validateSiteManager(ctx context.Context, o PurchaseOrder) error {
	if o.SiteManagerID == 0 {
		return nil
	}
	if s.directory == nil {
		return errors.New("procurement: company directory not configured")
	}
	member, err := s.directory.GetMember(ctx, o.SiteManagerID)
	if errors.Is(err, shared.ErrNotFound) {
		return shared.Validationf("site manager %d unknown", o.SiteManagerID)
	}
	if err != nil {
		return err
	}
	if !member.Active || member.CompanyID != o.CompanyID || member.Role != shared.RoleSiteManager {
		return shared.Validationf("user %d is not a site manager of company %d", o.SiteManagerID, o.CompanyID)
	}
	return nil
}

func (s *Service) location(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return s.cfg.DefaultLocation
	}
	return loc
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, order PurchaseOrder, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: order.CompanyID,
		ActorID:   actor.UserID,
		Action:    action,
		Entity:    "purchase_order",
		EntityID:  fmt.Sprintf("%d", order.ID),
		Meta:      meta,
	})
	if err != nil {
		s.logger.Warn("procurement audit", slog.String("action", action), slog.Any("error", err))
	}
}

func requireBuyer(actor shared.Actor) error {
	if err := actor.RequireUser(); err != nil {
		return err
	}
	if actor.Role == shared.RoleSupplier {
		return fmt.Errorf("%w: suppliers cannot manage buyer orders", shared.ErrForbidden)
	}
	return nil
}

// stockEffects binds the workflow's stock hooks to the ledger for one order.
type stockEffects struct {
	stock StockPort
	actor shared.Actor
	order PurchaseOrder
}

func (e stockEffects) CheckStock(ctx context.Context, _ workflow.Order) (bool, error) {
	if e.stock == nil {
		return false, errors.New("procurement: stock ledger not configured")
	}
	availability, err := e.stock.CheckAvailability(ctx, e.order.demand())
	if err != nil {
		return false, err
	}
	return availability.Sufficient(), nil
}

func (e stockEffects) DeductStock(ctx context.Context, _ workflow.Order) error {
	if e.stock == nil {
		return errors.New("procurement: stock ledger not configured")
	}
	_, err := e.stock.FulfillFromStock(ctx, e.actor, e.order.demand())
	return err
}
