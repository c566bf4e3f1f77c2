package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/observability"
	"github.com/odyssey-erp/buildflow/internal/platform/db"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStock(ctx context.Context, companyID, id int64) (Stock, error)
	FindStock(ctx context.Context, companyID int64, key ItemKey, location string) (Stock, error)
	ListStock(ctx context.Context, filter StockFilter) ([]Stock, error)
	ListTransactions(ctx context.Context, filter HistoryFilter) ([]Transaction, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards client retried postings.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	DefaultLocation string
	HistoryPageSize int
}

// Service coordinates stock ledger operations.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *observability.Domain
	logger      *slog.Logger
	cfg         ServiceConfig
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem IdempotencyPort, metrics *observability.Domain, logger *slog.Logger, cfg ServiceConfig) *Service {
	if cfg.DefaultLocation == "" {
		cfg.DefaultLocation = "main"
	}
	if cfg.HistoryPageSize <= 0 {
		cfg.HistoryPageSize = 50
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, audit: audit, idempotency: idem, metrics: metrics, logger: logger, cfg: cfg}
}

// DefaultLocation is where orders without an explicit location draw stock.
func (s *Service) DefaultLocation() string {
	return s.cfg.DefaultLocation
}

// AddStock increments (creating when absent) the record for the item at location.
func (s *Service) AddStock(ctx context.Context, actor shared.Actor, input AddStockInput) (Stock, error) {
	if err := requireStockClerk(actor); err != nil {
		return Stock{}, err
	}
	if err := positive(input.Quantity); err != nil {
		return Stock{}, err
	}
	name := NormalizeName(input.Name)
	if name == "" {
		return Stock{}, shared.Validationf("item name required")
	}
	var result Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.claim(ctx, input.IdempotencyKey); err != nil {
			return err
		}
		stock, err := s.increment(ctx, tx, actor, Stock{
			CompanyID: actor.CompanyID,
			ProductID: input.ProductID,
			ItemName:  name,
			ItemKey:   KeyFor(input.ProductID, name),
			Location:  s.location(input.Location),
			Unit:      strings.TrimSpace(input.Unit),
		}, input.Quantity, input.RefType, input.RefID, input.Note)
		result = stock
		return err
	})
	if err != nil {
		return Stock{}, err
	}
	s.observe(ctx, TransactionEntry, 1)
	s.recordAudit(ctx, actor, TransactionEntry, result, input.Quantity)
	return result, nil
}

// RemoveStock decrements a record, failing with InsufficientStockError when short.
func (s *Service) RemoveStock(ctx context.Context, actor shared.Actor, input RemoveStockInput) (Stock, error) {
	if err := requireStockClerk(actor); err != nil {
		return Stock{}, err
	}
	if err := positive(input.Quantity); err != nil {
		return Stock{}, err
	}
	var result Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.claim(ctx, input.IdempotencyKey); err != nil {
			return err
		}
		stock, err := tx.GetStockForUpdate(ctx, actor.CompanyID, input.StockID)
		if err != nil {
			return err
		}
		stock, _, err = s.decrement(ctx, tx, actor, stock, input.Quantity, Transaction{
			Type:    TransactionExit,
			RefType: input.RefType,
			RefID:   input.RefID,
			Note:    input.Note,
		})
		result = stock
		return err
	})
	if err != nil {
		return Stock{}, err
	}
	s.observe(ctx, TransactionExit, 1)
	s.recordAudit(ctx, actor, TransactionExit, result, input.Quantity)
	return result, nil
}

// AdjustStock sets the counted quantity and records the absolute difference.
func (s *Service) AdjustStock(ctx context.Context, actor shared.Actor, input AdjustStockInput) (Stock, error) {
	if err := requireStockClerk(actor); err != nil {
		return Stock{}, err
	}
	if input.NewQuantity.IsNegative() {
		return Stock{}, shared.Validationf("quantity must be >= 0")
	}
	if !shared.FitsScale(input.NewQuantity, shared.QuantityScale) {
		return Stock{}, shared.Validationf("quantity allows at most %d decimal places", shared.QuantityScale)
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return Stock{}, shared.Validationf("adjustment reason required")
	}
	var result Stock
	var delta decimal.Decimal
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, actor.CompanyID, input.StockID)
		if err != nil {
			return err
		}
		delta = input.NewQuantity.Sub(stock.Quantity).Abs()
		updated, err := tx.SetQuantity(ctx, stock.ID, input.NewQuantity, time.Now().UTC())
		if err != nil {
			return err
		}
		if _, err := s.append(ctx, tx, actor, updated, Transaction{Type: TransactionAdjustment, Quantity: delta, Note: reason}); err != nil {
			return err
		}
		result = updated
		return nil
	})
	if err != nil {
		return Stock{}, err
	}
	s.observe(ctx, TransactionAdjustment, 1)
	s.recordAudit(ctx, actor, TransactionAdjustment, result, delta)
	return result, nil
}

// TransferStock moves quantity from a record to the same item at another location.
// It returns the updated source and destination records.
func (s *Service) TransferStock(ctx context.Context, actor shared.Actor, input TransferStockInput) (Stock, Stock, error) {
	if err := requireStockClerk(actor); err != nil {
		return Stock{}, Stock{}, err
	}
	if err := positive(input.Quantity); err != nil {
		return Stock{}, Stock{}, err
	}
	to := strings.TrimSpace(input.ToLocation)
	if to == "" {
		return Stock{}, Stock{}, shared.Validationf("destination location required")
	}
	var src, dst Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, actor.CompanyID, input.StockID)
		if err != nil {
			return err
		}
		if stock.Location == to {
			return shared.Validationf("source and destination location must differ")
		}
		src, _, err = s.decrement(ctx, tx, actor, stock, input.Quantity, Transaction{
			Type:         TransactionTransfer,
			FromLocation: stock.Location,
			ToLocation:   to,
			Note:         input.Note,
		})
		if err != nil {
			return err
		}
		dst, err = tx.Increment(ctx, Stock{
			CompanyID: stock.CompanyID,
			ProductID: stock.ProductID,
			ItemName:  stock.ItemName,
			ItemKey:   stock.ItemKey,
			Location:  to,
			Unit:      stock.Unit,
		}, input.Quantity)
		return err
	})
	if err != nil {
		return Stock{}, Stock{}, err
	}
	s.observe(ctx, TransactionTransfer, 1)
	s.recordAudit(ctx, actor, TransactionTransfer, src, input.Quantity)
	return src, dst, nil
}

// SetMinThreshold updates or clears the low stock threshold.
func (s *Service) SetMinThreshold(ctx context.Context, actor shared.Actor, stockID int64, threshold decimal.NullDecimal) (Stock, error) {
	if err := requireStockClerk(actor); err != nil {
		return Stock{}, err
	}
	if threshold.Valid && threshold.Decimal.IsNegative() {
		return Stock{}, shared.Validationf("threshold must be >= 0")
	}
	if threshold.Valid && !shared.FitsScale(threshold.Decimal, shared.QuantityScale) {
		return Stock{}, shared.Validationf("threshold allows at most %d decimal places", shared.QuantityScale)
	}
	var result Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		stock, err := tx.GetStockForUpdate(ctx, actor.CompanyID, stockID)
		if err != nil {
			return err
		}
		if err := tx.SetThreshold(ctx, stock.ID, threshold); err != nil {
			return err
		}
		stock.MinThreshold = threshold
		result = stock
		return nil
	})
	return result, err
}

// GetStock returns one record of the actor's company.
func (s *Service) GetStock(ctx context.Context, actor shared.Actor, id int64) (Stock, error) {
	if err := actor.RequireUser(); err != nil {
		return Stock{}, err
	}
	return s.repo.GetStock(ctx, actor.CompanyID, id)
}

// GetStockByProduct lists every location holding the product.
func (s *Service) GetStockByProduct(ctx context.Context, actor shared.Actor, productID int64) ([]Stock, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	if productID <= 0 {
		return nil, shared.Validationf("product id required")
	}
	return s.repo.ListStock(ctx, StockFilter{CompanyID: actor.CompanyID, ProductID: productID})
}

// GetStockByLocation lists every record at location.
func (s *Service) GetStockByLocation(ctx context.Context, actor shared.Actor, location string) ([]Stock, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	return s.repo.ListStock(ctx, StockFilter{CompanyID: actor.CompanyID, Location: s.location(location)})
}

// GetLowStockItems lists records at or under their threshold, most urgent first.
func (s *Service) GetLowStockItems(ctx context.Context, actor shared.Actor) ([]Stock, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	return s.lowStock(ctx, actor.CompanyID)
}

// ScanLowStock runs the low stock query across every company.
func (s *Service) ScanLowStock(ctx context.Context) ([]Stock, error) {
	return s.lowStock(ctx, 0)
}

func (s *Service) lowStock(ctx context.Context, companyID int64) ([]Stock, error) {
	records, err := s.repo.ListStock(ctx, StockFilter{CompanyID: companyID, HasThreshold: true})
	if err != nil {
		return nil, err
	}
	low := make([]Stock, 0, len(records))
	for _, r := range records {
		if r.Low() {
			low = append(low, r)
		}
	}
	sort.SliceStable(low, func(i, j int) bool {
		ui, uj := low[i].urgency(), low[j].urgency()
		if !ui.Equal(uj) {
			return ui.LessThan(uj)
		}
		return low[i].ItemName < low[j].ItemName
	})
	return low, nil
}

// GetStockHistory returns ledger rows most recent first, one bounded page at a time.
func (s *Service) GetStockHistory(ctx context.Context, actor shared.Actor, filter HistoryFilter) ([]Transaction, error) {
	if err := actor.RequireUser(); err != nil {
		return nil, err
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, shared.Validationf("unknown transaction type %q", filter.Type)
	}
	if !filter.From.IsZero() && !filter.To.IsZero() && filter.To.Before(filter.From) {
		return nil, shared.Validationf("date range end before start")
	}
	filter.CompanyID = actor.CompanyID
	if filter.Limit <= 0 {
		filter.Limit = s.cfg.HistoryPageSize
	}
	if filter.Limit > shared.MaxPerPage {
		filter.Limit = shared.MaxPerPage
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}
	return s.repo.ListTransactions(ctx, filter)
}

// CheckAvailability reports, without mutating, whether stock covers the demand.
// Lines sharing a stock record draw down the same available quantity. A line
// whose unit differs from the record's counts as unmatched.
func (s *Service) CheckAvailability(ctx context.Context, demand OrderDemand) (Availability, error) {
	location := s.location(demand.Location)
	remaining := map[int64]decimal.Decimal{}
	result := Availability{Lines: make([]LineAvailability, 0, len(demand.Lines))}
	for _, line := range demand.Lines {
		verdict := LineAvailability{Line: line, Requested: line.Quantity}
		stock, err := s.match(ctx, s.repo.FindStock, demand.CompanyID, location, line)
		switch {
		case errors.Is(err, shared.ErrNotFound):
		case err != nil:
			return Availability{}, err
		case !sameUnit(line.Unit, stock.Unit):
		default:
			left, seen := remaining[stock.ID]
			if !seen {
				left = stock.Quantity
			}
			verdict.StockID = stock.ID
			verdict.Available = left
			remaining[stock.ID] = left.Sub(line.Quantity)
		}
		result.Lines = append(result.Lines, verdict)
	}
	return result, nil
}

// FulfillFromStock deducts every demand line as one all-or-nothing unit.
// Availability of all lines is validated before the first deduction.
func (s *Service) FulfillFromStock(ctx context.Context, actor shared.Actor, demand OrderDemand) ([]Transaction, error) {
	if len(demand.Lines) == 0 {
		return nil, shared.Validationf("order %d has no items", demand.OrderID)
	}
	location := s.location(demand.Location)
	var txs []Transaction
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		txs = nil
		wanted := map[int64]decimal.Decimal{}
		labels := map[int64]string{}
		for _, line := range demand.Lines {
			if err := positive(line.Quantity); err != nil {
				return fmt.Errorf("%s: %w", describe(line), err)
			}
			stock, err := s.match(ctx, s.repo.FindStock, demand.CompanyID, location, line)
			if err != nil {
				return fmt.Errorf("order %d: %s at %s: %w", demand.OrderID, describe(line), location, err)
			}
			if !sameUnit(line.Unit, stock.Unit) {
				return shared.Validationf("order %d: %s is counted in %q, stock record %d in %q", demand.OrderID, describe(line), line.Unit, stock.ID, stock.Unit)
			}
			wanted[stock.ID] = wanted[stock.ID].Add(line.Quantity)
			labels[stock.ID] = describe(line)
		}

		ids := make([]int64, 0, len(wanted))
		for id := range wanted {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

		locked := make(map[int64]Stock, len(ids))
		for _, id := range ids {
			stock, err := tx.GetStockForUpdate(ctx, demand.CompanyID, id)
			if err != nil {
				return err
			}
			if stock.Quantity.LessThan(wanted[id]) {
				return fmt.Errorf("order %d: %w", demand.OrderID, &shared.InsufficientStockError{
					StockID:   id,
					Item:      labels[id],
					Location:  stock.Location,
					Requested: wanted[id],
					Available: stock.Quantity,
				})
			}
			locked[id] = stock
		}

		for _, id := range ids {
			entry := Transaction{
				Type:    TransactionExit,
				RefType: RefPurchaseOrder,
				RefID:   demand.OrderID,
				Note:    fmt.Sprintf("Fulfilment %s", demand.OrderNumber),
			}
			_, posted, err := s.decrement(ctx, tx, actor, locked[id], wanted[id], entry)
			if err != nil {
				return err
			}
			txs = append(txs, posted)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(ctx, TransactionExit, len(txs))
	s.logger.Info("order fulfilled from stock",
		slog.Int64("order_id", demand.OrderID),
		slog.Int("records", len(txs)),
	)
	return txs, nil
}

// ReceiveOrder books delivered order lines into stock as entry transactions.
func (s *Service) ReceiveOrder(ctx context.Context, actor shared.Actor, demand OrderDemand) ([]Stock, error) {
	location := s.location(demand.Location)
	var received []Stock
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		received = nil
		for _, line := range demand.Lines {
			if err := positive(line.Quantity); err != nil {
				return fmt.Errorf("%s: %w", describe(line), err)
			}
			name := NormalizeName(line.Name)
			stock, err := s.increment(ctx, tx, actor, Stock{
				CompanyID: demand.CompanyID,
				ProductID: line.ProductID,
				ItemName:  name,
				ItemKey:   KeyFor(line.ProductID, name),
				Location:  location,
				Unit:      line.Unit,
			}, line.Quantity, RefPurchaseOrder, demand.OrderID, fmt.Sprintf("Receipt %s", demand.OrderNumber))
			if err != nil {
				return err
			}
			received = append(received, stock)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.observe(ctx, TransactionEntry, len(received))
	return received, nil
}

type finder func(ctx context.Context, companyID int64, key ItemKey, location string) (Stock, error)

// match resolves a demand line: product reference first, then exact name.
func (s *Service) match(ctx context.Context, find finder, companyID int64, location string, line DemandLine) (Stock, error) {
	if line.ProductID > 0 {
		stock, err := find(ctx, companyID, KeyFor(line.ProductID, ""), location)
		if err == nil || !errors.Is(err, shared.ErrNotFound) {
			return stock, err
		}
	}
	name := NormalizeName(line.Name)
	if name == "" {
		return Stock{}, shared.ErrNotFound
	}
	return find(ctx, companyID, KeyFor(0, name), location)
}

func (s *Service) increment(ctx context.Context, tx TxRepository, actor shared.Actor, target Stock, qty decimal.Decimal, refType string, refID int64, note string) (Stock, error) {
	stock, err := tx.Increment(ctx, target, qty)
	if err != nil {
		return Stock{}, err
	}
	if !sameUnit(target.Unit, stock.Unit) {
		return Stock{}, shared.Validationf("unit %q does not match stock unit %q for %s", target.Unit, stock.Unit, stock.ItemName)
	}
	_, err = s.append(ctx, tx, actor, stock, Transaction{
		Type:       TransactionEntry,
		Quantity:   qty,
		RefType:    refType,
		RefID:      refID,
		ToLocation: stock.Location,
		Note:       note,
	})
	return stock, err
}

// decrement applies the guarded decrement and appends entry with qty filled in.
func (s *Service) decrement(ctx context.Context, tx TxRepository, actor shared.Actor, stock Stock, qty decimal.Decimal, entry Transaction) (Stock, Transaction, error) {
	short := &shared.InsufficientStockError{
		StockID:   stock.ID,
		Item:      stock.ItemName,
		Location:  stock.Location,
		Requested: qty,
		Available: stock.Quantity,
	}
	if stock.Quantity.LessThan(qty) {
		return Stock{}, Transaction{}, short
	}
	updated, err := tx.Decrement(ctx, stock.ID, qty)
	if errors.Is(err, ErrGuardFailed) {
		return Stock{}, Transaction{}, short
	}
	if err != nil {
		return Stock{}, Transaction{}, err
	}
	entry.Quantity = qty
	if entry.FromLocation == "" {
		entry.FromLocation = stock.Location
	}
	entry, err = s.append(ctx, tx, actor, updated, entry)
	return updated, entry, err
}

func (s *Service) append(ctx context.Context, tx TxRepository, actor shared.Actor, stock Stock, entry Transaction) (Transaction, error) {
	entry.CompanyID = stock.CompanyID
	entry.StockID = stock.ID
	entry.Unit = stock.Unit
	entry.ActorID = actor.UserID
	id, err := tx.InsertTransaction(ctx, entry)
	if err != nil {
		return Transaction{}, err
	}
	entry.ID = id
	return entry, nil
}

// observe counts n committed movements of kind. Inside an enclosing
// transaction the count waits for its commit.
func (s *Service) observe(ctx context.Context, kind TransactionType, n int) {
	if n == 0 {
		return
	}
	db.AfterCommit(ctx, func() {
		for i := 0; i < n; i++ {
			s.metrics.ObserveStockMovement(string(kind))
		}
	})
}

func (s *Service) claim(ctx context.Context, key string) error {
	if key == "" || s.idempotency == nil {
		return nil
	}
	return s.idempotency.CheckAndInsert(ctx, key, "inventory")
}

func (s *Service) location(loc string) string {
	loc = strings.TrimSpace(loc)
	if loc == "" {
		return s.cfg.DefaultLocation
	}
	return loc
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, kind TransactionType, stock Stock, qty decimal.Decimal) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		CompanyID: stock.CompanyID,
		ActorID:   actor.UserID,
		Action:    fmt.Sprintf("inventory:%s", kind),
		Entity:    "internal_stock",
		EntityID:  fmt.Sprintf("%d", stock.ID),
		Meta: map[string]any{
			"item":     stock.ItemName,
			"location": stock.Location,
			"qty":      qty.String(),
			"balance":  stock.Quantity.String(),
		},
	})
	if err != nil {
		s.logger.Warn("inventory audit", slog.Any("error", err))
	}
}

func requireStockClerk(actor shared.Actor) error {
	if err := actor.RequireUser(); err != nil {
		return err
	}
	if actor.Role == shared.RoleSupplier {
		return fmt.Errorf("%w: suppliers cannot post to internal stock", shared.ErrForbidden)
	}
	return nil
}

func positive(qty decimal.Decimal) error {
	if !qty.IsPositive() {
		return shared.Validationf("quantity must be greater than zero")
	}
	if !shared.FitsScale(qty, shared.QuantityScale) {
		return shared.Validationf("quantity allows at most %d decimal places", shared.QuantityScale)
	}
	return nil
}

// sameUnit compares units case-insensitively. A blank unit matches any.
func sameUnit(a, b string) bool {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	return a == "" || b == "" || strings.EqualFold(a, b)
}
