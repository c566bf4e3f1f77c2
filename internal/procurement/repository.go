package procurement

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/buildflow/internal/platform/db"
	"github.com/odyssey-erp/buildflow/internal/shared"
	"github.com/odyssey-erp/buildflow/internal/workflow"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations. Every write that follows a
// read is conditional on the version read and fails with shared.ErrConflict
// when the row moved on.
type TxRepository interface {
	workflow.Store
	GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error)
	InsertOrder(ctx context.Context, order PurchaseOrder) (PurchaseOrder, error)
	InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error)
	DeleteItems(ctx context.Context, orderID int64) error
	UpdateDraft(ctx context.Context, order PurchaseOrder) error
	DeleteDraft(ctx context.Context, id, version int64) error
	SetSupplier(ctx context.Context, id, supplierCompanyID, version int64) error
	SetSiteManager(ctx context.Context, id, userID, version int64) error
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx wraps callback in repeatable-read transaction, joining one already
// carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("procurement repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	return shared.Backend(err)
}

const orderColumns = `id, number, order_type, company_id, created_by, COALESCE(site_manager_id, 0), COALESCE(supplier_company_id, 0),
COALESCE(project_id, 0), COALESCE(org_unit_id, 0), location, status, notes, COALESCE(rejection_reason, ''), COALESCE(cancellation_reason, ''),
version, created_at, updated_at, submitted_at, site_approved_at, management_approved_at, supplier_submitted_at, supplier_accepted_at,
delivered_at, completed_at, cancelled_at`

func scanOrder(row pgx.Row, id int64) (PurchaseOrder, error) {
	var o PurchaseOrder
	var orderType, status string
	err := row.Scan(&o.ID, &o.Number, &orderType, &o.CompanyID, &o.CreatedBy, &o.SiteManagerID, &o.SupplierCompanyID,
		&o.ProjectID, &o.OrgUnitID, &o.Location, &status, &o.Notes, &o.RejectionReason, &o.CancellationReason,
		&o.Version, &o.CreatedAt, &o.UpdatedAt, &o.SubmittedAt, &o.SiteApprovedAt, &o.ManagementApprovedAt, &o.SupplierSubmittedAt, &o.SupplierAcceptedAt,
		&o.DeliveredAt, &o.CompletedAt, &o.CancelledAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return PurchaseOrder{}, fmt.Errorf("order %d: %w", id, shared.ErrNotFound)
	}
	if err != nil {
		return PurchaseOrder{}, shared.Backend(err)
	}
	o.OrderType = OrderType(orderType)
	o.Status = workflow.Status(status)
	return o, nil
}

// GetOrder returns the order header.
func (r *Repository) GetOrder(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1`, id)
	return scanOrder(row, id)
}

// ListItems returns order lines in entry order.
func (r *Repository) ListItems(ctx context.Context, orderID int64) ([]Item, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, order_id, COALESCE(product_id, 0), name, description, quantity, unit, unit_price, total_price
FROM purchase_order_items WHERE order_id=$1 ORDER BY line_no ASC, id ASC`, orderID)
	if err != nil {
		return nil, shared.Backend(err)
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.Name, &item.Description, &item.Quantity, &item.Unit, &item.UnitPrice, &item.TotalPrice); err != nil {
			return nil, shared.Backend(err)
		}
		items = append(items, item)
	}
	return items, shared.Backend(rows.Err())
}

// ListOrders returns one page of headers and the total match count.
func (r *Repository) ListOrders(ctx context.Context, q listQuery) ([]PurchaseOrder, int, error) {
	where := " WHERE 1=1"
	args := []any{}
	argNum := 1
	add := func(clause string, value any) {
		where += " AND " + strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(argNum))
		args = append(args, value)
		argNum++
	}
	if q.SupplierCompanyID > 0 {
		add("supplier_company_id = ?", q.SupplierCompanyID)
		where += " AND supplier_submitted_at IS NOT NULL"
	} else {
		add("company_id = ?", q.CompanyID)
	}
	if q.Status != "" {
		add("status = ?", string(q.Status))
	}
	if q.OrderType != "" {
		add("order_type = ?", string(q.OrderType))
	}
	if q.ProjectID > 0 {
		add("project_id = ?", q.ProjectID)
	}
	if q.Search != "" {
		add("number ILIKE ?", "%"+q.Search+"%")
	}

	var total int
	if err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT COUNT(*) FROM purchase_orders`+where, args...).Scan(&total); err != nil {
		return nil, 0, shared.Backend(err)
	}

	dataSQL := `SELECT ` + orderColumns + ` FROM purchase_orders` + where +
		` ORDER BY ` + sortOrder(q.SortBy, q.SortDir) +
		` LIMIT $` + strconv.Itoa(argNum) + ` OFFSET $` + strconv.Itoa(argNum+1)
	args = append(args, q.Limit, q.Offset)
	rows, err := db.Conn(ctx, r.pool).Query(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, shared.Backend(err)
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		order, err := scanOrder(rows, 0)
		if err != nil {
			return nil, 0, err
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, shared.Backend(err)
	}
	return orders, total, nil
}

// ListHistory returns workflow rows most recent first.
func (r *Repository) ListHistory(ctx context.Context, orderID int64) ([]workflow.HistoryEntry, error) {
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT id, order_id, from_status, to_status, action, COALESCE(actor_id, 0), note, created_at
FROM workflow_history WHERE order_id=$1 ORDER BY created_at DESC, id DESC`, orderID)
	if err != nil {
		return nil, shared.Backend(err)
	}
	defer rows.Close()
	entries := []workflow.HistoryEntry{}
	for rows.Next() {
		var e workflow.HistoryEntry
		var from, to, action string
		if err := rows.Scan(&e.ID, &e.OrderID, &from, &to, &action, &e.ActorID, &e.Note, &e.At); err != nil {
			return nil, shared.Backend(err)
		}
		e.From, e.To, e.Action = workflow.Status(from), workflow.Status(to), workflow.Action(action)
		entries = append(entries, e)
	}
	return entries, shared.Backend(rows.Err())
}

// LastNumber returns the newest sequential number starting with prefix.
// Timestamp fallback numbers (prefix followed by "T") are skipped.
func (r *Repository) LastNumber(ctx context.Context, companyID int64, prefix string) (string, error) {
	var number string
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT number FROM purchase_orders
WHERE company_id=$1 AND number LIKE $2 AND number NOT LIKE $3
ORDER BY created_at DESC, id DESC LIMIT 1`, companyID, prefix+"%", prefix+"T%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", shared.Backend(err)
	}
	return number, nil
}

// ListStale returns up to limit orders in statuses untouched since before,
// ordered by (updated_at, id) and strictly after the after cursor.
func (r *Repository) ListStale(ctx context.Context, statuses []workflow.Status, before time.Time, after staleCursor, limit int) ([]PurchaseOrder, error) {
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	rows, err := db.Conn(ctx, r.pool).Query(ctx, `SELECT `+orderColumns+` FROM purchase_orders
WHERE status = ANY($1) AND updated_at < $2 AND (updated_at, id) > ($3, $4)
ORDER BY updated_at ASC, id ASC LIMIT $5`, names, before, after.UpdatedAt, after.ID, limit)
	if err != nil {
		return nil, shared.Backend(err)
	}
	defer rows.Close()
	orders := []PurchaseOrder{}
	for rows.Next() {
		order, err := scanOrder(rows, 0)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, shared.Backend(rows.Err())
}

func (t *txRepo) GetOrderForUpdate(ctx context.Context, id int64) (PurchaseOrder, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM purchase_orders WHERE id=$1 FOR UPDATE`, id)
	return scanOrder(row, id)
}

func (t *txRepo) InsertOrder(ctx context.Context, o PurchaseOrder) (PurchaseOrder, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO purchase_orders (number, order_type, company_id, created_by, site_manager_id, supplier_company_id,
project_id, org_unit_id, location, status, notes, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,1,NOW(),NOW())
RETURNING id, version, created_at, updated_at`,
		o.Number, string(o.OrderType), o.CompanyID, o.CreatedBy, nullInt(o.SiteManagerID), nullInt(o.SupplierCompanyID),
		nullInt(o.ProjectID), nullInt(o.OrgUnitID), o.Location, string(o.Status), o.Notes).
		Scan(&o.ID, &o.Version, &o.CreatedAt, &o.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return PurchaseOrder{}, fmt.Errorf("%w: order number %s already issued", shared.ErrConflict, o.Number)
	}
	if err != nil {
		return PurchaseOrder{}, shared.Backend(err)
	}
	return o, nil
}

func (t *txRepo) InsertItems(ctx context.Context, orderID int64, items []Item) ([]Item, error) {
	out := make([]Item, 0, len(items))
	for i, item := range items {
		item.OrderID = orderID
		err := t.tx.QueryRow(ctx, `INSERT INTO purchase_order_items (order_id, line_no, product_id, name, description, quantity, unit, unit_price, total_price)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
			orderID, i+1, nullInt(item.ProductID), item.Name, item.Description, item.Quantity, item.Unit, item.UnitPrice, item.TotalPrice).Scan(&item.ID)
		if err != nil {
			return nil, shared.Backend(err)
		}
		out = append(out, item)
	}
	return out, nil
}

func (t *txRepo) DeleteItems(ctx context.Context, orderID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM purchase_order_items WHERE order_id=$1`, orderID)
	return shared.Backend(err)
}

func (t *txRepo) UpdateDraft(ctx context.Context, o PurchaseOrder) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET order_type=$3, site_manager_id=$4, supplier_company_id=$5, project_id=$6, org_unit_id=$7,
location=$8, notes=$9, version=version+1, updated_at=NOW()
WHERE id=$1 AND version=$2 AND status='draft'`,
		o.ID, o.Version, string(o.OrderType), nullInt(o.SiteManagerID), nullInt(o.SupplierCompanyID), nullInt(o.ProjectID), nullInt(o.OrgUnitID),
		o.Location, o.Notes)
	return affectedOne(tag.RowsAffected(), err, o.ID)
}

func (t *txRepo) DeleteDraft(ctx context.Context, id, version int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM purchase_orders WHERE id=$1 AND version=$2 AND status='draft'`, id, version)
	return affectedOne(tag.RowsAffected(), err, id)
}

func (t *txRepo) SetSupplier(ctx context.Context, id, supplierCompanyID, version int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET supplier_company_id=$3, version=version+1, updated_at=NOW() WHERE id=$1 AND version=$2`, id, version, supplierCompanyID)
	return affectedOne(tag.RowsAffected(), err, id)
}

func (t *txRepo) SetSiteManager(ctx context.Context, id, userID, version int64) error {
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET site_manager_id=$3, version=version+1, updated_at=NOW() WHERE id=$1 AND version=$2`, id, version, nullInt(userID))
	return affectedOne(tag.RowsAffected(), err, id)
}

var milestoneColumns = map[workflow.Milestone]string{
	workflow.MilestoneSubmitted:           "submitted_at",
	workflow.MilestoneSiteApproved:        "site_approved_at",
	workflow.MilestoneManagementApproved:  "management_approved_at",
	workflow.MilestoneSubmittedToSupplier: "supplier_submitted_at",
	workflow.MilestoneAcceptedBySupplier:  "supplier_accepted_at",
	workflow.MilestoneDelivered:           "delivered_at",
	workflow.MilestoneCompleted:           "completed_at",
	workflow.MilestoneCancelled:           "cancelled_at",
}

func (t *txRepo) UpdateStatus(ctx context.Context, c workflow.Change) error {
	sets := []string{"status=$4", "version=version+1", "updated_at=$5"}
	args := []any{c.OrderID, string(c.From), c.ExpectedVersion, string(c.To), c.At}
	if c.Milestone != workflow.MilestoneNone {
		column, ok := milestoneColumns[c.Milestone]
		if !ok {
			return fmt.Errorf("procurement: unknown milestone %q", c.Milestone)
		}
		sets = append(sets, column+"=$5")
	}
	if c.RejectionReason != nil {
		args = append(args, *c.RejectionReason)
		sets = append(sets, "rejection_reason=$"+strconv.Itoa(len(args)))
	}
	if c.CancellationReason != nil {
		args = append(args, *c.CancellationReason)
		sets = append(sets, "cancellation_reason=$"+strconv.Itoa(len(args)))
	}
	tag, err := t.tx.Exec(ctx, `UPDATE purchase_orders SET `+strings.Join(sets, ", ")+` WHERE id=$1 AND status=$2 AND version=$3`, args...)
	return affectedOne(tag.RowsAffected(), err, c.OrderID)
}

func (t *txRepo) AppendHistory(ctx context.Context, e workflow.HistoryEntry) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `INSERT INTO workflow_history (order_id, from_status, to_status, action, actor_id, note, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7) RETURNING id`,
		e.OrderID, string(e.From), string(e.To), string(e.Action), nullInt(e.ActorID), e.Note, e.At).Scan(&id)
	return id, shared.Backend(err)
}

func affectedOne(rows int64, err error, id int64) error {
	if err != nil {
		return shared.Backend(err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: order %d changed concurrently", shared.ErrConflict, id)
	}
	return nil
}

// sortOrder returns a safe ORDER BY clause for order listings.
func sortOrder(sortBy, sortDir string) string {
	dir := "DESC"
	if sortDir == "asc" {
		dir = "ASC"
	}
	switch sortBy {
	case "number":
		return "number " + dir + ", id " + dir
	case "status":
		return "status " + dir + ", id " + dir
	case "updated_at":
		return "updated_at " + dir + ", id " + dir
	default:
		return "created_at " + dir + ", id " + dir
	}
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
