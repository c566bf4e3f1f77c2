package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/platform/db"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetStockForUpdate(ctx context.Context, companyID, id int64) (Stock, error)
	// Increment adds qty to the (company, item key, location) record, creating it when absent.
	Increment(ctx context.Context, target Stock, qty decimal.Decimal) (Stock, error)
	// Decrement subtracts qty only while quantity >= qty; otherwise ErrGuardFailed.
	Decrement(ctx context.Context, id int64, qty decimal.Decimal) (Stock, error)
	SetQuantity(ctx context.Context, id int64, qty decimal.Decimal, countedAt time.Time) (Stock, error)
	SetThreshold(ctx context.Context, id int64, threshold decimal.NullDecimal) error
	InsertTransaction(ctx context.Context, entry Transaction) (int64, error)
}

// ErrGuardFailed signals the conditional decrement matched no row. Decrement
// implementations return it instead of driving a quantity negative.
var ErrGuardFailed = errors.New("inventory: decrement guard failed")

// Repository persists the stock ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepository struct {
	tx pgx.Tx
}

const stockColumns = `id, company_id, COALESCE(product_id, 0), item_name, item_key, location, quantity, unit, min_threshold, last_counted_at, created_at, updated_at`

// WithTx executes the callback inside a repeatable-read transaction, joining
// one already carried by ctx.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	err := db.WithTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return shared.Backend(err)
}

// GetStock loads one record scoped to the company.
func (r *Repository) GetStock(ctx context.Context, companyID, id int64) (Stock, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+stockColumns+` FROM internal_stock WHERE company_id=$1 AND id=$2`, companyID, id)
	return scanStock(row, fmt.Sprintf("stock %d", id))
}

// FindStock loads the record for an item key at location.
func (r *Repository) FindStock(ctx context.Context, companyID int64, key ItemKey, location string) (Stock, error) {
	row := db.Conn(ctx, r.pool).QueryRow(ctx, `SELECT `+stockColumns+` FROM internal_stock WHERE company_id=$1 AND item_key=$2 AND location=$3`, companyID, string(key), location)
	return scanStock(row, fmt.Sprintf("stock %s at %s", key, location))
}

// ListStock returns records matching filter ordered by item then location.
func (r *Repository) ListStock(ctx context.Context, filter StockFilter) ([]Stock, error) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.CompanyID > 0 {
		add("company_id=$%d", filter.CompanyID)
	}
	if filter.ProductID > 0 {
		add("product_id=$%d", filter.ProductID)
	}
	if filter.Location != "" {
		add("location=$%d", filter.Location)
	}
	if filter.HasThreshold {
		where = append(where, "min_threshold IS NOT NULL")
	}
	query := `SELECT ` + stockColumns + ` FROM internal_stock`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY item_name ASC, location ASC`
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Backend(err)
	}
	defer rows.Close()
	result := []Stock{}
	for rows.Next() {
		stock, err := scanStock(rows, "")
		if err != nil {
			return nil, err
		}
		result = append(result, stock)
	}
	return result, shared.Backend(rows.Err())
}

// ListTransactions returns ledger rows newest first.
func (r *Repository) ListTransactions(ctx context.Context, filter HistoryFilter) ([]Transaction, error) {
	args := []any{filter.CompanyID}
	where := []string{"t.company_id=$1"}
	add := func(clause string, value any) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}
	if filter.ProductID > 0 {
		add("s.product_id=$%d", filter.ProductID)
	}
	if filter.Location != "" {
		add("s.location=$%d", filter.Location)
	}
	if filter.Type != "" {
		add("t.tx_type=$%d", string(filter.Type))
	}
	if !filter.From.IsZero() {
		add("t.created_at>=$%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("t.created_at<=$%d", filter.To)
	}
	args = append(args, filter.Limit, filter.Offset)
	query := fmt.Sprintf(`SELECT t.id, t.company_id, t.stock_id, t.tx_type, t.quantity, t.unit, COALESCE(t.ref_type, ''), COALESCE(t.ref_id, 0),
COALESCE(t.from_location, ''), COALESCE(t.to_location, ''), t.note, COALESCE(t.actor_id, 0), t.created_at
FROM stock_transactions t JOIN internal_stock s ON s.id = t.stock_id
WHERE %s
ORDER BY t.created_at DESC, t.id DESC
LIMIT $%d OFFSET $%d`, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := db.Conn(ctx, r.pool).Query(ctx, query, args...)
	if err != nil {
		return nil, shared.Backend(err)
	}
	defer rows.Close()
	result := []Transaction{}
	for rows.Next() {
		var t Transaction
		var kind string
		if err := rows.Scan(&t.ID, &t.CompanyID, &t.StockID, &kind, &t.Quantity, &t.Unit, &t.RefType, &t.RefID, &t.FromLocation, &t.ToLocation, &t.Note, &t.ActorID, &t.CreatedAt); err != nil {
			return nil, shared.Backend(err)
		}
		t.Type = TransactionType(kind)
		result = append(result, t)
	}
	return result, shared.Backend(rows.Err())
}

func (r *txRepository) GetStockForUpdate(ctx context.Context, companyID, id int64) (Stock, error) {
	row := r.tx.QueryRow(ctx, `SELECT `+stockColumns+` FROM internal_stock WHERE company_id=$1 AND id=$2 FOR UPDATE`, companyID, id)
	return scanStock(row, fmt.Sprintf("stock %d", id))
}

func (r *txRepository) Increment(ctx context.Context, target Stock, qty decimal.Decimal) (Stock, error) {
	row := r.tx.QueryRow(ctx, `INSERT INTO internal_stock (company_id, product_id, item_name, item_key, location, quantity, unit, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW(),NOW())
ON CONFLICT (company_id, item_key, location) DO UPDATE SET quantity=internal_stock.quantity + EXCLUDED.quantity, updated_at=NOW()
RETURNING `+stockColumns, target.CompanyID, nullInt(target.ProductID), target.ItemName, string(target.ItemKey), target.Location, qty, target.Unit)
	return scanStock(row, "")
}

func (r *txRepository) Decrement(ctx context.Context, id int64, qty decimal.Decimal) (Stock, error) {
	row := r.tx.QueryRow(ctx, `UPDATE internal_stock SET quantity=quantity - $2, updated_at=NOW()
WHERE id=$1 AND quantity >= $2
RETURNING `+stockColumns, id, qty)
	stock, err := scanStock(row, "")
	if errors.Is(err, shared.ErrNotFound) {
		return Stock{}, ErrGuardFailed
	}
	return stock, err
}

func (r *txRepository) SetQuantity(ctx context.Context, id int64, qty decimal.Decimal, countedAt time.Time) (Stock, error) {
	row := r.tx.QueryRow(ctx, `UPDATE internal_stock SET quantity=$2, last_counted_at=$3, updated_at=NOW()
WHERE id=$1
RETURNING `+stockColumns, id, qty, countedAt)
	return scanStock(row, fmt.Sprintf("stock %d", id))
}

func (r *txRepository) SetThreshold(ctx context.Context, id int64, threshold decimal.NullDecimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE internal_stock SET min_threshold=$2, updated_at=NOW() WHERE id=$1`, id, threshold)
	return shared.Backend(err)
}

func (r *txRepository) InsertTransaction(ctx context.Context, entry Transaction) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_transactions (company_id, stock_id, tx_type, quantity, unit, ref_type, ref_id, from_location, to_location, note, actor_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,NOW()) RETURNING id`,
		entry.CompanyID, entry.StockID, string(entry.Type), entry.Quantity, entry.Unit, nullString(entry.RefType), nullInt(entry.RefID),
		nullString(entry.FromLocation), nullString(entry.ToLocation), entry.Note, nullInt(entry.ActorID)).Scan(&id)
	return id, shared.Backend(err)
}

func scanStock(row pgx.Row, what string) (Stock, error) {
	var s Stock
	var key string
	err := row.Scan(&s.ID, &s.CompanyID, &s.ProductID, &s.ItemName, &key, &s.Location, &s.Quantity, &s.Unit, &s.MinThreshold, &s.LastCountedAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		if what == "" {
			what = "stock"
		}
		return Stock{}, fmt.Errorf("%s: %w", what, shared.ErrNotFound)
	}
	if err != nil {
		return Stock{}, shared.Backend(err)
	}
	s.ItemKey = ItemKey(key)
	return s, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
