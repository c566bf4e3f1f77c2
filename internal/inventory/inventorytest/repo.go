// Package inventorytest provides an in-memory stock ledger for tests of
// inventory and of the packages built on top of it.
package inventorytest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/buildflow/internal/inventory"
	"github.com/odyssey-erp/buildflow/internal/shared"
)

// Repo implements inventory.RepositoryPort in memory. WithTx snapshots state
// and restores it when the callback fails; a nested WithTx joins the outer one.
type Repo struct {
	mu     sync.Mutex
	stock  map[int64]inventory.Stock
	txs    []inventory.Transaction
	nextID int64
	clock  time.Time
	depth  int
}

type tx struct {
	repo *Repo
}

// NewRepo returns an empty ledger whose clock starts at 2026-03-01 08:00 UTC
// and advances one minute per posted transaction.
func NewRepo() *Repo {
	return &Repo{stock: make(map[int64]inventory.Stock), clock: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)}
}

// Transactions returns every posted ledger row in posting order.
func (r *Repo) Transactions() []inventory.Transaction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]inventory.Transaction(nil), r.txs...)
}

// Stock returns the record with id, or the zero Stock.
func (r *Repo) Stock(id int64) inventory.Stock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stock[id]
}

// Records returns every record ordered by id.
func (r *Repo) Records() []inventory.Stock {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]inventory.Stock, 0, len(r.stock))
	for _, s := range r.stock {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *Repo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	r.mu.Lock()
	if r.depth > 0 {
		r.mu.Unlock()
		return fn(ctx, &tx{repo: r})
	}
	stock := make(map[int64]inventory.Stock, len(r.stock))
	for k, v := range r.stock {
		stock[k] = v
	}
	txs := append([]inventory.Transaction(nil), r.txs...)
	nextID, clock := r.nextID, r.clock
	r.depth++
	r.mu.Unlock()

	err := fn(ctx, &tx{repo: r})

	r.mu.Lock()
	defer r.mu.Unlock()
	r.depth--
	if err != nil {
		r.stock, r.txs, r.nextID, r.clock = stock, txs, nextID, clock
	}
	return err
}

func (r *Repo) GetStock(ctx context.Context, companyID, id int64) (inventory.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.get(companyID, id)
}

func (r *Repo) get(companyID, id int64) (inventory.Stock, error) {
	s, ok := r.stock[id]
	if !ok || s.CompanyID != companyID {
		return inventory.Stock{}, fmt.Errorf("stock %d: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

func (r *Repo) FindStock(ctx context.Context, companyID int64, key inventory.ItemKey, location string) (inventory.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.find(companyID, key, location)
}

func (r *Repo) find(companyID int64, key inventory.ItemKey, location string) (inventory.Stock, error) {
	for _, s := range r.stock {
		if s.CompanyID == companyID && s.ItemKey == key && s.Location == location {
			return s, nil
		}
	}
	return inventory.Stock{}, shared.ErrNotFound
}

func (r *Repo) ListStock(ctx context.Context, filter inventory.StockFilter) ([]inventory.Stock, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Stock
	for _, s := range r.stock {
		if filter.CompanyID > 0 && s.CompanyID != filter.CompanyID {
			continue
		}
		if filter.ProductID > 0 && s.ProductID != filter.ProductID {
			continue
		}
		if filter.Location != "" && s.Location != filter.Location {
			continue
		}
		if filter.HasThreshold && !s.MinThreshold.Valid {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *Repo) ListTransactions(ctx context.Context, filter inventory.HistoryFilter) ([]inventory.Transaction, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []inventory.Transaction
	for i := len(r.txs) - 1; i >= 0; i-- {
		t := r.txs[i]
		if t.CompanyID != filter.CompanyID {
			continue
		}
		if filter.Type != "" && t.Type != filter.Type {
			continue
		}
		if filter.ProductID > 0 && r.stock[t.StockID].ProductID != filter.ProductID {
			continue
		}
		out = append(out, t)
	}
	if filter.Offset < len(out) {
		out = out[filter.Offset:]
	} else {
		out = nil
	}
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (t *tx) GetStockForUpdate(ctx context.Context, companyID, id int64) (inventory.Stock, error) {
	return t.repo.GetStock(ctx, companyID, id)
}

func (t *tx) Increment(ctx context.Context, target inventory.Stock, qty decimal.Decimal) (inventory.Stock, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, err := r.find(target.CompanyID, target.ItemKey, target.Location); err == nil {
		existing.Quantity = existing.Quantity.Add(qty)
		r.stock[existing.ID] = existing
		return existing, nil
	}
	r.nextID++
	target.ID = r.nextID
	target.Quantity = qty
	target.CreatedAt = r.clock
	r.stock[target.ID] = target
	return target, nil
}

func (t *tx) Decrement(ctx context.Context, id int64, qty decimal.Decimal) (inventory.Stock, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stock[id]
	if s.Quantity.LessThan(qty) {
		return inventory.Stock{}, inventory.ErrGuardFailed
	}
	s.Quantity = s.Quantity.Sub(qty)
	r.stock[id] = s
	return s, nil
}

func (t *tx) SetQuantity(ctx context.Context, id int64, qty decimal.Decimal, countedAt time.Time) (inventory.Stock, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stock[id]
	s.Quantity = qty
	s.LastCountedAt = &countedAt
	r.stock[id] = s
	return s, nil
}

func (t *tx) SetThreshold(ctx context.Context, id int64, threshold decimal.NullDecimal) error {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stock[id]
	s.MinThreshold = threshold
	r.stock[id] = s
	return nil
}

func (t *tx) InsertTransaction(ctx context.Context, entry inventory.Transaction) (int64, error) {
	r := t.repo
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = r.clock.Add(time.Minute)
	entry.ID = int64(len(r.txs) + 1)
	entry.CreatedAt = r.clock
	r.txs = append(r.txs, entry)
	return entry.ID, nil
}
