package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	serializationFailure = "40001"
	deadlockDetected     = "40P01"
)

// ErrSerialization marks a transaction that kept losing to concurrent writers
// after every retry.
var ErrSerialization = errors.New("platform/db: serialization failure")

// TxAttempts bounds how many times WithTx runs fn when postgres aborts the
// transaction with a serialization failure or a deadlock.
var TxAttempts = 3

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

type hooksContextKey struct{}

// commitHooks collects callbacks to run once the outermost transaction commits.
type commitHooks struct {
	fns []func()
}

func (h *commitHooks) run() {
	for _, fn := range h.fns {
		fn()
	}
}

func withCommitHooks(ctx context.Context) (context.Context, *commitHooks) {
	hooks := &commitHooks{}
	return context.WithValue(ctx, hooksContextKey{}, hooks), hooks
}

// AfterCommit defers fn until the transaction carried by ctx commits. It is
// dropped when that transaction rolls back. Without a transaction in ctx, fn
// runs immediately.
func AfterCommit(ctx context.Context, fn func()) {
	if hooks, ok := ctx.Value(hooksContextKey{}).(*commitHooks); ok {
		hooks.fns = append(hooks.fns, fn)
		return
	}
	fn()
}

// TxFromContext returns the transaction bound to ctx, if any.
func TxFromContext(ctx context.Context) (pgx.Tx, bool) {
	tx, ok := ctx.Value(txContextKey{}).(pgx.Tx)
	return tx, ok
}

// Conn returns the transaction bound to ctx, falling back to the pool.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if tx, ok := TxFromContext(ctx); ok {
		return tx
	}
	return pool
}

// IsSerializationFailure reports whether err is a postgres serialization
// failure or deadlock, both of which succeed when the transaction is retried.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == serializationFailure || pgErr.Code == deadlockDetected
}

// WithTx executes fn within a RepeatableRead transaction. When ctx already
// carries a transaction, fn joins it and the outermost caller commits. The
// outermost caller retries fn up to TxAttempts times on serialization
// failures, so fn must only mutate state through the transaction or reset
// what it captures on every run.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	if tx, ok := TxFromContext(ctx); ok {
		return fn(ctx, tx)
	}
	return retrySerializable(ctx, TxAttempts, func() error {
		return runTx(ctx, pool, fn)
	})
}

func runTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context, pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	txCtx, hooks := withCommitHooks(context.WithValue(ctx, txContextKey{}, tx))
	if err := fn(txCtx, tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: commit tx: %w", err)
	}

	hooks.run()
	return nil
}

// retrySerializable runs attempt until it succeeds, fails for another reason,
// or attempts are exhausted. Exhaustion wraps ErrSerialization.
func retrySerializable(ctx context.Context, attempts int, attempt func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i*i) * 5 * time.Millisecond):
			}
		}
		err = attempt()
		if err == nil || !IsSerializationFailure(err) {
			return err
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrSerialization, attempts, err)
}
