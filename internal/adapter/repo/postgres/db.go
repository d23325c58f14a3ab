package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/louisb0/talos/internal/domain"
)

// PgxPool is the minimal pool surface the repositories depend on, so tests
// can substitute a stub instead of a live connection (mirrors the teacher's
// testhelpers_test.go poolStub pattern).
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

var _ PgxPool = (*pgxpool.Pool)(nil)

// ContextDB wraps a pool for read-only queries and simple single-statement
// writes that auto-commit immediately (spec.md §4.1.4).
type ContextDB struct {
	pool PgxPool
}

// NewContextDB constructs a ContextDB over pool. pool must be non-nil;
// using a nil pool raises ErrDBNotInit on first operation rather than on
// construction, matching the "validate before any operation" contract.
func NewContextDB(pool PgxPool) *ContextDB { return &ContextDB{pool: pool} }

// Execute runs a single statement and returns the number of rows affected.
func (c *ContextDB) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	if c == nil || c.pool == nil {
		return 0, domain.ErrDBNotInit
	}
	tag, err := c.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("op=contextdb.execute: %w: %v", domain.ErrDBOperational, err)
	}
	return tag.RowsAffected(), nil
}

// QueryRow runs a single-row query.
func (c *ContextDB) QueryRow(ctx context.Context, query string, args ...any) (pgx.Row, error) {
	if c == nil || c.pool == nil {
		return nil, domain.ErrDBNotInit
	}
	return c.pool.QueryRow(ctx, query, args...), nil
}

// Query runs a multi-row query.
func (c *ContextDB) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	if c == nil || c.pool == nil {
		return nil, domain.ErrDBNotInit
	}
	rows, err := c.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("op=contextdb.query: %w: %v", domain.ErrDBOperational, err)
	}
	return rows, nil
}

// TxDB is a transactional scope: BEGIN on entry, COMMIT on normal exit,
// ROLLBACK on any error, per spec.md §4.1.4/§9. Callers use WithTx so the
// commit/rollback decision can never be forgotten.
type TxDB struct {
	pool PgxPool
}

// NewTxDB constructs a TxDB over pool.
func NewTxDB(pool PgxPool) *TxDB { return &TxDB{pool: pool} }

// Tx is the handle passed to a WithTx callback.
type Tx struct {
	pgx.Tx
}

// WithTx begins a transaction, runs fn, and commits on success or rolls
// back on any error (including a panic, which is re-raised after
// rollback). This is the scope-guard shape spec.md §4.1.4/§9 calls for.
func (t *TxDB) WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) (err error) {
	if t == nil || t.pool == nil {
		return domain.ErrDBNotInit
	}
	pgxTx, err := t.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("op=txdb.begin: %w: %v", domain.ErrDBOperational, err)
	}

	committed := false
	defer func() {
		if r := recover(); r != nil {
			_ = pgxTx.Rollback(ctx)
			panic(r)
		}
		if !committed {
			_ = pgxTx.Rollback(ctx)
		}
	}()

	if err := fn(ctx, Tx{pgxTx}); err != nil {
		return err
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("op=txdb.commit: %w: %v", domain.ErrDBOperational, err)
	}
	committed = true
	return nil
}
