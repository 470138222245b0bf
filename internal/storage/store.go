package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Querier is the subset of pgx satisfied by both *pgxpool.Pool and pgx.Tx,
// so every query method works inside or outside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store exposes all table query methods over a Querier. A pool-backed
// Store autocommits each statement; a tx-backed Store (see InTx) gives the
// per-request transactional envelope the ingestion pipeline requires.
type Store struct {
	q Querier
}

// Store returns a pool-backed Store for single-statement reads.
func (db *DB) Store() *Store {
	return &Store{q: db.pool}
}

// InTx runs fn with a transaction-backed Store. The transaction commits
// when fn returns nil and rolls back otherwise (including ctx cancellation
// from a client disconnect).
func (db *DB) InTx(ctx context.Context, fn func(*Store) error) error {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("storage: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&Store{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("storage: commit tx: %w", err)
	}
	return nil
}
