// Package dbx holds what the repositories share: the DBTX handle accepted
// by every repository, transaction scoping, dialect-aware placeholder
// rewriting and the conflict-retry loop used by metadata writes.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is the subset of database/sql used by the repositories.
// Both *sql.DB and *sql.Tx satisfy this interface.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// WithTx runs fn inside one transaction. A nil return commits; an error or
// a panic rolls back, and the panic is re-raised after the rollback.
func WithTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(ctx context.Context, tx DBTX) error) error {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	return nil
}

// RetryTx is WithTx under Retry: every attempt gets a fresh transaction,
// so a conflicting attempt leaves nothing behind.
//
//	err := dbx.RetryTx(ctx, db, policy, func(ctx context.Context, tx dbx.DBTX) error {
//	    return rm.Nodes(tx).Update(ctx, n)
//	})
func RetryTx(ctx context.Context, db *sql.DB, p RetryPolicy, fn func(ctx context.Context, tx DBTX) error) error {
	return Retry(ctx, p, func(ctx context.Context) error {
		return WithTx(ctx, db, nil, fn)
	})
}
