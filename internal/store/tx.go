package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Querier is the subset of database/sql shared by *sql.DB and *sql.Tx.
// Repositories accept it so the same queries run inside or outside a transaction.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Tx is one atomic unit of work against Postgres. External side effects
// (storage, recognition engine, queue) must run before Begin or after Commit;
// they cannot be rolled back here.
type Tx struct {
	tx   *sql.Tx
	done bool
}

// Begin opens a transaction.
func (d *DB) Begin(ctx context.Context) (*Tx, error) {
	tx, err := d.Client.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Querier exposes the transaction for repository calls.
func (t *Tx) Querier() Querier {
	return t.tx
}

// Commit flushes and commits. On failure the transaction is rolled back and
// the commit error returned.
func (t *Tx) Commit() error {
	if t.done {
		return errors.New("tx already finished")
	}
	t.done = true
	if err := t.tx.Commit(); err != nil {
		_ = t.tx.Rollback()
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Rollback aborts the transaction. Calling it after Commit or a previous
// Rollback is a no-op, so it is safe to defer unconditionally.
func (t *Tx) Rollback() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

// WithinTx runs fn inside one transaction, committing on nil error and
// rolling back otherwise.
func (d *DB) WithinTx(ctx context.Context, fn func(q Querier) error) error {
	tx, err := d.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx.Querier()); err != nil {
		return err
	}
	return tx.Commit()
}
