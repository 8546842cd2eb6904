package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Gobusters/ectologger"
	"github.com/jmoiron/sqlx"
)

type TxContextKey string

const txKey = TxContextKey("tx-context-key")

type Tx interface {
	Querier
	IsOpen() bool
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Transaction wraps sqlx.Tx. Only the caller that began the transaction
// may commit or roll it back; joined callers get no-op Commit/Rollback.
type Transaction struct {
	*sqlx.Tx
	logger   ectologger.Logger
	isClosed bool
	joined   bool
	root     *Transaction
}

func NewTx(tx *sqlx.Tx, logger ectologger.Logger) Tx {
	return &Transaction{
		Tx:     tx,
		logger: logger,
	}
}

func txFromContext(ctx context.Context) *Transaction {
	tx, ok := ctx.Value(txKey).(*Transaction)
	if !ok || tx == nil || !tx.IsOpen() {
		return nil
	}
	return tx
}

func GetTx(ctx context.Context, logger ectologger.Logger, db DB, opts *sql.TxOptions) (context.Context, Tx, error) {
	if open := txFromContext(ctx); open != nil {
		return ctx, &Transaction{Tx: open.Tx, logger: logger, joined: true, root: open}, nil
	}

	tx, err := db.BeginTxx(ctx, opts)
	if err != nil {
		logger.WithContext(ctx).WithError(err).Errorf("error while beginning transaction")
		return ctx, nil, fmt.Errorf("error while beginning transaction")
	}

	newTx := &Transaction{Tx: tx, logger: logger}
	ctx = context.WithValue(ctx, txKey, newTx)
	return ctx, newTx, nil
}

func (t *Transaction) IsOpen() bool {
	if t.joined {
		return t.root.IsOpen()
	}
	return !t.isClosed
}

func (t *Transaction) Rollback(ctx context.Context) error {
	if t.joined || t.isClosed {
		return nil
	}

	err := t.Tx.Rollback()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while rolling back transaction")
		return fmt.Errorf("error while rolling back transaction")
	}

	return nil
}

func (t *Transaction) Commit(ctx context.Context) error {
	if t.joined || t.isClosed {
		return nil
	}

	err := t.Tx.Commit()
	t.isClosed = true
	if err != nil {
		t.logger.WithContext(ctx).WithError(err).Errorf("error while committing transaction")
		return fmt.Errorf("error while committing transaction")
	}

	return nil
}

// WithTx runs fn inside a transaction, committing on success.
func WithTx(ctx context.Context, db DB, fn func(ctx context.Context) error) error {
	ctxTx, tx, err := db.GetTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctxTx)

	if err := fn(ctxTx); err != nil {
		return err
	}

	return tx.Commit(ctxTx)
}
