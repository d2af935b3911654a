package mysql

import (
	"context"
	"database/sql"
	"errors"

	"github.com/velmie/stagedpush"
)

type batch struct {
	tx      *sql.Tx
	store   *Store
	records []stagedpush.Record
}

// Records returns the records claimed for this batch.
func (b *batch) Records() []stagedpush.Record {
	return b.records
}

// Delete removes the provided records inside the claim transaction.
func (b *batch) Delete(ctx context.Context, ids []int64) (int64, error) {
	return b.store.delete(ctx, b.tx, ids)
}

// Commit finalizes the batch transaction.
func (b *batch) Commit() error {
	return b.tx.Commit()
}

// Rollback releases locks and restores deleted rows.
func (b *batch) Rollback() error {
	err := b.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
