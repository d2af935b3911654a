package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/velmie/stagedpush"
)

type batch struct {
	// ctx finishes the transaction; it is detached from the claim's cancellation.
	ctx     context.Context
	tx      pgx.Tx
	store   *Store
	records []stagedpush.Record
}

func (b *batch) Records() []stagedpush.Record {
	return b.records
}

func (b *batch) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	tag, err := b.tx.Exec(ctx, b.store.queries.deleteBatch, ids)
	if err != nil {
		return 0, fmt.Errorf("stagedpush postgres: delete failed: %w", err)
	}

	return tag.RowsAffected(), nil
}

func (b *batch) Commit() error {
	return b.tx.Commit(b.ctx)
}

func (b *batch) Rollback() error {
	err := b.tx.Rollback(b.ctx)
	if errors.Is(err, pgx.ErrTxClosed) {
		return nil
	}

	return err
}
