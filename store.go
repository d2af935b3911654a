package stagedpush

import (
	"context"
	"time"
)

// Claimer hands out locked batches of staged records.
type Claimer interface {
	// Claim opens a transaction and locks up to limit of the oldest staged records,
	// skipping rows already locked by a concurrent claimant. An empty batch is
	// returned, with its transaction open, when nothing is available.
	Claim(ctx context.Context, limit int) (Batch, error)
}

// Batch is a set of records locked by one claim transaction.
type Batch interface {
	// Records returns the claimed records in ascending id order.
	Records() []Record
	// Delete removes the given ids inside the claim transaction and reports the affected row count.
	Delete(ctx context.Context, ids []int64) (int64, error)
	// Commit finalizes the claim transaction.
	Commit() error
	// Rollback releases the locks and restores any deleted rows.
	Rollback() error
}

// PendingCounter provides the current depth of the staging table.
type PendingCounter interface {
	// PendingCount returns the number of staged records.
	PendingCount(ctx context.Context) (int, error)
}

// Stats describes the staging table at a point in time.
type Stats struct {
	Pending int
	// Oldest is the creation time of the oldest staged record, zero when empty.
	Oldest time.Time
}

// OldestAge returns how long the oldest record has been staged.
func (s Stats) OldestAge(now time.Time) time.Duration {
	if s.Pending == 0 || s.Oldest.IsZero() {
		return 0
	}

	return now.Sub(s.Oldest)
}

// StatsProvider reports staging table statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (Stats, error)
}
