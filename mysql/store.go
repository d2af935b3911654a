package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/velmie/stagedpush"
)

// Executor allows staging within an existing transaction.
type Executor interface {
	// ExecContext executes a statement with the provided context.
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Store implements a MySQL-backed staging table using polling + SKIP LOCKED.
type Store struct {
	db      *sql.DB
	cfg     Config
	queries queries
	table   string
}

var _ stagedpush.Claimer = (*Store)(nil)
var _ stagedpush.PendingCounter = (*Store)(nil)
var _ stagedpush.StatsProvider = (*Store)(nil)

// NewStore constructs a MySQL store with validated configuration.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	table, err := sanitizeTableName(cfg.Table)
	if err != nil {
		return nil, err
	}

	return &Store{
		db:      db,
		cfg:     cfg,
		queries: newQueries(table),
		table:   table,
	}, nil
}

// MustNewStore constructs a MySQL store or panics on error.
func MustNewStore(db *sql.DB, opts ...Option) *Store {
	store, err := NewStore(db, opts...)
	if err != nil {
		panic(err)
	}

	return store
}

// Table returns the sanitized staging table name.
func (s *Store) Table() string {
	return s.table
}

// Stage normalizes payload and inserts it using exec, which should be the
// producer's own transaction. The record becomes visible to relays when that
// transaction commits.
func (s *Store) Stage(ctx context.Context, exec Executor, payload stagedpush.Payload) (int64, error) {
	if exec == nil {
		return 0, ErrExecutorRequired
	}

	normalized, err := stagedpush.Normalize(payload, s.cfg.Clock.Now())
	if err != nil {
		return 0, err
	}
	data, err := stagedpush.MarshalPayload(normalized)
	if err != nil {
		return 0, err
	}

	res, err := exec.ExecContext(ctx, s.queries.insert, data)
	if err != nil {
		return 0, fmt.Errorf("stagedpush mysql: insert failed: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("stagedpush mysql: last insert id failed: %w", err)
	}

	return id, nil
}

// Claim locks and returns up to limit of the oldest records using
// READ COMMITTED + SKIP LOCKED. An empty result still returns an open batch.
func (s *Store) Claim(ctx context.Context, limit int) (stagedpush.Batch, error) {
	if limit <= 0 {
		return nil, stagedpush.ErrInvalidBatchSize
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("stagedpush mysql: begin tx failed: %w", err)
	}

	records, err := s.selectBatch(ctx, tx, limit)
	if err != nil {
		rollbackErr := tx.Rollback()

		return nil, errors.Join(err, rollbackErr)
	}

	return &batch{tx: tx, store: s, records: records}, nil
}

func (s *Store) selectBatch(ctx context.Context, tx *sql.Tx, limit int) ([]stagedpush.Record, error) {
	rows, err := tx.QueryContext(ctx, s.queries.selectBatch, limit)
	if err != nil {
		return nil, fmt.Errorf("stagedpush mysql: select failed: %w", err)
	}
	defer rows.Close()

	records := make([]stagedpush.Record, 0, limit)
	for rows.Next() {
		var (
			id        int64
			data      []byte
			createdAt time.Time
		)
		if err := rows.Scan(&id, &data, &createdAt); err != nil {
			return nil, fmt.Errorf("stagedpush mysql: scan failed: %w", err)
		}

		payload, err := stagedpush.UnmarshalPayload(data)
		if err != nil {
			return nil, fmt.Errorf("stagedpush mysql: record %d: %w", id, err)
		}
		records = append(records, stagedpush.Record{ID: id, Payload: payload, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stagedpush mysql: rows failed: %w", err)
	}

	return records, nil
}

func (s *Store) delete(ctx context.Context, tx *sql.Tx, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	res, err := tx.ExecContext(ctx, buildDeleteQuery(s.table, len(ids)), args...)
	if err != nil {
		return 0, fmt.Errorf("stagedpush mysql: delete failed: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stagedpush mysql: rows affected failed: %w", err)
	}

	return affected, nil
}

// PendingCount returns the number of staged rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("stagedpush mysql: pending count failed: %w", err)
	}

	return count, nil
}

// Stats returns the staging depth and the creation time of the oldest row.
func (s *Store) Stats(ctx context.Context) (stagedpush.Stats, error) {
	var (
		count  int
		oldest sql.NullTime
	)
	if err := s.db.QueryRowContext(ctx, s.queries.stats).Scan(&count, &oldest); err != nil {
		return stagedpush.Stats{}, fmt.Errorf("stagedpush mysql: stats failed: %w", err)
	}

	stats := stagedpush.Stats{Pending: count}
	if oldest.Valid {
		stats.Oldest = oldest.Time
	}

	return stats, nil
}
