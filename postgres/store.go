package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/velmie/stagedpush"
)

// Querier is satisfied by pgx.Tx, *pgx.Conn and *pgxpool.Pool.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	insert       string
	selectBatch  string
	deleteBatch  string
	countPending string
	stats        string
}

func newQueries(table string) queries {
	return queries{
		insert: fmt.Sprintf("INSERT INTO %s (payload) VALUES ($1) RETURNING id", table),
		selectBatch: fmt.Sprintf(
			"SELECT id, payload, created_at FROM %s ORDER BY id ASC LIMIT $1 FOR UPDATE SKIP LOCKED",
			table,
		),
		deleteBatch:  fmt.Sprintf("DELETE FROM %s WHERE id = ANY($1)", table),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s", table),
		stats:        fmt.Sprintf("SELECT COUNT(*), MIN(created_at) FROM %s", table),
	}
}

// Store implements a Postgres-backed staging table.
type Store struct {
	pool    *pgxpool.Pool
	cfg     Config
	queries queries
	table   string
}

var _ stagedpush.Claimer = (*Store)(nil)
var _ stagedpush.PendingCounter = (*Store)(nil)
var _ stagedpush.StatsProvider = (*Store)(nil)

// NewStore constructs a Postgres store.
func NewStore(pool *pgxpool.Pool, opts ...Option) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolRequired
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

	return &Store{pool: pool, cfg: cfg, queries: newQueries(table), table: table}, nil
}

// Table returns the sanitized staging table name.
func (s *Store) Table() string {
	return s.table
}

// Stage normalizes payload and inserts it through q, normally the
// producer's pgx.Tx.
func (s *Store) Stage(ctx context.Context, q Querier, payload stagedpush.Payload) (int64, error) {
	if q == nil {
		return 0, ErrQuerierRequired
	}

	normalized, err := stagedpush.Normalize(payload, s.cfg.Clock.Now())
	if err != nil {
		return 0, err
	}
	data, err := stagedpush.MarshalPayload(normalized)
	if err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRow(ctx, s.queries.insert, json.RawMessage(data)).Scan(&id); err != nil {
		return 0, fmt.Errorf("stagedpush postgres: insert failed: %w", classify(err))
	}

	return id, nil
}

// Claim locks up to limit of the oldest rows for the returned batch.
func (s *Store) Claim(ctx context.Context, limit int) (stagedpush.Batch, error) {
	if limit <= 0 {
		return nil, stagedpush.ErrInvalidBatchSize
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, fmt.Errorf("stagedpush postgres: begin tx failed: %w", err)
	}

	records, err := s.selectBatch(ctx, tx, limit)
	if err != nil {
		return nil, errors.Join(err, tx.Rollback(ctx))
	}

	return &batch{ctx: context.WithoutCancel(ctx), tx: tx, store: s, records: records}, nil
}

func (s *Store) selectBatch(ctx context.Context, tx pgx.Tx, limit int) ([]stagedpush.Record, error) {
	rows, err := tx.Query(ctx, s.queries.selectBatch, limit)
	if err != nil {
		return nil, fmt.Errorf("stagedpush postgres: select failed: %w", classify(err))
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
			return nil, fmt.Errorf("stagedpush postgres: scan failed: %w", err)
		}

		payload, err := stagedpush.UnmarshalPayload(data)
		if err != nil {
			return nil, fmt.Errorf("stagedpush postgres: record %d: %w", id, err)
		}
		records = append(records, stagedpush.Record{ID: id, Payload: payload, CreatedAt: createdAt})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("stagedpush postgres: rows failed: %w", classify(err))
	}

	return records, nil
}

// PendingCount returns the number of staged rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int
	if err := s.pool.QueryRow(ctx, s.queries.countPending).Scan(&count); err != nil {
		return 0, fmt.Errorf("stagedpush postgres: pending count failed: %w", classify(err))
	}

	return count, nil
}

// Stats returns the staging depth and the creation time of the oldest row.
func (s *Store) Stats(ctx context.Context) (stagedpush.Stats, error) {
	var (
		count  int
		oldest *time.Time
	)
	if err := s.pool.QueryRow(ctx, s.queries.stats).Scan(&count, &oldest); err != nil {
		return stagedpush.Stats{}, fmt.Errorf("stagedpush postgres: stats failed: %w", classify(err))
	}

	stats := stagedpush.Stats{Pending: count}
	if oldest != nil {
		stats.Oldest = *oldest
	}

	return stats, nil
}
