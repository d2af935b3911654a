package gormstage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/velmie/stagedpush"
)

var (
	// ErrDBRequired is returned when a nil *gorm.DB is provided.
	ErrDBRequired = errors.New("stagedpush gormstage: db is required")
	// ErrTableNameRequired is returned when the table name is empty.
	ErrTableNameRequired = errors.New("stagedpush gormstage: table name is required")
)

// Option configures a Store.
type Option func(*Store)

// WithTable sets the staging table name.
func WithTable(name string) Option {
	return func(s *Store) {
		s.table = name
	}
}

// WithClock sets the time source used to stamp staged jobs.
func WithClock(clock stagedpush.Clock) Option {
	return func(s *Store) {
		s.clock = clock
	}
}

// Store stages and claims jobs through gorm.
type Store struct {
	db    *gorm.DB
	table string
	clock stagedpush.Clock
}

var _ stagedpush.Claimer = (*Store)(nil)
var _ stagedpush.PendingCounter = (*Store)(nil)
var _ stagedpush.StatsProvider = (*Store)(nil)

// NewStore constructs a Store on db.
func NewStore(db *gorm.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	s := &Store{db: db, table: DefaultTable, clock: stagedpush.SystemClock{}}
	for _, opt := range opts {
		opt(s)
	}
	if s.table == "" {
		return nil, ErrTableNameRequired
	}

	return s, nil
}

// Migrate creates or updates the staging table.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).Table(s.table).AutoMigrate(&Job{}); err != nil {
		return fmt.Errorf("stagedpush gormstage: migrate failed: %w", err)
	}

	return nil
}

// Stage normalizes payload and inserts it with tx, the caller's transaction.
// A nil tx uses the store's own handle.
func (s *Store) Stage(ctx context.Context, tx *gorm.DB, payload stagedpush.Payload) (int64, error) {
	if tx == nil {
		tx = s.db
	}

	now := s.clock.Now()
	normalized, err := stagedpush.Normalize(payload, now)
	if err != nil {
		return 0, err
	}
	data, err := stagedpush.MarshalPayload(normalized)
	if err != nil {
		return 0, err
	}

	job := Job{Payload: data, CreatedAt: now}
	if err := tx.WithContext(ctx).Table(s.table).Create(&job).Error; err != nil {
		return 0, fmt.Errorf("stagedpush gormstage: insert failed: %w", err)
	}

	return job.ID, nil
}

// Claim locks up to limit of the oldest rows in a READ COMMITTED transaction.
func (s *Store) Claim(ctx context.Context, limit int) (stagedpush.Batch, error) {
	if limit <= 0 {
		return nil, stagedpush.ErrInvalidBatchSize
	}

	tx := s.db.WithContext(ctx).Begin(&sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if tx.Error != nil {
		return nil, fmt.Errorf("stagedpush gormstage: begin tx failed: %w", tx.Error)
	}

	var jobs []Job
	if err := s.claimQuery(tx, limit).Find(&jobs).Error; err != nil {
		return nil, errors.Join(fmt.Errorf("stagedpush gormstage: select failed: %w", err), tx.Rollback().Error)
	}

	records := make([]stagedpush.Record, 0, len(jobs))
	for _, job := range jobs {
		payload, err := stagedpush.UnmarshalPayload(job.Payload)
		if err != nil {
			return nil, errors.Join(fmt.Errorf("stagedpush gormstage: record %d: %w", job.ID, err), tx.Rollback().Error)
		}
		records = append(records, stagedpush.Record{ID: job.ID, Payload: payload, CreatedAt: job.CreatedAt})
	}

	return &batch{tx: tx, table: s.table, records: records}, nil
}

func (s *Store) claimQuery(tx *gorm.DB, limit int) *gorm.DB {
	return tx.Table(s.table).
		Clauses(clause.Locking{Strength: clause.LockingStrengthUpdate, Options: clause.LockingOptionsSkipLocked}).
		Order("id ASC").
		Limit(limit)
}

// PendingCount returns the number of staged rows.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Table(s.table).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("stagedpush gormstage: pending count failed: %w", err)
	}

	return int(count), nil
}

// Stats returns the staging depth and the creation time of the oldest row.
func (s *Store) Stats(ctx context.Context) (stagedpush.Stats, error) {
	var row struct {
		Pending int64
		Oldest  *time.Time
	}
	err := s.db.WithContext(ctx).
		Table(s.table).
		Select("COUNT(*) AS pending, MIN(created_at) AS oldest").
		Scan(&row).Error
	if err != nil {
		return stagedpush.Stats{}, fmt.Errorf("stagedpush gormstage: stats failed: %w", err)
	}

	stats := stagedpush.Stats{Pending: int(row.Pending)}
	if row.Oldest != nil {
		stats.Oldest = *row.Oldest
	}

	return stats, nil
}

type batch struct {
	tx      *gorm.DB
	table   string
	records []stagedpush.Record
}

func (b *batch) Records() []stagedpush.Record {
	return b.records
}

func (b *batch) Delete(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res := b.tx.WithContext(ctx).Table(b.table).Where("id IN ?", ids).Delete(&Job{})
	if res.Error != nil {
		return 0, fmt.Errorf("stagedpush gormstage: delete failed: %w", res.Error)
	}

	return res.RowsAffected, nil
}

func (b *batch) Commit() error {
	return b.tx.Commit().Error
}

func (b *batch) Rollback() error {
	err := b.tx.Rollback().Error
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}

	return err
}
