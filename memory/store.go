package memory

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/velmie/stagedpush"
)

type row struct {
	id        int64
	payload   []byte
	createdAt time.Time
}

// Store is an in-memory staging table.
type Store struct {
	clock stagedpush.Clock

	mu     sync.Mutex
	nextID int64
	rows   []row
	locked map[int64]struct{}
}

var _ stagedpush.Claimer = (*Store)(nil)
var _ stagedpush.PendingCounter = (*Store)(nil)
var _ stagedpush.StatsProvider = (*Store)(nil)

// NewStore creates an empty store. A nil clock uses the system clock.
func NewStore(clock stagedpush.Clock) *Store {
	if clock == nil {
		clock = stagedpush.SystemClock{}
	}

	return &Store{clock: clock, locked: make(map[int64]struct{})}
}

// Stage normalizes and appends a payload, returning its id.
func (s *Store) Stage(_ context.Context, payload stagedpush.Payload) (int64, error) {
	now := s.clock.Now()
	normalized, err := stagedpush.Normalize(payload, now)
	if err != nil {
		return 0, err
	}
	data, err := stagedpush.MarshalPayload(normalized)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	s.rows = append(s.rows, row{id: s.nextID, payload: data, createdAt: now})

	return s.nextID, nil
}

// Claim locks up to limit of the oldest unlocked records.
func (s *Store) Claim(_ context.Context, limit int) (stagedpush.Batch, error) {
	if limit <= 0 {
		return nil, stagedpush.ErrInvalidBatchSize
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	b := &batch{store: s, owned: make(map[int64]struct{}), deleted: make(map[int64]struct{})}
	for _, r := range s.rows {
		if len(b.records) == limit {
			break
		}
		if _, taken := s.locked[r.id]; taken {
			continue
		}
		payload, err := stagedpush.UnmarshalPayload(r.payload)
		if err != nil {
			for id := range b.owned {
				delete(s.locked, id)
			}

			return nil, err
		}
		s.locked[r.id] = struct{}{}
		b.owned[r.id] = struct{}{}
		b.records = append(b.records, stagedpush.Record{ID: r.id, Payload: payload, CreatedAt: r.createdAt})
	}

	return b, nil
}

// PendingCount returns the number of staged records, claimed or not.
func (s *Store) PendingCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.rows), nil
}

// Stats returns the staging depth and the oldest creation time.
func (s *Store) Stats(_ context.Context) (stagedpush.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := stagedpush.Stats{Pending: len(s.rows)}
	if len(s.rows) > 0 {
		stats.Oldest = s.rows[0].createdAt
	}

	return stats, nil
}

// Snapshot returns every staged record in id order.
func (s *Store) Snapshot() []stagedpush.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]stagedpush.Record, 0, len(s.rows))
	for _, r := range s.rows {
		payload, err := stagedpush.UnmarshalPayload(r.payload)
		if err != nil {
			continue
		}
		out = append(out, stagedpush.Record{ID: r.id, Payload: payload, CreatedAt: r.createdAt})
	}

	return out
}

func (s *Store) finish(b *batch, commit bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range b.owned {
		delete(s.locked, id)
	}
	if !commit || len(b.deleted) == 0 {
		return
	}

	kept := s.rows[:0]
	for _, r := range s.rows {
		if _, gone := b.deleted[r.id]; gone {
			continue
		}
		kept = append(kept, r)
	}
	s.rows = kept
}

type batch struct {
	store   *Store
	records []stagedpush.Record

	mu      sync.Mutex
	owned   map[int64]struct{}
	deleted map[int64]struct{}
	done    bool
}

// Records returns the records claimed by this batch.
func (b *batch) Records() []stagedpush.Record {
	return b.records
}

// Delete marks claimed ids as deleted; ids outside the claim are ignored.
func (b *batch) Delete(_ context.Context, ids []int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return 0, sql.ErrTxDone
	}

	var count int64
	for _, id := range ids {
		if _, ok := b.owned[id]; !ok {
			continue
		}
		if _, already := b.deleted[id]; already {
			continue
		}
		b.deleted[id] = struct{}{}
		count++
	}

	return count, nil
}

// Commit applies the deletes and releases the locks.
func (b *batch) Commit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return sql.ErrTxDone
	}
	b.done = true
	b.store.finish(b, true)

	return nil
}

// Rollback discards the deletes and releases the locks.
func (b *batch) Rollback() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.done {
		return nil
	}
	b.done = true
	b.store.finish(b, false)

	return nil
}
