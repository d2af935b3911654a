package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/velmie/stagedpush"
)

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	return nil
}

type fakeQuerier struct {
	sql  string
	args []any
	row  fakeRow
}

func (q *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	q.sql = sql
	q.args = args
	return q.row
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func newTestStore() *Store {
	cfg := Config{Clock: fixedClock{now: time.Unix(1700000000, 0).UTC()}}.withDefaults()

	return &Store{cfg: cfg, queries: newQueries(cfg.Table), table: cfg.Table}
}

func TestNewStoreRequiresPool(t *testing.T) {
	if _, err := NewStore(nil); !errors.Is(err, ErrPoolRequired) {
		t.Fatalf("expected ErrPoolRequired, got %v", err)
	}
}

func TestStoreStageReturnsID(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{id: 7}}

	id, err := newTestStore().Stage(context.Background(), q, stagedpush.Payload{"class": "ExampleJob", "queue": "mail"})
	if err != nil {
		t.Fatalf("stage: %v", err)
	}
	if id != 7 {
		t.Fatalf("expected id 7, got %d", id)
	}
	if q.sql != "INSERT INTO staged_push_jobs (payload) VALUES ($1) RETURNING id" {
		t.Fatalf("unexpected sql: %s", q.sql)
	}

	var stored map[string]any
	if err := json.Unmarshal(q.args[0].(json.RawMessage), &stored); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stored["queue"] != "mail" {
		t.Fatalf("expected queue to be kept, got %v", stored["queue"])
	}
	if stored["jid"] == nil {
		t.Fatalf("expected jid to be generated")
	}
}

func TestStoreStageMissingTable(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: &pgconn.PgError{Code: "42P01", Message: "relation does not exist"}}}

	_, err := newTestStore().Stage(context.Background(), q, stagedpush.Payload{"class": "ExampleJob"})
	if !errors.Is(err, ErrTableMissing) {
		t.Fatalf("expected ErrTableMissing, got %v", err)
	}
}

func TestStoreStageRequiresQuerier(t *testing.T) {
	if _, err := newTestStore().Stage(context.Background(), nil, stagedpush.Payload{}); !errors.Is(err, ErrQuerierRequired) {
		t.Fatalf("expected ErrQuerierRequired, got %v", err)
	}
}

func TestQueries(t *testing.T) {
	q := newQueries("app.jobs")
	if q.deleteBatch != "DELETE FROM app.jobs WHERE id = ANY($1)" {
		t.Fatalf("unexpected delete: %s", q.deleteBatch)
	}
	if !strings.HasSuffix(q.selectBatch, "ORDER BY id ASC LIMIT $1 FOR UPDATE SKIP LOCKED") {
		t.Fatalf("unexpected select: %s", q.selectBatch)
	}
}

func TestSchema(t *testing.T) {
	schema, err := Schema(DefaultTable)
	if err != nil {
		t.Fatalf("schema: %v", err)
	}
	if !strings.Contains(schema, "id BIGSERIAL PRIMARY KEY") || !strings.Contains(schema, "payload JSONB NOT NULL") {
		t.Fatalf("unexpected schema:\n%s", schema)
	}
}

func TestSanitizeTableName(t *testing.T) {
	for _, name := range []string{"staged_push_jobs", "app.jobs_2"} {
		if _, err := sanitizeTableName(name); err != nil {
			t.Fatalf("expected valid name %q: %v", name, err)
		}
	}
	for _, name := range []string{"Jobs", "1jobs", "jobs;drop", "a.b.c", strings.Repeat("a", maxIdentifierLen+1)} {
		if _, err := sanitizeTableName(name); !errors.Is(err, ErrInvalidTableName) {
			t.Fatalf("expected invalid name %q, got %v", name, err)
		}
	}
}
