package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/stagedpush"
)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func decodeJob(t *testing.T, raw string) map[string]any {
	t.Helper()

	var job map[string]any
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		t.Fatalf("decode job %s: %v", raw, err)
	}

	return job
}

func TestForwarderPushesImmediateJobs(t *testing.T) {
	srv, client := newTestClient(t)
	now := time.Unix(1700000000, 0).UTC()
	forwarder := NewForwarder(client, WithClock(fixedClock{now: now}))

	payloads := []stagedpush.Payload{
		{"class": "A", "queue": "default", "jid": "j1"},
		{"class": "B", "queue": "mail", "jid": "j2"},
		{"class": "C", "queue": "default", "jid": "j3"},
	}
	if err := forwarder.Forward(context.Background(), payloads); err != nil {
		t.Fatalf("forward: %v", err)
	}

	queues, err := srv.Members("queues")
	if err != nil {
		t.Fatalf("queues: %v", err)
	}
	if len(queues) != 2 {
		t.Fatalf("expected 2 queues registered, got %v", queues)
	}

	defaults, err := srv.List("queue:default")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(defaults) != 2 {
		t.Fatalf("expected 2 default jobs, got %d", len(defaults))
	}
	// LPUSH puts the last job at the head; consumers pop from the tail.
	if decodeJob(t, defaults[1])["jid"] != "j1" || decodeJob(t, defaults[0])["jid"] != "j3" {
		t.Fatalf("unexpected order %v", defaults)
	}
	job := decodeJob(t, defaults[1])
	if job["enqueued_at"] != float64(1700000000) {
		t.Fatalf("expected enqueued_at, got %v", job["enqueued_at"])
	}

	mail, err := srv.List("queue:mail")
	if err != nil || len(mail) != 1 {
		t.Fatalf("expected 1 mail job, got %v %v", mail, err)
	}

	if _, ok := payloads[0][stagedpush.EnqueuedAtKey]; ok {
		t.Fatalf("input payload was modified")
	}
}

func TestForwarderSchedulesJobsWithAt(t *testing.T) {
	srv, client := newTestClient(t)
	forwarder := NewForwarder(client)

	payloads := []stagedpush.Payload{
		{"class": "A", "queue": "default", "jid": "j1", "at": json.Number("1740823200")},
	}
	if err := forwarder.Forward(context.Background(), payloads); err != nil {
		t.Fatalf("forward: %v", err)
	}

	if srv.Exists("queue:default") {
		t.Fatalf("scheduled job must not be queued")
	}
	members, err := srv.ZMembers("schedule")
	if err != nil || len(members) != 1 {
		t.Fatalf("expected 1 scheduled job, got %v %v", members, err)
	}
	score, err := srv.ZScore("schedule", members[0])
	if err != nil {
		t.Fatalf("score: %v", err)
	}
	if score != 1740823200 {
		t.Fatalf("expected score from at, got %f", score)
	}
	job := decodeJob(t, members[0])
	if _, ok := job["at"]; ok {
		t.Fatalf("expected at to be removed from the stored job")
	}
	if _, ok := job["enqueued_at"]; ok {
		t.Fatalf("scheduled job must not carry enqueued_at")
	}
}

func TestForwarderNamespace(t *testing.T) {
	srv, client := newTestClient(t)
	forwarder := NewForwarder(client, WithNamespace("app"))

	err := forwarder.Forward(context.Background(), []stagedpush.Payload{{"class": "A", "queue": "default", "jid": "j1"}})
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if !srv.Exists("app:queue:default") || !srv.Exists("app:queues") {
		t.Fatalf("expected namespaced keys, got %v", srv.Keys())
	}
}

func TestForwarderRejectsInvalidPayloadWithoutPushing(t *testing.T) {
	srv, client := newTestClient(t)
	forwarder := NewForwarder(client)

	payloads := []stagedpush.Payload{
		{"class": "A", "queue": "default", "jid": "j1"},
		{"class": "B", "queue": "default"},
	}
	err := forwarder.Forward(context.Background(), payloads)
	if !errors.Is(err, stagedpush.ErrJobIDRequired) {
		t.Fatalf("expected ErrJobIDRequired, got %v", err)
	}
	if len(srv.Keys()) != 0 {
		t.Fatalf("expected nothing pushed, got %v", srv.Keys())
	}
}

func TestForwarderReportsRedisErrors(t *testing.T) {
	client := goredis.NewClient(&goredis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	t.Cleanup(func() {
		_ = client.Close()
	})
	forwarder := NewForwarder(client)

	err := forwarder.Forward(context.Background(), []stagedpush.Payload{{"queue": "default", "jid": "j1"}})
	if err == nil {
		t.Fatalf("expected error when redis is down")
	}
}
