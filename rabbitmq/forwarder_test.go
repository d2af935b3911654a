package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/velmie/stagedpush"
)

type fakeConfirmation struct {
	acked bool
	err   error
}

func (c fakeConfirmation) WaitContext(context.Context) (bool, error) {
	return c.acked, c.err
}

type publishCall struct {
	exchange string
	key      string
	msg      amqp.Publishing
}

type fakePublisher struct {
	calls      []publishCall
	nackAt     int
	publishErr error
}

func (p *fakePublisher) publish(_ context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	if p.publishErr != nil {
		return nil, p.publishErr
	}
	p.calls = append(p.calls, publishCall{exchange: exchange, key: key, msg: msg})
	return fakeConfirmation{acked: len(p.calls) != p.nackAt}, nil
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

func TestForwarderPublishesPersistentJSON(t *testing.T) {
	pub := &fakePublisher{}
	now := time.Unix(1700000000, 0).UTC()
	forwarder := newForwarder(pub, WithExchange("jobs"), WithRoutingKeyPrefix("sidekiq."), WithClock(fixedClock{now: now}))

	payloads := []stagedpush.Payload{
		{"class": "ExampleJob", "queue": "default", "jid": "j1", "args": []any{1}},
		{"class": "LaterJob", "queue": "mail", "jid": "j2", "at": json.Number("1700000005")},
	}
	if err := forwarder.Forward(context.Background(), payloads); err != nil {
		t.Fatalf("forward: %v", err)
	}

	if len(pub.calls) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.calls))
	}
	first := pub.calls[0]
	if first.exchange != "jobs" || first.key != "sidekiq.default" {
		t.Fatalf("unexpected routing %s/%s", first.exchange, first.key)
	}
	if first.msg.DeliveryMode != amqp.Persistent || first.msg.ContentType != "application/json" {
		t.Fatalf("unexpected message properties %+v", first.msg)
	}
	if first.msg.MessageId != "j1" || first.msg.Type != "ExampleJob" {
		t.Fatalf("unexpected message id/type %s/%s", first.msg.MessageId, first.msg.Type)
	}
	if _, ok := first.msg.Headers["x-delay"]; ok {
		t.Fatalf("immediate job must not be delayed")
	}

	second := pub.calls[1]
	if second.msg.Headers["x-delay"] != int64(5000) {
		t.Fatalf("expected 5s delay, got %v", second.msg.Headers["x-delay"])
	}
	var body map[string]any
	if err := json.Unmarshal(second.msg.Body, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := body["at"]; ok {
		t.Fatalf("expected at to be removed from the body")
	}
}

func TestForwarderReportsNack(t *testing.T) {
	pub := &fakePublisher{nackAt: 2}
	forwarder := newForwarder(pub)

	payloads := []stagedpush.Payload{
		{"queue": "default", "jid": "j1"},
		{"queue": "default", "jid": "j2"},
	}
	err := forwarder.Forward(context.Background(), payloads)
	if !errors.Is(err, ErrNacked) {
		t.Fatalf("expected ErrNacked, got %v", err)
	}
}

func TestForwarderReportsPublishError(t *testing.T) {
	pub := &fakePublisher{publishErr: amqp.ErrClosed}
	err := newForwarder(pub).Forward(context.Background(), []stagedpush.Payload{{"queue": "default", "jid": "j1"}})
	if !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected channel closed error, got %v", err)
	}
}

func TestForwarderRejectsPayloadWithoutJobID(t *testing.T) {
	pub := &fakePublisher{}
	err := newForwarder(pub).Forward(context.Background(), []stagedpush.Payload{{"queue": "default"}})
	if !errors.Is(err, stagedpush.ErrJobIDRequired) {
		t.Fatalf("expected ErrJobIDRequired, got %v", err)
	}
	if len(pub.calls) != 0 {
		t.Fatalf("expected nothing published")
	}
}

func TestNewForwarderRequiresChannel(t *testing.T) {
	if _, err := NewForwarder(nil); err == nil {
		t.Fatalf("expected error for nil channel")
	}
}
