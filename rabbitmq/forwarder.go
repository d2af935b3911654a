// Package rabbitmq forwards staged payloads to RabbitMQ with publisher confirms.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/velmie/stagedpush"
)

const (
	contentTypeJSON = "application/json"
	// delayHeader is read by the delayed message exchange plugin.
	delayHeader = "x-delay"
	classKey    = "class"
)

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("stagedpush rabbitmq: message nacked by broker")

type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

type publisher interface {
	publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error)
}

type channelPublisher struct {
	ch *amqp.Channel
}

func (p channelPublisher) publish(ctx context.Context, exchange, key string, msg amqp.Publishing) (confirmation, error) {
	return p.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
}

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithExchange publishes to exchange instead of the default exchange.
func WithExchange(exchange string) Option {
	return func(f *Forwarder) {
		f.exchange = exchange
	}
}

// WithRoutingKeyPrefix prefixes the queue name used as routing key.
func WithRoutingKeyPrefix(prefix string) Option {
	return func(f *Forwarder) {
		f.prefix = prefix
	}
}

// WithClock sets the time source used for delays and timestamps.
func WithClock(clock stagedpush.Clock) Option {
	return func(f *Forwarder) {
		f.clock = clock
	}
}

// Forwarder publishes each payload as a persistent JSON message routed by its
// queue name and waits for the broker to confirm the whole batch.
type Forwarder struct {
	pub      publisher
	exchange string
	prefix   string
	clock    stagedpush.Clock

	// mu serializes batches; confirms are tracked per channel.
	mu sync.Mutex
}

var _ stagedpush.Forwarder = (*Forwarder)(nil)

// NewForwarder puts ch into confirm mode and wraps it. The channel must not
// be shared with other publishers.
func NewForwarder(ch *amqp.Channel, opts ...Option) (*Forwarder, error) {
	if ch == nil {
		return nil, errors.New("stagedpush rabbitmq: channel is required")
	}
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("stagedpush rabbitmq: enable confirms: %w", err)
	}

	return newForwarder(channelPublisher{ch: ch}, opts...), nil
}

func newForwarder(pub publisher, opts ...Option) *Forwarder {
	f := &Forwarder{pub: pub, clock: stagedpush.SystemClock{}}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Forward implements stagedpush.Forwarder.
func (f *Forwarder) Forward(ctx context.Context, payloads []stagedpush.Payload) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := f.clock.Now()
	pending := make([]confirmation, 0, len(payloads))
	for _, payload := range payloads {
		if err := payload.Validate(); err != nil {
			return err
		}

		msg, err := f.message(payload)
		if err != nil {
			return err
		}
		msg.Timestamp = now

		conf, err := f.pub.publish(ctx, f.exchange, f.prefix+payload.Queue(), msg)
		if err != nil {
			return fmt.Errorf("stagedpush rabbitmq: publish %s: %w", payload.JobID(), err)
		}
		pending = append(pending, conf)
	}

	for i, conf := range pending {
		acked, err := conf.WaitContext(ctx)
		if err != nil {
			return fmt.Errorf("stagedpush rabbitmq: confirm %s: %w", payloads[i].JobID(), err)
		}
		if !acked {
			return fmt.Errorf("%w: %s", ErrNacked, payloads[i].JobID())
		}
	}

	return nil
}

func (f *Forwarder) message(payload stagedpush.Payload) (amqp.Publishing, error) {
	job := payload.Clone()
	headers := amqp.Table{}
	if at, ok := job.ScheduledAt(); ok {
		delete(job, stagedpush.AtKey)
		if delay := at.Sub(f.clock.Now()).Milliseconds(); delay > 0 {
			headers[delayHeader] = delay
		}
	}
	job[stagedpush.EnqueuedAtKey] = stagedpush.UnixSeconds(f.clock.Now())

	body, err := json.Marshal(job)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("%w: %w", stagedpush.ErrInvalidPayload, err)
	}

	class, _ := job[classKey].(string)

	return amqp.Publishing{
		Headers:      headers,
		ContentType:  contentTypeJSON,
		DeliveryMode: amqp.Persistent,
		MessageId:    job.JobID(),
		Type:         class,
		Body:         body,
	}, nil
}
