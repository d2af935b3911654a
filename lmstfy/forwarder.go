// Package lmstfy forwards staged payloads to lmstfy queues.
package lmstfy

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"github.com/bitleak/lmstfy/client"

	"github.com/velmie/stagedpush"
)

const (
	defaultTTL   = 0
	defaultTries = 3
)

// Publisher is the subset of *client.LmstfyClient used by the forwarder.
type Publisher interface {
	Publish(queue string, data []byte, ttlSecond uint32, tries uint16, delaySecond uint32) (string, error)
}

var _ Publisher = (*client.LmstfyClient)(nil)

// Option configures a Forwarder.
type Option func(*Forwarder)

// WithQueuePrefix prefixes every lmstfy queue name.
func WithQueuePrefix(prefix string) Option {
	return func(f *Forwarder) {
		f.prefix = prefix
	}
}

// WithTTL sets the job TTL in seconds; zero keeps jobs until consumed.
func WithTTL(ttl uint32) Option {
	return func(f *Forwarder) {
		f.ttl = ttl
	}
}

// WithTries sets how many times lmstfy may hand a job to consumers.
func WithTries(tries uint16) Option {
	return func(f *Forwarder) {
		f.tries = tries
	}
}

// WithClock sets the time source used for delays and enqueued_at.
func WithClock(clock stagedpush.Clock) Option {
	return func(f *Forwarder) {
		f.clock = clock
	}
}

// Forwarder publishes each payload to the lmstfy queue named by its queue key.
// Scheduled payloads are published with a delay until their at time.
// Publishing is per job, so a failure part way leaves earlier jobs published;
// the relay rolls back and they are delivered again on retry.
type Forwarder struct {
	pub    Publisher
	prefix string
	ttl    uint32
	tries  uint16
	clock  stagedpush.Clock
}

var _ stagedpush.Forwarder = (*Forwarder)(nil)

// NewForwarder wraps pub.
func NewForwarder(pub Publisher, opts ...Option) *Forwarder {
	if pub == nil {
		panic("stagedpush lmstfy: nil publisher")
	}

	f := &Forwarder{pub: pub, ttl: defaultTTL, tries: defaultTries, clock: stagedpush.SystemClock{}}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// NewClientForwarder builds the lmstfy HTTP client and wraps it.
func NewClientForwarder(host string, port int, namespace, token string, opts ...Option) *Forwarder {
	return NewForwarder(client.NewLmstfyClient(host, port, namespace, token), opts...)
}

// Forward implements stagedpush.Forwarder.
func (f *Forwarder) Forward(ctx context.Context, payloads []stagedpush.Payload) error {
	now := f.clock.Now()
	for _, payload := range payloads {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := payload.Validate(); err != nil {
			return err
		}

		job := payload.Clone()
		var delay uint32
		if at, ok := job.ScheduledAt(); ok {
			delay = delaySeconds(at, now)
			delete(job, stagedpush.AtKey)
		}
		job[stagedpush.EnqueuedAtKey] = stagedpush.UnixSeconds(now)

		data, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("%w: %w", stagedpush.ErrInvalidPayload, err)
		}

		queue := f.prefix + job.Queue()
		if _, err := f.pub.Publish(queue, data, f.ttl, f.tries, delay); err != nil {
			return fmt.Errorf("stagedpush lmstfy: publish %s to %s: %w", job.JobID(), queue, err)
		}
	}

	return nil
}

func delaySeconds(at, now time.Time) uint32 {
	d := at.Sub(now)
	if d <= 0 {
		return 0
	}
	secs := math.Ceil(d.Seconds())
	if secs > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(secs)
}
