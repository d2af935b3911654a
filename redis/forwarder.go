package redis

import (
	"context"
	"encoding/json"
	"fmt"

	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/stagedpush"
)

const (
	queuesKey   = "queues"
	scheduleKey = "schedule"
	queuePrefix = "queue:"
)

// ForwarderOption configures a Forwarder.
type ForwarderOption func(*Forwarder)

// WithNamespace prefixes every key with namespace and a colon.
func WithNamespace(namespace string) ForwarderOption {
	return func(f *Forwarder) {
		f.namespace = namespace
	}
}

// WithClock sets the time source for enqueued_at.
func WithClock(clock stagedpush.Clock) ForwarderOption {
	return func(f *Forwarder) {
		f.clock = clock
	}
}

// Forwarder pushes payloads onto Sidekiq queues.
//
// Immediate jobs get enqueued_at, their queue is added to the queues set and
// they are LPUSHed onto queue:<name>. Jobs with an at key are added to the
// schedule sorted set scored by at, with at removed from the stored job. The
// whole batch is one MULTI/EXEC transaction.
type Forwarder struct {
	client    goredis.UniversalClient
	namespace string
	clock     stagedpush.Clock
}

var _ stagedpush.Forwarder = (*Forwarder)(nil)

// NewForwarder wraps client.
func NewForwarder(client goredis.UniversalClient, opts ...ForwarderOption) *Forwarder {
	if client == nil {
		panic("stagedpush redis: nil client")
	}

	f := &Forwarder{client: client, clock: stagedpush.SystemClock{}}
	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Forward implements stagedpush.Forwarder.
func (f *Forwarder) Forward(ctx context.Context, payloads []stagedpush.Payload) error {
	if len(payloads) == 0 {
		return nil
	}

	plan, err := f.plan(payloads)
	if err != nil {
		return err
	}

	_, err = f.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, q := range plan.queues {
			pipe.SAdd(ctx, f.key(queuesKey), q.name)
			pipe.LPush(ctx, f.key(queuePrefix+q.name), q.jobs...)
		}
		if len(plan.scheduled) > 0 {
			pipe.ZAdd(ctx, f.key(scheduleKey), plan.scheduled...)
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("stagedpush redis: push failed: %w", err)
	}

	return nil
}

type queuedJobs struct {
	name string
	jobs []any
}

type pushPlan struct {
	queues    []queuedJobs
	scheduled []goredis.Z
}

func (f *Forwarder) plan(payloads []stagedpush.Payload) (pushPlan, error) {
	var (
		plan  pushPlan
		index = make(map[string]int)
		now   = stagedpush.UnixSeconds(f.clock.Now())
	)

	for _, payload := range payloads {
		if err := payload.Validate(); err != nil {
			return pushPlan{}, err
		}

		job := payload.Clone()
		if at, ok := job.ScheduledAt(); ok {
			delete(job, stagedpush.AtKey)
			data, err := json.Marshal(job)
			if err != nil {
				return pushPlan{}, fmt.Errorf("%w: %w", stagedpush.ErrInvalidPayload, err)
			}
			plan.scheduled = append(plan.scheduled, goredis.Z{Score: stagedpush.UnixSeconds(at), Member: string(data)})

			continue
		}

		job[stagedpush.EnqueuedAtKey] = now
		data, err := json.Marshal(job)
		if err != nil {
			return pushPlan{}, fmt.Errorf("%w: %w", stagedpush.ErrInvalidPayload, err)
		}

		queue := job.Queue()
		i, ok := index[queue]
		if !ok {
			i = len(plan.queues)
			index[queue] = i
			plan.queues = append(plan.queues, queuedJobs{name: queue})
		}
		plan.queues[i].jobs = append(plan.queues[i].jobs, string(data))
	}

	return plan, nil
}

func (f *Forwarder) key(name string) string {
	if f.namespace == "" {
		return name
	}

	return f.namespace + ":" + name
}
