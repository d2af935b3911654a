package stagedpush

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Enqueuer is a single relay worker: it claims a slot, keeps the lease alive
// and relays batches until stopped, then releases the slot.
type Enqueuer struct {
	relay  *Relay
	leaser *Leaser
	cfg    Config
}

// NewEnqueuer constructs a worker with its own identity and configuration.
func NewEnqueuer(claimer Claimer, forwarder Forwarder, slots SlotStore, opts ...Option) *Enqueuer {
	cfg := newConfig(opts)
	cfg.Logger = withArgs(cfg.Logger, "identity", cfg.Identity)

	return &Enqueuer{
		relay:  newRelay(claimer, forwarder, cfg),
		leaser: newLeaser(slots, cfg),
		cfg:    cfg,
	}
}

// Identity returns the worker identity used to own slots.
func (e *Enqueuer) Identity() string {
	return e.cfg.Identity
}

// State returns the worker's slot lease state.
func (e *Enqueuer) State() SlotState {
	return e.leaser.State()
}

// Slot returns the slot key held by the worker, or an empty string.
func (e *Enqueuer) Slot() string {
	return e.leaser.Slot()
}

// Run blocks until ctx is canceled. It waits for a free slot, relays while
// holding it and releases it on the way out. The relay stops before the slot
// is released. Only a failed release is reported; the lease then expires on
// its own within the slot TTL.
func (e *Enqueuer) Run(ctx context.Context) error {
	key, err := e.acquire(ctx)
	if err != nil {
		return nil
	}
	e.cfg.Logger.Info("stagedpush claimed slot", "slot", key)

	keepCtx, stopKeep := context.WithCancel(ctx)
	kept := make(chan struct{})
	go func() {
		defer close(kept)
		e.leaser.Keep(keepCtx, key)
	}()

	e.relay.Run(ctx)

	stopKeep()
	<-kept

	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.SlotTTL)
	defer cancel()
	if _, err := e.leaser.Release(releaseCtx, key); err != nil {
		e.cfg.Logger.Warn("stagedpush slot release failed, lease will expire", "slot", key, "err", err)

		return err
	}
	e.cfg.Logger.Info("stagedpush stopped", "slot", key)

	return nil
}

func (e *Enqueuer) acquire(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		key, ok, err := e.leaser.Claim(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			e.cfg.Logger.Error("stagedpush slot claim failed", "err", err)
			wait = e.cfg.ErrorRetryInterval
		case ok:
			return key, nil
		default:
			e.cfg.Logger.Debug("stagedpush no slot available", "retry_in", e.cfg.SlotRetryInterval)
			wait = e.cfg.SlotRetryInterval
		}

		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

// RunWorkers runs count workers built by newEnqueuer until ctx is canceled
// and returns the joined release errors.
func RunWorkers(ctx context.Context, count int, newEnqueuer func(n int) *Enqueuer) error {
	if count <= 0 {
		return ErrInvalidWorkers
	}

	errs := make([]error, count)
	var wg sync.WaitGroup
	for i := 0; i < count; i++ {
		i := i
		worker := newEnqueuer(i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = worker.Run(ctx)
		}()
	}
	wg.Wait()

	return errors.Join(errs...)
}
