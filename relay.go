package stagedpush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Relay drains the staging table into the downstream queue one batch at a time.
type Relay struct {
	claimer   Claimer
	forwarder Forwarder
	cfg       Config

	pendingMu sync.Mutex
	pendingAt time.Time
}

// NewRelay constructs a Relay with defaults and optional settings.
func NewRelay(claimer Claimer, forwarder Forwarder, opts ...Option) *Relay {
	return newRelay(claimer, forwarder, newConfig(opts))
}

func newRelay(claimer Claimer, forwarder Forwarder, cfg Config) *Relay {
	if claimer == nil {
		panic("stagedpush: nil Claimer")
	}
	if forwarder == nil {
		panic("stagedpush: nil Forwarder")
	}

	return &Relay{
		claimer:   claimer,
		forwarder: forwarder,
		cfg:       cfg,
	}
}

// Run relays batches until ctx is canceled.
//
// Cancellation is observed between iterations and during sleeps only. A batch
// that is already claimed runs to commit or rollback on a context detached
// from ctx. Failures are logged and retried after the error retry interval
// without limit, so Run never gives up on staged records.
func (r *Relay) Run(ctx context.Context) {
	work := context.WithoutCancel(ctx)
	for {
		if ctx.Err() != nil {
			return
		}

		count, err := r.ProcessOnce(work)

		var wait time.Duration
		switch {
		case err != nil:
			r.cfg.Logger.Error("stagedpush relay iteration failed", "kind", errorKind(err), "err", err)
			wait = r.cfg.ErrorRetryInterval
		case count == 0:
			r.maybeRecordPending(ctx)
			wait = r.cfg.PollInterval
		default:
			continue
		}

		if sleep(ctx, wait) != nil {
			return
		}
	}
}

// ProcessOnce claims one batch, deletes it, forwards it and commits.
// It returns the number of records forwarded. When forwarding fails the
// transaction is rolled back and every claimed record stays staged.
func (r *Relay) ProcessOnce(ctx context.Context) (count int, err error) {
	var (
		batch   Batch
		records []Record
	)
	defer func() {
		if rec := recover(); rec != nil {
			count = 0
			err = fmt.Errorf("%w: %v", ErrRelayPanic, rec)
			if batch != nil {
				err = r.rollbackWith(batch, err)
			}
		}
		if err != nil {
			r.cfg.Metrics.AddFailures(1)
			r.reportFailure(ctx, records, err)
		}
	}()

	batch, err = r.claimer.Claim(ctx, r.cfg.BatchSize)
	if err != nil {
		batch = nil

		return 0, fmt.Errorf("%w: %w", ErrClaimFailed, err)
	}
	if batch == nil {
		return 0, ErrNilBatch
	}

	records = batch.Records()
	if len(records) == 0 {
		if err := batch.Commit(); err != nil {
			return 0, r.rollbackWith(batch, fmt.Errorf("%w: %w", ErrCommitFailed, err))
		}

		return 0, nil
	}

	if err := r.relayBatch(ctx, batch, records); err != nil {
		return 0, err
	}

	return len(records), nil
}

func (r *Relay) relayBatch(ctx context.Context, batch Batch, records []Record) error {
	start := time.Now()
	defer func() {
		r.cfg.Metrics.ObserveBatchDuration(time.Since(start))
	}()

	ids := IDs(records)
	deleted, err := batch.Delete(ctx, ids)
	if err != nil {
		return r.rollbackWith(batch, fmt.Errorf("%w: %w", ErrDeleteFailed, err))
	}
	if deleted != int64(len(ids)) {
		return r.rollbackWith(batch, fmt.Errorf("%w: claimed %d, deleted %d", ErrDeleteMismatch, len(ids), deleted))
	}

	if err := r.forwarder.Forward(ctx, Payloads(records)); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("%w: %w", ErrForwardFailed, err))
	}

	if err := batch.Commit(); err != nil {
		return r.rollbackWith(batch, fmt.Errorf("%w: %w", ErrCommitFailed, err))
	}

	r.cfg.Metrics.AddForwarded(len(records))
	r.cfg.Logger.Debug("stagedpush batch forwarded",
		"count", len(records),
		"first_id", ids[0],
		"last_id", ids[len(ids)-1],
	)

	return nil
}

func (r *Relay) reportFailure(ctx context.Context, records []Record, err error) {
	if r.cfg.ErrorHandler == nil {
		return
	}
	defer func() {
		if rec := recover(); rec != nil {
			r.cfg.Logger.Error("stagedpush error handler panicked", "panic", rec, "err", err)
		}
	}()

	r.cfg.ErrorHandler(ctx, records, err)
}

func (r *Relay) rollbackWith(batch Batch, err error) error {
	rollbackErr := batch.Rollback()
	if rollbackErr == nil {
		return err
	}

	return errors.Join(err, fmt.Errorf("stagedpush rollback failed: %w", rollbackErr))
}

func (r *Relay) maybeRecordPending(ctx context.Context) {
	counter, ok := r.claimer.(PendingCounter)
	if !ok {
		return
	}
	if r.cfg.PendingInterval <= 0 {
		return
	}
	if ctx.Err() != nil {
		return
	}

	now := r.cfg.Clock.Now()
	r.pendingMu.Lock()
	nextAllowed := r.pendingAt.Add(r.cfg.PendingInterval)
	if !r.pendingAt.IsZero() && now.Before(nextAllowed) {
		r.pendingMu.Unlock()

		return
	}
	r.pendingAt = now
	r.pendingMu.Unlock()

	count, err := counter.PendingCount(ctx)
	if err != nil {
		r.cfg.Logger.Warn("stagedpush pending count failed", "err", err)

		return
	}

	r.cfg.Metrics.SetPending(count)
}
