package main

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/velmie/stagedpush"
	"github.com/velmie/stagedpush/memory"
)

func stageJobs(t *testing.T, store *memory.Store, n int) {
	t.Helper()

	for i := 0; i < n; i++ {
		if _, err := store.Stage(context.Background(), stagedpush.Payload{"class": "ExampleJob", "args": []any{i}}); err != nil {
			t.Fatalf("stage %d: %v", i, err)
		}
	}
}

// slowForwarder takes pause per batch and lets a rival worker try for the
// slot while the batch is in flight.
type slowForwarder struct {
	pause time.Duration
	rival *stagedpush.Leaser

	mu        sync.Mutex
	batches   int
	takeovers int
}

func (f *slowForwarder) Forward(ctx context.Context, _ []stagedpush.Payload) error {
	time.Sleep(f.pause)
	_, ok, err := f.rival.Claim(ctx)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	if ok {
		f.takeovers++
	}

	return nil
}

func TestDrainRenewsSlotWhileRelaying(t *testing.T) {
	const ttl = 300 * time.Millisecond

	store := memory.NewStore(nil)
	stageJobs(t, store, 6)
	slots := memory.NewSlotStore(nil)
	rival := stagedpush.NewLeaser(slots,
		stagedpush.WithIdentity("rival"),
		stagedpush.WithMaxSlots(1),
		stagedpush.WithSlotTTL(ttl),
	)
	forwarder := &slowForwarder{pause: ttl / 3, rival: rival}

	count, err := drain(context.Background(), store, forwarder, slots, []stagedpush.Option{
		stagedpush.WithIdentity("drainer"),
		stagedpush.WithMaxSlots(1),
		stagedpush.WithSlotTTL(ttl),
		stagedpush.WithBatchSize(1),
	})
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if count != 6 || forwarder.batches != 6 {
		t.Fatalf("expected 6 jobs in 6 batches, got %d in %d", count, forwarder.batches)
	}
	if forwarder.takeovers != 0 {
		t.Fatalf("slot was claimed by another worker %d times during the drain", forwarder.takeovers)
	}

	if _, ok, err := rival.Claim(context.Background()); err != nil || !ok {
		t.Fatalf("expected slot to be released after drain, got %v %v", ok, err)
	}
}

type stoppingForwarder struct {
	stop    context.CancelFunc
	ctxErrs []error
}

func (f *stoppingForwarder) Forward(ctx context.Context, _ []stagedpush.Payload) error {
	f.stop()
	f.ctxErrs = append(f.ctxErrs, ctx.Err())

	return nil
}

func TestDrainFinishesBatchInFlightOnStop(t *testing.T) {
	store := memory.NewStore(nil)
	stageJobs(t, store, 3)
	slots := memory.NewSlotStore(nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	forwarder := &stoppingForwarder{stop: cancel}

	count, err := drain(ctx, store, forwarder, slots, []stagedpush.Option{
		stagedpush.WithIdentity("drainer"),
		stagedpush.WithBatchSize(1),
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected drain to report the stop, got %v", err)
	}
	if count != 1 {
		t.Fatalf("expected the in-flight batch to complete, got %d", count)
	}
	if len(forwarder.ctxErrs) != 1 || forwarder.ctxErrs[0] != nil {
		t.Fatalf("forward saw a canceled context: %v", forwarder.ctxErrs)
	}

	pending, err := store.PendingCount(context.Background())
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if pending != 2 {
		t.Fatalf("expected the forwarded job to stay committed, pending = %d", pending)
	}
	if _, held := slots.Owner(stagedpush.DefaultSlotKeyPrefix + ":0"); held {
		t.Fatalf("expected slot to be released after stop")
	}
}

func TestDrainWithoutFreeSlot(t *testing.T) {
	store := memory.NewStore(nil)
	stageJobs(t, store, 1)
	slots := memory.NewSlotStore(nil)
	holder := stagedpush.NewLeaser(slots, stagedpush.WithIdentity("holder"), stagedpush.WithMaxSlots(1))
	if _, ok, err := holder.Claim(context.Background()); err != nil || !ok {
		t.Fatalf("claim: %v %v", ok, err)
	}

	_, err := drain(context.Background(), store, discardForwarder{}, slots, []stagedpush.Option{stagedpush.WithMaxSlots(1)})
	if !errors.Is(err, errNoSlot) {
		t.Fatalf("expected errNoSlot, got %v", err)
	}
}
