package stagedpush

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// SlotStore provides the atomic key primitives slot leases are built on.
// Every method must be a single atomic operation on the backing store.
type SlotStore interface {
	// SetIfAbsent stores owner under key with the given TTL unless the key exists.
	SetIfAbsent(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// ExpireIfOwner resets the TTL of key when its value equals owner.
	ExpireIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	// DeleteIfOwner deletes key when its value equals owner.
	DeleteIfOwner(ctx context.Context, key, owner string) (bool, error)
}

// SlotState is the lease state of a single worker.
type SlotState int32

const (
	// SlotUnclaimed means the worker holds no slot.
	SlotUnclaimed SlotState = iota
	// SlotClaiming means the worker is scanning the slot pool.
	SlotClaiming
	// SlotHolding means the worker owns a slot and may relay.
	SlotHolding
	// SlotReleasing means the worker is giving its slot back.
	SlotReleasing
)

// String implements fmt.Stringer.
func (s SlotState) String() string {
	switch s {
	case SlotUnclaimed:
		return "unclaimed"
	case SlotClaiming:
		return "claiming"
	case SlotHolding:
		return "holding"
	case SlotReleasing:
		return "releasing"
	default:
		return fmt.Sprintf("SlotState(%d)", int32(s))
	}
}

// Leaser limits the number of active workers to a fixed pool of TTL-bound slots.
type Leaser struct {
	slots SlotStore
	cfg   Config

	state atomic.Int32
	mu    sync.Mutex
	held  string
}

// NewLeaser constructs a Leaser for one worker identity.
func NewLeaser(slots SlotStore, opts ...Option) *Leaser {
	return newLeaser(slots, newConfig(opts))
}

func newLeaser(slots SlotStore, cfg Config) *Leaser {
	if slots == nil {
		panic("stagedpush: nil SlotStore")
	}

	return &Leaser{slots: slots, cfg: cfg}
}

// Identity returns the owner value written to claimed slots.
func (l *Leaser) Identity() string {
	return l.cfg.Identity
}

// State returns the current lease state.
func (l *Leaser) State() SlotState {
	return SlotState(l.state.Load())
}

// Slot returns the key currently held, or an empty string.
func (l *Leaser) Slot() string {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.held
}

// SlotKeys returns the slot pool in claim order.
func (l *Leaser) SlotKeys() []string {
	keys := make([]string, l.cfg.MaxSlots)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s:%d", l.cfg.SlotKeyPrefix, i)
	}

	return keys
}

// Claim tries every slot in order and returns the first one it manages to set.
// ok is false when all slots are held by other workers.
func (l *Leaser) Claim(ctx context.Context) (key string, ok bool, err error) {
	l.state.Store(int32(SlotClaiming))
	defer func() {
		if ok {
			l.setHeld(key)
			l.state.Store(int32(SlotHolding))
			l.cfg.Metrics.SetSlotHeld(true)

			return
		}
		l.state.Store(int32(SlotUnclaimed))
	}()

	for _, candidate := range l.SlotKeys() {
		acquired, err := l.slots.SetIfAbsent(ctx, candidate, l.cfg.Identity, l.cfg.SlotTTL)
		if err != nil {
			return "", false, fmt.Errorf("stagedpush: claim slot %s: %w", candidate, err)
		}
		if acquired {
			return candidate, true, nil
		}
	}

	return "", false, nil
}

// Renew extends the lease on key. A lease that expired unnoticed is taken
// back when still free; ErrSlotLost is returned when another worker owns it.
func (l *Leaser) Renew(ctx context.Context, key string) error {
	extended, err := l.slots.ExpireIfOwner(ctx, key, l.cfg.Identity, l.cfg.SlotTTL)
	if err != nil {
		return fmt.Errorf("stagedpush: renew slot %s: %w", key, err)
	}
	if extended {
		return nil
	}

	reacquired, err := l.slots.SetIfAbsent(ctx, key, l.cfg.Identity, l.cfg.SlotTTL)
	if err != nil {
		return fmt.Errorf("stagedpush: reacquire slot %s: %w", key, err)
	}
	if !reacquired {
		return fmt.Errorf("%w: %s", ErrSlotLost, key)
	}
	l.cfg.Logger.Warn("stagedpush slot expired before renewal, reacquired", "slot", key)

	return nil
}

// Keep renews key every SlotTTL/2 until ctx is done. Failed renewals are
// retried after the error retry interval; the slot is never given up here.
func (l *Leaser) Keep(ctx context.Context, key string) {
	interval := l.cfg.SlotTTL / 2
	wait := interval
	for {
		if sleep(ctx, wait) != nil {
			return
		}

		err := l.Renew(ctx, key)
		switch {
		case err == nil:
			wait = interval
		case ctx.Err() != nil:
			return
		case errors.Is(err, ErrSlotLost):
			l.cfg.Logger.Warn("stagedpush slot taken over by another worker", "slot", key)
			wait = interval
		default:
			l.cfg.Logger.Error("stagedpush slot renewal failed", "slot", key, "err", err)
			wait = l.cfg.ErrorRetryInterval
		}
	}
}

// Release deletes key if this worker still owns it. Finding another owner
// is expected after a TTL expiry and is not an error.
func (l *Leaser) Release(ctx context.Context, key string) (bool, error) {
	l.state.Store(int32(SlotReleasing))
	defer func() {
		l.setHeld("")
		l.state.Store(int32(SlotUnclaimed))
		l.cfg.Metrics.SetSlotHeld(false)
	}()

	released, err := l.slots.DeleteIfOwner(ctx, key, l.cfg.Identity)
	if err != nil {
		return false, fmt.Errorf("stagedpush: release slot %s: %w", key, err)
	}
	if !released {
		l.cfg.Logger.Debug("stagedpush slot no longer owned, nothing to release", "slot", key)

		return false, nil
	}
	l.cfg.Logger.Debug("stagedpush released slot", "slot", key)

	return true, nil
}

func (l *Leaser) setHeld(key string) {
	l.mu.Lock()
	l.held = key
	l.mu.Unlock()
}
