package memory

import (
	"context"
	"sync"
	"time"

	"github.com/velmie/stagedpush"
)

type lease struct {
	owner     string
	expiresAt time.Time
}

// SlotStore keeps TTL-bound keys in memory.
type SlotStore struct {
	clock stagedpush.Clock

	mu     sync.Mutex
	leases map[string]lease
}

var _ stagedpush.SlotStore = (*SlotStore)(nil)

// NewSlotStore creates an empty slot store. A nil clock uses the system clock.
func NewSlotStore(clock stagedpush.Clock) *SlotStore {
	if clock == nil {
		clock = stagedpush.SystemClock{}
	}

	return &SlotStore{clock: clock, leases: make(map[string]lease)}
}

// SetIfAbsent implements stagedpush.SlotStore.
func (s *SlotStore) SetIfAbsent(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	if _, ok := s.live(key, now); ok {
		return false, nil
	}
	s.leases[key] = lease{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

// ExpireIfOwner implements stagedpush.SlotStore.
func (s *SlotStore) ExpireIfOwner(_ context.Context, key, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	current, ok := s.live(key, now)
	if !ok || current.owner != owner {
		return false, nil
	}
	s.leases[key] = lease{owner: owner, expiresAt: now.Add(ttl)}

	return true, nil
}

// DeleteIfOwner implements stagedpush.SlotStore.
func (s *SlotStore) DeleteIfOwner(_ context.Context, key, owner string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.live(key, s.clock.Now())
	if !ok || current.owner != owner {
		return false, nil
	}
	delete(s.leases, key)

	return true, nil
}

// Owner returns the current owner of key, if the lease is live.
func (s *SlotStore) Owner(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.live(key, s.clock.Now())

	return current.owner, ok
}

func (s *SlotStore) live(key string, now time.Time) (lease, bool) {
	current, ok := s.leases[key]
	if !ok {
		return lease{}, false
	}
	if !now.Before(current.expiresAt) {
		delete(s.leases, key)

		return lease{}, false
	}

	return current, true
}
