package redis

import (
	"context"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/velmie/stagedpush"
)

var renewScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// SlotStore keeps slot leases in Redis.
type SlotStore struct {
	client goredis.UniversalClient
}

var _ stagedpush.SlotStore = (*SlotStore)(nil)

// NewSlotStore wraps client.
func NewSlotStore(client goredis.UniversalClient) *SlotStore {
	if client == nil {
		panic("stagedpush redis: nil client")
	}

	return &SlotStore{client: client}
}

// SetIfAbsent is SET key owner NX PX ttl.
func (s *SlotStore) SetIfAbsent(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, owner, ttl).Result()
}

// ExpireIfOwner resets the TTL only while key still holds owner.
func (s *SlotStore) ExpireIfOwner(ctx context.Context, key, owner string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.client, []string{key}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}

// DeleteIfOwner deletes key only while it still holds owner.
func (s *SlotStore) DeleteIfOwner(ctx context.Context, key, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client, []string{key}, owner).Int64()
	if err != nil {
		return false, err
	}

	return n == 1, nil
}
