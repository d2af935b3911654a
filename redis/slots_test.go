package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, goredis.UniversalClient) {
	t.Helper()

	srv := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: srv.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	return srv, client
}

func TestSlotStoreSetIfAbsent(t *testing.T) {
	srv, client := newTestClient(t)
	store := NewSlotStore(client)
	ctx := context.Background()

	ok, err := store.SetIfAbsent(ctx, "slot:0", "a", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected first set to win, got %v %v", ok, err)
	}
	ok, err = store.SetIfAbsent(ctx, "slot:0", "b", 30*time.Second)
	if err != nil || ok {
		t.Fatalf("expected second set to lose, got %v %v", ok, err)
	}
	if got, _ := srv.Get("slot:0"); got != "a" {
		t.Fatalf("expected owner a, got %q", got)
	}
	if ttl := srv.TTL("slot:0"); ttl != 30*time.Second {
		t.Fatalf("expected 30s ttl, got %s", ttl)
	}
}

func TestSlotStoreExpireIfOwner(t *testing.T) {
	srv, client := newTestClient(t)
	store := NewSlotStore(client)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "slot:0", "a", 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	srv.FastForward(8 * time.Second)

	ok, err := store.ExpireIfOwner(ctx, "slot:0", "a", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("expected owner renewal, got %v %v", ok, err)
	}
	if ttl := srv.TTL("slot:0"); ttl != 10*time.Second {
		t.Fatalf("expected ttl reset, got %s", ttl)
	}

	ok, err = store.ExpireIfOwner(ctx, "slot:0", "b", time.Hour)
	if err != nil || ok {
		t.Fatalf("expected renewal by non-owner to fail, got %v %v", ok, err)
	}
	if ttl := srv.TTL("slot:0"); ttl != 10*time.Second {
		t.Fatalf("non-owner changed the ttl to %s", ttl)
	}
}

func TestSlotStoreExpiredKeyIsFree(t *testing.T) {
	srv, client := newTestClient(t)
	store := NewSlotStore(client)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "slot:0", "a", time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	srv.FastForward(2 * time.Second)

	if ok, _ := store.ExpireIfOwner(ctx, "slot:0", "a", time.Second); ok {
		t.Fatalf("expected renewal of expired key to fail")
	}
	if ok, err := store.SetIfAbsent(ctx, "slot:0", "b", time.Second); err != nil || !ok {
		t.Fatalf("expected expired slot to be claimable, got %v %v", ok, err)
	}
}

func TestSlotStoreDeleteIfOwner(t *testing.T) {
	srv, client := newTestClient(t)
	store := NewSlotStore(client)
	ctx := context.Background()

	if _, err := store.SetIfAbsent(ctx, "slot:0", "a", time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	ok, err := store.DeleteIfOwner(ctx, "slot:0", "b")
	if err != nil || ok {
		t.Fatalf("expected delete by non-owner to be skipped, got %v %v", ok, err)
	}
	if !srv.Exists("slot:0") {
		t.Fatalf("non-owner deleted the slot")
	}

	ok, err = store.DeleteIfOwner(ctx, "slot:0", "a")
	if err != nil || !ok {
		t.Fatalf("expected owner delete, got %v %v", ok, err)
	}
	if srv.Exists("slot:0") {
		t.Fatalf("expected slot to be gone")
	}
}
