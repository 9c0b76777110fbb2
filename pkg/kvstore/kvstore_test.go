package kvstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb)
}

func TestIncrWithTTLSetsExpiryOnlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v, err := s.IncrWithTTL(ctx, "rl:user:1", 2*time.Second)
	if err != nil {
		t.Fatalf("IncrWithTTL: %v", err)
	}
	if v != 1 {
		t.Fatalf("first increment = %d, want 1", v)
	}

	v, err = s.IncrWithTTL(ctx, "rl:user:1", 2*time.Second)
	if err != nil {
		t.Fatalf("IncrWithTTL: %v", err)
	}
	if v != 2 {
		t.Fatalf("second increment = %d, want 2", v)
	}
}

func TestGetSetDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Get on missing key = %v, want ErrNotFound", err)
	}

	if err := s.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, err := s.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("Get = (%q, %v), want (v, nil)", v, err)
	}

	if err := s.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get(ctx, "k"); err != ErrNotFound {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestHashAndSetOps(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.HIncrBy(ctx, "usage:backend:GET:snapshots", "request_count", 1); err != nil {
		t.Fatalf("HIncrBy: %v", err)
	}
	n, err := s.HIncrBy(ctx, "usage:backend:GET:snapshots", "request_count", 1)
	if err != nil {
		t.Fatalf("HIncrBy: %v", err)
	}
	if n != 2 {
		t.Fatalf("request_count = %d, want 2", n)
	}

	ok, err := s.HSetNX(ctx, "usage:backend:GET:snapshots", "first_accessed", "2026-01-01")
	if err != nil {
		t.Fatalf("HSetNX: %v", err)
	}
	if !ok {
		t.Fatal("HSetNX on fresh field = false, want true")
	}
	ok, err = s.HSetNX(ctx, "usage:backend:GET:snapshots", "first_accessed", "2026-01-02")
	if err != nil {
		t.Fatalf("HSetNX: %v", err)
	}
	if ok {
		t.Fatal("HSetNX on existing field = true, want false")
	}

	v, err := s.HGet(ctx, "usage:backend:GET:snapshots", "first_accessed")
	if err != nil || v != "2026-01-01" {
		t.Fatalf("HGet = (%q, %v), want (2026-01-01, nil)", v, err)
	}
	if _, err := s.HGet(ctx, "usage:backend:GET:snapshots", "missing"); err != ErrNotFound {
		t.Fatalf("HGet on missing field = %v, want ErrNotFound", err)
	}

	if err := s.SAdd(ctx, "usage:services", "backend-service"); err != nil {
		t.Fatalf("SAdd: %v", err)
	}
	members, err := s.SMembers(ctx, "usage:services")
	if err != nil || len(members) != 1 {
		t.Fatalf("SMembers = (%v, %v), want one member", members, err)
	}
	if err := s.SRem(ctx, "usage:services", "backend-service"); err != nil {
		t.Fatalf("SRem: %v", err)
	}
	if isMember, err := s.SIsMember(ctx, "usage:services", "backend-service"); err != nil || isMember {
		t.Fatalf("SIsMember after SRem = (%v, %v), want (false, nil)", isMember, err)
	}
}

func TestPublishSubscribe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	sub := s.Subscribe(ctx, "metrics:topology")
	defer sub.Close()

	// miniredis delivers synchronously once the subscription is registered.
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("Receive (subscribe confirmation): %v", err)
	}

	if err := s.Publish(ctx, "metrics:topology", []byte(`{"event_type":"topology_update"}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg, err := sub.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage: %v", err)
	}
	if msg.Payload != `{"event_type":"topology_update"}` {
		t.Fatalf("payload = %q, want topology_update envelope", msg.Payload)
	}
}
