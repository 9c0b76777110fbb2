package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/pkg/kvstore"
)

type memStore struct {
	rows map[string]UserRateLimit
}

func newMemStore() *memStore { return &memStore{rows: make(map[string]UserRateLimit)} }

func (m *memStore) Get(_ context.Context, userID string) (*UserRateLimit, error) {
	row, ok := m.rows[userID]
	if !ok {
		return &UserRateLimit{UserID: userID, DailyLimit: Default()}, nil
	}
	return &row, nil
}

func (m *memStore) Upsert(_ context.Context, row UserRateLimit) error {
	m.rows[row.UserID] = row
	return nil
}

func newTestEngine(t *testing.T, defaultLimit int64, exempt []string) (*Engine, *memStore) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := newMemStore()
	kv := kvstore.New(rdb)
	return NewEngine(kv, store, defaultLimit, exempt), store
}

func TestResolveEffectiveLimitRoleExempt(t *testing.T) {
	engine, store := newTestEngine(t, 100, []string{"owner"})

	limit, err := engine.ResolveEffectiveLimit(context.Background(), "u1", "owner")
	if err != nil {
		t.Fatalf("ResolveEffectiveLimit: %v", err)
	}
	if limit.Kind() != DailyLimitUnlimited {
		t.Fatalf("kind = %v, want unlimited", limit.Kind())
	}

	row := store.rows["u1"]
	if row.DailyLimit.Kind() != DailyLimitUnlimited || !row.IsRoleExempt {
		t.Fatalf("persisted row = %+v, want unlimited+role-exempt", row)
	}
}

func TestResolveEffectiveLimitRevertsStaleExemption(t *testing.T) {
	engine, store := newTestEngine(t, 50, []string{"owner"})
	store.rows["u2"] = UserRateLimit{UserID: "u2", DailyLimit: Unlimited(), IsRoleExempt: true}

	limit, err := engine.ResolveEffectiveLimit(context.Background(), "u2", "member")
	if err != nil {
		t.Fatalf("ResolveEffectiveLimit: %v", err)
	}
	if limit.Kind() != DailyLimitDefault {
		t.Fatalf("kind = %v, want default after exemption revoked", limit.Kind())
	}
}

func TestResolveEffectiveLimitCustom(t *testing.T) {
	engine, store := newTestEngine(t, 50, nil)
	store.rows["u3"] = UserRateLimit{UserID: "u3", DailyLimit: Custom(7)}

	limit, err := engine.ResolveEffectiveLimit(context.Background(), "u3", "member")
	if err != nil {
		t.Fatalf("ResolveEffectiveLimit: %v", err)
	}
	v, ok := limit.CustomValue()
	if !ok || v != 7 {
		t.Fatalf("CustomValue() = (%d, %v), want (7, true)", v, ok)
	}
}

func TestCheckDailyQuotaRejectsOverLimit(t *testing.T) {
	engine, _ := newTestEngine(t, 2, nil)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if err := engine.CheckDailyQuota(ctx, "svc", "u4", "member", "chat"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}

	err := engine.CheckDailyQuota(ctx, "svc", "u4", "member", "chat")
	if apperr.KindOf(err) != apperr.RateLimited {
		t.Fatalf("error kind = %v, want RateLimited", apperr.KindOf(err))
	}
}

func TestCheckDailyQuotaUnlimitedNeverIncrements(t *testing.T) {
	engine, store := newTestEngine(t, 1, nil)
	store.rows["u5"] = UserRateLimit{UserID: "u5", DailyLimit: Unlimited()}
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if err := engine.CheckDailyQuota(ctx, "svc", "u5", "member", "chat"); err != nil {
			t.Fatalf("call %d: unexpected error: %v", i, err)
		}
	}
}

func TestSlidingWindowAllow(t *testing.T) {
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w := NewSlidingWindow(time.Hour)
	w.now = func() time.Time { return fixed }

	for i := 0; i < 3; i++ {
		if !w.Allow("channel:1", 3) {
			t.Fatalf("call %d should be allowed", i)
		}
	}
	if w.Allow("channel:1", 3) {
		t.Fatal("4th call should be denied at limit 3")
	}
}
