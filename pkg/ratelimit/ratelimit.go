// Package ratelimit implements the daily-quota and sliding-window
// enforcement engine shared by the proxy edge and the notification
// pipeline.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wisbric/cartographer/internal/apperr"
	"github.com/wisbric/cartographer/pkg/kvstore"
)

// DailyLimitKind distinguishes the three states a user's daily_limit column
// can take. Modeled as a sum type rather than a bare int so the NULL /
// unlimited (-1) / custom (k>0) distinction can never be collapsed by
// accident in calling code.
type DailyLimitKind int

const (
	DailyLimitDefault DailyLimitKind = iota
	DailyLimitUnlimited
	DailyLimitCustom
)

// DailyLimit is the tri-state daily_limit value for a single user.
type DailyLimit struct {
	kind  DailyLimitKind
	value int64 // only meaningful when kind == DailyLimitCustom
}

func Default() DailyLimit            { return DailyLimit{kind: DailyLimitDefault} }
func Unlimited() DailyLimit          { return DailyLimit{kind: DailyLimitUnlimited} }
func Custom(limit int64) DailyLimit  { return DailyLimit{kind: DailyLimitCustom, value: limit} }

// Kind reports which of the three states this value holds.
func (d DailyLimit) Kind() DailyLimitKind { return d.kind }

// CustomValue returns the custom limit and true, or (0, false) if this is
// not a DailyLimitCustom value.
func (d DailyLimit) CustomValue() (int64, bool) {
	if d.kind != DailyLimitCustom {
		return 0, false
	}
	return d.value, true
}

// UserRateLimit is the persisted row backing effective-limit resolution.
type UserRateLimit struct {
	UserID       string
	DailyLimit   DailyLimit
	IsRoleExempt bool
}

// Store persists and resolves UserRateLimit rows.
type Store interface {
	Get(ctx context.Context, userID string) (*UserRateLimit, error)
	Upsert(ctx context.Context, row UserRateLimit) error
}

// Engine enforces daily quotas (calendar-day counters) against the shared
// KV store. Notification throttling uses the separate in-memory
// SlidingWindow, not the Engine.
type Engine struct {
	kv             *kvstore.Store
	store          Store
	defaultLimit   int64
	exemptRoles    map[string]struct{}
	now            func() time.Time
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithClock overrides the time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds a rate-limit engine. exemptRoles lists roles that are
// always unlimited (e.g. "owner").
func NewEngine(kv *kvstore.Store, store Store, defaultLimit int64, exemptRoles []string, opts ...Option) *Engine {
	set := make(map[string]struct{}, len(exemptRoles))
	for _, r := range exemptRoles {
		set[r] = struct{}{}
	}

	e := &Engine{
		kv:           kv,
		store:        store,
		defaultLimit: defaultLimit,
		exemptRoles:  set,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) isExemptRole(role string) bool {
	_, ok := e.exemptRoles[role]
	return ok
}

// ResolveEffectiveLimit implements the effective-limit resolution
// algorithm: role-exemption first, then the persisted per-user override,
// falling back to the role decision if the store is unavailable.
func (e *Engine) ResolveEffectiveLimit(ctx context.Context, userID, role string) (DailyLimit, error) {
	if e.isExemptRole(role) {
		if err := e.store.Upsert(ctx, UserRateLimit{
			UserID:       userID,
			DailyLimit:   Unlimited(),
			IsRoleExempt: true,
		}); err != nil {
			// Still honor the exemption for this call even if persisting
			// the refreshed row failed.
			return Unlimited(), nil
		}
		return Unlimited(), nil
	}

	row, err := e.store.Get(ctx, userID)
	if err != nil {
		// DB absent or erroring: fall back to the role-based decision.
		return Default(), nil
	}

	switch row.DailyLimit.Kind() {
	case DailyLimitDefault:
		return Default(), nil
	case DailyLimitCustom:
		return row.DailyLimit, nil
	case DailyLimitUnlimited:
		if row.IsRoleExempt {
			// Role no longer qualifies for the exemption that produced
			// this unlimited row: revert to the default.
			if err := e.store.Upsert(ctx, UserRateLimit{UserID: userID, DailyLimit: Default()}); err != nil {
				return Default(), nil
			}
			return Default(), nil
		}
		return Unlimited(), nil
	default:
		return Default(), nil
	}
}

// CheckDailyQuota enforces a calendar-day counter for (service, userID,
// endpoint). It resolves the effective limit, allows unconditionally when
// unlimited, and otherwise atomically increments the day's counter and
// rejects with apperr.RateLimited once the count exceeds the limit.
func (e *Engine) CheckDailyQuota(ctx context.Context, service, userID, role, endpoint string) error {
	limit, err := e.ResolveEffectiveLimit(ctx, userID, role)
	if err != nil {
		return err
	}

	if limit.Kind() == DailyLimitUnlimited {
		return nil
	}

	effective := e.defaultLimit
	if v, ok := limit.CustomValue(); ok {
		effective = v
	}

	ttl := secondsUntilUTCMidnight(e.now())
	key := dailyQuotaKey(service, userID, endpoint, e.now())

	count, err := e.kv.IncrWithTTL(ctx, key, ttl)
	if err != nil {
		if errors.Is(err, kvstore.ErrUnavailable) {
			return apperr.Wrap(apperr.UpstreamUnavailable, "rate limit store unavailable", err)
		}
		return fmt.Errorf("ratelimit: checking daily quota: %w", err)
	}

	if count > effective {
		return apperr.New(apperr.RateLimited, fmt.Sprintf("daily limit exceeded for %s (%d/day)", endpoint, effective)).
			WithRetryAfter(int(ttl.Seconds()))
	}

	return nil
}

// QuotaStatus reports a user's current daily-quota consumption.
type QuotaStatus struct {
	Used            int64
	Limit           int64
	Unlimited       bool
	Remaining       int64
	ResetsInSeconds int64
}

// QuotaStatusFor returns the current usage snapshot without incrementing
// the counter.
func (e *Engine) QuotaStatusFor(ctx context.Context, service, userID, role, endpoint string) (QuotaStatus, error) {
	limit, err := e.ResolveEffectiveLimit(ctx, userID, role)
	if err != nil {
		return QuotaStatus{}, err
	}

	ttl := secondsUntilUTCMidnight(e.now())
	if limit.Kind() == DailyLimitUnlimited {
		return QuotaStatus{Unlimited: true, ResetsInSeconds: int64(ttl.Seconds())}, nil
	}

	effective := e.defaultLimit
	if v, ok := limit.CustomValue(); ok {
		effective = v
	}

	key := dailyQuotaKey(service, userID, endpoint, e.now())
	raw, err := e.kv.Get(ctx, key)
	used := int64(0)
	if err == nil {
		fmt.Sscanf(raw, "%d", &used)
	} else if !errors.Is(err, kvstore.ErrNotFound) {
		return QuotaStatus{}, fmt.Errorf("ratelimit: reading quota status: %w", err)
	}

	remaining := effective - used
	if remaining < 0 {
		remaining = 0
	}

	return QuotaStatus{
		Used:            used,
		Limit:           effective,
		Remaining:       remaining,
		ResetsInSeconds: int64(ttl.Seconds()),
	}, nil
}

// SetUserLimit upserts an administrator-assigned override.
func (e *Engine) SetUserLimit(ctx context.Context, userID string, limit int64) error {
	return e.store.Upsert(ctx, UserRateLimit{UserID: userID, DailyLimit: Custom(limit)})
}

// ResetUserToDefault clears any override, reverting the user to the system default.
func (e *Engine) ResetUserToDefault(ctx context.Context, userID string) error {
	return e.store.Upsert(ctx, UserRateLimit{UserID: userID, DailyLimit: Default()})
}

func dailyQuotaKey(service, userID, endpoint string, at time.Time) string {
	return fmt.Sprintf("rl:%s:%s:%s:%s", service, userID, endpoint, at.UTC().Format("2006-01-02"))
}

// secondsUntilUTCMidnight returns the time left until the UTC day rolls
// over, matching the UTC day boundary dailyQuotaKey bakes into the key
// itself. Using the process's local timezone here instead would let a
// request through after local midnight but before the key's UTC day
// actually rolls, or vice versa.
func secondsUntilUTCMidnight(now time.Time) time.Duration {
	now = now.UTC()
	tomorrow := now.AddDate(0, 0, 1)
	midnight := time.Date(tomorrow.Year(), tomorrow.Month(), tomorrow.Day(), 0, 0, 0, 0, time.UTC)
	d := midnight.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
