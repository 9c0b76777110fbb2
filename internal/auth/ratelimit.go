package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wisbric/cartographer/pkg/kvstore"
)

// RateLimiter limits login attempts per IP using the shared kvstore's
// atomic incr-with-ttl counter.
type RateLimiter struct {
	kv         *kvstore.Store
	maxAttempt int
	window     time.Duration
}

// NewRateLimiter creates a rate limiter. maxAttempt is the max failed attempts
// allowed per IP within the given window.
func NewRateLimiter(kv *kvstore.Store, maxAttempt int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		kv:         kv,
		maxAttempt: maxAttempt,
		window:     window,
	}
}

// RateLimitResult holds the result of a rate limit check.
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	RetryAt   time.Time
}

// Check returns whether the given IP is allowed to attempt a login.
func (rl *RateLimiter) Check(ctx context.Context, ip string) (*RateLimitResult, error) {
	key := fmt.Sprintf("login_ratelimit:%s", ip)

	raw, err := rl.kv.Get(ctx, key)
	if err != nil && !errors.Is(err, kvstore.ErrNotFound) {
		return nil, fmt.Errorf("checking rate limit: %w", err)
	}

	count := 0
	if raw != "" {
		fmt.Sscanf(raw, "%d", &count)
	}

	if count >= rl.maxAttempt {
		ttl, err := rl.kv.TTL(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("getting TTL: %w", err)
		}
		return &RateLimitResult{
			Allowed:   false,
			Remaining: 0,
			RetryAt:   time.Now().Add(ttl),
		}, nil
	}

	return &RateLimitResult{
		Allowed:   true,
		Remaining: rl.maxAttempt - count,
	}, nil
}

// Record records a failed login attempt for the given IP.
func (rl *RateLimiter) Record(ctx context.Context, ip string) error {
	key := fmt.Sprintf("login_ratelimit:%s", ip)
	if _, err := rl.kv.IncrWithTTL(ctx, key, rl.window); err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}
	return nil
}

// Reset clears the rate limit counter for a given IP (on successful login).
func (rl *RateLimiter) Reset(ctx context.Context, ip string) error {
	key := fmt.Sprintf("login_ratelimit:%s", ip)
	return rl.kv.Delete(ctx, key)
}
