package rate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestLimiter(t *testing.T, cfg Config) (*miniredis.Miniredis, *Limiter) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return mr, New(rdb, cfg)
}

func TestLoginBudget(t *testing.T) {
	cfg := Config{MaxLoginAttempts: 3, LoginCooldownDuration: 15 * time.Minute}
	mr, limiter := newTestLimiter(t, cfg)
	defer mr.Close()

	ctx := context.Background()

	for i := 0; i < cfg.MaxLoginAttempts; i++ {
		if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("check %d failed: %v", i, err)
		}
		if err := limiter.IncrementLogin(ctx, "alice", ""); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}

	err := limiter.IncrementLogin(ctx, "alice", "")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if err := limiter.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected check to reject, got %v", err)
	}

	// Another identifier is unaffected.
	if err := limiter.CheckLogin(ctx, "bob", ""); err != nil {
		t.Fatalf("expected bob unaffected, got %v", err)
	}
}

func TestResetLoginClearsCounter(t *testing.T) {
	cfg := Config{MaxLoginAttempts: 2, LoginCooldownDuration: 15 * time.Minute}
	mr, limiter := newTestLimiter(t, cfg)
	defer mr.Close()

	ctx := context.Background()

	for i := 0; i < cfg.MaxLoginAttempts+1; i++ {
		_ = limiter.IncrementLogin(ctx, "alice", "")
	}
	if err := limiter.CheckLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected limited before reset, got %v", err)
	}

	if err := limiter.ResetLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("ResetLogin failed: %v", err)
	}
	if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected clean slate after reset, got %v", err)
	}
}

func TestIPThrottleOnlyWhenEnabled(t *testing.T) {
	cfg := Config{EnableIPThrottle: true, MaxLoginAttempts: 2, LoginCooldownDuration: 15 * time.Minute}
	mr, limiter := newTestLimiter(t, cfg)
	defer mr.Close()

	ctx := context.Background()

	// Different usernames, same source address.
	for i := 0; i < cfg.MaxLoginAttempts; i++ {
		if err := limiter.IncrementLogin(ctx, "alice", "203.0.113.9"); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}
	err := limiter.IncrementLogin(ctx, "bob", "203.0.113.9")
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected shared IP budget exhausted, got %v", err)
	}

	// With the throttle off the same pattern passes.
	cfg.EnableIPThrottle = false
	mr2, limiter2 := newTestLimiter(t, cfg)
	defer mr2.Close()

	for i := 0; i < cfg.MaxLoginAttempts; i++ {
		if err := limiter2.IncrementLogin(ctx, "alice", "203.0.113.9"); err != nil {
			t.Fatalf("increment %d failed: %v", i, err)
		}
	}
	if err := limiter2.IncrementLogin(ctx, "bob", "203.0.113.9"); err != nil {
		t.Fatalf("expected per-user budget only, got %v", err)
	}
}

func TestFixedWindowExpiry(t *testing.T) {
	cfg := Config{MaxLoginAttempts: 1, LoginCooldownDuration: time.Minute}
	mr, limiter := newTestLimiter(t, cfg)
	defer mr.Close()

	ctx := context.Background()

	_ = limiter.IncrementLogin(ctx, "alice", "")
	if err := limiter.IncrementLogin(ctx, "alice", ""); !errors.Is(err, ErrRateLimited) {
		t.Fatal("expected limited within window")
	}

	// The window TTL was set on the first hit only; once it elapses the
	// counter is gone.
	mr.FastForward(time.Minute + time.Second)
	if err := limiter.CheckLogin(ctx, "alice", ""); err != nil {
		t.Fatalf("expected fresh window, got %v", err)
	}
}

func TestEnforceFlowBudget(t *testing.T) {
	cfg := Config{MaxLoginAttempts: 5, LoginCooldownDuration: 15 * time.Minute}
	mr, limiter := newTestLimiter(t, cfg)
	defer mr.Close()

	ctx := context.Background()

	const maxAttempts = 3
	for i := 0; i < maxAttempts; i++ {
		if err := limiter.EnforceFlow(ctx, "pwreset", "alice@example.com", maxAttempts, 15*time.Minute); err != nil {
			t.Fatalf("flow call %d failed: %v", i, err)
		}
	}

	err := limiter.EnforceFlow(ctx, "pwreset", "alice@example.com", maxAttempts, 15*time.Minute)
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// Flows are isolated by name and key.
	if err := limiter.EnforceFlow(ctx, "verifresend", "alice@example.com", maxAttempts, 15*time.Minute); err != nil {
		t.Fatalf("expected other flow unaffected, got %v", err)
	}
}

func TestGetLoginAttempts(t *testing.T) {
	cfg := Config{MaxLoginAttempts: 5, LoginCooldownDuration: 15 * time.Minute}
	mr, limiter := newTestLimiter(t, cfg)
	defer mr.Close()

	ctx := context.Background()

	count, err := limiter.GetLoginAttempts(ctx, "alice")
	if err != nil || count != 0 {
		t.Fatalf("expected zero for missing key, got %d err=%v", count, err)
	}

	_ = limiter.IncrementLogin(ctx, "alice", "")
	_ = limiter.IncrementLogin(ctx, "alice", "")

	count, err = limiter.GetLoginAttempts(ctx, "alice")
	if err != nil || count != 2 {
		t.Fatalf("expected 2, got %d err=%v", count, err)
	}
}
