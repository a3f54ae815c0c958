package auth

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func TestLimiterWithinBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Consume(ctx, "rl:test", time.Minute, 3); err != nil {
			t.Fatalf("consume %d failed: %v", i+1, err)
		}
	}
}

func TestLimiterOverBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := limiter.Consume(ctx, "rl:test", time.Minute, 3); err != nil {
			t.Fatalf("consume %d failed: %v", i+1, err)
		}
	}
	err := limiter.Consume(ctx, "rl:test", time.Minute, 3)
	e := AsError(err)
	if e == nil || e.Status != http.StatusTooManyRequests {
		t.Fatalf("over-budget consume = %v, want 429", err)
	}
	if e.RetryAfter <= 0 || e.RetryAfter > 60 {
		t.Fatalf("retry-after = %d, want remaining window", e.RetryAfter)
	}
}

func TestLimiterWindowReset(t *testing.T) {
	mr, rdb := newTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_ = limiter.Consume(ctx, "rl:test", time.Minute, 3)
	}
	if err := limiter.Consume(ctx, "rl:test", time.Minute, 3); err == nil {
		t.Fatal("bucket should be over budget")
	}

	mr.FastForward(61 * time.Second)

	if err := limiter.Consume(ctx, "rl:test", time.Minute, 3); err != nil {
		t.Fatalf("consume after window reset failed: %v", err)
	}
}

func TestLimiterKeysIsolated(t *testing.T) {
	_, rdb := newTestRedis(t)
	limiter := NewLimiter(rdb)
	ctx := context.Background()

	if err := limiter.Consume(ctx, "rl:a", time.Minute, 1); err != nil {
		t.Fatalf("consume a failed: %v", err)
	}
	if err := limiter.Consume(ctx, "rl:a", time.Minute, 1); err == nil {
		t.Fatal("bucket a should be over budget")
	}
	// A different bucket is unaffected.
	if err := limiter.Consume(ctx, "rl:b", time.Minute, 1); err != nil {
		t.Fatalf("consume b failed: %v", err)
	}
}
