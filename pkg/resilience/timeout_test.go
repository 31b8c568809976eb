// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the circuit breaker, timeout and retry guards used
// around every tier call.
package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	kerrors "github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

func sleepFor(d time.Duration) func(context.Context) (string, error) {
	return func(ctx context.Context) (string, error) {
		select {
		case <-time.After(d):
			return "done", nil
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name        string
		duration    time.Duration
		sleepTime   time.Duration
		expectError bool
	}{
		{"fast operation", 1 * time.Second, 10 * time.Millisecond, false},
		{"slow operation", 50 * time.Millisecond, 200 * time.Millisecond, true},
		{"no timeout", 0, 50 * time.Millisecond, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := TimeoutConfig{Tier: tier.Code, Duration: tt.duration, Retryable: true}
			value, err := WithTimeout(context.Background(), config, sleepFor(tt.sleepTime))

			if tt.expectError {
				te, ok := kerrors.AsTierError(err)
				if !ok {
					t.Fatalf("expected TierError, got %v", err)
				}
				if te.Code() != kerrors.CodeTimeout {
					t.Errorf("expected CodeTimeout, got %v", te.Code())
				}
				if !te.Retryable() {
					t.Errorf("expected retryable flag from config")
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if value != "done" {
				t.Errorf("expected value done, got %q", value)
			}
		})
	}
}

func TestWithTimeoutIgnoringContext(t *testing.T) {
	config := TimeoutConfig{Tier: tier.Agentic, Duration: 20 * time.Millisecond}
	start := time.Now()
	_, err := WithTimeout(context.Background(), config, func(context.Context) (int, error) {
		time.Sleep(200 * time.Millisecond)
		return 1, nil
	})
	if !kerrors.HasCode(err, kerrors.CodeTimeout) {
		t.Fatalf("expected TIMEOUT, got %v", err)
	}
	if time.Since(start) > 150*time.Millisecond {
		t.Fatalf("timeout did not bound the wait")
	}
}

func TestWithTimeoutParentCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := WithTimeout(ctx, TimeoutConfig{Tier: tier.Human, Duration: time.Minute}, sleepFor(time.Second))
	te, ok := kerrors.AsTierError(err)
	if !ok || te.Code() != kerrors.CodeCancelled {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
	if te.Retryable() {
		t.Errorf("cancellation must not be retryable")
	}
	if te.Tier() != tier.Human {
		t.Errorf("expected human tier, got %s", te.Tier())
	}
}

func TestWithTimeoutAlreadyCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	_, err := WithTimeout(ctx, TimeoutConfig{Tier: tier.Code, Duration: time.Second}, func(context.Context) (int, error) {
		called = true
		return 0, nil
	})
	if called {
		t.Fatalf("fn must not run on a cancelled context")
	}
	if !kerrors.HasCode(err, kerrors.CodeCancelled) {
		t.Fatalf("expected CANCELLED, got %v", err)
	}
}

func TestWithTimeoutRecoversPanic(t *testing.T) {
	_, err := WithTimeout(context.Background(), TimeoutConfig{Tier: tier.Code, Duration: time.Second}, func(context.Context) (int, error) {
		panic("boom")
	})
	if !kerrors.HasCode(err, kerrors.CodeInternal) {
		t.Fatalf("expected INTERNAL_ERROR from panic, got %v", err)
	}
}

func TestWithTimeoutPassesErrorsThrough(t *testing.T) {
	raw := errors.New("tool crashed")
	_, err := WithTimeout(context.Background(), TimeoutConfig{Tier: tier.Code, Duration: time.Second}, func(context.Context) (int, error) {
		return 0, raw
	})
	if err != raw {
		t.Fatalf("expected raw error to pass through, got %v", err)
	}
}

func TestBreakerRegistry(t *testing.T) {
	registry := NewBreakerRegistry(
		CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute},
		WithTierBreakerConfig(tier.Human, CircuitBreakerConfig{FailureThreshold: 1}),
	)

	code := registry.Get(tier.Code, "")
	if code != registry.Get(tier.Code, "") {
		t.Fatalf("expected the same breaker instance per key")
	}
	if code.Name() != "code" {
		t.Errorf("unexpected breaker name %q", code.Name())
	}
	if code.Config().FailureThreshold != 2 {
		t.Errorf("expected default threshold 2")
	}

	human := registry.Get(tier.Human, "")
	if human.Config().FailureThreshold != 1 {
		t.Errorf("expected override threshold 1, got %d", human.Config().FailureThreshold)
	}
	if human.Config().ResetTimeout != time.Minute {
		t.Errorf("expected reset timeout inherited from defaults")
	}

	scoped := registry.Get(tier.Code, "resize-image")
	if scoped == code {
		t.Fatalf("expected a distinct breaker per target")
	}
	if scoped.Name() != "code/resize-image" {
		t.Errorf("unexpected scoped name %q", scoped.Name())
	}

	_ = human.Call(context.Background(), fail)
	if human.State() != StateOpen {
		t.Fatalf("expected human breaker open")
	}

	snapshot := registry.Snapshot()
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 breakers in snapshot, got %d", len(snapshot))
	}
	if snapshot[0].Name != "code" || snapshot[2].Name != "human" {
		t.Errorf("expected snapshot sorted by name, got %v", snapshot)
	}

	if got := registry.ForTier(tier.Code); len(got) != 2 || got[0] != code || got[1] != scoped {
		t.Errorf("expected both code breakers, got %d", len(got))
	}
	if got := registry.ForTier(tier.Agentic); len(got) != 0 {
		t.Errorf("expected no agentic breakers")
	}

	if !registry.Reset("human") {
		t.Fatalf("expected reset to find the human breaker")
	}
	if human.State() != StateClosed {
		t.Errorf("expected human breaker closed after reset")
	}
	if registry.Reset("missing") {
		t.Errorf("expected reset of unknown key to report false")
	}

	_ = human.Call(context.Background(), fail)
	registry.ResetAll()
	if human.State() != StateClosed {
		t.Errorf("expected ResetAll to close every breaker")
	}
}
