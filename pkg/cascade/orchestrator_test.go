// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

type stubExecutor struct {
	calls atomic.Int32
	fn    func(ctx context.Context, req Request) (any, error)
}

func (s *stubExecutor) Execute(ctx context.Context, req Request) (any, error) {
	s.calls.Add(1)
	return s.fn(ctx, req)
}

func succeedWith(v any) *stubExecutor {
	return &stubExecutor{fn: func(context.Context, Request) (any, error) { return v, nil }}
}

func failWith(code errors.ErrorCode, retryable bool) *stubExecutor {
	return &stubExecutor{fn: func(_ context.Context, req Request) (any, error) {
		return nil, errors.New(req.Tier, code, retryable, "tier failed", nil)
	}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T, execs map[tier.Name]*stubExecutor, opts ...Option) *Orchestrator {
	t.Helper()
	all := []Option{WithLogger(quietLogger())}
	for name, e := range execs {
		all = append(all, WithExecutor(name, e))
	}
	all = append(all, opts...)
	o, err := New(all...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

var summarize = FunctionDefinition{ID: "summarize", Name: "Summarize"}

func TestCascadeStopsAtFirstSuccess(t *testing.T) {
	code := succeedWith("from code")
	others := map[tier.Name]*stubExecutor{
		tier.Generative: succeedWith("gen"),
		tier.Agentic:    succeedWith("agent"),
		tier.Human:      succeedWith("human"),
	}
	execs := map[tier.Name]*stubExecutor{tier.Code: code}
	for k, v := range others {
		execs[k] = v
	}
	o := newTestOrchestrator(t, execs)

	result, err := o.Execute(context.Background(), summarize, map[string]any{"text": "hi"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded || result.TierUsed != tier.Code {
		t.Fatalf("expected success on code, got %+v", result)
	}
	if len(result.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(result.Attempts))
	}
	if result.Value != "from code" {
		t.Errorf("unexpected value %v", result.Value)
	}
	for name, e := range others {
		if e.calls.Load() != 0 {
			t.Errorf("%s executor should not run", name)
		}
	}
	if result.RunID == "" {
		t.Errorf("expected a run id")
	}
}

func TestCascadeExhaustion(t *testing.T) {
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code:       failWith(errors.CodeExecutionFailed, true),
		tier.Generative: failWith(errors.CodeRateLimited, true),
		tier.Agentic:    failWith(errors.CodeBudgetExceeded, false),
		tier.Human:      failWith(errors.CodeExecutionFailed, false),
	})

	result, err := o.Execute(context.Background(), summarize, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded {
		t.Fatalf("expected exhaustion")
	}
	want := []tier.Name{tier.Code, tier.Generative, tier.Agentic, tier.Human}
	if len(result.Attempts) != len(want) {
		t.Fatalf("expected %d attempts, got %d", len(want), len(result.Attempts))
	}
	for i, a := range result.Attempts {
		if a.Tier != want[i] {
			t.Errorf("attempt %d: expected %s, got %s", i, want[i], a.Tier)
		}
		if a.Outcome != OutcomeFailure || a.Error == nil {
			t.Errorf("attempt %d: expected failure with error", i)
		}
		if a.Tries != 1 {
			t.Errorf("attempt %d: expected 1 try, got %d", i, a.Tries)
		}
	}
	if result.Attempts[2].Error.Code() != errors.CodeBudgetExceeded {
		t.Errorf("expected agentic BUDGET_EXCEEDED, got %s", result.Attempts[2].Error.Code())
	}
	if len(result.Errors()) != 4 {
		t.Errorf("expected 4 errors, got %d", len(result.Errors()))
	}
	if result.TierUsed != "" || result.Value != nil {
		t.Errorf("exhausted result must not carry a tier or value")
	}
}

func TestCascadeValidationShortCircuit(t *testing.T) {
	code := succeedWith("ok")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code})

	def := FunctionDefinition{ID: "resize", Required: []string{"image"}}
	tests := []struct {
		name    string
		def     FunctionDefinition
		payload any
	}{
		{"missing field", def, map[string]any{"width": 10}},
		{"not an object", def, "image.png"},
		{"empty id", FunctionDefinition{}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := o.Execute(context.Background(), tt.def, tt.payload)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result.Attempts) != 1 {
				t.Fatalf("expected a single attempt, got %d", len(result.Attempts))
			}
			a := result.Attempts[0]
			if a.Tier != tier.Cascade {
				t.Errorf("expected cascade tier, got %s", a.Tier)
			}
			if a.Error.Code() != errors.CodeValidationFailed {
				t.Errorf("expected VALIDATION_FAILED, got %s", a.Error.Code())
			}
			if a.Tries != 0 {
				t.Errorf("expected no tries, got %d", a.Tries)
			}
		})
	}
	if code.calls.Load() != 0 {
		t.Fatalf("no executor may run on validation failure")
	}
	if n := len(o.Breakers().Snapshot()); n != 0 {
		t.Fatalf("validation must not touch breakers, found %d", n)
	}
}

func TestCascadeCustomValidator(t *testing.T) {
	code := succeedWith("ok")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code},
		WithValidator(func(_ FunctionDefinition, payload any) error {
			if payload == nil {
				return goerrors.New("payload is required")
			}
			return nil
		}))

	result, _ := o.Execute(context.Background(), summarize, nil)
	if result.Succeeded || result.Attempts[0].Error.Code() != errors.CodeValidationFailed {
		t.Fatalf("expected VALIDATION_FAILED, got %+v", result.Attempts)
	}
	result, _ = o.Execute(context.Background(), summarize, "text")
	if !result.Succeeded {
		t.Fatalf("expected success with payload")
	}
}

func TestCascadeValidatorTierErrorIsRestamped(t *testing.T) {
	code := succeedWith("ok")
	rejected := errors.New(tier.Agentic, errors.CodeBudgetExceeded, true, "payload too large", nil)
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code},
		WithValidator(func(FunctionDefinition, any) error { return rejected }))

	result, err := o.Execute(context.Background(), summarize, "text")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Succeeded || len(result.Attempts) != 1 {
		t.Fatalf("expected a single rejected attempt, got %+v", result.Attempts)
	}
	got := result.Attempts[0].Error
	if got.Tier() != tier.Cascade || got.Code() != errors.CodeValidationFailed || got.Retryable() {
		t.Errorf("expected cascade VALIDATION_FAILED non-retryable, got %v", got)
	}
	if got.Message() != "payload too large" || got.Cause() != rejected {
		t.Errorf("expected the validator error as cause, got %v", got)
	}
	if code.calls.Load() != 0 {
		t.Errorf("no executor should run after a validation failure")
	}
}

func TestCascadeNilTierErrorEscalates(t *testing.T) {
	code := &stubExecutor{fn: func(context.Context, Request) (any, error) {
		var te *errors.TierError
		return nil, te
	}}
	gen := succeedWith("gen")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code, tier.Generative: gen})

	result, err := o.Execute(context.Background(), summarize, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded || result.TierUsed != tier.Generative {
		t.Fatalf("expected escalation to generative, got %+v", result)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	first := result.Attempts[0]
	if first.Outcome != OutcomeFailure || first.Error == nil {
		t.Fatalf("expected a failed code attempt, got %+v", first)
	}
	if first.Error.Tier() != tier.Code || first.Error.Code() != errors.CodeInternal {
		t.Errorf("expected code INTERNAL_ERROR, got %v", first.Error)
	}
	stats := o.Breakers().Get(tier.Code, "").Stats()
	if stats.Failures != 1 {
		t.Errorf("expected the breaker to count the failure, got %d", stats.Failures)
	}
}

func TestExecuteFunctionNotFound(t *testing.T) {
	catalog, err := NewCatalog(summarize)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	code := succeedWith("ok")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code}, WithCatalog(catalog))

	result, err := o.ExecuteFunction(context.Background(), "translate", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Error.Code() != errors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %+v", result.Attempts)
	}
	if result.Attempts[0].Tier != tier.Cascade {
		t.Errorf("expected cascade tier")
	}
	if code.calls.Load() != 0 {
		t.Fatalf("executor must not run for unknown function")
	}

	result, err = o.ExecuteFunction(context.Background(), "summarize", nil)
	if err != nil || !result.Succeeded {
		t.Fatalf("expected catalog function to run, got %v %+v", err, result)
	}
}

func TestCascadeTimeoutEscalates(t *testing.T) {
	slow := &stubExecutor{fn: func(context.Context, Request) (any, error) {
		time.Sleep(300 * time.Millisecond)
		return "late", nil
	}}
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code:       slow,
		tier.Generative: succeedWith("gen"),
	})

	result, err := o.Execute(context.Background(), summarize, nil, WithTimeout(tier.Code, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Succeeded || result.TierUsed != tier.Generative {
		t.Fatalf("expected escalation to generative, got %+v", result)
	}
	first := result.Attempts[0]
	if first.Error.Code() != errors.CodeTimeout {
		t.Fatalf("expected TIMEOUT, got %s", first.Error.Code())
	}
	if !first.Error.Retryable() {
		t.Errorf("code tier timeouts are retryable")
	}
	if first.Duration >= 300*time.Millisecond {
		t.Errorf("timeout did not bound the attempt: %s", first.Duration)
	}
}

func TestHumanTimeoutNotRetryable(t *testing.T) {
	waiting := &stubExecutor{fn: func(ctx context.Context, _ Request) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Human: waiting})

	result, _ := o.Execute(context.Background(), summarize, nil, WithTimeouts(map[tier.Name]time.Duration{
		tier.Human: 20 * time.Millisecond,
	}))
	if len(result.Attempts) != 1 {
		t.Fatalf("expected 1 attempt, got %d", len(result.Attempts))
	}
	e := result.Attempts[0].Error
	if e.Code() != errors.CodeTimeout || e.Retryable() {
		t.Fatalf("expected non-retryable TIMEOUT, got %v", e)
	}
}

func TestCascadeSkipsOpenBreaker(t *testing.T) {
	code := failWith(errors.CodeExecutionFailed, true)
	gen := succeedWith("gen")
	registry := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     time.Hour,
	})
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code:       code,
		tier.Generative: gen,
	}, WithBreakers(registry))

	first, _ := o.Execute(context.Background(), summarize, nil)
	if !first.Succeeded || code.calls.Load() != 1 {
		t.Fatalf("expected first run to try code once and succeed on generative")
	}
	if registry.Get(tier.Code, "").State() != resilience.StateOpen {
		t.Fatalf("expected code breaker open")
	}

	second, _ := o.Execute(context.Background(), summarize, nil)
	if code.calls.Load() != 1 {
		t.Fatalf("open breaker must not invoke the executor")
	}
	skipped := second.Attempts[0]
	if skipped.Tier != tier.Code || skipped.Outcome != OutcomeFailure {
		t.Fatalf("expected a failed code attempt, got %+v", skipped)
	}
	if !skipped.Error.Retryable() || !resilience.IsCircuitOpen(skipped.Error) {
		t.Errorf("expected retryable circuit-open error, got %v", skipped.Error)
	}
	if skipped.Tries != 0 {
		t.Errorf("expected 0 tries, got %d", skipped.Tries)
	}
	if !second.Succeeded || second.TierUsed != tier.Generative {
		t.Errorf("expected escalation past the open breaker")
	}
}

func TestCascadeBreakerScopeTarget(t *testing.T) {
	registry := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Hour})
	code := &stubExecutor{fn: func(_ context.Context, req Request) (any, error) {
		if req.Function.ID == "broken" {
			return nil, errors.New(tier.Code, errors.CodeExecutionFailed, true, "broken", nil)
		}
		return "ok", nil
	}}
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code},
		WithBreakers(registry), WithBreakerScope(ScopeTarget))

	_, _ = o.Execute(context.Background(), FunctionDefinition{ID: "broken"}, nil)
	result, _ := o.Execute(context.Background(), FunctionDefinition{ID: "healthy"}, nil)
	if !result.Succeeded {
		t.Fatalf("a broken target must not open the breaker of another target")
	}
	if _, ok := registry.Lookup("code/broken"); !ok {
		t.Errorf("expected per-target breaker code/broken")
	}
}

func TestCascadeCancellationStopsEscalation(t *testing.T) {
	started := make(chan struct{})
	blocking := &stubExecutor{fn: func(ctx context.Context, _ Request) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	agentic := succeedWith("agent")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code:       failWith(errors.CodeExecutionFailed, true),
		tier.Generative: blocking,
		tier.Agentic:    agentic,
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-started
		cancel()
	}()

	result, err := o.Execute(ctx, summarize, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attempts) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(result.Attempts))
	}
	last := result.Attempts[1]
	if last.Tier != tier.Generative || last.Error.Code() != errors.CodeCancelled || last.Error.Retryable() {
		t.Fatalf("expected non-retryable CANCELLED on generative, got %v", last.Error)
	}
	if !result.Cancelled() {
		t.Errorf("expected result to report cancellation")
	}
	if agentic.calls.Load() != 0 {
		t.Errorf("cancellation must stop escalation")
	}
	if st := o.Breakers().Get(tier.Generative, "").Stats(); st.Failures != 0 {
		t.Errorf("cancellation must not count as a breaker failure, got %d", st.Failures)
	}
}

func TestCascadeAlreadyCancelled(t *testing.T) {
	code := succeedWith("ok")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, _ := o.Execute(ctx, summarize, nil)
	if code.calls.Load() != 0 {
		t.Fatalf("executor must not run on a cancelled context")
	}
	if !result.Cancelled() || len(result.Attempts) != 1 {
		t.Fatalf("expected single CANCELLED attempt, got %+v", result.Attempts)
	}
}

func TestCascadeUnknownTierIsContractViolation(t *testing.T) {
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: succeedWith("ok")})

	if _, err := o.Execute(context.Background(), summarize, nil, WithTierOrder("quantum")); err == nil {
		t.Fatalf("expected error for unknown tier")
	}
	if _, err := o.Execute(context.Background(), summarize, nil, WithTierOrder(tier.Code, tier.Code)); err == nil {
		t.Fatalf("expected error for duplicate tier")
	}
	if _, err := o.Execute(context.Background(), FunctionDefinition{ID: "x", Tiers: []tier.Name{tier.Cascade}}, nil); err == nil {
		t.Fatalf("expected error for cascade meta tier in function order")
	}
	if _, err := New(WithTierOrderDefault([]tier.Name{"nope"})); err == nil {
		t.Fatalf("expected New to reject an unknown default tier")
	}
}

func TestCascadeNotConfigured(t *testing.T) {
	code := succeedWith("ok")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: code})

	result, err := o.Execute(context.Background(), summarize, nil, WithTierOrder(tier.Code, tier.Human))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Attempts) != 1 || result.Attempts[0].Error.Code() != errors.CodeNotConfigured {
		t.Fatalf("expected NOT_CONFIGURED, got %+v", result.Attempts)
	}
	if code.calls.Load() != 0 {
		t.Fatalf("no tier may run when the order is not fully configured")
	}

	empty := newTestOrchestrator(t, nil)
	result, _ = empty.Execute(context.Background(), summarize, nil)
	if result.Attempts[0].Error.Code() != errors.CodeNotConfigured {
		t.Fatalf("expected NOT_CONFIGURED without executors")
	}
}

func TestCascadeOrderPrecedence(t *testing.T) {
	var mu sync.Mutex
	var seen []tier.Name
	record := func() *stubExecutor {
		return &stubExecutor{fn: func(_ context.Context, req Request) (any, error) {
			mu.Lock()
			seen = append(seen, req.Tier)
			mu.Unlock()
			return nil, errors.New(req.Tier, errors.CodeExecutionFailed, true, "no", nil)
		}}
	}
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code:       record(),
		tier.Generative: record(),
		tier.Agentic:    record(),
	}, WithTierOrderDefault([]tier.Name{tier.Agentic}))

	tests := []struct {
		name string
		def  FunctionDefinition
		opts []ExecuteOption
		want []tier.Name
	}{
		{"orchestrator default", summarize, nil, []tier.Name{tier.Agentic}},
		{"function order", FunctionDefinition{ID: "f", Tiers: []tier.Name{tier.Generative, tier.Code}}, nil, []tier.Name{tier.Generative, tier.Code}},
		{"call option", FunctionDefinition{ID: "f", Tiers: []tier.Name{tier.Generative}}, []ExecuteOption{WithTierOrder(tier.Code)}, []tier.Name{tier.Code}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			seen = nil
			mu.Unlock()
			if _, err := o.Execute(context.Background(), tt.def, nil, tt.opts...); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			mu.Lock()
			defer mu.Unlock()
			if len(seen) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, seen)
			}
			for i := range seen {
				if seen[i] != tt.want[i] {
					t.Fatalf("expected %v, got %v", tt.want, seen)
				}
			}
		})
	}

	if err := o.SetTierOrder(nil); err != nil {
		t.Fatalf("SetTierOrder: %v", err)
	}
	result, _ := o.Execute(context.Background(), summarize, nil)
	if len(result.Attempts) != 3 {
		t.Fatalf("expected registered tiers in escalation order, got %d attempts", len(result.Attempts))
	}
}

func TestCascadeNormalizesExecutorErrors(t *testing.T) {
	raw := goerrors.New("segfault")
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code: {fn: func(context.Context, Request) (any, error) { return nil, raw }},
		tier.Generative: {fn: func(context.Context, Request) (any, error) {
			return nil, errors.New(tier.Agentic, errors.CodeNetworkError, true, "upstream", nil)
		}},
	})

	result, _ := o.Execute(context.Background(), summarize, nil)
	codeErr := result.Attempts[0].Error
	if codeErr.Code() != errors.CodeInternal || codeErr.Retryable() || codeErr.Tier() != tier.Code {
		t.Errorf("expected INTERNAL_ERROR from code tier, got %v", codeErr)
	}
	if !goerrors.Is(codeErr, raw) {
		t.Errorf("expected raw cause to be preserved")
	}
	genErr := result.Attempts[1].Error
	if genErr.Tier() != tier.Agentic || genErr.Code() != errors.CodeNetworkError {
		t.Errorf("existing TierError must pass through unchanged, got %v", genErr)
	}
}

func TestCascadeRetriesRetryableFailures(t *testing.T) {
	var tries atomic.Int32
	flaky := &stubExecutor{fn: func(_ context.Context, req Request) (any, error) {
		n := tries.Add(1)
		if int(n) != req.Try {
			t.Errorf("expected try %d, got %d", n, req.Try)
		}
		if n < 3 {
			return nil, errors.New(tier.Code, errors.CodeNetworkError, true, "flaky", nil)
		}
		return "ok", nil
	}}
	retry := resilience.DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(time.Millisecond).
		WithMaxDelay(5 * time.Millisecond)
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: flaky}, WithRetry(retry))

	result, _ := o.Execute(context.Background(), summarize, nil)
	if !result.Succeeded {
		t.Fatalf("expected success after retries, got %+v", result.Attempts)
	}
	if result.Attempts[0].Tries != 3 {
		t.Errorf("expected 3 tries, got %d", result.Attempts[0].Tries)
	}

	tries.Store(0)
	fatal := failWith(errors.CodeValidationFailed, false)
	o = newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: fatal}, WithRetry(retry))
	result, _ = o.Execute(context.Background(), summarize, nil)
	if fatal.calls.Load() != 1 || result.Attempts[0].Tries != 1 {
		t.Errorf("non-retryable failures must not be retried")
	}
}

func TestConcurrentRunsOpenSharedBreakerOnce(t *testing.T) {
	registry := resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     time.Hour,
	})
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{
		tier.Code:       failWith(errors.CodeExecutionFailed, true),
		tier.Generative: succeedWith("gen"),
	}, WithBreakers(registry))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := o.Execute(context.Background(), summarize, nil)
			if err != nil || !result.Succeeded {
				t.Errorf("expected every run to succeed on generative")
			}
		}()
	}
	wg.Wait()

	stats := registry.Get(tier.Code, "").Stats()
	if stats.State != resilience.StateOpen {
		t.Fatalf("expected code breaker open, got %s", stats.State)
	}
	if stats.TimesOpened != 1 {
		t.Fatalf("expected breaker to open exactly once, got %d", stats.TimesOpened)
	}
}

func TestSetTimeoutPolicy(t *testing.T) {
	o := newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: succeedWith("ok")})
	policy, err := NewTimeoutPolicy(map[tier.Name]time.Duration{tier.Code: time.Second})
	if err != nil {
		t.Fatalf("NewTimeoutPolicy: %v", err)
	}
	if err := o.SetTimeoutPolicy(policy); err != nil {
		t.Fatalf("SetTimeoutPolicy: %v", err)
	}
	if got := o.TimeoutPolicy().For(tier.Code); got != time.Second {
		t.Errorf("expected 1s, got %s", got)
	}

	var seen time.Duration
	o = newTestOrchestrator(t, map[tier.Name]*stubExecutor{tier.Code: {fn: func(_ context.Context, req Request) (any, error) {
		seen = req.Timeout
		return nil, nil
	}}}, WithTimeoutPolicy(policy))
	def := FunctionDefinition{ID: "f", Timeouts: map[tier.Name]Duration{tier.Code: Duration(2 * time.Second)}}
	if _, err := o.Execute(context.Background(), def, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 2*time.Second {
		t.Errorf("function timeout should override the policy, got %s", seen)
	}
	if _, err := o.Execute(context.Background(), def, nil, WithTimeout(tier.Code, 3*time.Second)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != 3*time.Second {
		t.Errorf("call timeout should override the function, got %s", seen)
	}
}

func TestResultJSON(t *testing.T) {
	result := Result{
		RunID:      "run-1",
		FunctionID: "summarize",
		Attempts: []Attempt{{
			Tier:     tier.Code,
			Outcome:  OutcomeFailure,
			Duration: 1500 * time.Microsecond,
			Error:    errors.New(tier.Code, errors.CodeTimeout, true, "slow", nil),
			Tries:    1,
		}},
		TotalDuration: 2 * time.Millisecond,
	}
	data, err := json.Marshal(result)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["totalDurationMs"] != 2.0 {
		t.Errorf("unexpected totalDurationMs %v", decoded["totalDurationMs"])
	}
	if _, ok := decoded["tierUsed"]; ok {
		t.Errorf("tierUsed must be omitted on failure")
	}
	attempts := decoded["attempts"].([]any)
	first := attempts[0].(map[string]any)
	if first["durationMs"] != 1.5 {
		t.Errorf("unexpected durationMs %v", first["durationMs"])
	}
	errObj := first["error"].(map[string]any)
	if errObj["code"] != "TIMEOUT" || errObj["tier"] != "code" {
		t.Errorf("unexpected error projection %v", errObj)
	}
}
