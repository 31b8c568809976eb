// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	goerrors "errors"
	"testing"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

func newOrchestrator(t *testing.T, opts ...cascade.Option) *cascade.Orchestrator {
	t.Helper()
	o, err := cascade.New(opts...)
	RequireNoError(t, err, "new orchestrator")
	return o
}

func TestScenarioFallsBack(t *testing.T) {
	code := NewScriptedExecutor(tier.Code).Fail(errors.CodeExecutionFailed, false, "unsupported")
	generative := NewScriptedExecutor(tier.Generative).Succeed("summary")
	o := newOrchestrator(t,
		cascade.WithExecutor(tier.Code, code),
		cascade.WithExecutor(tier.Generative, generative),
	)

	scenario := NewScenario("falls back to generative").
		WithFunction(cascade.FunctionDefinition{ID: "summarize"}).
		WithPayload("text").
		ExpectSucceeded().
		ExpectTier(tier.Generative).
		ExpectAttempts(tier.Code, tier.Generative).
		ExpectCodes(errors.CodeExecutionFailed).
		ExpectValue(Equals("summary")).
		ExpectMaxDuration(time.Second)

	result := scenario.Run(t, o)
	result.Assert(t, scenario)

	if code.Calls() != 1 || generative.Calls() != 1 {
		t.Fatalf("expected one call per tier, got %d and %d", code.Calls(), generative.Calls())
	}
	if req := generative.Requests()[0]; req.Tier != tier.Generative || req.Payload != "text" || req.Try != 1 {
		t.Errorf("unexpected request %+v", req)
	}
}

func TestScenarioTimeout(t *testing.T) {
	code := NewScriptedExecutor(tier.Code).Hang()
	generative := NewScriptedExecutor(tier.Generative).Then(Step{Value: "late", Delay: 10 * time.Millisecond})
	o := newOrchestrator(t,
		cascade.WithExecutor(tier.Code, code),
		cascade.WithExecutor(tier.Generative, generative),
	)

	scenario := NewScenario("code times out").
		WithFunction(cascade.FunctionDefinition{ID: "f"}).
		WithOptions(cascade.WithTimeout(tier.Code, 20*time.Millisecond)).
		ExpectSucceeded().
		ExpectCodes(errors.CodeTimeout).
		ExpectValue(Contains("late"))
	scenario.Run(t, o).Assert(t, scenario)
}

func TestResultAssertions(t *testing.T) {
	code := NewScriptedExecutor(tier.Code).FailWith(goerrors.New("boom"))
	o := newOrchestrator(t, cascade.WithExecutor(tier.Code, code))
	result, err := o.Execute(context.Background(), cascade.FunctionDefinition{ID: "f"}, nil)
	RequireNoError(t, err, "execute")

	a := NewAssertions(t)
	a.AssertResult(result).
		Failed().
		AttemptTiers(tier.Code).
		AttemptCode(0, errors.CodeInternal).
		AttemptRetryable(0, false).
		Value(nil)
	a.AssertEqual(1, len(result.Errors()), "errors")
	a.AssertCode(result.Errors()[0], errors.CodeInternal, "first error")
	a.AssertContains(FormatAttempts(result.Attempts), "code:INTERNAL_ERROR", "formatted")
	if a.Failed() {
		t.Fatalf("assertions should have passed")
	}
}

func TestScriptedExecutorRepeatsLastStep(t *testing.T) {
	exec := NewScriptedExecutor(tier.Code).Succeed(1).Succeed(2)
	ctx := context.Background()
	values := make([]any, 0, 3)
	for i := 0; i < 3; i++ {
		v, err := exec.Execute(ctx, cascade.Request{})
		RequireNoError(t, err, "execute")
		values = append(values, v)
	}
	if values[0] != 1 || values[1] != 2 || values[2] != 2 {
		t.Fatalf("unexpected values %v", values)
	}

	empty := NewScriptedExecutor(tier.Code)
	if v, err := empty.Execute(ctx, cascade.Request{}); v != nil || err != nil {
		t.Fatalf("empty script should return nil, nil")
	}
}

func TestMatchers(t *testing.T) {
	tests := []struct {
		m    StringMatcher
		in   string
		want bool
	}{
		{Contains("ell"), "hello", true},
		{Equals("hello"), "hello", true},
		{Equals("hello"), "hell", false},
		{Regex(`^h\w+o$`), "hello", true},
		{Regex(`(`), "hello", false},
	}
	for _, tt := range tests {
		if got := tt.m.Match(tt.in); got != tt.want {
			t.Errorf("%s on %q: expected %v", tt.m.Description(), tt.in, tt.want)
		}
	}
}
