// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing cascades.
//
// This package includes:
//   - Scenario definitions for declarative cascade tests
//   - ScriptedExecutor, a tier executor with scripted outcomes
//   - Assertion helpers for cascade results
//
// Example usage:
//
//	scenario := testing.NewScenario("falls back to generative").
//	    WithFunction(cascade.FunctionDefinition{ID: "summarize"}).
//	    WithPayload("long text").
//	    ExpectSucceeded().
//	    ExpectTier(tier.Generative)
//
//	result := scenario.Run(t, orchestrator)
//	result.Assert(t, scenario)
package testing

import (
	"context"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Scenario defines a cascade run and what it should produce.
type Scenario struct {
	name         string
	function     cascade.FunctionDefinition
	payload      any
	options      []cascade.ExecuteOption
	context      context.Context
	timeout      time.Duration
	expectations []Expectation
}

// Expectation defines a condition to verify after running a scenario.
type Expectation interface {
	Check(result *ScenarioResult) error
	Description() string
}

// ScenarioResult contains the outcome of running a scenario.
type ScenarioResult struct {
	Result   *cascade.Result
	Error    error
	Duration time.Duration
}

// NewScenario creates a new scenario with a 5s deadline.
func NewScenario(name string) *Scenario {
	return &Scenario{
		name:    name,
		context: context.Background(),
		timeout: 5 * time.Second,
	}
}

// WithFunction sets the function to run.
func (s *Scenario) WithFunction(def cascade.FunctionDefinition) *Scenario {
	s.function = def
	return s
}

// WithPayload sets the payload.
func (s *Scenario) WithPayload(payload any) *Scenario {
	s.payload = payload
	return s
}

// WithOptions adds per-call options.
func (s *Scenario) WithOptions(opts ...cascade.ExecuteOption) *Scenario {
	s.options = append(s.options, opts...)
	return s
}

// WithContext sets the parent context.
func (s *Scenario) WithContext(ctx context.Context) *Scenario {
	s.context = ctx
	return s
}

// WithTimeout sets the overall scenario deadline.
func (s *Scenario) WithTimeout(d time.Duration) *Scenario {
	s.timeout = d
	return s
}

// Expect adds a custom expectation.
func (s *Scenario) Expect(exp Expectation) *Scenario {
	s.expectations = append(s.expectations, exp)
	return s
}

// ExpectSucceeded expects a successful run.
func (s *Scenario) ExpectSucceeded() *Scenario {
	return s.Expect(&succeededExpectation{want: true})
}

// ExpectFailed expects every tier to fail.
func (s *Scenario) ExpectFailed() *Scenario {
	return s.Expect(&succeededExpectation{want: false})
}

// ExpectTier expects the value to come from t.
func (s *Scenario) ExpectTier(t tier.Name) *Scenario {
	return s.Expect(&tierExpectation{tier: t})
}

// ExpectAttempts expects exactly these tiers to be attempted, in order.
func (s *Scenario) ExpectAttempts(tiers ...tier.Name) *Scenario {
	return s.Expect(&attemptsExpectation{tiers: tiers})
}

// ExpectCodes expects the failed attempts to carry these codes, in order.
func (s *Scenario) ExpectCodes(codes ...errors.ErrorCode) *Scenario {
	return s.Expect(&codesExpectation{codes: codes})
}

// ExpectValue expects the produced value, formatted with %v, to match.
func (s *Scenario) ExpectValue(matcher StringMatcher) *Scenario {
	return s.Expect(&valueExpectation{matcher: matcher})
}

// ExpectMaxDuration expects the run to finish within d.
func (s *Scenario) ExpectMaxDuration(d time.Duration) *Scenario {
	return s.Expect(&maxDurationExpectation{max: d})
}

// CascadeRunner runs a function definition. *cascade.Orchestrator satisfies it.
type CascadeRunner interface {
	Execute(ctx context.Context, def cascade.FunctionDefinition, payload any, opts ...cascade.ExecuteOption) (*cascade.Result, error)
}

// Run executes the scenario against runner.
func (s *Scenario) Run(t testing.TB, runner CascadeRunner) *ScenarioResult {
	t.Helper()
	ctx, cancel := context.WithTimeout(s.context, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := runner.Execute(ctx, s.function, s.payload, s.options...)
	return &ScenarioResult{
		Result:   result,
		Error:    err,
		Duration: time.Since(start),
	}
}

// Assert checks all expectations and reports failures to the test.
func (r *ScenarioResult) Assert(t testing.TB, scenario *Scenario) {
	t.Helper()
	if r.Error != nil {
		t.Errorf("scenario %q: execute returned error: %v", scenario.name, r.Error)
		return
	}
	for _, exp := range scenario.expectations {
		if err := exp.Check(r); err != nil {
			t.Errorf("scenario %q: expectation %q failed: %v", scenario.name, exp.Description(), err)
		}
	}
}

// StringMatcher defines how to match strings in expectations.
type StringMatcher interface {
	Match(s string) bool
	Description() string
}

// Contains returns a matcher that checks if the string contains the substring.
func Contains(substr string) StringMatcher {
	return matcher{desc: fmt.Sprintf("contains %q", substr), fn: func(s string) bool { return strings.Contains(s, substr) }}
}

// Equals returns a matcher that checks exact string equality.
func Equals(expected string) StringMatcher {
	return matcher{desc: fmt.Sprintf("equals %q", expected), fn: func(s string) bool { return s == expected }}
}

// Regex returns a matcher that checks against a regular expression.
// An invalid pattern never matches.
func Regex(pattern string) StringMatcher {
	re, err := regexp.Compile(pattern)
	return matcher{desc: fmt.Sprintf("matches regex %q", pattern), fn: func(s string) bool {
		return err == nil && re.MatchString(s)
	}}
}

type matcher struct {
	desc string
	fn   func(string) bool
}

func (m matcher) Match(s string) bool  { return m.fn(s) }
func (m matcher) Description() string { return m.desc }

type succeededExpectation struct {
	want bool
}

func (e *succeededExpectation) Check(r *ScenarioResult) error {
	if r.Result.Succeeded != e.want {
		return fmt.Errorf("succeeded=%v, attempts: %s", r.Result.Succeeded, FormatAttempts(r.Result.Attempts))
	}
	return nil
}

func (e *succeededExpectation) Description() string {
	if e.want {
		return "succeeded"
	}
	return "failed"
}

type tierExpectation struct {
	tier tier.Name
}

func (e *tierExpectation) Check(r *ScenarioResult) error {
	if r.Result.TierUsed != e.tier {
		return fmt.Errorf("tier used was %q", r.Result.TierUsed)
	}
	return nil
}

func (e *tierExpectation) Description() string {
	return fmt.Sprintf("tier %s", e.tier)
}

type attemptsExpectation struct {
	tiers []tier.Name
}

func (e *attemptsExpectation) Check(r *ScenarioResult) error {
	got := make([]tier.Name, len(r.Result.Attempts))
	for i, a := range r.Result.Attempts {
		got[i] = a.Tier
	}
	if !reflect.DeepEqual(got, e.tiers) {
		return fmt.Errorf("attempted %v", got)
	}
	return nil
}

func (e *attemptsExpectation) Description() string {
	return fmt.Sprintf("attempts %v", e.tiers)
}

type codesExpectation struct {
	codes []errors.ErrorCode
}

func (e *codesExpectation) Check(r *ScenarioResult) error {
	var got []errors.ErrorCode
	for _, te := range r.Result.Errors() {
		got = append(got, te.Code())
	}
	if !reflect.DeepEqual(got, e.codes) {
		return fmt.Errorf("codes were %v", got)
	}
	return nil
}

func (e *codesExpectation) Description() string {
	return fmt.Sprintf("codes %v", e.codes)
}

type valueExpectation struct {
	matcher StringMatcher
}

func (e *valueExpectation) Check(r *ScenarioResult) error {
	value := fmt.Sprint(r.Result.Value)
	if !e.matcher.Match(value) {
		return fmt.Errorf("value %q does not match: %s", value, e.matcher.Description())
	}
	return nil
}

func (e *valueExpectation) Description() string {
	return "value " + e.matcher.Description()
}

type maxDurationExpectation struct {
	max time.Duration
}

func (e *maxDurationExpectation) Check(r *ScenarioResult) error {
	if r.Duration > e.max {
		return fmt.Errorf("took %s", r.Duration)
	}
	return nil
}

func (e *maxDurationExpectation) Description() string {
	return fmt.Sprintf("max duration %s", e.max)
}
