// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Assertions provides assertion helpers for testing.
type Assertions struct {
	t      testing.TB
	failed bool
}

// NewAssertions creates a new assertions helper.
func NewAssertions(t testing.TB) *Assertions {
	return &Assertions{t: t}
}

// Failed returns true if any assertion has failed.
func (a *Assertions) Failed() bool {
	return a.failed
}

func (a *Assertions) fail(format string, args ...any) {
	a.t.Helper()
	a.t.Errorf(format, args...)
	a.failed = true
}

// AssertEqual asserts that two values are deeply equal.
func (a *Assertions) AssertEqual(expected, actual any, msg string) {
	a.t.Helper()
	if !reflect.DeepEqual(expected, actual) {
		a.fail("%s: expected %v, got %v", msg, expected, actual)
	}
}

// AssertTrue asserts that the value is true.
func (a *Assertions) AssertTrue(value bool, msg string) {
	a.t.Helper()
	if !value {
		a.fail("%s: expected true", msg)
	}
}

// AssertContains asserts that s contains substr.
func (a *Assertions) AssertContains(s, substr, msg string) {
	a.t.Helper()
	if !strings.Contains(s, substr) {
		a.fail("%s: expected %q to contain %q", msg, s, substr)
	}
}

// AssertNoError asserts that err is nil.
func (a *Assertions) AssertNoError(err error, msg string) {
	a.t.Helper()
	if err != nil {
		a.fail("%s: unexpected error: %v", msg, err)
	}
}

// AssertCode asserts that err is a TierError with code.
func (a *Assertions) AssertCode(err error, code errors.ErrorCode, msg string) {
	a.t.Helper()
	te, ok := errors.AsTierError(err)
	if !ok {
		a.fail("%s: expected TierError %s, got %v", msg, code, err)
		return
	}
	if te.Code() != code {
		a.fail("%s: expected code %s, got %s", msg, code, te.Code())
	}
}

// AssertResult starts a fluent check on a cascade result.
func (a *Assertions) AssertResult(result *cascade.Result) *ResultAssertions {
	a.t.Helper()
	if result == nil {
		a.fail("expected a cascade result, got nil")
	}
	return &ResultAssertions{a: a, result: result}
}

// ResultAssertions checks a cascade result fluently.
type ResultAssertions struct {
	a      *Assertions
	result *cascade.Result
}

func (r *ResultAssertions) ok() bool {
	return r.result != nil
}

// Succeeded asserts the run succeeded.
func (r *ResultAssertions) Succeeded() *ResultAssertions {
	r.a.t.Helper()
	if r.ok() && !r.result.Succeeded {
		r.a.fail("expected success, attempts: %s", FormatAttempts(r.result.Attempts))
	}
	return r
}

// Failed asserts the run failed.
func (r *ResultAssertions) Failed() *ResultAssertions {
	r.a.t.Helper()
	if r.ok() && r.result.Succeeded {
		r.a.fail("expected failure, succeeded on %s", r.result.TierUsed)
	}
	return r
}

// UsedTier asserts which tier produced the value.
func (r *ResultAssertions) UsedTier(t tier.Name) *ResultAssertions {
	r.a.t.Helper()
	if r.ok() && r.result.TierUsed != t {
		r.a.fail("expected tier %s, got %q", t, r.result.TierUsed)
	}
	return r
}

// AttemptTiers asserts the exact sequence of attempted tiers.
func (r *ResultAssertions) AttemptTiers(tiers ...tier.Name) *ResultAssertions {
	r.a.t.Helper()
	if !r.ok() {
		return r
	}
	got := make([]tier.Name, len(r.result.Attempts))
	for i, attempt := range r.result.Attempts {
		got[i] = attempt.Tier
	}
	if !reflect.DeepEqual(got, tiers) {
		r.a.fail("expected attempts %v, got %v", tiers, got)
	}
	return r
}

// AttemptCode asserts the error code of attempt i.
func (r *ResultAssertions) AttemptCode(i int, code errors.ErrorCode) *ResultAssertions {
	r.a.t.Helper()
	if attempt, found := r.attempt(i); found {
		if attempt.Error == nil {
			r.a.fail("attempt %d: expected %s, got no error", i, code)
		} else if attempt.Error.Code() != code {
			r.a.fail("attempt %d: expected %s, got %s", i, code, attempt.Error.Code())
		}
	}
	return r
}

// AttemptRetryable asserts the retryable flag of attempt i.
func (r *ResultAssertions) AttemptRetryable(i int, retryable bool) *ResultAssertions {
	r.a.t.Helper()
	if attempt, found := r.attempt(i); found && attempt.Error != nil && attempt.Error.Retryable() != retryable {
		r.a.fail("attempt %d: expected retryable=%v", i, retryable)
	}
	return r
}

// Value asserts the produced value.
func (r *ResultAssertions) Value(expected any) *ResultAssertions {
	r.a.t.Helper()
	if r.ok() && !reflect.DeepEqual(expected, r.result.Value) {
		r.a.fail("expected value %v, got %v", expected, r.result.Value)
	}
	return r
}

// Cancelled asserts the run ended by cancellation.
func (r *ResultAssertions) Cancelled() *ResultAssertions {
	r.a.t.Helper()
	if r.ok() && !r.result.Cancelled() {
		r.a.fail("expected cancelled run, attempts: %s", FormatAttempts(r.result.Attempts))
	}
	return r
}

func (r *ResultAssertions) attempt(i int) (cascade.Attempt, bool) {
	r.a.t.Helper()
	if !r.ok() {
		return cascade.Attempt{}, false
	}
	if i < 0 || i >= len(r.result.Attempts) {
		r.a.fail("attempt %d out of range (%d attempts)", i, len(r.result.Attempts))
		return cascade.Attempt{}, false
	}
	return r.result.Attempts[i], true
}

// RequireNoError fails the test immediately if err is not nil.
func RequireNoError(t testing.TB, err error, msg string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s: %v", msg, err)
	}
}

// FormatAttempts renders attempts as "code:FAILURE_CODE, generative:success".
func FormatAttempts(attempts []cascade.Attempt) string {
	parts := make([]string, 0, len(attempts))
	for _, attempt := range attempts {
		if attempt.Error != nil {
			parts = append(parts, fmt.Sprintf("%s:%s", attempt.Tier, attempt.Error.Code()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s:%s", attempt.Tier, attempt.Outcome))
	}
	return strings.Join(parts, ", ")
}
