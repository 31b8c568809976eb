// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"encoding/json"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Outcome is the result of a single tier attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Attempt records one tier that was tried during a cascade.
type Attempt struct {
	Tier     tier.Name
	Outcome  Outcome
	Duration time.Duration
	Error    *errors.TierError
	// Tries counts executor invocations; 0 when the executor was never called.
	Tries int
}

type attemptJSON struct {
	Tier       tier.Name         `json:"tier"`
	Outcome    Outcome           `json:"outcome"`
	DurationMs float64           `json:"durationMs"`
	Error      *errors.TierError `json:"error,omitempty"`
	Tries      int               `json:"tries"`
}

// MarshalJSON implements json.Marshaler.
func (a Attempt) MarshalJSON() ([]byte, error) {
	return json.Marshal(attemptJSON{
		Tier:       a.Tier,
		Outcome:    a.Outcome,
		DurationMs: millis(a.Duration),
		Error:      a.Error,
		Tries:      a.Tries,
	})
}

// Result is the outcome of a cascade run.
// When Succeeded is false callers inspect Attempts; no single error is chosen.
type Result struct {
	RunID         string
	FunctionID    string
	Succeeded     bool
	TierUsed      tier.Name
	Value         any
	Attempts      []Attempt
	TotalDuration time.Duration
}

type resultJSON struct {
	RunID           string    `json:"runId"`
	FunctionID      string    `json:"functionId"`
	Succeeded       bool      `json:"succeeded"`
	TierUsed        tier.Name `json:"tierUsed,omitempty"`
	Result          any       `json:"result,omitempty"`
	Attempts        []Attempt `json:"attempts"`
	TotalDurationMs float64   `json:"totalDurationMs"`
}

// MarshalJSON implements json.Marshaler.
func (r Result) MarshalJSON() ([]byte, error) {
	attempts := r.Attempts
	if attempts == nil {
		attempts = []Attempt{}
	}
	return json.Marshal(resultJSON{
		RunID:           r.RunID,
		FunctionID:      r.FunctionID,
		Succeeded:       r.Succeeded,
		TierUsed:        r.TierUsed,
		Result:          r.Value,
		Attempts:        attempts,
		TotalDurationMs: millis(r.TotalDuration),
	})
}

// Errors returns the error of every failed attempt in order.
func (r Result) Errors() []*errors.TierError {
	var out []*errors.TierError
	for _, a := range r.Attempts {
		if a.Error != nil {
			out = append(out, a.Error)
		}
	}
	return out
}

// Cancelled reports whether the run was stopped by caller cancellation.
func (r Result) Cancelled() bool {
	if len(r.Attempts) == 0 {
		return false
	}
	last := r.Attempts[len(r.Attempts)-1]
	return last.Error != nil && last.Error.Code() == errors.CodeCancelled
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
