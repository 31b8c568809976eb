// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"sync"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Step is one scripted executor outcome.
type Step struct {
	Value any
	Err   error
	// Delay is waited before answering; the context can cut it short.
	Delay time.Duration
	// Hang blocks until the context is done.
	Hang bool
}

// ScriptedExecutor is a cascade executor that replays scripted steps.
// Once the script runs out the last step repeats.
type ScriptedExecutor struct {
	mu       sync.Mutex
	tier     tier.Name
	steps    []Step
	next     int
	requests []cascade.Request
}

// NewScriptedExecutor creates an executor for tier t.
func NewScriptedExecutor(t tier.Name, steps ...Step) *ScriptedExecutor {
	return &ScriptedExecutor{tier: t, steps: steps}
}

// Succeed queues a successful step.
func (s *ScriptedExecutor) Succeed(value any) *ScriptedExecutor {
	return s.Then(Step{Value: value})
}

// Fail queues a TierError for this executor's tier.
func (s *ScriptedExecutor) Fail(code errors.ErrorCode, retryable bool, message string) *ScriptedExecutor {
	return s.Then(Step{Err: errors.New(s.tier, code, retryable, message, nil)})
}

// FailWith queues an arbitrary error.
func (s *ScriptedExecutor) FailWith(err error) *ScriptedExecutor {
	return s.Then(Step{Err: err})
}

// Hang queues a step that only returns when the context ends.
func (s *ScriptedExecutor) Hang() *ScriptedExecutor {
	return s.Then(Step{Hang: true})
}

// Then queues step.
func (s *ScriptedExecutor) Then(step Step) *ScriptedExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, step)
	return s
}

// Execute implements cascade.Executor.
func (s *ScriptedExecutor) Execute(ctx context.Context, req cascade.Request) (any, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	var step Step
	if len(s.steps) > 0 {
		idx := s.next
		if idx >= len(s.steps) {
			idx = len(s.steps) - 1
		} else {
			s.next++
		}
		step = s.steps[idx]
	}
	s.mu.Unlock()

	if step.Hang {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if step.Delay > 0 {
		timer := time.NewTimer(step.Delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return step.Value, step.Err
}

// Calls returns how many times Execute ran.
func (s *ScriptedExecutor) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Requests returns a copy of every request received.
func (s *ScriptedExecutor) Requests() []cascade.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]cascade.Request(nil), s.requests...)
}
