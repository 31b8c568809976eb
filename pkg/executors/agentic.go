// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	goerrors "errors"
	"sync"

	"github.com/jllopis/kairos-cascade/pkg/agent"
	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Runner is an agent that can work on a payload. *agent.Agent satisfies it.
type Runner interface {
	Run(ctx context.Context, input any) (any, error)
}

// AgenticExecutor runs the agentic tier. Functions may have a dedicated agent;
// the rest use the default one.
type AgenticExecutor struct {
	mu       sync.RWMutex
	fallback Runner
	agents   map[string]Runner
}

// NewAgenticExecutor creates an agentic tier executor with a default agent.
func NewAgenticExecutor(defaultAgent Runner) *AgenticExecutor {
	return &AgenticExecutor{fallback: defaultAgent, agents: make(map[string]Runner)}
}

// Assign routes functionID to r.
func (e *AgenticExecutor) Assign(functionID string, r Runner) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agents[functionID] = r
}

func (e *AgenticExecutor) runnerFor(functionID string) Runner {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if r, ok := e.agents[functionID]; ok {
		return r
	}
	return e.fallback
}

// Execute implements cascade.Executor.
func (e *AgenticExecutor) Execute(ctx context.Context, req cascade.Request) (any, error) {
	if e == nil {
		return nil, notConfigured(tier.Agentic, "agent")
	}
	runner := e.runnerFor(req.Function.ID)
	if runner == nil {
		return nil, notConfigured(tier.Agentic, "agent")
	}
	out, err := runner.Run(ctx, req.Payload)
	if err != nil {
		if goerrors.Is(err, agent.ErrBudgetExceeded) {
			return nil, errors.New(tier.Agentic, errors.CodeBudgetExceeded, false, err.Error(), err)
		}
		return nil, classify(tier.Agentic, err)
	}
	return out, nil
}
