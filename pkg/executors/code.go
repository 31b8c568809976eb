// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	goerrors "errors"

	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/mcp"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// CodeExecutor runs the deterministic tier by calling an MCP tool.
// The tool name is the function's Tool, or its ID when Tool is empty.
type CodeExecutor struct {
	caller mcp.ToolCaller
}

// NewCodeExecutor creates a code tier executor over caller.
func NewCodeExecutor(caller mcp.ToolCaller) *CodeExecutor {
	return &CodeExecutor{caller: caller}
}

// Execute implements cascade.Executor.
func (e *CodeExecutor) Execute(ctx context.Context, req cascade.Request) (any, error) {
	if e == nil || e.caller == nil {
		return nil, notConfigured(tier.Code, "mcp tool caller")
	}
	name := req.Function.Tool
	if name == "" {
		name = req.Function.ID
	}
	args, err := mcp.ToolArgs(req.Payload)
	if err != nil {
		return nil, errors.New(tier.Code, errors.CodeValidationFailed, false, err.Error(), err)
	}
	out, err := mcp.InvokeTool(ctx, e.caller, name, args)
	if err != nil {
		var toolErr *mcp.ToolError
		if goerrors.As(err, &toolErr) {
			return nil, errors.New(tier.Code, errors.CodeExecutionFailed, false, toolErr.Error(), toolErr)
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if te, ok := errors.AsTierError(err); ok {
			return nil, te
		}
		return nil, errors.New(tier.Code, errors.CodeNetworkError, true, "mcp call failed", err)
	}
	return out, nil
}
