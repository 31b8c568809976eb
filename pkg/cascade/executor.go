// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package cascade

import (
	"context"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Request is what a tier executor receives for one try.
type Request struct {
	RunID    string
	Function FunctionDefinition
	Payload  any
	Tier     tier.Name
	// Timeout is the deadline budget for this try; ctx already carries it.
	Timeout time.Duration
	// Try is 1 for the first call of the tier and increments on in-place retries.
	Try int
}

// Executor runs a function on one tier.
//
// Implementations must return within ctx's deadline and should report failures
// as *errors.TierError. Any other error is normalized to INTERNAL_ERROR.
type Executor interface {
	Execute(ctx context.Context, req Request) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, req Request) (any, error)

// Execute calls f(ctx, req).
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (any, error) {
	return f(ctx, req)
}
