// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the circuit breaker, timeout and retry guards used
// around every tier call.
package resilience

import (
	"context"
	"fmt"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// TimeoutConfig controls timeout behavior for one tier call.
type TimeoutConfig struct {
	// Tier is reported as the origin of timeout and cancellation errors.
	Tier tier.Name

	// Duration is the maximum time allowed for the operation. Zero disables the bound.
	Duration time.Duration

	// Retryable marks whether a timeout may be retried.
	Retryable bool
}

// WithTimeout runs fn under a deadline derived from ctx.
// It returns a TIMEOUT TierError when the deadline passes, and a non-retryable
// CANCELLED TierError when ctx itself is cancelled first. A panic in fn is
// recovered as INTERNAL_ERROR. fn keeps running in the background until it
// observes its context; its late result is discarded.
func WithTimeout[T any](ctx context.Context, config TimeoutConfig, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, cancelled(config.Tier, err)
	}

	callCtx, cancel := ctx, context.CancelFunc(func() {})
	if config.Duration > 0 {
		callCtx, cancel = context.WithTimeout(ctx, config.Duration)
	}
	defer cancel()

	type result struct {
		value T
		err   error
	}

	done := make(chan result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: errors.New(config.Tier, errors.CodeInternal, false,
					fmt.Sprintf("executor panic: %v", r), nil)}
			}
		}()
		value, err := fn(callCtx)
		done <- result{value, err}
	}()

	select {
	case <-callCtx.Done():
		if ctx.Err() != nil {
			return zero, cancelled(config.Tier, ctx.Err())
		}
		return zero, errors.New(config.Tier, errors.CodeTimeout, config.Retryable,
			fmt.Sprintf("%s tier exceeded timeout of %s", config.Tier, config.Duration), callCtx.Err())
	case res := <-done:
		if res.err != nil && ctx.Err() != nil {
			return zero, cancelled(config.Tier, ctx.Err())
		}
		if res.err != nil && callCtx.Err() == context.DeadlineExceeded && !errors.IsTierError(res.err) {
			return zero, errors.New(config.Tier, errors.CodeTimeout, config.Retryable,
				fmt.Sprintf("%s tier exceeded timeout of %s", config.Tier, config.Duration), res.err)
		}
		return res.value, res.err
	}
}

func cancelled(t tier.Name, cause error) *errors.TierError {
	return errors.New(t, errors.CodeCancelled, false, "execution cancelled by caller", cause)
}
