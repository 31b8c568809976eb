// SPDX-License-Identifier: Apache-2.0
// Package resilience provides the circuit breaker, timeout and retry guards used
// around every tier call.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// RetryConfig controls in-tier retries with exponential backoff.
type RetryConfig struct {
	// MaxAttempts is the maximum number of tries (must be >= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0).
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, the Retryable flag of the TierError decides.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1; 0.1 means ±10% jitter.
	Jitter float64

	// Tier is reported as the origin of cancellation errors raised while waiting.
	Tier tier.Name
}

// DefaultRetryConfig returns a single-try configuration: tiers escalate instead of retrying.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   1,
		InitialDelay:  100 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithTier returns a new config reporting cancellations against t.
func (rc RetryConfig) WithTier(t tier.Name) RetryConfig {
	rc.Tier = t
	return rc
}

// Do executes fn with retry logic, returning the number of tries and the last error.
func (rc RetryConfig) Do(ctx context.Context, fn func() error) (int, error) {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}
	if rc.Tier == "" {
		rc.Tier = tier.Cascade
	}

	var lastErr error
	tries := 0
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, rc)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return tries, errors.New(rc.Tier, errors.CodeCancelled, false,
					"execution cancelled during retry backoff", ctx.Err())
			case <-timer.C:
			}
		}

		tries++
		err := fn()
		if err == nil {
			return tries, nil
		}
		lastErr = err

		if !rc.IsRecoverable(err) {
			return tries, err
		}
	}

	return tries, lastErr
}

// calculateBackoff computes exponential backoff delay with jitter.
func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}

	exponentialDelay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt-1)))

	if rc.MaxDelay > 0 && exponentialDelay > rc.MaxDelay {
		exponentialDelay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		jitterRange := float64(exponentialDelay) * rc.Jitter * 2 * (rand.Float64() - 0.5)
		exponentialDelay = time.Duration(float64(exponentialDelay) + jitterRange)
		if exponentialDelay < 0 {
			exponentialDelay = 0
		}
	}

	return exponentialDelay
}

// isRecoverableDefault trusts the Retryable flag set at the failure site.
// Breaker rejections and cancellations are never retried in place.
func isRecoverableDefault(err error) bool {
	if err == nil || IsCircuitOpen(err) {
		return false
	}
	te, ok := errors.AsTierError(err)
	if !ok {
		return false
	}
	if te.Code() == errors.CodeCancelled {
		return false
	}
	return te.Retryable()
}
