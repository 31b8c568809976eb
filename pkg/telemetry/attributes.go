// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration with rich attributes
// for cascade observability.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// Semantic conventions for cascade telemetry.
const (
	// Run attributes
	AttrRunID        = "cascade.run.id"
	AttrFunctionID   = "cascade.function.id"
	AttrTierOrder    = "cascade.tier_order"
	AttrTierUsed     = "cascade.tier_used"
	AttrSucceeded    = "cascade.succeeded"
	AttrAttemptCount = "cascade.attempt_count"
	AttrDurationMs   = "cascade.duration_ms"

	// Attempt attributes
	AttrTier            = "cascade.tier"
	AttrOutcome         = "cascade.outcome"
	AttrTimeout         = "cascade.tier.timeout"
	AttrTries           = "cascade.tier.tries"
	AttrAttemptDuration = "cascade.tier.duration_ms"

	// Error attributes
	AttrErrorCode    = "cascade.error.code"
	AttrErrorTier    = "cascade.error.tier"
	AttrRetryable    = "cascade.error.retryable"
	AttrErrorMessage = "cascade.error.message"

	// Breaker attributes
	AttrBreaker      = "cascade.breaker"
	AttrBreakerState = "cascade.breaker.state"
)

// TierOrderAttribute encodes a tier order as a string slice attribute.
func TierOrderAttribute(order []tier.Name) attribute.KeyValue {
	values := make([]string, len(order))
	for i, t := range order {
		values[i] = string(t)
	}
	return attribute.StringSlice(AttrTierOrder, values)
}

// ErrorAttributes returns span attributes describing a tier failure.
func ErrorAttributes(err *errors.TierError) []attribute.KeyValue {
	if err == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String(AttrErrorCode, string(err.Code())),
		attribute.String(AttrErrorTier, string(err.Tier())),
		attribute.Bool(AttrRetryable, err.Retryable()),
		attribute.String(AttrErrorMessage, err.Message()),
	}
}
