// SPDX-License-Identifier: Apache-2.0
// Package telemetry provides observability for cascade runs and tier breakers.
package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// CascadeMetrics records cascade outcomes, tier attempts and breaker activity.
// Every method is safe to call on a nil receiver.
type CascadeMetrics struct {
	// runCounter tracks cascade runs by outcome and tier used
	runCounter metric.Int64Counter

	// attemptCounter tracks tier attempts by tier, outcome and error code
	attemptCounter metric.Int64Counter

	// tierLatency tracks attempt duration per tier
	tierLatency metric.Float64Histogram

	// runLatency tracks end-to-end cascade duration
	runLatency metric.Float64Histogram

	// breakerStateGauge tracks breaker state per breaker (0=open, 1=half-open, 2=closed)
	breakerStateGauge metric.Int64Gauge

	// breakerRejections counts calls skipped because a breaker was open
	breakerRejections metric.Int64Counter
}

// NewCascadeMetrics creates cascade instruments on the global meter provider.
func NewCascadeMetrics(ctx context.Context) (*CascadeMetrics, error) {
	meter := otel.Meter("kairos/cascade")

	runCounter, err := meter.Int64Counter(
		"cascade.runs.total",
		metric.WithDescription("Cascade runs by outcome and tier used"),
	)
	if err != nil {
		return nil, err
	}

	attemptCounter, err := meter.Int64Counter(
		"cascade.attempts.total",
		metric.WithDescription("Tier attempts by tier, outcome and error code"),
	)
	if err != nil {
		return nil, err
	}

	tierLatency, err := meter.Float64Histogram(
		"cascade.tier.duration_ms",
		metric.WithDescription("Tier attempt duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	runLatency, err := meter.Float64Histogram(
		"cascade.run.duration_ms",
		metric.WithDescription("End-to-end cascade duration in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	breakerStateGauge, err := meter.Int64Gauge(
		"cascade.circuitbreaker.state",
		metric.WithDescription("Circuit breaker state per breaker (0=open, 1=half-open, 2=closed)"),
	)
	if err != nil {
		return nil, err
	}

	breakerRejections, err := meter.Int64Counter(
		"cascade.circuitbreaker.rejections",
		metric.WithDescription("Tier calls skipped because the breaker was open"),
	)
	if err != nil {
		return nil, err
	}

	return &CascadeMetrics{
		runCounter:        runCounter,
		attemptCounter:    attemptCounter,
		tierLatency:       tierLatency,
		runLatency:        runLatency,
		breakerStateGauge: breakerStateGauge,
		breakerRejections: breakerRejections,
	}, nil
}

// RecordAttempt records one tier attempt. err is nil for successful attempts.
func (m *CascadeMetrics) RecordAttempt(ctx context.Context, t tier.Name, durationMs float64, err *errors.TierError) {
	if m == nil {
		return
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrTier, string(t)),
		attribute.String(AttrOutcome, OutcomeLabel(err)),
	}
	if err != nil {
		attrs = append(attrs,
			attribute.String(AttrErrorCode, string(err.Code())),
			attribute.String(AttrRetryable, err.RetryableString()),
		)
	}
	m.attemptCounter.Add(ctx, 1, metric.WithAttributes(attrs...))
	m.tierLatency.Record(ctx, durationMs, metric.WithAttributes(
		attribute.String(AttrTier, string(t)),
	))
}

// RecordRun records the outcome of a whole cascade.
func (m *CascadeMetrics) RecordRun(ctx context.Context, functionID string, succeeded bool, tierUsed tier.Name, durationMs float64) {
	if m == nil {
		return
	}
	outcome := "exhausted"
	if succeeded {
		outcome = "success"
	}
	attrs := metric.WithAttributes(
		attribute.String(AttrFunctionID, functionID),
		attribute.String(AttrOutcome, outcome),
		attribute.String(AttrTierUsed, string(tierUsed)),
	)
	m.runCounter.Add(ctx, 1, attrs)
	m.runLatency.Record(ctx, durationMs, attrs)
}

// RecordBreakerRejection counts a call skipped by an open breaker.
func (m *CascadeMetrics) RecordBreakerRejection(ctx context.Context, breaker string) {
	if m == nil {
		return
	}
	m.breakerRejections.Add(ctx, 1, metric.WithAttributes(
		attribute.String(AttrBreaker, breaker),
	))
}

// RecordBreakerState records the breaker state (0=open, 1=half-open, 2=closed).
func (m *CascadeMetrics) RecordBreakerState(ctx context.Context, breaker string, state resilience.CircuitBreakerState) {
	if m == nil {
		return
	}
	m.breakerStateGauge.Record(ctx, BreakerStateValue(state), metric.WithAttributes(
		attribute.String(AttrBreaker, breaker),
	))
}

// BreakerStateValue maps a breaker state onto the gauge encoding.
func BreakerStateValue(state resilience.CircuitBreakerState) int64 {
	switch state {
	case resilience.StateOpen:
		return 0
	case resilience.StateHalfOpen:
		return 1
	default:
		return 2
	}
}

// OutcomeLabel returns "success" for a nil error and "failure" otherwise.
func OutcomeLabel(err *errors.TierError) string {
	if err == nil {
		return "success"
	}
	return "failure"
}
