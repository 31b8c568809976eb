// SPDX-License-Identifier: Apache-2.0
package telemetry

import (
	"context"
	"testing"

	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

func withManualReader(t *testing.T) *sdkmetric.ManualReader {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	previous := otel.GetMeterProvider()
	otel.SetMeterProvider(provider)
	t.Cleanup(func() {
		otel.SetMeterProvider(previous)
		_ = provider.Shutdown(context.Background())
	})
	return reader
}

func sumOf(t *testing.T, reader *sdkmetric.ManualReader, name string) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("collect failed: %v", err)
	}
	var total int64
	for _, scope := range rm.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("metric %s is not an int64 sum", name)
			}
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
		}
	}
	return total
}

func TestNewCascadeMetrics(t *testing.T) {
	m, err := NewCascadeMetrics(context.Background())
	if err != nil {
		t.Fatalf("failed to create cascade metrics: %v", err)
	}
	if m == nil {
		t.Fatal("expected non-nil CascadeMetrics")
	}
}

func TestRecordAttemptAndRun(t *testing.T) {
	reader := withManualReader(t)
	m, err := NewCascadeMetrics(context.Background())
	if err != nil {
		t.Fatalf("failed to create cascade metrics: %v", err)
	}
	ctx := context.Background()

	m.RecordAttempt(ctx, tier.Code, 12, errors.New(tier.Code, errors.CodeExecutionFailed, true, "boom", nil))
	m.RecordAttempt(ctx, tier.Generative, 40, nil)
	m.RecordRun(ctx, "summarize", true, tier.Generative, 52)

	if got := sumOf(t, reader, "cascade.attempts.total"); got != 2 {
		t.Errorf("expected 2 attempts, got %d", got)
	}
	if got := sumOf(t, reader, "cascade.runs.total"); got != 1 {
		t.Errorf("expected 1 run, got %d", got)
	}
}

func TestRecordBreakerRejection(t *testing.T) {
	reader := withManualReader(t)
	m, _ := NewCascadeMetrics(context.Background())
	ctx := context.Background()

	m.RecordBreakerRejection(ctx, "code")
	m.RecordBreakerRejection(ctx, "code")
	m.RecordBreakerState(ctx, "code", resilience.StateOpen)

	if got := sumOf(t, reader, "cascade.circuitbreaker.rejections"); got != 2 {
		t.Errorf("expected 2 rejections, got %d", got)
	}
}

func TestNilCascadeMetrics(t *testing.T) {
	var m *CascadeMetrics
	ctx := context.Background()
	m.RecordAttempt(ctx, tier.Code, 1, nil)
	m.RecordRun(ctx, "fn", false, "", 1)
	m.RecordBreakerRejection(ctx, "code")
	m.RecordBreakerState(ctx, "code", resilience.StateClosed)
}

func TestBreakerStateValue(t *testing.T) {
	tests := []struct {
		state resilience.CircuitBreakerState
		want  int64
	}{
		{resilience.StateOpen, 0},
		{resilience.StateHalfOpen, 1},
		{resilience.StateClosed, 2},
	}
	for _, tt := range tests {
		if got := BreakerStateValue(tt.state); got != tt.want {
			t.Errorf("BreakerStateValue(%s) = %d, want %d", tt.state, got, tt.want)
		}
	}
}

func TestOutcomeLabel(t *testing.T) {
	if OutcomeLabel(nil) != "success" {
		t.Errorf("expected success for nil error")
	}
	if OutcomeLabel(errors.New(tier.Code, errors.CodeTimeout, true, "slow", nil)) != "failure" {
		t.Errorf("expected failure for tier error")
	}
}
