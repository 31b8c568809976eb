// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "cascade/approval"

// Expirer is implemented by stores that can expire pending approvals.
type Expirer interface {
	ExpireApprovals(ctx context.Context) (int, error)
}

// Sweeper periodically expires overdue approvals.
type Sweeper struct {
	interval time.Duration
	timeout  time.Duration
	expirers []Expirer
	logger   *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

// WithSweepTimeout bounds each sweep.
func WithSweepTimeout(timeout time.Duration) SweeperOption {
	return func(s *Sweeper) { s.timeout = timeout }
}

// WithSweepLogger sets the logger.
func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSweeper creates a sweeper over expirers. An interval <= 0 disables it.
func NewSweeper(interval time.Duration, expirers []Expirer, opts ...SweeperOption) *Sweeper {
	s := &Sweeper{interval: interval, logger: slog.Default()}
	for _, e := range expirers {
		if e != nil {
			s.expirers = append(s.expirers, e)
		}
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the sweep loop. It is a no-op when disabled or already running.
func (s *Sweeper) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.interval <= 0 || len(s.expirers) == 0 {
		s.logger.Info("approval.sweeper.disabled",
			slog.Duration("interval", s.interval),
			slog.Int("expirers", len(s.expirers)),
		)
		return
	}
	if s.cancel != nil {
		return
	}
	initSweepMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.cancel = cancel
	s.done = done
	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		s.logger.Info("approval.sweeper.start",
			slog.Duration("interval", s.interval),
			slog.Int("expirers", len(s.expirers)),
		)
		for {
			select {
			case <-ctx.Done():
				s.logger.Info("approval.sweeper.stop")
				return
			case <-ticker.C:
				s.Sweep(ctx)
			}
		}
	}()
}

// Stop ends the sweep loop and waits for it to exit.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep runs every expirer once and returns the total number expired.
func (s *Sweeper) Sweep(ctx context.Context) int {
	initSweepMetrics()
	sweepStart := time.Now()
	sweepCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	tracer := otel.Tracer(instrumentationName)
	sweepCtx, sweepSpan := tracer.Start(sweepCtx, "approval.sweep",
		trace.WithAttributes(
			attribute.Int("expirers", len(s.expirers)),
			attribute.String("timeout", s.timeout.String()),
		),
	)
	defer sweepSpan.End()

	total := 0
	for _, expirer := range s.expirers {
		expirerType := fmt.Sprintf("%T", expirer)
		attrs := metric.WithAttributes(attribute.String("expirer", expirerType))
		expirerCtx, span := tracer.Start(sweepCtx, "approval.expire",
			trace.WithAttributes(attribute.String("expirer", expirerType)),
		)
		start := time.Now()
		expired, err := expirer.ExpireApprovals(expirerCtx)
		durationMs := float64(time.Since(start).Microseconds()) / 1000
		sweepCounter.Add(ctx, 1, attrs)
		sweepLatencyMs.Record(ctx, durationMs, attrs)
		if err != nil {
			sweepErrorCounter.Add(ctx, 1, attrs)
			span.RecordError(err)
			s.logger.WarnContext(expirerCtx, "approval.expire.error",
				slog.String("expirer", expirerType),
				slog.Float64("duration_ms", durationMs),
				slog.String("error", err.Error()),
			)
			span.End()
			continue
		}
		if expired > 0 {
			expiredCounter.Add(ctx, int64(expired), attrs)
			s.logger.InfoContext(expirerCtx, "approval.expire",
				slog.String("expirer", expirerType),
				slog.Int("expired", expired),
				slog.Float64("duration_ms", durationMs),
			)
		}
		span.SetAttributes(attribute.Int("expired", expired))
		span.End()
		total += expired
	}
	s.logger.DebugContext(sweepCtx, "approval.sweep.complete",
		slog.Int("expired", total),
		slog.Duration("duration", time.Since(sweepStart)),
	)
	return total
}

var (
	sweepMetricsOnce  sync.Once
	sweepCounter      metric.Int64Counter
	sweepErrorCounter metric.Int64Counter
	expiredCounter    metric.Int64Counter
	sweepLatencyMs    metric.Float64Histogram
)

func initSweepMetrics() {
	sweepMetricsOnce.Do(func() {
		meter := otel.Meter(instrumentationName)
		sweepCounter, _ = meter.Int64Counter("cascade.approval.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("cascade.approval.sweep.error.count")
		expiredCounter, _ = meter.Int64Counter("cascade.approval.expired.count")
		sweepLatencyMs, _ = meter.Float64Histogram("cascade.approval.sweep.latency_ms")
	})
}
