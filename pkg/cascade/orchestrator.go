// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package cascade runs a function across the code, generative, agentic and
// human tiers, escalating until one of them succeeds.
package cascade

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/resilience"
	"github.com/jllopis/kairos-cascade/pkg/telemetry"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// BreakerScope selects how circuit breakers are keyed.
type BreakerScope string

const (
	// ScopeTier shares one breaker per tier across all functions.
	ScopeTier BreakerScope = "tier"
	// ScopeTarget keys breakers by tier and function target.
	ScopeTarget BreakerScope = "target"
)

// ParseBreakerScope converts a configuration value into a BreakerScope.
func ParseBreakerScope(s string) (BreakerScope, error) {
	switch BreakerScope(s) {
	case "", ScopeTier:
		return ScopeTier, nil
	case ScopeTarget:
		return ScopeTarget, nil
	}
	return "", fmt.Errorf("unknown breaker scope %q", s)
}

// Validator checks a payload before any tier runs. A non-nil error
// short-circuits the cascade with VALIDATION_FAILED.
type Validator func(def FunctionDefinition, payload any) error

// Orchestrator walks the tier order for a function and returns on first success.
// It is safe for concurrent use; concurrent runs share its breakers.
type Orchestrator struct {
	mu        sync.RWMutex
	executors map[tier.Name]Executor
	order     []tier.Name
	policy    TimeoutPolicy

	breakers   *resilience.BreakerRegistry
	scope      BreakerScope
	catalog    *Catalog
	validators []Validator
	retry      resilience.RetryConfig

	logger   *slog.Logger
	metrics  *telemetry.CascadeMetrics
	tracer   trace.Tracer
	clock    func() time.Time
	newRunID func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExecutor registers the executor for a tier.
func WithExecutor(t tier.Name, e Executor) Option {
	return func(o *Orchestrator) {
		o.executors[t] = e
	}
}

// WithBreakers injects the breaker registry.
func WithBreakers(r *resilience.BreakerRegistry) Option {
	return func(o *Orchestrator) {
		o.breakers = r
	}
}

// WithBreakerScope selects per-tier or per-tier+target breakers.
func WithBreakerScope(scope BreakerScope) Option {
	return func(o *Orchestrator) {
		o.scope = scope
	}
}

// WithTimeoutPolicy sets the default per-tier deadlines.
func WithTimeoutPolicy(p TimeoutPolicy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithTierOrderDefault sets the order used when neither the call nor the
// function definition specify one.
func WithTierOrderDefault(order []tier.Name) Option {
	return func(o *Orchestrator) {
		o.order = append([]tier.Name(nil), order...)
	}
}

// WithCatalog sets the catalog used by ExecuteFunction.
func WithCatalog(c *Catalog) Option {
	return func(o *Orchestrator) {
		o.catalog = c
	}
}

// WithValidator adds a payload validator.
func WithValidator(v Validator) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validators = append(o.validators, v)
		}
	}
}

// WithRetry sets the in-place retry policy applied within each tier.
func WithRetry(rc resilience.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.retry = rc
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m *telemetry.CascadeMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for cascade spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}

// WithClock overrides the time source used for durations.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithRunIDGenerator overrides run id generation.
func WithRunIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		if gen != nil {
			o.newRunID = gen
		}
	}
}

// New creates an orchestrator.
func New(opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		executors: make(map[tier.Name]Executor),
		policy:    DefaultTimeoutPolicy(),
		scope:     ScopeTier,
		retry:     resilience.DefaultRetryConfig(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("kairos/cascade"),
		clock:     time.Now,
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.breakers == nil {
		o.breakers = resilience.NewBreakerRegistry(resilience.CircuitBreakerConfig{})
	}
	for t, e := range o.executors {
		if !t.IsExecutable() {
			return nil, fmt.Errorf("executor registered for unknown tier %q", t)
		}
		if e == nil {
			return nil, fmt.Errorf("nil executor for tier %s", t)
		}
	}
	if _, err := ParseBreakerScope(string(o.scope)); err != nil {
		return nil, err
	}
	if err := tier.ValidateOrder(o.order); err != nil {
		return nil, fmt.Errorf("default tier order: %w", err)
	}
	if err := o.policy.Validate(tier.EscalationOrder()); err != nil {
		return nil, err
	}
	return o, nil
}

// SetTimeoutPolicy replaces the default deadlines for subsequent runs.
func (o *Orchestrator) SetTimeoutPolicy(p TimeoutPolicy) error {
	if err := p.Validate(tier.EscalationOrder()); err != nil {
		return err
	}
	o.mu.Lock()
	o.policy = p
	o.mu.Unlock()
	return nil
}

// SetTierOrder replaces the default tier order for subsequent runs.
// An empty order restores the escalation order filtered to registered tiers.
func (o *Orchestrator) SetTierOrder(order []tier.Name) error {
	if err := tier.ValidateOrder(order); err != nil {
		return err
	}
	o.mu.Lock()
	o.order = append([]tier.Name(nil), order...)
	o.mu.Unlock()
	return nil
}

// TimeoutPolicy returns the current default deadlines.
func (o *Orchestrator) TimeoutPolicy() TimeoutPolicy {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.policy
}

// Breakers returns the breaker registry shared by all runs.
func (o *Orchestrator) Breakers() *resilience.BreakerRegistry {
	return o.breakers
}

// Catalog returns the configured catalog, which may be nil.
func (o *Orchestrator) Catalog() *Catalog {
	return o.catalog
}

// Tiers returns the tiers that have an executor, in escalation order.
func (o *Orchestrator) Tiers() []tier.Name {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.registeredLocked()
}

func (o *Orchestrator) registeredLocked() []tier.Name {
	var out []tier.Name
	for _, t := range tier.EscalationOrder() {
		if _, ok := o.executors[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// ExecuteOption configures a single run.
type ExecuteOption func(*executeOptions)

type executeOptions struct {
	order    []tier.Name
	timeouts map[tier.Name]time.Duration
}

// WithTierOrder overrides the tier order for one run.
func WithTierOrder(order ...tier.Name) ExecuteOption {
	return func(eo *executeOptions) {
		eo.order = append([]tier.Name(nil), order...)
	}
}

// WithTimeouts overrides deadlines for one run.
func WithTimeouts(timeouts map[tier.Name]time.Duration) ExecuteOption {
	return func(eo *executeOptions) {
		if eo.timeouts == nil {
			eo.timeouts = make(map[tier.Name]time.Duration, len(timeouts))
		}
		for t, d := range timeouts {
			eo.timeouts[t] = d
		}
	}
}

// WithTimeout overrides the deadline of a single tier for one run.
func WithTimeout(t tier.Name, d time.Duration) ExecuteOption {
	return WithTimeouts(map[tier.Name]time.Duration{t: d})
}

// ExecuteFunction looks id up in the catalog and runs it.
// An unknown id yields a NOT_FOUND result without touching any tier.
func (o *Orchestrator) ExecuteFunction(ctx context.Context, id string, payload any, opts ...ExecuteOption) (*Result, error) {
	def, ok := o.catalog.Get(id)
	if !ok {
		start := o.clock()
		result := &Result{RunID: o.newRunID(), FunctionID: id}
		cause := errors.New(tier.Cascade, errors.CodeNotFound, false,
			fmt.Sprintf("function %q is not registered", id), nil)
		if id == "" {
			cause = errors.New(tier.Cascade, errors.CodeValidationFailed, false, "function id is required", nil)
		}
		o.shortCircuit(ctx, result, start, cause)
		return result, nil
	}
	return o.Execute(ctx, def, payload, opts...)
}

// Execute runs def across its tier order and returns on first success.
//
// Tier failures never surface as the returned error; they are recorded as
// attempts. The error is non-nil only for contract violations such as an
// unknown tier in the requested order.
func (o *Orchestrator) Execute(ctx context.Context, def FunctionDefinition, payload any, opts ...ExecuteOption) (*Result, error) {
	var eo executeOptions
	for _, opt := range opts {
		opt(&eo)
	}

	o.mu.RLock()
	defaultOrder := append([]tier.Name(nil), o.order...)
	registered := o.registeredLocked()
	executors := make(map[tier.Name]Executor, len(o.executors))
	for t, e := range o.executors {
		executors[t] = e
	}
	policy := o.policy
	o.mu.RUnlock()

	order, explicit, err := resolveOrder(eo.order, def.Tiers, defaultOrder, registered)
	if err != nil {
		return nil, err
	}
	for t, d := range eo.timeouts {
		if !t.IsExecutable() {
			return nil, fmt.Errorf("timeout override for unknown tier %q", t)
		}
		if d <= 0 {
			return nil, fmt.Errorf("timeout override for tier %s must be positive", t)
		}
	}
	policy = policy.With(def.TimeoutOverrides()).With(eo.timeouts)

	start := o.clock()
	result := &Result{RunID: o.newRunID(), FunctionID: def.ID}

	ctx, span := o.tracer.Start(ctx, "cascade.execute", trace.WithAttributes(
		attribute.String(telemetry.AttrRunID, result.RunID),
		attribute.String(telemetry.AttrFunctionID, def.ID),
		telemetry.TierOrderAttribute(order),
	))
	defer span.End()

	if verr := o.validate(def, payload); verr != nil {
		o.shortCircuit(ctx, result, start, verr)
		span.SetStatus(codes.Error, verr.Message())
		return result, nil
	}
	if missing := missingExecutor(order, executors); missing != "" || len(order) == 0 {
		msg := "no tier executors configured"
		if missing != "" {
			msg = fmt.Sprintf("tier %s has no executor configured", missing)
		}
		nerr := errors.New(tier.Cascade, errors.CodeNotConfigured, false, msg, nil)
		o.shortCircuit(ctx, result, start, nerr)
		span.SetStatus(codes.Error, msg)
		return result, nil
	}

	o.logger.Info("cascade.run.start",
		slog.String("run_id", result.RunID),
		slog.String("function_id", def.ID),
		slog.Any("tier_order", order),
		slog.Bool("explicit_order", explicit),
	)

	for _, t := range order {
		attempt, value := o.runTier(ctx, result.RunID, def, payload, t, executors[t], policy.For(t))
		result.Attempts = append(result.Attempts, attempt)
		if attempt.Outcome == OutcomeSuccess {
			result.Succeeded = true
			result.TierUsed = t
			result.Value = value
			break
		}
		if attempt.Error != nil && attempt.Error.Code() == errors.CodeCancelled {
			break
		}
	}

	o.finish(ctx, result, start)
	span.SetAttributes(
		attribute.Bool(telemetry.AttrSucceeded, result.Succeeded),
		attribute.String(telemetry.AttrTierUsed, string(result.TierUsed)),
		attribute.Int(telemetry.AttrAttemptCount, len(result.Attempts)),
	)
	if !result.Succeeded {
		span.SetStatus(codes.Error, "cascade exhausted")
	}
	return result, nil
}

// runTier makes one attempt on t, including in-place retries.
func (o *Orchestrator) runTier(ctx context.Context, runID string, def FunctionDefinition, payload any, t tier.Name, exec Executor, timeout time.Duration) (Attempt, any) {
	breaker := o.breakerFor(t, def)
	start := o.clock()
	attempt := Attempt{Tier: t}

	ctx, span := o.tracer.Start(ctx, "cascade.tier", trace.WithAttributes(
		attribute.String(telemetry.AttrRunID, runID),
		attribute.String(telemetry.AttrTier, string(t)),
		attribute.String(telemetry.AttrBreaker, breaker.Name()),
		attribute.Int64(telemetry.AttrTimeout, timeout.Milliseconds()),
	))
	defer span.End()

	log := o.logger.With(
		slog.String("run_id", runID),
		slog.String("function_id", def.ID),
		slog.String("tier", string(t)),
	)

	if ctx.Err() != nil {
		attempt.Outcome = OutcomeFailure
		attempt.Error = errors.New(t, errors.CodeCancelled, false, "cascade cancelled", ctx.Err())
		o.endAttempt(ctx, span, log, &attempt, start)
		return attempt, nil
	}

	if !breaker.IsAllowingRequests() {
		attempt.Outcome = OutcomeFailure
		attempt.Error = breakerOpen(t, breaker.Name())
		o.metrics.RecordBreakerRejection(ctx, breaker.Name())
		o.endAttempt(ctx, span, log, &attempt, start)
		return attempt, nil
	}

	var value any
	_, err := o.retry.WithTier(t).Do(ctx, func() error {
		return breaker.Call(ctx, func(ctx context.Context) error {
			attempt.Tries++
			req := Request{
				RunID:    runID,
				Function: def,
				Payload:  payload,
				Tier:     t,
				Timeout:  timeout,
				Try:      attempt.Tries,
			}
			v, err := resilience.WithTimeout(ctx, resilience.TimeoutConfig{
				Tier:      t,
				Duration:  timeout,
				Retryable: RetryableOnTimeout(t),
			}, func(ctx context.Context) (any, error) {
				return exec.Execute(ctx, req)
			})
			if err != nil {
				return errors.From(t, err)
			}
			value = v
			return nil
		})
	})
	o.metrics.RecordBreakerState(ctx, breaker.Name(), breaker.State())

	switch {
	case err == nil:
		attempt.Outcome = OutcomeSuccess
	case resilience.IsCircuitOpen(err):
		// The breaker opened between the check and the call.
		attempt.Outcome = OutcomeFailure
		attempt.Error = breakerOpen(t, breaker.Name())
		o.metrics.RecordBreakerRejection(ctx, breaker.Name())
	default:
		attempt.Outcome = OutcomeFailure
		attempt.Error = errors.From(t, err)
		if ctx.Err() != nil && attempt.Error.Code() != errors.CodeCancelled {
			attempt.Error = errors.New(t, errors.CodeCancelled, false, "cascade cancelled", attempt.Error)
		}
	}

	o.endAttempt(ctx, span, log, &attempt, start)
	if attempt.Outcome == OutcomeSuccess {
		return attempt, value
	}
	return attempt, nil
}

func (o *Orchestrator) endAttempt(ctx context.Context, span trace.Span, log *slog.Logger, attempt *Attempt, start time.Time) {
	attempt.Duration = o.clock().Sub(start)
	durationMs := millis(attempt.Duration)
	o.metrics.RecordAttempt(ctx, attempt.Tier, durationMs, attempt.Error)

	span.SetAttributes(
		attribute.String(telemetry.AttrOutcome, string(attempt.Outcome)),
		attribute.Int(telemetry.AttrTries, attempt.Tries),
		attribute.Float64(telemetry.AttrAttemptDuration, durationMs),
	)
	if attempt.Error == nil {
		log.Info("cascade.attempt.success",
			slog.Int("tries", attempt.Tries),
			slog.Float64("duration_ms", durationMs),
		)
		return
	}

	span.SetAttributes(telemetry.ErrorAttributes(attempt.Error)...)
	span.RecordError(attempt.Error)
	span.SetStatus(codes.Error, attempt.Error.Message())

	level := slog.LevelWarn
	if attempt.Error.Code() == errors.CodeCancelled {
		level = slog.LevelInfo
	}
	log.Log(ctx, level, "cascade.attempt.failure",
		slog.String("error_code", string(attempt.Error.Code())),
		slog.Bool("retryable", attempt.Error.Retryable()),
		slog.String("error", attempt.Error.Error()),
		slog.Int("tries", attempt.Tries),
		slog.Float64("duration_ms", durationMs),
	)
}

func (o *Orchestrator) shortCircuit(ctx context.Context, result *Result, start time.Time, cause *errors.TierError) {
	result.Attempts = []Attempt{{
		Tier:    tier.Cascade,
		Outcome: OutcomeFailure,
		Error:   cause,
	}}
	o.logger.Warn("cascade.run.rejected",
		slog.String("run_id", result.RunID),
		slog.String("function_id", result.FunctionID),
		slog.String("error_code", string(cause.Code())),
		slog.String("error", cause.Message()),
	)
	o.finish(ctx, result, start)
}

func (o *Orchestrator) finish(ctx context.Context, result *Result, start time.Time) {
	result.TotalDuration = o.clock().Sub(start)
	o.metrics.RecordRun(ctx, result.FunctionID, result.Succeeded, result.TierUsed, millis(result.TotalDuration))

	event := "cascade.run.success"
	level := slog.LevelInfo
	if !result.Succeeded {
		event = "cascade.run.exhausted"
		level = slog.LevelWarn
		if result.Cancelled() {
			event = "cascade.run.cancelled"
		}
	}
	o.logger.Log(ctx, level, event,
		slog.String("run_id", result.RunID),
		slog.String("function_id", result.FunctionID),
		slog.String("tier_used", string(result.TierUsed)),
		slog.Int("attempts", len(result.Attempts)),
		slog.Float64("duration_ms", millis(result.TotalDuration)),
	)
}

func (o *Orchestrator) breakerFor(t tier.Name, def FunctionDefinition) *resilience.CircuitBreaker {
	if o.scope == ScopeTarget {
		return o.breakers.Get(t, def.BreakerTarget())
	}
	return o.breakers.Get(t, "")
}

func (o *Orchestrator) validate(def FunctionDefinition, payload any) *errors.TierError {
	if err := def.Validate(); err != nil {
		return errors.New(tier.Cascade, errors.CodeValidationFailed, false, err.Error(), nil)
	}
	if err := checkRequired(def, payload); err != nil {
		return errors.New(tier.Cascade, errors.CodeValidationFailed, false, err.Error(), nil)
	}
	for _, v := range o.validators {
		if err := v(def, payload); err != nil {
			msg := err.Error()
			if te, ok := errors.AsTierError(err); ok {
				msg = te.Message()
			}
			return errors.New(tier.Cascade, errors.CodeValidationFailed, false, msg, err)
		}
	}
	return nil
}

func checkRequired(def FunctionDefinition, payload any) error {
	if len(def.Required) == 0 {
		return nil
	}
	fields, ok := payload.(map[string]any)
	if !ok {
		return fmt.Errorf("payload for %s must be an object with fields %v", def.ID, def.Required)
	}
	for _, name := range def.Required {
		if v, present := fields[name]; !present || v == nil {
			return fmt.Errorf("payload for %s is missing required field %q", def.ID, name)
		}
	}
	return nil
}

// resolveOrder picks the run's tier order: call option, then function
// definition, then orchestrator default, then registered tiers.
func resolveOrder(call, function, fallback, registered []tier.Name) ([]tier.Name, bool, error) {
	switch {
	case len(call) > 0:
		if err := tier.ValidateOrder(call); err != nil {
			return nil, false, fmt.Errorf("tier order: %w", err)
		}
		return call, true, nil
	case len(function) > 0:
		if err := tier.ValidateOrder(function); err != nil {
			return nil, false, fmt.Errorf("function tier order: %w", err)
		}
		return function, true, nil
	case len(fallback) > 0:
		return fallback, true, nil
	}
	return registered, false, nil
}

func missingExecutor(order []tier.Name, executors map[tier.Name]Executor) tier.Name {
	for _, t := range order {
		if _, ok := executors[t]; !ok {
			return t
		}
	}
	return ""
}

func breakerOpen(t tier.Name, name string) *errors.TierError {
	return errors.New(t, errors.CodeInternal, true,
		"circuit open: breaker "+name+" is rejecting calls", resilience.ErrCircuitOpen)
}
