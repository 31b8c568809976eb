// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package executors

import (
	"context"
	"encoding/json"
	goerrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jllopis/kairos-cascade/pkg/approval"
	"github.com/jllopis/kairos-cascade/pkg/cascade"
	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// DefaultPollInterval is how often the human tier checks for a decision.
const DefaultPollInterval = time.Second

// HumanExecutor files an approval request and waits for a person to decide.
// An approval returns the approver's output, or the original payload when
// none was given.
type HumanExecutor struct {
	store        approval.Store
	pollInterval time.Duration
	logger       *slog.Logger
}

// HumanOption configures a HumanExecutor.
type HumanOption func(*HumanExecutor)

// WithPollInterval sets how often the store is polled.
func WithPollInterval(d time.Duration) HumanOption {
	return func(e *HumanExecutor) {
		if d > 0 {
			e.pollInterval = d
		}
	}
}

// WithHumanLogger sets the logger.
func WithHumanLogger(l *slog.Logger) HumanOption {
	return func(e *HumanExecutor) {
		if l != nil {
			e.logger = l
		}
	}
}

// NewHumanExecutor creates a human tier executor backed by store.
func NewHumanExecutor(store approval.Store, opts ...HumanOption) *HumanExecutor {
	e := &HumanExecutor{store: store, pollInterval: DefaultPollInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute implements cascade.Executor.
func (e *HumanExecutor) Execute(ctx context.Context, req cascade.Request) (any, error) {
	if e == nil || e.store == nil {
		return nil, notConfigured(tier.Human, "approval store")
	}
	var payload json.RawMessage
	if req.Payload != nil {
		data, err := json.Marshal(req.Payload)
		if err != nil {
			return nil, errors.New(tier.Human, errors.CodeValidationFailed, false, "payload is not JSON encodable", err)
		}
		payload = data
	}

	var expiresAt time.Time
	if req.Timeout > 0 {
		expiresAt = time.Now().UTC().Add(req.Timeout)
	}
	if deadline, ok := ctx.Deadline(); ok && (expiresAt.IsZero() || deadline.Before(expiresAt)) {
		expiresAt = deadline.UTC()
	}

	created, err := e.store.Create(ctx, approval.Request{
		RunID:      req.RunID,
		FunctionID: req.Function.ID,
		Summary:    summary(req.Function),
		Payload:    payload,
		Approvers:  req.Function.Approvers,
		ExpiresAt:  expiresAt,
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.New(tier.Human, errors.CodeInternal, false, "could not file approval request", err)
	}
	log := e.logger.With(
		slog.String("run_id", req.RunID),
		slog.String("function_id", req.Function.ID),
		slog.String("approval_id", created.ID),
	)
	log.InfoContext(ctx, "approval.request.created", slog.Time("expires_at", expiresAt))

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()
	for {
		current, err := e.store.Get(ctx, created.ID)
		switch {
		case err != nil && ctx.Err() == nil:
			log.WarnContext(ctx, "approval.request.poll.error", slog.String("error", err.Error()))
		case err == nil:
			if out, done, err := e.outcome(current, req.Payload); done {
				log.InfoContext(ctx, "approval.request.decided", slog.String("status", string(current.Status)))
				return out, err
			}
		}

		select {
		case <-ctx.Done():
			e.abandon(ctx, created.ID, log)
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *HumanExecutor) outcome(req *approval.Request, payload any) (any, bool, error) {
	switch req.Status {
	case approval.StatusApproved:
		if len(req.Output) == 0 {
			return payload, true, nil
		}
		var out any
		if err := json.Unmarshal(req.Output, &out); err != nil {
			return nil, true, errors.New(tier.Human, errors.CodeInternal, false, "approval output is not valid JSON", err)
		}
		return out, true, nil
	case approval.StatusRejected:
		msg := "rejected by approver"
		if req.Reason != "" {
			msg = fmt.Sprintf("rejected by approver: %s", req.Reason)
		}
		return nil, true, errors.New(tier.Human, errors.CodeExecutionFailed, false, msg, nil)
	case approval.StatusExpired:
		return nil, true, errors.New(tier.Human, errors.CodeTimeout, false, "approval expired before a decision", nil)
	}
	return nil, false, nil
}

// abandon marks the request expired so approvers stop seeing it.
func (e *HumanExecutor) abandon(ctx context.Context, id string, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	_, err := e.store.Decide(ctx, id, approval.Decision{Status: approval.StatusExpired, Reason: "tier deadline passed"})
	if err != nil && !goerrors.Is(err, approval.ErrDecided) {
		log.WarnContext(ctx, "approval.request.abandon.error", slog.String("error", err.Error()))
	}
}

func summary(def cascade.FunctionDefinition) string {
	if def.Description != "" {
		return def.Description
	}
	if def.Name != "" {
		return def.Name
	}
	return def.ID
}
