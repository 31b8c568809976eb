// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package executors provides the tier executors behind each cascade tier.
package executors

import (
	"context"
	goerrors "errors"
	"net"
	"net/http"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/llm"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// classify maps a backend failure onto the tier failure taxonomy.
// Context errors pass through untouched so the orchestrator can tell a
// deadline from a caller cancellation.
func classify(t tier.Name, err error) error {
	if err == nil {
		return nil
	}
	if goerrors.Is(err, context.Canceled) || goerrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if te, ok := errors.AsTierError(err); ok {
		return te
	}
	if status, ok := llm.StatusCode(err); ok {
		switch {
		case status == http.StatusTooManyRequests:
			return errors.New(t, errors.CodeRateLimited, true, "backend rate limited the request", err)
		case status == http.StatusUnauthorized || status == http.StatusForbidden:
			return errors.New(t, errors.CodeNotConfigured, false, "backend rejected the credentials", err)
		case status >= http.StatusInternalServerError:
			return errors.New(t, errors.CodeNetworkError, true, "backend unavailable", err)
		default:
			return errors.New(t, errors.CodeExecutionFailed, false, err.Error(), err)
		}
	}
	var netErr net.Error
	if goerrors.As(err, &netErr) {
		return errors.New(t, errors.CodeNetworkError, true, "network failure reaching backend", err)
	}
	return errors.New(t, errors.CodeExecutionFailed, false, err.Error(), err)
}

func notConfigured(t tier.Name, what string) error {
	return errors.New(t, errors.CodeNotConfigured, false, what+" is not configured", nil)
}
