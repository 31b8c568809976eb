// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/kairos-cascade/pkg/errors"
	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// CLIError wraps a TierError with a hint for the operator.
type CLIError struct {
	*errors.TierError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(te *errors.TierError, hint string) *CLIError {
	return &CLIError{TierError: te, Hint: hint}
}

func (e *CLIError) Error() string {
	if e.TierError == nil {
		return "unknown error"
	}
	msg := e.TierError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

func (e *CLIError) Unwrap() error {
	if e.TierError == nil {
		return nil
	}
	return e.TierError
}

type errorEnvelope struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    errors.ErrorCode `json:"code"`
	Tier    tier.Name        `json:"tier"`
	Message string           `json:"message"`
	Hint    string           `json:"hint,omitempty"`
	Status  int              `json:"status"`
}

// Print writes the error as text or as a JSON envelope.
func (e *CLIError) Print(w io.Writer, asJSON bool) {
	if asJSON {
		enc := json.NewEncoder(w)
		_ = enc.Encode(errorEnvelope{Error: errorBody{
			Code:    e.Code(),
			Tier:    e.Tier(),
			Message: e.Message(),
			Hint:    e.Hint,
			Status:  e.HTTPStatus(),
		}})
		return
	}

	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code(), e.Message())
	if cause := e.Cause(); cause != nil {
		fmt.Fprintf(w, "  Cause: %v\n", cause)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

// ExitCode maps the error to a process exit status.
func (e *CLIError) ExitCode() int {
	switch e.Code() {
	case errors.CodeValidationFailed, errors.CodeNotFound, errors.CodeNotConfigured:
		return 2
	case errors.CodeCancelled:
		return 130
	}
	return 1
}

func asCLIError(err error) *CLIError {
	var cliErr *CLIError
	if goerrors.As(err, &cliErr) && cliErr.TierError != nil {
		return cliErr
	}
	if te, ok := errors.AsTierError(err); ok {
		return NewCLIError(te, "")
	}
	return NewCLIError(errors.New(tier.Cascade, errors.CodeInternal, false, err.Error(), err), "")
}

func newConfigError(err error) *CLIError {
	te := errors.New(tier.Cascade, errors.CodeValidationFailed, false, "invalid configuration", err)
	return NewCLIError(te, "check --config, --set and CASCADE_* environment variables")
}

func newUsageError(format string, args ...any) *CLIError {
	te := errors.New(tier.Cascade, errors.CodeValidationFailed, false, fmt.Sprintf(format, args...), nil)
	return NewCLIError(te, "run with --help for usage")
}

// WrapConnectionError reports an unreachable server.
func WrapConnectionError(err error, addr string) *CLIError {
	te := errors.New(tier.Cascade, errors.CodeNetworkError, true, "connection to "+addr+" failed", err)
	return NewCLIError(te, fmt.Sprintf("check that cascade serve is running at %s", addr))
}

// runFailedError reports a cascade where no tier succeeded, using the last attempt's error.
func runFailedError(last *errors.TierError) *CLIError {
	if last == nil {
		last = errors.New(tier.Cascade, errors.CodeInternal, false, "cascade failed without attempts", nil)
	}
	hint := "inspect the attempts above; breakers can be checked with cascade status"
	if last.Code() == errors.CodeNotConfigured {
		hint = "configure the missing tier or pass --tiers to skip it"
	}
	return NewCLIError(last, hint)
}
