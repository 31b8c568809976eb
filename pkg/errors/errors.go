// SPDX-License-Identifier: Apache-2.0
// Package errors provides the tier failure taxonomy shared by every cascade component.
// A TierError records which tier failed, a closed error code, and whether the
// caller may retry.
package errors

import (
	"encoding/json"
	goerrors "errors"
	"fmt"
	"strings"

	"github.com/jllopis/kairos-cascade/pkg/tier"
)

// ErrorCode classifies tier failures for monitoring and recovery.
type ErrorCode string

const (
	// CodeTimeout indicates a tier exceeded its deadline.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeExecutionFailed indicates the tier ran and reported a failure.
	CodeExecutionFailed ErrorCode = "EXECUTION_FAILED"

	// CodeValidationFailed indicates the request was rejected before any tier ran.
	CodeValidationFailed ErrorCode = "VALIDATION_FAILED"

	// CodeNotFound indicates the function or a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeNotConfigured indicates a required tier or dependency is not configured.
	CodeNotConfigured ErrorCode = "NOT_CONFIGURED"

	// CodeRateLimited indicates the backend throttled the call.
	CodeRateLimited ErrorCode = "RATE_LIMITED"

	// CodeBudgetExceeded indicates a cost or iteration budget ran out.
	CodeBudgetExceeded ErrorCode = "BUDGET_EXCEEDED"

	// CodeCancelled indicates the caller aborted the execution.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeNetworkError indicates a transport failure reaching the tier.
	CodeNetworkError ErrorCode = "NETWORK_ERROR"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

var codes = []ErrorCode{
	CodeTimeout,
	CodeExecutionFailed,
	CodeValidationFailed,
	CodeNotFound,
	CodeNotConfigured,
	CodeRateLimited,
	CodeBudgetExceeded,
	CodeCancelled,
	CodeNetworkError,
	CodeInternal,
}

// Codes returns every member of the taxonomy.
func Codes() []ErrorCode {
	out := make([]ErrorCode, len(codes))
	copy(out, codes)
	return out
}

// Valid reports whether c belongs to the taxonomy.
func (c ErrorCode) Valid() bool {
	for _, known := range codes {
		if c == known {
			return true
		}
	}
	return false
}

// TierError is the structured failure value exchanged between cascade components.
// Its fields are fixed at construction; the cause is kept for diagnostics only.
type TierError struct {
	tier      tier.Name
	code      ErrorCode
	retryable bool
	message   string
	cause     error
}

// New creates a TierError. Retryability is decided by the caller, never inferred.
func New(t tier.Name, code ErrorCode, retryable bool, message string, cause error) *TierError {
	return &TierError{
		tier:      t,
		code:      code,
		retryable: retryable,
		message:   message,
		cause:     cause,
	}
}

// Tier returns the tier the failure originated in.
func (e *TierError) Tier() tier.Name { return e.tier }

// Code returns the taxonomy code.
func (e *TierError) Code() ErrorCode { return e.code }

// Retryable reports whether the same operation may succeed if attempted again.
func (e *TierError) Retryable() bool { return e.retryable }

// Message returns the human readable description.
func (e *TierError) Message() string { return e.message }

// Cause returns the original failure, if any.
func (e *TierError) Cause() error { return e.cause }

// Error implements the error interface.
func (e *TierError) Error() string {
	if e == nil {
		return nilTierErrorMessage
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.tier, e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s/%s] %s", e.tier, e.code, e.message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *TierError) Unwrap() error {
	return e.cause
}

type causeJSON struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

// MarshalJSON projects the error into a JSON object. Only one level of cause is
// serialized.
func (e *TierError) MarshalJSON() ([]byte, error) {
	var cause *causeJSON
	if e.cause != nil {
		cause = &causeJSON{Name: errorName(e.cause), Message: causeMessage(e.cause)}
	}
	return json.Marshal(&struct {
		Name      string     `json:"name"`
		Tier      tier.Name  `json:"tier"`
		Code      ErrorCode  `json:"code"`
		Retryable bool       `json:"retryable"`
		Message   string     `json:"message"`
		Cause     *causeJSON `json:"cause,omitempty"`
	}{
		Name:      "TierError",
		Tier:      e.tier,
		Code:      e.code,
		Retryable: e.retryable,
		Message:   e.message,
		Cause:     cause,
	})
}

// From normalizes v into a TierError using INTERNAL_ERROR, non-retryable defaults.
func From(t tier.Name, v any) *TierError {
	return FromWith(t, v, CodeInternal, false)
}

// FromWith normalizes an arbitrary failure raised by a tier executor.
// An existing TierError is returned unchanged, keeping its original tier. A
// wrapped TierError keeps its tier, code and retryability with the wrapper as
// cause. Other errors are wrapped with the given defaults and kept as cause.
// Any other value becomes the message of a cause-less TierError.
func FromWith(t tier.Name, v any, defaultCode ErrorCode, defaultRetryable bool) *TierError {
	switch value := v.(type) {
	case nil:
		return nil
	case *TierError:
		if value == nil {
			return New(t, defaultCode, defaultRetryable, nilTierErrorMessage, nil)
		}
		return value
	case error:
		var te *TierError
		if goerrors.As(value, &te) {
			if te == nil {
				return New(t, defaultCode, defaultRetryable, nilTierErrorMessage, value)
			}
			return New(te.tier, te.code, te.retryable, te.message, value)
		}
		return New(t, defaultCode, defaultRetryable, value.Error(), value)
	case string:
		return New(t, defaultCode, defaultRetryable, value, nil)
	default:
		return New(t, defaultCode, defaultRetryable, fmt.Sprint(value), nil)
	}
}

const nilTierErrorMessage = "executor returned a nil TierError"

// IsTierError reports whether err is, or wraps, a TierError.
func IsTierError(err error) bool {
	_, ok := AsTierError(err)
	return ok
}

// AsTierError extracts a TierError from the chain of err.
func AsTierError(err error) (*TierError, bool) {
	var te *TierError
	if goerrors.As(err, &te) && te != nil {
		return te, true
	}
	return nil, false
}

// HasCode reports whether err carries a TierError with the given code.
func HasCode(err error, code ErrorCode) bool {
	te, ok := AsTierError(err)
	return ok && te.code == code
}

// RetryableString returns "true" or "false" as a string for observability.
func (e *TierError) RetryableString() string {
	if e.retryable {
		return "true"
	}
	return "false"
}

// HTTPStatus maps the code to an HTTP status for API and CLI responses.
func (e *TierError) HTTPStatus() int {
	switch e.code {
	case CodeValidationFailed:
		return 400
	case CodeNotFound:
		return 404
	case CodeTimeout:
		return 504
	case CodeRateLimited, CodeBudgetExceeded:
		return 429
	case CodeCancelled:
		return 499
	case CodeNotConfigured, CodeNetworkError:
		return 503
	default:
		return 500
	}
}

func errorName(err error) string {
	if _, ok := err.(*TierError); ok {
		return "TierError"
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

// causeMessage avoids leaking the nested chain of a TierError cause.
func causeMessage(err error) string {
	if te, ok := err.(*TierError); ok {
		return te.message
	}
	return err.Error()
}
