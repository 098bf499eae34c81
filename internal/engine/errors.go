// Package engine error taxonomy. Tool-level failures are absorbed at the
// runner boundary and become error ToolResults; only provider-transport and
// log-write failures may abort a turn.

package engine

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrApprovalPending is a control-flow signal, not a failure: the call may
// not execute yet and will be resumed by a later approval-response event.
var ErrApprovalPending = errors.New("approval pending")

// PolicyDeniedError indicates a tool call forbidden by static policy. It is
// surfaced to the model as an error ToolResult, never as a crash.
type PolicyDeniedError struct {
	Tool string
	Rule string // which policy entry matched
}

func (e *PolicyDeniedError) Error() string {
	if e.Rule != "" {
		return fmt.Sprintf("tool %s denied by policy (%s)", e.Tool, e.Rule)
	}
	return fmt.Sprintf("tool %s denied by policy", e.Tool)
}

// IsPolicyDenied reports whether err is a PolicyDeniedError.
func IsPolicyDenied(err error) bool {
	var pd *PolicyDeniedError
	return errors.As(err, &pd)
}

// ExecutionError indicates a tool threw, timed out or panicked. The runner
// converts it to an error ToolResult; the batch continues.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("tool %s execution failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// LogWriteError is fatal to the turn: the system cannot proceed without
// durable state, so the turn halts rather than continuing as if the event
// existed.
type LogWriteError struct {
	Op  string
	Err error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("event log write failed during %s: %v", e.Op, e.Err)
}

func (e *LogWriteError) Unwrap() error {
	return e.Err
}

// IsLogWrite reports whether err is a LogWriteError.
func IsLogWrite(err error) bool {
	var lw *LogWriteError
	return errors.As(err, &lw)
}

// RetryClass indicates whether a provider error should be retried.
type RetryClass string

const (
	RetryClassRetryable    RetryClass = "retryable"
	RetryClassMaybe        RetryClass = "maybe" // retry with a reduced budget
	RetryClassNonRetryable RetryClass = "non_retryable"
)

// ProviderError wraps a provider-transport failure with classification
// metadata. It aborts the current turn; no partial tool calls were
// dispatched yet, so there is nothing to reconcile.
type ProviderError struct {
	Err        error
	Class      RetryClass
	HTTPStatus int
	RetryAfter string // Retry-After header value if present
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("provider error: %s", e.Class)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapProviderError classifies and wraps an error from a provider call.
func WrapProviderError(err error, httpStatus int, retryAfter string) error {
	if err == nil {
		return nil
	}
	return &ProviderError{
		Err:        err,
		Class:      classifyProviderError(err, httpStatus),
		HTTPStatus: httpStatus,
		RetryAfter: retryAfter,
	}
}

// classifyProviderError decides the retry class for a provider failure.
func classifyProviderError(err error, httpStatus int) RetryClass {
	switch httpStatus {
	case http.StatusTooManyRequests:
		return RetryClassRetryable
	case http.StatusUnauthorized, http.StatusForbidden,
		http.StatusBadRequest, http.StatusPaymentRequired:
		return RetryClassNonRetryable
	}
	if httpStatus >= 500 {
		return RetryClassRetryable
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "service unavailable") ||
		strings.Contains(errStr, "internal server error") {
		return RetryClassRetryable
	}

	if strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "timeout") {
		return RetryClassMaybe
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "bad request") ||
		strings.Contains(errStr, "content filter") ||
		strings.Contains(errStr, "quota") {
		return RetryClassNonRetryable
	}

	return RetryClassNonRetryable
}

// ClassOf returns the retry class of err, defaulting to non-retryable for
// errors that carry no classification.
func ClassOf(err error) RetryClass {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Class
	}
	return classifyProviderError(err, 0)
}

// RetryExhaustedError indicates all retry attempts for a provider call were
// consumed.
type RetryExhaustedError struct {
	Err      error
	Attempts int
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Err
}

// IsRetryExhausted reports whether err is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var re *RetryExhaustedError
	return errors.As(err, &re)
}

// ToolValidationError indicates tool arguments failed JSON schema
// validation.
type ToolValidationError struct {
	ToolName string
	Errors   []string
}

func (e *ToolValidationError) Error() string {
	return fmt.Sprintf("tool %s validation failed: %s", e.ToolName, strings.Join(e.Errors, "; "))
}
