package acl

import (
	"errors"
	"fmt"
	"time"

	"aegis/pkg/config"
)

// RateLimitError rejects a call before any pipeline work begins. It is
// never retried within the same Call.
type RateLimitError struct {
	Adapter string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("[%s] adapter %s: rate limit exceeded", config.GovernanceTag, e.Adapter)
}

// CircuitOpenError rejects a call while the breaker is OPEN and no
// fallback is configured. A policy decision, not a transient fault.
type CircuitOpenError struct {
	Adapter string
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("[%s] adapter %s: circuit open", config.GovernanceTag, e.Adapter)
}

// TimeoutError marks a single execution attempt that exceeded the
// per-attempt deadline.
type TimeoutError struct {
	Adapter string
	Attempt int
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("[%s] adapter %s: attempt %d exceeded %v", config.GovernanceTag, e.Adapter, e.Attempt+1, e.Timeout)
}

// ExecutionError wraps any failure the protocol Execute hook raised,
// including validation rejections.
type ExecutionError struct {
	Adapter string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("[%s] adapter %s: execution failed: %v", config.GovernanceTag, e.Adapter, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// retryable reports whether a failure may consume retry budget.
// Rate-limit and circuit-open rejections never retry.
func retryable(err error) bool {
	var timeout *TimeoutError
	var execution *ExecutionError
	return errors.As(err, &timeout) || errors.As(err, &execution)
}
