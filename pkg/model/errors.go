package model

import "github.com/conclave-ai/conclave/pkg/apperr"

// NewCancelled, NewProtocolError, NewModelUnavailable, and
// NewConsistencyViolation build the apperr.Error kinds the Gateway raises,
// matching the three failure classes spec.md §4.A distinguishes: transport
// (retryable), protocol (non-retryable, surfaced verbatim), and timeout.

func NewCancelled(err error) *apperr.Error {
	return apperr.Wrap(apperr.Cancelled, "request cancelled", err)
}

func NewProtocolError(err error) *apperr.Error {
	return apperr.Wrap(apperr.ModelUnavailable, "provider returned a non-retryable error", err)
}

func NewModelUnavailable(err error) *apperr.Error {
	return apperr.Wrap(apperr.ModelUnavailable, "model gateway exhausted its retry budget", err)
}

func NewConsistencyViolation(err error) *apperr.Error {
	return apperr.Wrap(apperr.ConsistencyViolation, "message sequence violates the alternation rule", err)
}

// RetryableError marks transport-level failures (network errors, 429s,
// 5xxs) that the Gateway's retry loop should re-attempt, mirroring
// httpclient.RetryableError's IsRetryable contract.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }
func (e *RetryableError) IsRetryable() bool { return true }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable reports whether err was marked retryable by a Provider.
func IsRetryable(err error) bool {
	type retryable interface{ IsRetryable() bool }
	if r, ok := err.(retryable); ok {
		return r.IsRetryable()
	}
	return false
}
