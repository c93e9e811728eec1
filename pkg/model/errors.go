package model

import "errors"

// The adapter's failure taxonomy. Callers select fallback behavior with
// errors.Is; the retry policy lives entirely inside the adapter.
var (
	// ErrModelUnavailable indicates a transport-level failure reaching the
	// model endpoint. Retried with backoff.
	ErrModelUnavailable = errors.New("model endpoint unavailable")

	// ErrModelThrottled indicates a rate-limit response. Retried with
	// backoff (completions only).
	ErrModelThrottled = errors.New("model endpoint throttled")

	// ErrModelRejected indicates a policy refusal by the provider. Never
	// retried; handlers continue with their deterministic fallback.
	ErrModelRejected = errors.New("model rejected the request")

	// ErrModelInvalid indicates a malformed or wrong-shape response,
	// including an embedding of the wrong dimension. Never retried.
	ErrModelInvalid = errors.New("model response invalid")
)
