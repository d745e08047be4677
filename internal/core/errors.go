package core

import "errors"

// Error kinds shared across adapters. Callers wrap these with %w and transports map
// them onto status codes with errors.Is.
var (
	// ErrInvalidInput marks a request the caller must fix before retrying.
	ErrInvalidInput = errors.New("invalid input")
	// ErrUpstreamUnavailable marks a failure of an external dependency such as the LLM.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrSynthesisFailed marks a failure inside the speech runtime.
	ErrSynthesisFailed = errors.New("synthesis failed")
)
