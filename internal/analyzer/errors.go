package analyzer

import (
	"errors"
	"fmt"
)

// ErrModelNotFound is wrapped by HealthCheck when the configured model is not
// served by the inference endpoint.
var ErrModelNotFound = errors.New("model not available")

// StatusError is a non-2xx answer from the inference endpoint.
type StatusError struct {
	Provider string
	Code     int
	Body     string // truncated to 512 bytes
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s API error %d: %s", e.Provider, e.Code, e.Body)
}

// TransportError is returned once the retry budget is exhausted. Err is the
// last attempt's failure.
type TransportError struct {
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("inference failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ParseError means no extraction strategy produced a JSON object.
type ParseError struct {
	Excerpt string // first 500 characters of the raw output
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("no JSON object in model output: %v (raw: %q)", e.Err, e.Excerpt)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ContractError means the parsed object violates the verdict contract.
type ContractError struct {
	Field  string
	Reason string
}

func (e *ContractError) Error() string {
	if e.Field == "" {
		return "verdict contract: " + e.Reason
	}
	return fmt.Sprintf("verdict contract: %s: %s", e.Field, e.Reason)
}

// truncateAPIError limits API error response bodies to prevent sensitive information leakage.
// Returns at most 512 bytes of the response for diagnostic purposes.
func truncateAPIError(body []byte) string {
	const maxLen = 512
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "... (truncated)"
}

// excerpt returns the first n runes of s.
func excerpt(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
