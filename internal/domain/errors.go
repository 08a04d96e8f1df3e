package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork marks transport-level failures (DNS, connection reset, timeout).
	ErrNetwork = errors.New("network error")
	// ErrHTTP marks responses with a non-2xx status.
	ErrHTTP = errors.New("http error")
	// ErrMalformedInput is returned when a payload does not have the expected shape.
	ErrMalformedInput = errors.New("malformed input")
	// ErrCacheMiss is returned when a fetch failed and no cached fallback exists.
	ErrCacheMiss = errors.New("cache miss")
)

// HTTPError is a non-2xx answer from the upstream API.
type HTTPError struct {
	StatusCode int
	Path       string
	Message    string
}

func (e *HTTPError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("GitHub API error: %d (%s): %s", e.StatusCode, e.Path, e.Message)
	}
	return fmt.Sprintf("GitHub API error: %d (%s)", e.StatusCode, e.Path)
}

func (e *HTTPError) Unwrap() error { return ErrHTTP }

// NetworkError wraps a transport failure for the given path.
type NetworkError struct {
	Path string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error fetching %s: %v", e.Path, e.Err)
}

func (e *NetworkError) Unwrap() []error { return []error{ErrNetwork, e.Err} }

// Malformed builds an ErrMalformedInput with some context attached.
func Malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}
