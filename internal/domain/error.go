package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNoResult        = errors.New("run finished without a result")
	ErrCancelled       = errors.New("turn cancelled")
	ErrSuperseded      = errors.New("turn superseded by a newer message")
	// ErrStreamDecode marks a single malformed stream frame. It never leaves the decoder.
	ErrStreamDecode = errors.New("malformed stream frame")
)

// AuthError reports a failed credential exchange.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth: credential exchange failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// HTTPError is returned for any non-2xx response from the remote service.
type HTTPError struct {
	Status   int
	Endpoint string
	Body     string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http %d from %s", e.Status, e.Endpoint)
	}
	return fmt.Sprintf("http %d from %s: %s", e.Status, e.Endpoint, e.Body)
}

// IsHTTPStatus reports whether err wraps an HTTPError with the given status.
func IsHTTPStatus(err error, status int) bool {
	var he *HTTPError
	return errors.As(err, &he) && he.Status == status
}
