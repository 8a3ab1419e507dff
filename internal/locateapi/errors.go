package locateapi

import (
	"errors"
	"fmt"
)

// ErrSessionExpired is the distinguished authorization failure: the session has
// already been cleared by the pipeline, so callers should not log it again.
var ErrSessionExpired = errors.New("session expired")

// ErrNoToken is returned when a request is attempted without a session. It is a session expiry.
var ErrNoToken = fmt.Errorf("no authentication token available: %w", ErrSessionExpired)

// IsSessionExpired reports whether err is (or wraps) ErrSessionExpired.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}

// StatusError is an HTTP-level failure (non-2xx other than 401/403).
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: API response error: %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: API response error: %d", e.Op, e.Status)
}

// EnvelopeError is a domain failure reported by the API with success:false.
type EnvelopeError struct {
	Op      string
	Message string
}

func (e *EnvelopeError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}
