// Package resilience classifies and retries failures from the external
// ports: the mail API a message is fetched from and the stores facts
// land in. Only transient faults are retried; permanent ones surface to
// the caller, which owns dead-lettering.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// TransientError marks a failure worth retrying, typically an HTTP 429
// or 5xx from the mail API. The status code is kept for logging.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }

func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps err as retryable; statusCode may be zero for
// non-HTTP faults.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// retryableErrnos are connection-level faults that resolve on their own.
var retryableErrnos = []error{
	syscall.ECONNRESET,
	syscall.ECONNREFUSED,
	syscall.ECONNABORTED,
}

// transientPhrases catches transport faults that arrive pre-stringified
// from HTTP client internals and cannot be matched by type.
var transientPhrases = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
	"transport connection broken",
}

// IsTransient reports whether err is safe to retry: an explicit
// TransientError anywhere in the chain, a network timeout, a retryable
// errno, or a known transport-fault phrase.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	if errors.As(err, &te) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	for _, errno := range retryableErrnos {
		if errors.Is(err, errno) {
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, phrase := range transientPhrases {
		if strings.Contains(msg, phrase) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether an HTTP status from the mail
// API warrants a retry. Everything else, 404 and auth failures
// included, is permanent for that message.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}
