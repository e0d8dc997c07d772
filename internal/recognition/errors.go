package recognition

import (
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrIdentityNotFound is the named non-fatal outcome for a page whose
// identity block (printed code or QR) could not be located. It triggers the
// identity-less fallback pass in the page processor and must never be
// retried as if it were a transport failure.
var ErrIdentityNotFound = errors.New("recognition: identity not found")

// FailureReason distinguishes why a recognition call failed, so callers can
// log and degrade differently for an unreachable service versus a page the
// service rejected.
type FailureReason string

const (
	FailureConnRefused     FailureReason = "connection_refused"
	FailureHostUnreachable FailureReason = "host_unreachable"
	FailureRemote          FailureReason = "remote_error"
	FailureTransport       FailureReason = "transport_error"
)

// ServiceError is the failure returned by a single recognition attempt.
// StatusCode and Body are populated for FailureRemote only.
type ServiceError struct {
	Reason     FailureReason
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	if e.Reason == FailureRemote {
		return fmt.Sprintf("recognition service: remote error (status %d): %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("recognition service: %s: %v", e.Reason, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// classify maps low-level transport errors onto the failure taxonomy.
func classify(err error) FailureReason {
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		return FailureConnRefused
	case errors.Is(err, syscall.EHOSTUNREACH), errors.Is(err, syscall.ENETUNREACH):
		return FailureHostUnreachable
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return FailureHostUnreachable
	}
	return FailureTransport
}
