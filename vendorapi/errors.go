package vendorapi

import (
	"errors"
	"fmt"
)

// UnavailableError wraps transport-level failures: connection refused,
// timeouts, 5xx responses. Recoverable via backoff and retry.
type UnavailableError struct {
	Err error
}

func (e *UnavailableError) Error() string { return fmt.Sprintf("vendor unavailable: %v", e.Err) }
func (e *UnavailableError) Unwrap() error { return e.Err }

// AuthError reports a rejected credential (401/403). Recoverable after a
// credential refresh, otherwise fatal.
type AuthError struct {
	Status int
}

func (e *AuthError) Error() string { return fmt.Sprintf("vendor auth rejected (status %d)", e.Status) }

// ProtocolError reports a malformed vendor payload. The offending record is
// skipped; the surrounding loop keeps running.
type ProtocolError struct {
	Detail string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("vendor protocol error: %s: %v", e.Detail, e.Err)
	}
	return fmt.Sprintf("vendor protocol error: %s", e.Detail)
}
func (e *ProtocolError) Unwrap() error { return e.Err }

// RejectedError reports a command the vendor refused (4xx other than auth).
// Not retried for destructive command kinds.
type RejectedError struct {
	Status int
	Reason string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("vendor rejected command (status %d): %s", e.Status, e.Reason)
}

// IsUnavailable reports whether err is a transport-level vendor failure.
func IsUnavailable(err error) bool {
	var ue *UnavailableError
	return errors.As(err, &ue)
}

// IsAuthError reports whether err is a credential rejection.
func IsAuthError(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// IsRejected reports whether err is a vendor-side command rejection.
func IsRejected(err error) bool {
	var re *RejectedError
	return errors.As(err, &re)
}
