package cart

import (
	"errors"
	"fmt"
)

// Sentinel errors for use with errors.Is().
var (
	// ErrUnauthorized means the credential is missing, invalid or expired.
	// It is handed to the identity collaborator and never retried here.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound means the remote line or product does not exist. Benign
	// for removals, a real failure for additions.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable covers transport failures, timeouts and 5xx answers.
	// It is the failure that triggers optimistic local fallbacks.
	ErrUnavailable = errors.New("remote cart unavailable")

	// ErrInvalid is a synchronous rejection of caller input; no remote call
	// is made.
	ErrInvalid = errors.New("invalid request")

	// ErrBusy is returned in reject mode while another operation is pending.
	ErrBusy = errors.New("another cart operation is pending")

	// ErrNoIdentity is returned by operations that need an identity.
	ErrNoIdentity = errors.New("no identity")
)

// GatewayError is a classified failure of a remote cart call.
type GatewayError struct {
	// Kind is one of ErrUnauthorized, ErrNotFound, ErrUnavailable or
	// ErrInvalid.
	Kind error
	// Op names the remote operation ("fetch", "add", "remove", "checkout").
	Op string
	// StatusCode is the HTTP status, zero for transport failures.
	StatusCode int
	// Message is the server-supplied message, surfaced verbatim.
	Message string
	// Cause is the underlying error, if any.
	Cause error
}

// Error returns the error message.
func (e *GatewayError) Error() string {
	switch {
	case e.Message != "":
		return fmt.Sprintf("cart %s: %s", e.Op, e.Message)
	case e.Cause != nil:
		return fmt.Sprintf("cart %s: %v: %v", e.Op, e.Kind, e.Cause)
	default:
		return fmt.Sprintf("cart %s: %v", e.Op, e.Kind)
	}
}

// Unwrap returns the underlying cause.
func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is the error kind.
func (e *GatewayError) Is(target error) bool {
	return target == e.Kind
}

// Invalidf returns an ErrInvalid wrapped with a formatted detail.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// Reason is the user-visible text for err. A server-supplied message is
// returned verbatim; anything else falls back to err.Error().
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.Message != "" {
		return gwErr.Message
	}
	return err.Error()
}

// IsOptimisticEligible reports whether a failed remote call may be papered
// over with a local-only edit. Only transport-level unavailability
// qualifies; a rejected credential or an unknown product must surface.
func IsOptimisticEligible(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalid) {
		return false
	}
	return true
}
