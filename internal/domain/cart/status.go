package cart

import "fmt"

// StatusKind is the state of the cart store's operation status machine.
type StatusKind int

const (
	// StatusIdle means no operation is running and the last one succeeded.
	StatusIdle StatusKind = iota
	// StatusPending means an operation is in flight.
	StatusPending
	// StatusError means the last operation failed. Not sticky: the next
	// operation moves the status back to Pending.
	StatusError
)

// String returns the lower-case name of the kind.
func (k StatusKind) String() string {
	switch k {
	case StatusIdle:
		return "idle"
	case StatusPending:
		return "pending"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(k))
	}
}

// Status is the operation status together with the error message when
// Kind is StatusError.
type Status struct {
	Kind    StatusKind `json:"kind" yaml:"kind"`
	Message string     `json:"message,omitempty" yaml:"message,omitempty"`
}

// Idle returns the idle status.
func Idle() Status { return Status{Kind: StatusIdle} }

// Pending returns the pending status.
func Pending() Status { return Status{Kind: StatusPending} }

// Errored returns an error status carrying message.
func Errored(message string) Status { return Status{Kind: StatusError, Message: message} }

// IsPending reports whether an operation is in flight.
func (s Status) IsPending() bool { return s.Kind == StatusPending }

// IsError reports whether the last operation failed.
func (s Status) IsError() bool { return s.Kind == StatusError }

// String renders "idle", "pending" or "error: <message>".
func (s Status) String() string {
	if s.Kind == StatusError {
		return "error: " + s.Message
	}
	return s.Kind.String()
}

// MarshalText encodes the kind name so JSON and YAML output stay readable.
func (k StatusKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}
