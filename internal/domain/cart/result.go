package cart

// Op names a cart store operation. Values double as metric labels and
// journal entries.
type Op string

const (
	OpAdd      Op = "add"
	OpRemove   Op = "remove"
	OpUpdate   Op = "update"
	OpClear    Op = "clear"
	OpRefresh  Op = "refresh"
	OpIdentity Op = "identity"
	OpCheckout Op = "checkout"
)

// Outcome tells a caller how far the server confirmed an operation.
type Outcome int

const (
	// OutcomeReconciled: the server accepted the change and the local
	// snapshot reflects it.
	OutcomeReconciled Outcome = iota
	// OutcomeOptimistic: the remote call failed and the change was applied
	// locally only, pending the next successful refresh.
	OutcomeOptimistic
	// OutcomeFailed: the remote call failed and the snapshot was left as it
	// was (or, for a clear, only partially emptied).
	OutcomeFailed
	// OutcomeRejected: the input was invalid; no remote call was made.
	OutcomeRejected
	// OutcomeSkipped: there is no identity, nothing was done.
	OutcomeSkipped
)

// String returns the lower-case outcome name.
func (o Outcome) String() string {
	switch o {
	case OutcomeReconciled:
		return "reconciled"
	case OutcomeOptimistic:
		return "optimistic"
	case OutcomeFailed:
		return "failed"
	case OutcomeRejected:
		return "rejected"
	case OutcomeSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// MarshalText encodes the outcome name.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Result is what every mutating cart store operation returns.
type Result struct {
	Op      Op      `json:"op"`
	Outcome Outcome `json:"outcome"`
	// Cart is the snapshot published when the operation settled.
	Cart Cart `json:"cart"`
	// Err is the failure, nil for reconciled and skipped results.
	Err error `json:"-"`
}

// Confirmed reports whether the server confirmed the change.
func (r Result) Confirmed() bool {
	return r.Outcome == OutcomeReconciled
}

// Message returns the user-visible failure text or "".
func (r Result) Message() string {
	return Reason(r.Err)
}
