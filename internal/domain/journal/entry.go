// Package journal defines the operation journal: an append-only trail of
// every cart store operation and the phases it went through.
//
// The journal is how the two-phase quantity update stays observable: the
// intermediate state (line removed remotely, not yet re-added) is written
// before the second phase starts, so a crash or failure between the phases
// leaves a record of the divergence until the next refresh heals it.
package journal

import "time"

// Phase is the lifecycle point an entry records.
type Phase string

const (
	PhaseStarted   Phase = "STARTED"
	PhaseRemoved   Phase = "REMOVED" // update: line absent remotely
	PhaseCompleted Phase = "COMPLETED"
	PhaseFailed    Phase = "FAILED"
)

// Entry is one row of the journal.
type Entry struct {
	// OperationID groups the entries of one operation.
	OperationID string `json:"operation_id"`
	Identity    string `json:"identity"`
	Op          string `json:"op"`
	ProductID   string `json:"product_id,omitempty"`
	Quantity    int    `json:"quantity,omitempty"`
	Phase       Phase  `json:"phase"`
	// Outcome is set on terminal entries.
	Outcome string `json:"outcome,omitempty"`
	Message string `json:"message,omitempty"`
	// TraceID and SpanID tie the entry to the active span.
	TraceID string    `json:"trace_id,omitempty"`
	SpanID  string    `json:"span_id,omitempty"`
	At      time.Time `json:"at"`
}

// Terminal reports whether the entry closes its operation.
func (e Entry) Terminal() bool {
	return e.Phase == PhaseCompleted || e.Phase == PhaseFailed
}
