package workflow

import "fmt"

// FaultKind categorizes a failure raised by an external call or a
// validation step.
type FaultKind string

const (
	// FaultValidation is bad input to a stage. Never retried.
	FaultValidation FaultKind = "validation"
	// FaultTimeout covers deadlines and connection-level transients.
	FaultTimeout FaultKind = "timeout"
	// FaultAuth covers authentication and permission failures.
	FaultAuth FaultKind = "auth"
	// FaultServiceUnavailable means a collaborator is temporarily down.
	FaultServiceUnavailable FaultKind = "service_unavailable"
	// FaultUnknown is everything else, including malformed model output.
	FaultUnknown FaultKind = "unknown"
)

// Fault is a classified failure. It is a value, not a Go error: stages
// report faults inside an Outcome rather than letting them unwind.
type Fault struct {
	Kind      FaultKind `json:"kind"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
}

// NewFault creates a fault.
func NewFault(kind FaultKind, message string, retryable bool) Fault {
	return Fault{Kind: kind, Message: message, Retryable: retryable}
}

// Error implements the error interface for logging and wrapping.
func (f Fault) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// firstRetryable returns the first retryable fault, if any.
func firstRetryable(faults []Fault) (Fault, bool) {
	for _, f := range faults {
		if f.Retryable {
			return f, true
		}
	}
	return Fault{}, false
}
