package conductor

import (
	"errors"
	"fmt"
)

// Sentinel errors matched with errors.Is. Absence of a workflow is a normal
// outcome for lookup operations, so ErrNotFound is returned rather than
// wrapped in a failure type.
var (
	// ErrNotFound indicates the requested workflow does not exist.
	ErrNotFound = errors.New("workflow not found")

	// ErrWorkflowBusy indicates another caller holds the execution lease
	// for the workflow.
	ErrWorkflowBusy = errors.New("workflow busy")

	// ErrNoRecoveryData indicates no recoverable checkpoint exists and no
	// explicit recovery point was supplied. Restarting from scratch must be
	// an explicit caller choice, never a silent default.
	ErrNoRecoveryData = errors.New("no recovery data available")
)

// PersistenceError wraps a state store I/O failure. It is never swallowed
// inside the core; silently losing a checkpoint would corrupt recovery.
type PersistenceError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *PersistenceError) Error() string {
	if e.WorkflowID == "" {
		return fmt.Sprintf("persistence error during %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("persistence error during %s for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// InvocationError indicates a work-unit invocation failed. Inside the dynamic
// coordination loop it is absorbed into the accumulated results as feedback;
// anywhere else it propagates as a hard failure.
type InvocationError struct {
	Unit string
	Err  error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invocation of unit %q failed: %v", e.Unit, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// GraphBuildError indicates a malformed supervision or dependency
// declaration. Build failures are fatal and never partially applied.
type GraphBuildError struct {
	Reason string
}

func (e *GraphBuildError) Error() string {
	return "graph build error: " + e.Reason
}

func newGraphBuildError(format string, args ...any) *GraphBuildError {
	return &GraphBuildError{Reason: fmt.Sprintf(format, args...)}
}

// InvalidTransitionError indicates an attempt to move a workflow between
// statuses the state machine does not permit, including any mutation of a
// terminal status.
type InvalidTransitionError struct {
	WorkflowID string
	From       Status
	To         Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s for workflow %s", e.From, e.To, e.WorkflowID)
}
