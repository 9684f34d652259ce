package conductor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// StateMachine owns persistence of WorkflowState records: status transitions,
// checkpoint creation, and recovery-point derivation, all against a Store.
type StateMachine struct {
	store   Store
	logger  *slog.Logger
	metrics *Metrics
}

// StateMachineOptions configures a StateMachine.
type StateMachineOptions struct {
	Store   Store
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewStateMachine creates a state machine over the given store.
func NewStateMachine(opts StateMachineOptions) (*StateMachine, error) {
	if opts.Store == nil {
		return nil, errors.New("store is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &StateMachine{
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}, nil
}

// Save persists the full state record, refreshing UpdatedAt. Once a persisted
// record reaches a terminal status, a save that would change the status is
// rejected; recovery must create a new execution attempt instead.
func (m *StateMachine) Save(ctx context.Context, state *WorkflowState) error {
	prior, err := m.Load(ctx, state.WorkflowID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if prior != nil && prior.Status.Terminal() && prior.Status != state.Status {
		return &InvalidTransitionError{
			WorkflowID: state.WorkflowID,
			From:       prior.Status,
			To:         state.Status,
		}
	}

	state.UpdatedAt = time.Now()
	record, err := encodeState(state)
	if err != nil {
		return &PersistenceError{Op: "encode", WorkflowID: state.WorkflowID, Err: err}
	}
	if err := m.store.Put(ctx, state.WorkflowID, record); err != nil {
		return err
	}
	m.logger.Debug("workflow state saved",
		"workflow_id", state.WorkflowID,
		"status", state.Status,
		"checkpoints", len(state.Checkpoints))
	return nil
}

// Load reads a workflow state. Returns ErrNotFound for unknown IDs.
func (m *StateMachine) Load(ctx context.Context, workflowID string) (*WorkflowState, error) {
	record, err := m.store.Get(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	state, err := decodeState(record)
	if err != nil {
		return nil, &PersistenceError{Op: "decode", WorkflowID: workflowID, Err: err}
	}
	return state, nil
}

// CreateCheckpoint loads the current state, appends a recoverable checkpoint
// for the given node with the given context, and re-saves. It never creates a
// workflow: unknown IDs return ErrNotFound.
func (m *StateMachine) CreateCheckpoint(ctx context.Context, workflowID, nodeID string, contextData map[string]any) (string, error) {
	state, err := m.Load(ctx, workflowID)
	if err != nil {
		return "", err
	}
	snapshot := state.ExecutionContext
	if contextData != nil {
		snapshot = contextData
	}
	state.ExecutionContext = copyContext(snapshot)
	id := state.AddCheckpoint(nodeID, state.CurrentLayer, true)
	if err := m.Save(ctx, state); err != nil {
		return "", err
	}
	m.metrics.checkpointWritten()
	return id, nil
}

// Checkpoint appends a checkpoint to an in-memory state held by the executor
// and persists it. The executor's state object is the source of truth while
// it holds the workflow lease, so no reload happens here.
func (m *StateMachine) Checkpoint(ctx context.Context, state *WorkflowState, nodeID string, recoverable bool) (string, error) {
	id := state.AddCheckpoint(nodeID, state.CurrentLayer, recoverable)
	if err := m.Save(ctx, state); err != nil {
		return "", err
	}
	m.metrics.checkpointWritten()
	return id, nil
}

// RecoveryPoints returns the recoverable checkpoints of a workflow projected
// as recovery points, oldest first.
func (m *StateMachine) RecoveryPoints(ctx context.Context, workflowID string) ([]RecoveryPoint, error) {
	state, err := m.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}
	return state.RecoveryPoints(), nil
}

// ListAll enumerates all persisted workflow IDs.
func (m *StateMachine) ListAll(ctx context.Context) ([]string, error) {
	return m.store.ListIDs(ctx)
}

// Delete removes a workflow record. Retention policy is the caller's concern.
func (m *StateMachine) Delete(ctx context.Context, workflowID string) error {
	return m.store.Delete(ctx, workflowID)
}
