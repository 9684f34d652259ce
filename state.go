package conductor

import (
	"fmt"
	"time"
)

// Status represents the lifecycle state of a workflow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the status is a sink: once a workflow is completed
// or failed its status never changes again. Recovery creates a new execution
// attempt that reads the old record but does not overwrite it.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// statusTransitions is the complete transition table. Anything not listed is
// rejected.
var statusTransitions = map[Status][]Status{
	StatusPending: {StatusRunning, StatusFailed},
	StatusRunning: {StatusPaused, StatusCompleted, StatusFailed},
	StatusPaused:  {StatusRunning},
}

// Layer identifies a node's position in the supervision hierarchy.
type Layer string

const (
	LayerStrategic   Layer = "strategic"
	LayerTactical    Layer = "tactical"
	LayerOperational Layer = "operational"
)

// Checkpoint is an immutable snapshot of execution context taken around a
// node's execution. IsRecoverable is false for checkpoints written mid-failure
// where the context is known to be incomplete.
type Checkpoint struct {
	ID            string         `json:"id"`
	NodeID        string         `json:"node_id"`
	Layer         Layer          `json:"layer"`
	Context       map[string]any `json:"context"`
	Timestamp     time.Time      `json:"timestamp"`
	IsRecoverable bool           `json:"is_recoverable"`
}

// Copy returns a copy of the checkpoint with its own context map.
func (c *Checkpoint) Copy() *Checkpoint {
	cp := *c
	cp.Context = copyContext(c.Context)
	return &cp
}

// RecoveryPoint is a read-only projection of a recoverable checkpoint. It is
// derived on read and never stored separately.
type RecoveryPoint struct {
	CheckpointID string    `json:"checkpoint_id"`
	NodeID       string    `json:"node_id"`
	Layer        Layer     `json:"layer"`
	Timestamp    time.Time `json:"timestamp"`
}

// WorkflowState is the persisted record for one workflow instance. It is
// designed to be fully JSON serializable.
type WorkflowState struct {
	WorkflowID       string         `json:"workflow_id"`
	Status           Status         `json:"status"`
	CurrentLayer     Layer          `json:"current_layer"`
	ActiveNodes      []string       `json:"active_nodes"`
	CompletedNodes   []string       `json:"completed_nodes"`
	FailedNodes      []string       `json:"failed_nodes"`
	ExecutionContext map[string]any `json:"execution_context"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	Checkpoints      []*Checkpoint  `json:"checkpoints"`
}

// NewWorkflowState creates a pending workflow state with the given ID.
func NewWorkflowState(workflowID string) *WorkflowState {
	now := time.Now()
	return &WorkflowState{
		WorkflowID:       workflowID,
		Status:           StatusPending,
		CurrentLayer:     LayerStrategic,
		ExecutionContext: map[string]any{},
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Transition moves the workflow to a new status, enforcing the transition
// table. Terminal statuses reject every transition.
func (s *WorkflowState) Transition(to Status) error {
	if s.Status == to {
		return nil
	}
	for _, allowed := range statusTransitions[s.Status] {
		if allowed == to {
			s.Status = to
			return nil
		}
	}
	return &InvalidTransitionError{WorkflowID: s.WorkflowID, From: s.Status, To: to}
}

// MarkActive records that a node has started executing.
func (s *WorkflowState) MarkActive(node string) {
	if !containsString(s.ActiveNodes, node) {
		s.ActiveNodes = append(s.ActiveNodes, node)
	}
}

// MarkCompleted moves a node from the active set to the completed set.
func (s *WorkflowState) MarkCompleted(node string) {
	s.ActiveNodes = removeString(s.ActiveNodes, node)
	if !containsString(s.CompletedNodes, node) {
		s.CompletedNodes = append(s.CompletedNodes, node)
	}
}

// MarkFailed moves a node from the active set to the failed set.
func (s *WorkflowState) MarkFailed(node string) {
	s.ActiveNodes = removeString(s.ActiveNodes, node)
	if !containsString(s.FailedNodes, node) {
		s.FailedNodes = append(s.FailedNodes, node)
	}
}

// HasCompleted reports whether the node already ran to completion. Completed
// nodes are never re-run during recovery.
func (s *WorkflowState) HasCompleted(node string) bool {
	return containsString(s.CompletedNodes, node)
}

// AddCheckpoint appends a checkpoint snapshotting the current execution
// context and returns its ID. The checkpoint list is append-only.
func (s *WorkflowState) AddCheckpoint(node string, layer Layer, recoverable bool) string {
	now := time.Now()
	checkpoint := &Checkpoint{
		ID:            checkpointID(now, node),
		NodeID:        node,
		Layer:         layer,
		Context:       copyContext(s.ExecutionContext),
		Timestamp:     now,
		IsRecoverable: recoverable,
	}
	s.Checkpoints = append(s.Checkpoints, checkpoint)
	return checkpoint.ID
}

// RecoveryPoints returns the recoverable checkpoints projected as recovery
// points, preserving checkpoint order (oldest first).
func (s *WorkflowState) RecoveryPoints() []RecoveryPoint {
	var points []RecoveryPoint
	for _, c := range s.Checkpoints {
		if !c.IsRecoverable {
			continue
		}
		points = append(points, RecoveryPoint{
			CheckpointID: c.ID,
			NodeID:       c.NodeID,
			Layer:        c.Layer,
			Timestamp:    c.Timestamp,
		})
	}
	return points
}

// LatestRecoverable returns the most recent recoverable checkpoint, or nil if
// none exists.
func (s *WorkflowState) LatestRecoverable() *Checkpoint {
	for i := len(s.Checkpoints) - 1; i >= 0; i-- {
		if s.Checkpoints[i].IsRecoverable {
			return s.Checkpoints[i]
		}
	}
	return nil
}

// FindCheckpoint returns the checkpoint with the given ID, or nil.
func (s *WorkflowState) FindCheckpoint(id string) *Checkpoint {
	for _, c := range s.Checkpoints {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// Copy returns a copy of the state with its own maps and slices.
func (s *WorkflowState) Copy() *WorkflowState {
	cp := *s
	cp.ActiveNodes = append([]string(nil), s.ActiveNodes...)
	cp.CompletedNodes = append([]string(nil), s.CompletedNodes...)
	cp.FailedNodes = append([]string(nil), s.FailedNodes...)
	cp.ExecutionContext = copyContext(s.ExecutionContext)
	cp.Checkpoints = make([]*Checkpoint, 0, len(s.Checkpoints))
	for _, c := range s.Checkpoints {
		cp.Checkpoints = append(cp.Checkpoints, c.Copy())
	}
	return &cp
}

// checkpointID derives a sortable checkpoint identifier from the timestamp
// and node name. A single serialized writer per workflow keeps these unique.
func checkpointID(ts time.Time, node string) string {
	return fmt.Sprintf("%d-%s", ts.UnixNano(), node)
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}
