package conductor

import (
	"context"
	"fmt"
	"sort"
)

// RecoveryStrategy names a candidate resumption approach.
type RecoveryStrategy string

const (
	// StrategyResume continues a paused workflow in place.
	StrategyResume RecoveryStrategy = "resume-from-pause"

	// StrategyCheckpoint starts a new execution attempt seeded from a
	// recoverable checkpoint of a failed workflow.
	StrategyCheckpoint RecoveryStrategy = "recover-from-checkpoint"

	// StrategyRestart starts over from the beginning. Always offered,
	// never auto-selected.
	StrategyRestart RecoveryStrategy = "restart-from-beginning"
)

// RecoveryOption is one candidate resumption strategy for a workflow.
type RecoveryOption struct {
	Strategy     RecoveryStrategy `json:"strategy"`
	Description  string           `json:"description"`
	CheckpointID string           `json:"checkpoint_id,omitempty"`
	NodeID       string           `json:"node_id,omitempty"`
}

// RecoveryOptions is the full analysis result for a workflow.
type RecoveryOptions struct {
	WorkflowID string           `json:"workflow_id"`
	Status     Status           `json:"status"`
	Options    []RecoveryOption `json:"options"`
}

// RecoveryPlan captures which node to resume at and what context to seed the
// new execution attempt with.
type RecoveryPlan struct {
	SourceWorkflowID string         `json:"source_workflow_id"`
	CheckpointID     string         `json:"checkpoint_id"`
	ResumeNode       string         `json:"resume_node"`
	Context          map[string]any `json:"context"`
	CompletedNodes   []string       `json:"completed_nodes"`
}

// RecoveryManager produces and executes recovery plans against persisted
// workflow state. A recovery attempt moves through analyze -> plan -> execute.
type RecoveryManager struct {
	states  *StateMachine
	manager *Manager
}

// NewRecoveryManager creates a recovery manager bound to a workflow manager.
func NewRecoveryManager(states *StateMachine, manager *Manager) *RecoveryManager {
	return &RecoveryManager{states: states, manager: manager}
}

// AnalyzeRecoveryOptions reads the workflow's recovery points and node-set
// partition and proposes candidate resumption strategies: resume-from-pause
// if paused, the most recent recoverable checkpoints (most recent first) if
// failed, and restart as the final fallback in every case.
func (r *RecoveryManager) AnalyzeRecoveryOptions(ctx context.Context, workflowID string) (*RecoveryOptions, error) {
	state, err := r.states.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	analysis := &RecoveryOptions{WorkflowID: workflowID, Status: state.Status}

	if state.Status == StatusPaused {
		analysis.Options = append(analysis.Options, RecoveryOption{
			Strategy:    StrategyResume,
			Description: "resume the paused workflow from its current position",
		})
	}
	if state.Status == StatusFailed {
		points := state.RecoveryPoints()
		sort.Slice(points, func(i, j int) bool {
			return points[i].Timestamp.After(points[j].Timestamp)
		})
		for _, point := range points {
			analysis.Options = append(analysis.Options, RecoveryOption{
				Strategy:     StrategyCheckpoint,
				Description:  fmt.Sprintf("recover from checkpoint at node %q (%s)", point.NodeID, point.Timestamp.Format("2006-01-02 15:04:05")),
				CheckpointID: point.CheckpointID,
				NodeID:       point.NodeID,
			})
		}
	}
	analysis.Options = append(analysis.Options, RecoveryOption{
		Strategy:    StrategyRestart,
		Description: "restart the workflow from the beginning",
	})
	return analysis, nil
}

// CreateRecoveryPlan builds a plan from the given recovery point, or from the
// most recent recoverable checkpoint when no point is supplied. With no
// recoverable checkpoint and no explicit point it fails with ErrNoRecoveryData;
// restarting must be an explicit caller choice.
func (r *RecoveryManager) CreateRecoveryPlan(ctx context.Context, workflowID, recoveryPointID string) (*RecoveryPlan, error) {
	state, err := r.states.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	var checkpoint *Checkpoint
	if recoveryPointID == "" {
		checkpoint = state.LatestRecoverable()
		if checkpoint == nil {
			return nil, fmt.Errorf("%w for workflow %s", ErrNoRecoveryData, workflowID)
		}
	} else {
		checkpoint = state.FindCheckpoint(recoveryPointID)
		if checkpoint == nil {
			return nil, fmt.Errorf("recovery point %q not found for workflow %s", recoveryPointID, workflowID)
		}
		if !checkpoint.IsRecoverable {
			return nil, fmt.Errorf("checkpoint %q is not recoverable", recoveryPointID)
		}
	}

	return &RecoveryPlan{
		SourceWorkflowID: workflowID,
		CheckpointID:     checkpoint.ID,
		ResumeNode:       checkpoint.NodeID,
		Context:          copyContext(checkpoint.Context),
		CompletedNodes:   append([]string(nil), state.CompletedNodes...),
	}, nil
}

// ExecuteRecovery starts a new execution attempt that re-enters the manager's
// execution loop at the planned node, seeded with the checkpoint's context.
// The failed source workflow is read, never overwritten: terminal statuses
// are immutable. Nodes the source already completed are not re-run.
func (r *RecoveryManager) ExecuteRecovery(ctx context.Context, plan *RecoveryPlan) (*Result, error) {
	m := r.manager
	attemptID := NewWorkflowID()
	if err := m.acquire(attemptID); err != nil {
		return nil, err
	}
	defer m.release(attemptID)

	state := NewWorkflowState(attemptID)
	state.ExecutionContext = copyContext(plan.Context)
	state.ExecutionContext["recovered_from"] = plan.SourceWorkflowID
	state.ExecutionContext["recovery_checkpoint"] = plan.CheckpointID
	state.CompletedNodes = append([]string(nil), plan.CompletedNodes...)
	state.MarkActive(plan.ResumeNode)

	if err := m.states.Save(ctx, state); err != nil {
		return nil, err
	}
	if err := state.Transition(StatusRunning); err != nil {
		return nil, err
	}
	if err := m.states.Save(ctx, state); err != nil {
		return nil, err
	}

	m.metrics.recoveryExecuted()
	m.logger.Info("recovery execution started",
		"workflow_id", attemptID,
		"recovered_from", plan.SourceWorkflowID,
		"resume_node", plan.ResumeNode)
	return m.run(ctx, state, plan.ResumeNode)
}

// Resume is the entry point behind Manager.Resume: it holds the source
// workflow's lease for the duration, resumes a paused workflow in place, and
// routes a failed workflow through plan creation and recovery execution.
func (r *RecoveryManager) Resume(ctx context.Context, workflowID, recoveryPointID string) (*Result, error) {
	m := r.manager
	if err := m.acquire(workflowID); err != nil {
		return nil, err
	}
	defer m.release(workflowID)

	state, err := r.states.Load(ctx, workflowID)
	if err != nil {
		return nil, err
	}

	switch state.Status {
	case StatusPaused:
		return r.resumeFromPause(ctx, state)
	case StatusFailed:
		plan, err := r.CreateRecoveryPlan(ctx, workflowID, recoveryPointID)
		if err != nil {
			return nil, err
		}
		return r.ExecuteRecovery(ctx, plan)
	case StatusCompleted:
		return nil, fmt.Errorf("workflow %s already completed", workflowID)
	default:
		return nil, fmt.Errorf("workflow %s is %s and cannot be resumed", workflowID, state.Status)
	}
}

// resumeFromPause transitions paused -> running and continues the run loop;
// completed nodes are skipped so execution picks up where it left off.
func (r *RecoveryManager) resumeFromPause(ctx context.Context, state *WorkflowState) (*Result, error) {
	m := r.manager
	if err := state.Transition(StatusRunning); err != nil {
		return nil, err
	}
	if err := m.states.Save(ctx, state); err != nil {
		return nil, err
	}
	m.logger.Info("resuming paused workflow", "workflow_id", state.WorkflowID)
	return m.run(ctx, state, "")
}
