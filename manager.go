package conductor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"go.jetify.com/typeid"
)

// ContextKeyTask is the execution-context key carrying the workflow's task.
const ContextKeyTask = "task"

// NewWorkflowID returns a new unique workflow identifier.
func NewWorkflowID() string {
	id, err := typeid.WithPrefix("wf")
	if err != nil {
		panic(err)
	}
	return id.String()
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	// Graph is the workflow shape. Defaults to DefaultTopology().
	Graph *Graph

	// Invoker executes work-units. Required.
	Invoker Invoker

	// States is the persistence layer. Required.
	States *StateMachine

	// Coordinator handles supervisor nodes. Defaults to a coordinator over
	// Invoker with DefaultMaxIterations.
	Coordinator *Coordinator

	Logger  *slog.Logger
	Metrics *Metrics
}

// Manager drives end-to-end workflow execution: it walks the supervision
// graph in dependency order, delegates supervisor nodes to the Coordinator,
// and records every transition in the state machine.
type Manager struct {
	graph       *Graph
	invoker     Invoker
	states      *StateMachine
	coordinator *Coordinator
	recovery    *RecoveryManager
	logger      *slog.Logger
	metrics     *Metrics

	// leases enforce at most one concurrent execution per workflow ID.
	// writeLocks serialize store read-modify-write against concurrent Pause.
	mutex      sync.Mutex
	leases     map[string]bool
	writeLocks map[string]*sync.Mutex
}

// NewManager creates a workflow manager.
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if opts.States == nil {
		return nil, errors.New("state machine is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Graph == nil {
		graph, err := DefaultTopology()
		if err != nil {
			return nil, err
		}
		opts.Graph = graph
	}
	if opts.Coordinator == nil {
		coordinator, err := NewCoordinator(CoordinatorOptions{
			Invoker: opts.Invoker,
			Logger:  opts.Logger,
		})
		if err != nil {
			return nil, err
		}
		opts.Coordinator = coordinator
	}
	m := &Manager{
		graph:       opts.Graph,
		invoker:     opts.Invoker,
		states:      opts.States,
		coordinator: opts.Coordinator,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		leases:      map[string]bool{},
		writeLocks:  map[string]*sync.Mutex{},
	}
	m.recovery = NewRecoveryManager(opts.States, m)
	return m, nil
}

// Recovery returns the manager's recovery manager.
func (m *Manager) Recovery() *RecoveryManager {
	return m.recovery
}

// Graph returns the workflow shape the manager executes.
func (m *Manager) Graph() *Graph {
	return m.graph
}

// DefaultTopology builds the default workflow shape: a strategic root, a
// chain of tactical nodes, and a final tactical node supervising operational
// subordinates under dynamic coordination.
func DefaultTopology() (*Graph, error) {
	b := NewGraphBuilder()
	steps := []struct {
		name string
		fn   func() error
	}{
		{"director", func() error {
			return b.AddNode("director", LayerStrategic,
				WithCapabilities("goal decomposition", "prioritization"))
		}},
		{"planner", func() error {
			return b.AddNode("planner", LayerTactical, WithSupervisor("director"),
				WithCapabilities("task planning"))
		}},
		{"team_lead", func() error {
			return b.AddNode("team_lead", LayerTactical, WithSupervisor("director"),
				WithCoordination(ModeDynamic),
				WithCapabilities("delegation", "result synthesis"))
		}},
		{"researcher", func() error {
			return b.AddNode("researcher", LayerOperational, WithSupervisor("team_lead"))
		}},
		{"implementer", func() error {
			return b.AddNode("implementer", LayerOperational, WithSupervisor("team_lead"))
		}},
		{"validator", func() error {
			return b.AddNode("validator", LayerOperational, WithSupervisor("team_lead"))
		}},
	}
	for _, step := range steps {
		if err := step.fn(); err != nil {
			return nil, err
		}
	}
	if err := b.AddDependency("director", "planner"); err != nil {
		return nil, err
	}
	if err := b.AddDependency("planner", "team_lead"); err != nil {
		return nil, err
	}
	return b.Build()
}

// Result is the outcome of an execution or recovery run.
type Result struct {
	WorkflowID string
	Status     Status
	Output     map[string]any
}

// Execute runs a new workflow for the given task to completion, suspension,
// or failure. Any error raised mid-execution is durably recorded as a failed
// state before it propagates.
func (m *Manager) Execute(ctx context.Context, task string, contextData map[string]any) (*Result, error) {
	workflowID := NewWorkflowID()
	if err := m.acquire(workflowID); err != nil {
		return nil, err
	}
	defer m.release(workflowID)

	state := NewWorkflowState(workflowID)
	state.ExecutionContext = copyContext(contextData)
	state.ExecutionContext[ContextKeyTask] = task

	order := m.graph.ExecutionOrder()
	state.MarkActive(order[0])
	if err := m.states.Save(ctx, state); err != nil {
		return nil, err
	}
	if err := state.Transition(StatusRunning); err != nil {
		return nil, err
	}
	if err := m.states.Save(ctx, state); err != nil {
		return nil, err
	}

	m.metrics.executionStarted()
	m.logger.Info("workflow execution started", "workflow_id", workflowID, "task", task)
	return m.run(ctx, state, "")
}

// Pause requests suspension of a running workflow. It returns false without
// error if the workflow is not currently running; pausing a non-running
// workflow is a no-op, not a fault. An in-flight node is not preempted; the
// pause takes effect before the next node starts.
func (m *Manager) Pause(ctx context.Context, workflowID string) (bool, error) {
	lock := m.writeLock(workflowID)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.states.Load(ctx, workflowID)
	if err != nil {
		return false, err
	}
	if state.Status != StatusRunning {
		return false, nil
	}
	if err := state.Transition(StatusPaused); err != nil {
		return false, err
	}
	if err := m.states.Save(ctx, state); err != nil {
		return false, err
	}
	m.logger.Info("workflow paused", "workflow_id", workflowID)
	return true, nil
}

// Resume continues a paused or failed workflow, optionally from an explicit
// recovery point. It delegates to the Recovery Manager.
func (m *Manager) Resume(ctx context.Context, workflowID, recoveryPointID string) (*Result, error) {
	return m.recovery.Resume(ctx, workflowID, recoveryPointID)
}

// run walks the graph's execution order starting at startAt (or the root when
// empty), executing each node and recording state transitions. Nodes already
// completed are skipped, which is how recovery avoids replaying work.
func (m *Manager) run(ctx context.Context, state *WorkflowState, startAt string) (*Result, error) {
	task, _ := state.ExecutionContext[ContextKeyTask].(string)
	started := startAt == ""

	for _, name := range m.graph.ExecutionOrder() {
		if !started {
			if name != startAt {
				continue
			}
			started = true
		}
		if state.HasCompleted(name) {
			continue
		}

		paused, err := m.pauseRequested(ctx, state)
		if err != nil {
			return nil, err
		}
		if paused {
			m.logger.Info("workflow suspended before node", "workflow_id", state.WorkflowID, "node", name)
			return m.resultOf(state), nil
		}

		node, ok := m.graph.Node(name)
		if !ok {
			return nil, m.failNode(ctx, state, name, fmt.Errorf("node %q not found in graph", name))
		}

		state.CurrentLayer = node.Meta.LayerType
		state.MarkActive(name)
		if err := m.saveState(ctx, state); err != nil {
			return nil, err
		}

		// Recoverable checkpoint preceding the node: a failure during the
		// node leaves this as the resumption point.
		if _, err := m.checkpoint(ctx, state, name, true); err != nil {
			return nil, err
		}

		delta, err := m.executeNode(ctx, node, task, state)
		if err != nil {
			return nil, m.failNode(ctx, state, name, err)
		}

		merged, err := MergeContext(state.ExecutionContext, delta)
		if err != nil {
			return nil, m.failNode(ctx, state, name, err)
		}
		state.ExecutionContext = merged
		state.MarkCompleted(name)
		if err := m.saveState(ctx, state); err != nil {
			return nil, err
		}
		if _, err := m.checkpoint(ctx, state, name, true); err != nil {
			return nil, err
		}
		m.logger.Info("node completed", "workflow_id", state.WorkflowID, "node", name, "layer", node.Meta.LayerType)

		if state.Status == StatusPaused {
			m.logger.Info("workflow suspended after node", "workflow_id", state.WorkflowID, "node", name)
			return m.resultOf(state), nil
		}
	}

	if state.Status == StatusPaused {
		return m.resultOf(state), nil
	}
	if err := state.Transition(StatusCompleted); err != nil {
		return nil, err
	}
	if err := m.saveState(ctx, state); err != nil {
		return nil, err
	}
	m.metrics.executionCompleted()
	m.logger.Info("workflow completed", "workflow_id", state.WorkflowID, "completed_nodes", len(state.CompletedNodes))
	return m.resultOf(state), nil
}

// executeNode runs one node and returns the context delta it contributes. A
// supervisor with coordination-only subordinates delegates to the
// Coordinator; everything else is a single work-unit invocation.
func (m *Manager) executeNode(ctx context.Context, node *Node, task string, state *WorkflowState) (map[string]any, error) {
	if targets := m.graph.CoordinationTargets(node.Name); node.Kind == NodeSupervisor && len(targets) > 0 {
		result, err := m.coordinator.Coordinate(ctx, node.Name, targets, task, state.ExecutionContext, node.Mode)
		if err != nil {
			return nil, err
		}
		return map[string]any{node.Name: map[string]any{
			"summary":   result.Summary,
			"results":   result.Results,
			"completed": result.Completed,
		}}, nil
	}

	output, err := m.invoker.Invoke(ctx, node.Name, task, state.ExecutionContext)
	if err != nil {
		var invErr *InvocationError
		if !errors.As(err, &invErr) {
			err = &InvocationError{Unit: node.Name, Err: err}
		}
		return nil, err
	}
	return map[string]any{node.Name: output}, nil
}

// failNode durably marks the workflow failed before the error propagates.
// State durability happens-before error propagation.
func (m *Manager) failNode(ctx context.Context, state *WorkflowState, name string, cause error) error {
	state.MarkFailed(name)
	state.Status = StatusFailed
	if err := m.saveState(ctx, state); err != nil {
		m.logger.Error("failed to persist failed state", "workflow_id", state.WorkflowID, "error", err)
		return errors.Join(cause, err)
	}
	// Mid-failure checkpoint; context may be incomplete, so it is not a
	// recovery candidate.
	if _, err := m.checkpoint(ctx, state, name, false); err != nil {
		m.logger.Error("failed to write failure checkpoint", "workflow_id", state.WorkflowID, "error", err)
	}
	m.metrics.executionFailed()
	m.logger.Error("workflow failed", "workflow_id", state.WorkflowID, "node", name, "error", cause)
	return cause
}

// pauseRequested reloads the persisted status and reports whether a pause
// arrived. The executor's state object tracks the store if so.
func (m *Manager) pauseRequested(ctx context.Context, state *WorkflowState) (bool, error) {
	lock := m.writeLock(state.WorkflowID)
	lock.Lock()
	defer lock.Unlock()

	persisted, err := m.states.Load(ctx, state.WorkflowID)
	if err != nil {
		return false, err
	}
	if persisted.Status == StatusPaused {
		state.Status = StatusPaused
		return true, nil
	}
	return false, nil
}

// saveState persists the executor's state under the per-workflow write lock,
// preserving a concurrently requested pause instead of clobbering it.
func (m *Manager) saveState(ctx context.Context, state *WorkflowState) error {
	lock := m.writeLock(state.WorkflowID)
	lock.Lock()
	defer lock.Unlock()

	persisted, err := m.states.Load(ctx, state.WorkflowID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if persisted != nil && persisted.Status == StatusPaused && state.Status == StatusRunning {
		state.Status = StatusPaused
	}
	return m.states.Save(ctx, state)
}

func (m *Manager) checkpoint(ctx context.Context, state *WorkflowState, node string, recoverable bool) (string, error) {
	lock := m.writeLock(state.WorkflowID)
	lock.Lock()
	defer lock.Unlock()
	return m.states.Checkpoint(ctx, state, node, recoverable)
}

func (m *Manager) resultOf(state *WorkflowState) *Result {
	return &Result{
		WorkflowID: state.WorkflowID,
		Status:     state.Status,
		Output:     copyContext(state.ExecutionContext),
	}
}

// acquire takes the exclusive execution lease for a workflow ID. A second
// concurrent executor fails fast with ErrWorkflowBusy; interleaved writes to
// the checkpoint list would silently corrupt recovery history.
func (m *Manager) acquire(workflowID string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.leases[workflowID] {
		return fmt.Errorf("%w: %s", ErrWorkflowBusy, workflowID)
	}
	m.leases[workflowID] = true
	return nil
}

func (m *Manager) release(workflowID string) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	delete(m.leases, workflowID)
}

func (m *Manager) writeLock(workflowID string) *sync.Mutex {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	lock, ok := m.writeLocks[workflowID]
	if !ok {
		lock = &sync.Mutex{}
		m.writeLocks[workflowID] = lock
	}
	return lock
}
