package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecoveryAfterFailure(t *testing.T) {
	ctx := context.Background()
	invoker := newCountingInvoker()
	invoker.setFailing("node2", true)
	manager, states := newTestManager(t, chainGraph(t), invoker)

	_, err := manager.Execute(ctx, "flaky task", nil)
	require.Error(t, err)
	sourceID := onlyWorkflowID(t, states)

	invoker.setFailing("node2", false)
	result, err := manager.Resume(ctx, sourceID, "")
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)

	// Recovery is a new execution attempt; the failed record is read, never
	// overwritten.
	require.NotEqual(t, sourceID, result.WorkflowID)
	source, err := states.Load(ctx, sourceID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, source.Status)

	attempt, err := states.Load(ctx, result.WorkflowID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, attempt.Status)
	require.Equal(t, sourceID, attempt.ExecutionContext["recovered_from"])
	require.NotEmpty(t, attempt.ExecutionContext["recovery_checkpoint"])
	for _, node := range []string{"node1", "node2", "node3"} {
		require.True(t, attempt.HasCompleted(node))
	}

	// node1 completed in the first attempt and is not replayed.
	require.Equal(t, 1, invoker.count("node1"))
	require.Equal(t, 2, invoker.count("node2"))
	require.Equal(t, 1, invoker.count("node3"))
}

func failedStateWithCheckpoints(t *testing.T, states *StateMachine, id string) (string, string) {
	t.Helper()
	ctx := context.Background()

	state := NewWorkflowState(id)
	require.NoError(t, state.Transition(StatusRunning))
	state.ExecutionContext["nodeA"] = "done"
	state.MarkCompleted("nodeA")
	older := state.AddCheckpoint("nodeA", LayerTactical, true)
	time.Sleep(2 * time.Millisecond)
	newer := state.AddCheckpoint("nodeB", LayerTactical, true)
	require.NoError(t, state.Transition(StatusFailed))
	state.MarkFailed("nodeB")
	require.NoError(t, states.Save(ctx, state))
	return older, newer
}

func TestCreateRecoveryPlan(t *testing.T) {
	ctx := context.Background()
	manager, states := newTestManager(t, chainGraph(t), newCountingInvoker())
	recovery := manager.Recovery()
	older, newer := failedStateWithCheckpoints(t, states, "wf_plan")

	t.Run("defaults to the most recent recoverable checkpoint", func(t *testing.T) {
		plan, err := recovery.CreateRecoveryPlan(ctx, "wf_plan", "")
		require.NoError(t, err)
		require.Equal(t, newer, plan.CheckpointID)
		require.Equal(t, "nodeB", plan.ResumeNode)
		require.Equal(t, "wf_plan", plan.SourceWorkflowID)
		require.Equal(t, []string{"nodeA"}, plan.CompletedNodes)
		require.Equal(t, "done", plan.Context["nodeA"])
	})

	t.Run("selection is deterministic", func(t *testing.T) {
		plan1, err := recovery.CreateRecoveryPlan(ctx, "wf_plan", "")
		require.NoError(t, err)
		plan2, err := recovery.CreateRecoveryPlan(ctx, "wf_plan", "")
		require.NoError(t, err)
		require.Equal(t, plan1.CheckpointID, plan2.CheckpointID)
	})

	t.Run("explicit recovery point is honored", func(t *testing.T) {
		plan, err := recovery.CreateRecoveryPlan(ctx, "wf_plan", older)
		require.NoError(t, err)
		require.Equal(t, older, plan.CheckpointID)
		require.Equal(t, "nodeA", plan.ResumeNode)
	})

	t.Run("unknown recovery point fails", func(t *testing.T) {
		_, err := recovery.CreateRecoveryPlan(ctx, "wf_plan", "1-nothing")
		require.Error(t, err)
		require.Contains(t, err.Error(), "not found")
	})

	t.Run("unknown workflow fails", func(t *testing.T) {
		_, err := recovery.CreateRecoveryPlan(ctx, "wf_absent", "")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCreateRecoveryPlanNoData(t *testing.T) {
	ctx := context.Background()
	manager, states := newTestManager(t, chainGraph(t), newCountingInvoker())

	state := NewWorkflowState("wf_bare")
	require.NoError(t, state.Transition(StatusRunning))
	state.AddCheckpoint("node1", LayerTactical, false)
	require.NoError(t, state.Transition(StatusFailed))
	require.NoError(t, states.Save(ctx, state))

	_, err := manager.Recovery().CreateRecoveryPlan(ctx, "wf_bare", "")
	require.ErrorIs(t, err, ErrNoRecoveryData)

	t.Run("non-recoverable explicit point is rejected", func(t *testing.T) {
		loaded, err := states.Load(ctx, "wf_bare")
		require.NoError(t, err)
		_, err = manager.Recovery().CreateRecoveryPlan(ctx, "wf_bare", loaded.Checkpoints[0].ID)
		require.Error(t, err)
		require.Contains(t, err.Error(), "not recoverable")
	})
}

func TestAnalyzeRecoveryOptions(t *testing.T) {
	ctx := context.Background()
	manager, states := newTestManager(t, chainGraph(t), newCountingInvoker())
	recovery := manager.Recovery()

	t.Run("paused workflow offers resume first", func(t *testing.T) {
		state := NewWorkflowState("wf_paused")
		require.NoError(t, state.Transition(StatusRunning))
		require.NoError(t, state.Transition(StatusPaused))
		require.NoError(t, states.Save(ctx, state))

		analysis, err := recovery.AnalyzeRecoveryOptions(ctx, "wf_paused")
		require.NoError(t, err)
		require.Equal(t, StatusPaused, analysis.Status)
		require.Len(t, analysis.Options, 2)
		require.Equal(t, StrategyResume, analysis.Options[0].Strategy)
		require.Equal(t, StrategyRestart, analysis.Options[1].Strategy)
	})

	t.Run("failed workflow offers checkpoints most recent first", func(t *testing.T) {
		older, newer := failedStateWithCheckpoints(t, states, "wf_failed")

		analysis, err := recovery.AnalyzeRecoveryOptions(ctx, "wf_failed")
		require.NoError(t, err)
		require.Len(t, analysis.Options, 3)
		require.Equal(t, StrategyCheckpoint, analysis.Options[0].Strategy)
		require.Equal(t, newer, analysis.Options[0].CheckpointID)
		require.Equal(t, older, analysis.Options[1].CheckpointID)
		require.Equal(t, StrategyRestart, analysis.Options[2].Strategy)
	})

	t.Run("restart is always offered", func(t *testing.T) {
		state := NewWorkflowState("wf_fresh")
		require.NoError(t, states.Save(ctx, state))

		analysis, err := recovery.AnalyzeRecoveryOptions(ctx, "wf_fresh")
		require.NoError(t, err)
		require.Len(t, analysis.Options, 1)
		require.Equal(t, StrategyRestart, analysis.Options[0].Strategy)
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := recovery.AnalyzeRecoveryOptions(ctx, "wf_absent")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestResumeRejectsFinishedOrRunning(t *testing.T) {
	ctx := context.Background()
	manager, states := newTestManager(t, chainGraph(t), newCountingInvoker())

	t.Run("completed workflow", func(t *testing.T) {
		state := NewWorkflowState("wf_done")
		require.NoError(t, state.Transition(StatusRunning))
		require.NoError(t, state.Transition(StatusCompleted))
		require.NoError(t, states.Save(ctx, state))

		_, err := manager.Resume(ctx, "wf_done", "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "already completed")
	})

	t.Run("running workflow", func(t *testing.T) {
		state := NewWorkflowState("wf_live")
		require.NoError(t, state.Transition(StatusRunning))
		require.NoError(t, states.Save(ctx, state))

		_, err := manager.Resume(ctx, "wf_live", "")
		require.Error(t, err)
		require.Contains(t, err.Error(), "cannot be resumed")
	})

	t.Run("unknown workflow", func(t *testing.T) {
		_, err := manager.Resume(ctx, "wf_absent", "")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestExecuteRecoveryFromExplicitPoint(t *testing.T) {
	ctx := context.Background()
	invoker := newCountingInvoker()
	invoker.setFailing("node3", true)
	manager, states := newTestManager(t, chainGraph(t), invoker)

	_, err := manager.Execute(ctx, "late failure", nil)
	require.Error(t, err)
	sourceID := onlyWorkflowID(t, states)

	// Recover from the checkpoint preceding node2 instead of the latest one:
	// node2 is replayed even though the source completed it.
	source, err := states.Load(ctx, sourceID)
	require.NoError(t, err)
	var preNode2 string
	for _, cp := range source.Checkpoints {
		if cp.NodeID == "node2" && cp.IsRecoverable {
			preNode2 = cp.ID
			break
		}
	}
	require.NotEmpty(t, preNode2)

	invoker.setFailing("node3", false)
	plan, err := manager.Recovery().CreateRecoveryPlan(ctx, sourceID, preNode2)
	require.NoError(t, err)
	require.Equal(t, "node2", plan.ResumeNode)
	require.NotContains(t, plan.Context, "node2")

	plan.CompletedNodes = removeString(plan.CompletedNodes, "node2")
	result, err := manager.Recovery().ExecuteRecovery(ctx, plan)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, result.Status)

	require.Equal(t, 1, invoker.count("node1"))
	require.Equal(t, 2, invoker.count("node2"))
	require.Equal(t, 2, invoker.count("node3"))
}
