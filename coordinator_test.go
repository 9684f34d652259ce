package conductor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// scriptedInvoker replays queued responses per unit, recording every call.
type scriptedInvoker struct {
	mutex     sync.Mutex
	responses map[string][]string
	calls     []string
	tasks     map[string][]string
}

func newScriptedInvoker() *scriptedInvoker {
	return &scriptedInvoker{
		responses: map[string][]string{},
		tasks:     map[string][]string{},
	}
}

func (s *scriptedInvoker) queue(unit string, responses ...string) {
	s.responses[unit] = append(s.responses[unit], responses...)
}

func (s *scriptedInvoker) Invoke(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.calls = append(s.calls, unit)
	s.tasks[unit] = append(s.tasks[unit], task)
	queued := s.responses[unit]
	if len(queued) == 0 {
		return "", fmt.Errorf("no scripted response for unit %q", unit)
	}
	s.responses[unit] = queued[1:]
	return queued[0], nil
}

func TestDynamicCoordinationDelegatesAndCompletes(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.queue("lead",
		"NEXT_AGENT: worker | SUBTASK: analyze input | CONTEXT: raw data",
		"TASK_COMPLETED: analysis done")
	invoker.queue("worker", "worker-output")

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"worker"}, "analyze", nil, ModeDynamic)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, "analysis done", result.Summary)
	require.Equal(t, 2, result.Iterations)
	require.Equal(t, "worker-output", result.Results["worker"])

	// The delegated subtask carries the supervisor's context note.
	require.Contains(t, invoker.tasks["worker"][0], "analyze input")
	require.Contains(t, invoker.tasks["worker"][0], "raw data")
}

func TestDynamicCoordinationUnknownUnitFeedback(t *testing.T) {
	// An unknown unit name does not abort the loop; it is recorded as an
	// error entry and the supervisor gets to self-correct.
	invoker := newScriptedInvoker()
	invoker.queue("lead",
		"NEXT_AGENT: ghost | SUBTASK: x | CONTEXT: y",
		"TASK_COMPLETED: done")

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"worker"}, "task", nil, ModeDynamic)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, "done", result.Summary)
	require.Equal(t, 2, result.Iterations)
	require.Equal(t, "unknown unit: ghost", result.Results["error"])

	// The second decision prompt contains the error feedback.
	require.Contains(t, invoker.tasks["lead"][1], "unknown unit: ghost")
}

func TestDynamicCoordinationUnparseableFeedback(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.queue("lead",
		"let me think about this some more",
		"TASK_COMPLETED: finally")

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"worker"}, "task", nil, ModeDynamic)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, "unrecognized decision format", result.Results["error"])
}

func TestDynamicCoordinationIterationCeiling(t *testing.T) {
	// A supervisor that never completes hits the ceiling and degrades to a
	// best-effort partial result rather than raising.
	invoker := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
		return "still working on it", nil
	})

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker, MaxIterations: 4})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"worker"}, "task", nil, ModeDynamic)
	require.NoError(t, err)
	require.False(t, result.Completed)
	require.Equal(t, 4, result.Iterations)
	require.NotEmpty(t, result.Summary)
	require.Contains(t, result.Summary, "partially completed")
}

func TestDynamicCoordinationDefaultCeiling(t *testing.T) {
	count := 0
	invoker := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
		count++
		return "no decision here", nil
	})

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"worker"}, "task", nil, ModeDynamic)
	require.NoError(t, err)
	require.False(t, result.Completed)
	require.Equal(t, DefaultMaxIterations, result.Iterations)
	require.Equal(t, DefaultMaxIterations, count)
}

func TestDynamicCoordinationInvocationErrorIsFeedback(t *testing.T) {
	failures := 0
	invoker := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
		if unit == "worker" {
			failures++
			return "", errors.New("worker exploded")
		}
		if strings.Contains(task, "worker failed") || failures > 0 && strings.Contains(task, "Accumulated results") {
			return "TASK_COMPLETED: gave up on worker", nil
		}
		return "NEXT_AGENT: worker | SUBTASK: try | CONTEXT: once", nil
	})

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"worker"}, "task", nil, ModeDynamic)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, 1, failures)
	require.Contains(t, result.Results["error"], "worker")
}

func TestParallelCoordination(t *testing.T) {
	invoker := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
		if unit == "flaky" {
			return "", errors.New("boom")
		}
		return "result-" + unit, nil
	})

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"a", "b", "flaky"}, "task", nil, ModeParallel)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, "result-a", result.Results["a"])
	require.Equal(t, "result-b", result.Results["b"])
	require.Contains(t, result.Results["flaky"], "error:")
}

func TestSequentialCoordination(t *testing.T) {
	invoker := newScriptedInvoker()
	invoker.queue("first", "first-output")
	invoker.queue("second", "second-output")

	coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: invoker})
	require.NoError(t, err)

	result, err := coordinator.Coordinate(context.Background(), "lead", []string{"first", "second"}, "task", nil, ModeSequential)
	require.NoError(t, err)
	require.True(t, result.Completed)
	require.Equal(t, []string{"first", "second"}, invoker.calls)
	require.Equal(t, "second-output", result.Summary)

	// The second unit sees the first unit's output.
	require.Contains(t, invoker.tasks["second"][0], "first-output")

	t.Run("failure aborts the sequence", func(t *testing.T) {
		failing := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
			return "", errors.New("nope")
		})
		coordinator, err := NewCoordinator(CoordinatorOptions{Invoker: failing})
		require.NoError(t, err)

		_, err = coordinator.Coordinate(context.Background(), "lead", []string{"only"}, "task", nil, ModeSequential)
		require.Error(t, err)
		var invErr *InvocationError
		require.True(t, errors.As(err, &invErr))
		require.Equal(t, "only", invErr.Unit)
	})
}

func TestCoordinatorValidation(t *testing.T) {
	_, err := NewCoordinator(CoordinatorOptions{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "invoker is required")

	coordinator, err := NewCoordinator(CoordinatorOptions{
		Invoker: InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
			return "", nil
		}),
	})
	require.NoError(t, err)

	_, err = coordinator.Coordinate(context.Background(), "lead", nil, "task", nil, CoordinationMode("bogus"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown coordination mode")
}
