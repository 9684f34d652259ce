package conductor

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMetricsNilReceiver(t *testing.T) {
	var metrics *Metrics
	metrics.executionStarted()
	metrics.executionCompleted()
	metrics.executionFailed()
	metrics.checkpointWritten()
	metrics.recoveryExecuted()
}

func TestMetricsCountExecution(t *testing.T) {
	ctx := context.Background()
	metrics := NewMetrics(prometheus.NewRegistry())

	states, err := NewStateMachine(StateMachineOptions{Store: NewMemoryStore(), Metrics: metrics})
	require.NoError(t, err)
	manager, err := NewManager(ManagerOptions{
		Graph:   chainGraph(t),
		Invoker: newCountingInvoker(),
		States:  states,
		Metrics: metrics,
	})
	require.NoError(t, err)

	_, err = manager.Execute(ctx, "measured task", nil)
	require.NoError(t, err)

	require.Equal(t, float64(1), testutil.ToFloat64(metrics.executionsStarted))
	require.Equal(t, float64(1), testutil.ToFloat64(metrics.executionsCompleted))
	require.Equal(t, float64(0), testutil.ToFloat64(metrics.executionsFailed))
	require.Equal(t, float64(6), testutil.ToFloat64(metrics.checkpointsWritten))
}
