package conductor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the coordinator's prometheus counters. A nil *Metrics is
// valid and disables instrumentation.
type Metrics struct {
	executionsStarted   prometheus.Counter
	executionsCompleted prometheus.Counter
	executionsFailed    prometheus.Counter
	checkpointsWritten  prometheus.Counter
	recoveriesExecuted  prometheus.Counter
}

// NewMetrics registers the conductor counters on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		executionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_executions_started_total",
			Help: "Number of workflow executions started.",
		}),
		executionsCompleted: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_executions_completed_total",
			Help: "Number of workflow executions completed successfully.",
		}),
		executionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_executions_failed_total",
			Help: "Number of workflow executions that failed.",
		}),
		checkpointsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_checkpoints_written_total",
			Help: "Number of checkpoints written.",
		}),
		recoveriesExecuted: factory.NewCounter(prometheus.CounterOpts{
			Name: "conductor_recoveries_executed_total",
			Help: "Number of recovery executions started.",
		}),
	}
}

func (m *Metrics) executionStarted() {
	if m != nil {
		m.executionsStarted.Inc()
	}
}

func (m *Metrics) executionCompleted() {
	if m != nil {
		m.executionsCompleted.Inc()
	}
}

func (m *Metrics) executionFailed() {
	if m != nil {
		m.executionsFailed.Inc()
	}
}

func (m *Metrics) checkpointWritten() {
	if m != nil {
		m.checkpointsWritten.Inc()
	}
}

func (m *Metrics) recoveryExecuted() {
	if m != nil {
		m.recoveriesExecuted.Inc()
	}
}
