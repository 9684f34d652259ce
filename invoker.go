package conductor

import (
	"context"
	"time"
)

// Invoker executes one named work-unit against a task string and context and
// returns its raw output. The output is treated as opaque text; the decision
// parser is the only component that looks inside it.
type Invoker interface {
	Invoke(ctx context.Context, unit, task string, contextData map[string]any) (string, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, unit, task string, contextData map[string]any) (string, error)

func (f InvokerFunc) Invoke(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
	return f(ctx, unit, task, contextData)
}

// TimeoutInvoker bounds every invocation so a single unresponsive unit cannot
// wedge the coordinator. Timeouts surface as InvocationError.
type TimeoutInvoker struct {
	inner   Invoker
	timeout time.Duration
}

// NewTimeoutInvoker wraps an invoker with a per-invocation timeout.
func NewTimeoutInvoker(inner Invoker, timeout time.Duration) *TimeoutInvoker {
	return &TimeoutInvoker{inner: inner, timeout: timeout}
}

func (t *TimeoutInvoker) Invoke(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	result, err := t.inner.Invoke(ctx, unit, task, contextData)
	if err != nil {
		return "", &InvocationError{Unit: unit, Err: err}
	}
	return result, nil
}
