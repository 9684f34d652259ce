package conductor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimeoutInvoker(t *testing.T) {
	t.Run("fast invocation passes through", func(t *testing.T) {
		inner := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
			return "quick", nil
		})
		invoker := NewTimeoutInvoker(inner, time.Second)

		out, err := invoker.Invoke(context.Background(), "unit", "task", nil)
		require.NoError(t, err)
		require.Equal(t, "quick", out)
	})

	t.Run("slow invocation times out", func(t *testing.T) {
		inner := InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(5 * time.Second):
				return "too late", nil
			}
		})
		invoker := NewTimeoutInvoker(inner, 10*time.Millisecond)

		_, err := invoker.Invoke(context.Background(), "sloth", "task", nil)
		require.Error(t, err)
		var invErr *InvocationError
		require.ErrorAs(t, err, &invErr)
		require.Equal(t, "sloth", invErr.Unit)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
