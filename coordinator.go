package conductor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
)

// DefaultMaxIterations bounds the dynamic decision loop.
const DefaultMaxIterations = 10

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions struct {
	Invoker       Invoker
	MaxIterations int
	Logger        *slog.Logger
}

// Coordinator routes work from a supervisor node to the units it supervises.
// It understands nothing about task semantics; routing decisions come from
// the supervisor's own output via the decision micro-format.
type Coordinator struct {
	invoker       Invoker
	maxIterations int
	logger        *slog.Logger
}

// NewCoordinator creates a coordinator over the given invoker.
func NewCoordinator(opts CoordinatorOptions) (*Coordinator, error) {
	if opts.Invoker == nil {
		return nil, errors.New("invoker is required")
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Coordinator{
		invoker:       opts.Invoker,
		maxIterations: opts.MaxIterations,
		logger:        opts.Logger,
	}, nil
}

// CoordinationResult is the outcome of one coordination run.
type CoordinationResult struct {
	// Summary is the supervisor's completion summary, or a best-effort
	// description of partial progress if the iteration ceiling was hit.
	Summary string

	// Results accumulates subordinate outputs keyed by unit name, plus any
	// "error" feedback entries recorded along the way.
	Results map[string]any

	// Iterations is the number of decision iterations consumed (dynamic
	// mode only).
	Iterations int

	// Completed is false when the loop hit its ceiling and degraded to a
	// partial result.
	Completed bool
}

// Coordinate runs the supervisor's subordinates in the given mode.
func (c *Coordinator) Coordinate(ctx context.Context, supervisor string, subordinates []string, task string, contextData map[string]any, mode CoordinationMode) (*CoordinationResult, error) {
	switch mode {
	case ModeDynamic:
		return c.dynamic(ctx, supervisor, subordinates, task, contextData)
	case ModeParallel:
		return c.parallel(ctx, subordinates, task, contextData)
	case ModeSequential:
		return c.sequential(ctx, subordinates, task, contextData)
	default:
		return nil, fmt.Errorf("unknown coordination mode %q", mode)
	}
}

// dynamic runs the bounded decision loop. Each iteration asks the supervisor
// for one decision and invokes at most one subordinate. Unparseable decisions
// and unknown unit names are recorded as error entries and fed back on the
// next iteration so the supervisor can self-correct.
func (c *Coordinator) dynamic(ctx context.Context, supervisor string, subordinates []string, task string, contextData map[string]any) (*CoordinationResult, error) {
	supervised := make(map[string]bool, len(subordinates))
	for _, name := range subordinates {
		supervised[name] = true
	}
	results := map[string]any{}

	for iteration := 1; iteration <= c.maxIterations; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		prompt := buildDecisionPrompt(task, subordinates, results, iteration, c.maxIterations)
		raw, err := c.invoker.Invoke(ctx, supervisor, prompt, contextData)
		if err != nil {
			c.logger.Warn("supervisor invocation failed", "supervisor", supervisor, "iteration", iteration, "error", err)
			results["error"] = fmt.Sprintf("supervisor invocation failed: %v", err)
			continue
		}

		decision := ParseDecision(raw)
		switch decision.Kind {
		case DecisionCompleted:
			c.logger.Info("coordination completed", "supervisor", supervisor, "iterations", iteration)
			return &CoordinationResult{
				Summary:    decision.Summary,
				Results:    results,
				Iterations: iteration,
				Completed:  true,
			}, nil

		case DecisionDelegate:
			if !supervised[decision.Unit] {
				c.logger.Warn("supervisor delegated to unknown unit", "supervisor", supervisor, "unit", decision.Unit)
				results["error"] = fmt.Sprintf("unknown unit: %s", decision.Unit)
				continue
			}
			subtask := buildSubtask(decision.Subtask, decision.Context, results)
			output, err := c.invoker.Invoke(ctx, decision.Unit, subtask, contextData)
			if err != nil {
				c.logger.Warn("subordinate invocation failed", "unit", decision.Unit, "error", err)
				results["error"] = fmt.Sprintf("unit %s failed: %v", decision.Unit, err)
				continue
			}
			results[decision.Unit] = output

		default:
			c.logger.Warn("unrecognized decision format", "supervisor", supervisor, "iteration", iteration)
			results["error"] = "unrecognized decision format"
		}
	}

	// Ceiling reached without TASK_COMPLETED: degrade to a best-effort
	// partial result rather than failing outright.
	c.logger.Warn("coordination hit iteration ceiling", "supervisor", supervisor, "max_iterations", c.maxIterations)
	return &CoordinationResult{
		Summary:    summarizePartial(results, c.maxIterations),
		Results:    results,
		Iterations: c.maxIterations,
		Completed:  false,
	}, nil
}

// parallel invokes every subordinate concurrently against the same task and
// merges all results. Each unit name is unique, so concurrent writes target
// distinct keys; the mutex only guards the map itself.
func (c *Coordinator) parallel(ctx context.Context, subordinates []string, task string, contextData map[string]any) (*CoordinationResult, error) {
	results := make(map[string]any, len(subordinates))
	var mutex sync.Mutex
	var wg sync.WaitGroup

	for _, name := range subordinates {
		wg.Add(1)
		go func(unit string) {
			defer wg.Done()
			output, err := c.invoker.Invoke(ctx, unit, task, contextData)
			mutex.Lock()
			defer mutex.Unlock()
			if err != nil {
				results[unit] = fmt.Sprintf("error: %v", err)
				return
			}
			results[unit] = output
		}(name)
	}
	wg.Wait()

	return &CoordinationResult{
		Summary:   fmt.Sprintf("parallel coordination of %d units complete", len(subordinates)),
		Results:   results,
		Completed: true,
	}, nil
}

// sequential invokes subordinates in declaration order, threading each unit's
// output into the next unit's task as additional context. A failed invocation
// aborts the sequence.
func (c *Coordinator) sequential(ctx context.Context, subordinates []string, task string, contextData map[string]any) (*CoordinationResult, error) {
	results := make(map[string]any, len(subordinates))
	priorOutput := ""

	for _, name := range subordinates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		unitTask := task
		if priorOutput != "" {
			unitTask = fmt.Sprintf("%s\n\nPrevious result:\n%s", task, priorOutput)
		}
		output, err := c.invoker.Invoke(ctx, name, unitTask, contextData)
		if err != nil {
			return nil, &InvocationError{Unit: name, Err: err}
		}
		results[name] = output
		priorOutput = output
	}

	return &CoordinationResult{
		Summary:   priorOutput,
		Results:   results,
		Completed: true,
	}, nil
}

// buildDecisionPrompt composes the decision request issued to the supervisor:
// the task, the units available, accumulated results so far, and the exact
// response formats expected back.
func buildDecisionPrompt(task string, subordinates []string, results map[string]any, iteration, maxIterations int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Task: %s\n\n", task)
	fmt.Fprintf(&sb, "Iteration %d of %d.\n", iteration, maxIterations)
	fmt.Fprintf(&sb, "Available units: %s\n\n", strings.Join(subordinates, ", "))
	if len(results) > 0 {
		sb.WriteString("Accumulated results:\n")
		sb.WriteString(formatResults(results))
		sb.WriteString("\n")
	}
	sb.WriteString("Decide the next step. Respond with exactly one of:\n")
	sb.WriteString("TASK_COMPLETED: <summary>\n")
	sb.WriteString("NEXT_AGENT: <name> | SUBTASK: <description> | CONTEXT: <context>\n")
	return sb.String()
}

// buildSubtask composes the task string for a delegated subordinate from the
// supervisor's subtask, its context note, and the accumulated results.
func buildSubtask(subtask, contextNote string, results map[string]any) string {
	var sb strings.Builder
	sb.WriteString(subtask)
	if contextNote != "" {
		fmt.Fprintf(&sb, "\n\nContext: %s", contextNote)
	}
	if len(results) > 0 {
		fmt.Fprintf(&sb, "\n\nResults so far:\n%s", formatResults(results))
	}
	return sb.String()
}

// summarizePartial describes whatever accumulated before the ceiling hit.
// Always non-empty; partial completion is a reported outcome, not a silent one.
func summarizePartial(results map[string]any, iterations int) string {
	keys := make([]string, 0, len(results))
	for k := range results {
		if k != "error" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if len(keys) == 0 {
		return fmt.Sprintf("partially completed: no unit results after %d iterations", iterations)
	}
	return fmt.Sprintf("partially completed after %d iterations with results from: %s", iterations, strings.Join(keys, ", "))
}

func formatResults(results map[string]any) string {
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", results)
	}
	return string(data)
}
