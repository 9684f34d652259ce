package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/deepnoodle-ai/conductor"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// commandInvoker shells out to an external program for each work-unit
// invocation: the unit name is passed as an argument, the task on stdin, and
// stdout becomes the unit's result. The reasoning engine behind the command
// is opaque to the coordinator.
type commandInvoker struct {
	command string
}

func (c *commandInvoker) Invoke(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
	cmd := exec.CommandContext(ctx, c.command, unit)
	cmd.Stdin = strings.NewReader(task)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s: %w", strings.TrimSpace(stderr.String()), err)
	}
	return stdout.String(), nil
}

func buildLogger() *slog.Logger {
	if flagJSONLogs {
		return conductor.NewJSONLogger()
	}
	return conductor.NewLogger()
}

func buildStore() (conductor.Store, func(), error) {
	if flagBadger {
		dir := flagDataDir
		if dir == "" {
			dir = ".conductor-badger"
		}
		store, err := conductor.NewBadgerStore(dir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
	store, err := conductor.NewFileStore(flagDataDir)
	if err != nil {
		return nil, nil, err
	}
	return store, func() {}, nil
}

func buildStates() (*conductor.StateMachine, func(), error) {
	store, cleanup, err := buildStore()
	if err != nil {
		return nil, nil, err
	}
	states, err := conductor.NewStateMachine(conductor.StateMachineOptions{
		Store:  store,
		Logger: buildLogger(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return states, cleanup, nil
}

func buildManager() (*conductor.Manager, func(), error) {
	if flagInvokerCmd == "" {
		return nil, nil, errors.New("--invoker-cmd is required")
	}
	states, cleanup, err := buildStates()
	if err != nil {
		return nil, nil, err
	}
	manager, err := conductor.NewManager(conductor.ManagerOptions{
		Invoker: &commandInvoker{command: flagInvokerCmd},
		States:  states,
		Logger:  buildLogger(),
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return manager, cleanup, nil
}

func executionContext() (context.Context, context.CancelFunc, error) {
	timeout, err := time.ParseDuration(flagTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid timeout: %w", err)
	}
	if timeout > 0 {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		return ctx, cancel, nil
	}
	return context.Background(), func() {}, nil
}

func printResult(result *conductor.Result) {
	switch result.Status {
	case conductor.StatusCompleted:
		color.Green("Workflow %s completed", result.WorkflowID)
	case conductor.StatusPaused:
		color.Yellow("Workflow %s paused", result.WorkflowID)
	default:
		color.Red("Workflow %s finished with status %s", result.WorkflowID, result.Status)
	}
}

func newExecuteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "execute <task>",
		Short: "Run a new workflow for the given task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := buildManager()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel, err := executionContext()
			if err != nil {
				return err
			}
			defer cancel()

			result, err := manager.Execute(ctx, args[0], nil)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
}

func newPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <workflow-id>",
		Short: "Pause a running workflow before its next node starts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states, cleanup, err := buildStates()
			if err != nil {
				return err
			}
			defer cleanup()

			manager, err := conductor.NewManager(conductor.ManagerOptions{
				Invoker: conductor.InvokerFunc(func(ctx context.Context, unit, task string, contextData map[string]any) (string, error) {
					return "", errors.New("pause does not invoke units")
				}),
				States: states,
				Logger: buildLogger(),
			})
			if err != nil {
				return err
			}

			paused, err := manager.Pause(context.Background(), args[0])
			if err != nil {
				return err
			}
			if paused {
				color.Yellow("Workflow %s paused", args[0])
			} else {
				color.White("Workflow %s is not running; nothing to pause", args[0])
			}
			return nil
		},
	}
}

func newResumeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resume <workflow-id>",
		Short: "Resume a paused workflow or recover a failed one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, cleanup, err := buildManager()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx, cancel, err := executionContext()
			if err != nil {
				return err
			}
			defer cancel()

			result, err := manager.Resume(ctx, args[0], flagPoint)
			if err != nil {
				return err
			}
			printResult(result)
			return nil
		},
	}
	cmd.Flags().StringVar(&flagPoint, "point", "", "explicit recovery point (checkpoint ID); default is the most recent recoverable checkpoint")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all persisted workflows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			states, cleanup, err := buildStates()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			ids, err := states.ListAll(ctx)
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				color.White("No workflows found")
				return nil
			}
			for _, id := range ids {
				state, err := states.Load(ctx, id)
				if err != nil {
					return err
				}
				fmt.Printf("%-40s %-10s updated %s\n", id, state.Status, state.UpdatedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func newSuggestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "suggest [name]",
		Short: "Suggest recovery actions for a workflow (latest unfinished if no name given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states, cleanup, err := buildStates()
			if err != nil {
				return err
			}
			defer cleanup()

			directory := conductor.NewDirectory(states)
			ctx := context.Background()

			var project *conductor.Project
			if len(args) == 1 {
				project, err = directory.FindByName(ctx, args[0])
			} else {
				project, err = directory.LatestUnfinished(ctx)
			}
			if errors.Is(err, conductor.ErrNotFound) {
				color.White("No matching workflow found")
				return nil
			}
			if err != nil {
				return err
			}

			color.Cyan("Workflow %s (%s, updated %s)", project.WorkflowID, project.Status, project.UpdatedAt)
			for i, suggestion := range directory.SuggestRecoveryActions(project) {
				fmt.Printf("  %d. %s\n", i+1, suggestion)
			}
			return nil
		},
	}
}
