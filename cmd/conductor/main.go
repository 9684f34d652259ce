package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagDataDir    string
	flagBadger     bool
	flagJSONLogs   bool
	flagTimeout    string
	flagInvokerCmd string
	flagPoint      string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "conductor",
		Short:         "Multi-layer workflow orchestration",
		Long:          "conductor coordinates a hierarchy of work-units through a directed pipeline with durable checkpoints and recovery.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory for workflow state (default ~/.conductor/workflows)")
	rootCmd.PersistentFlags().BoolVar(&flagBadger, "badger", false, "use an embedded badger database instead of flat files")
	rootCmd.PersistentFlags().BoolVar(&flagJSONLogs, "json", false, "emit JSON logs")
	rootCmd.PersistentFlags().StringVar(&flagTimeout, "timeout", "0", "overall execution timeout (e.g. 10m); 0 disables")
	rootCmd.PersistentFlags().StringVar(&flagInvokerCmd, "invoker-cmd", "", "external command invoked per work-unit; receives the unit name as an argument and the task on stdin")

	rootCmd.AddCommand(newExecuteCmd())
	rootCmd.AddCommand(newPauseCmd())
	rootCmd.AddCommand(newResumeCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newSuggestCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
