// Command dt runs storage exerciser workloads described by a YAML
// file: jobs of worker threads writing, reading, and verifying data
// patterns against files or devices, with watchdog supervision and
// retry handling for transient device errors.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	dt "github.com/RobinTMiller/dt-sub002"
)

func main() {
	os.Exit(run())
}

func run() int {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		var ee *exitError
		if ok := asExitError(err, &ee); ok {
			return ee.code
		}
		fmt.Fprintln(os.Stderr, "dt:", err)
		return dt.ExitFailure
	}
	return dt.ExitSuccess
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "dt",
		Short:         "Storage exerciser: write, read, and verify data patterns",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}
