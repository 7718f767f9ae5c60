package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Build the graph and trace every pathway",
	Long: `Runs the full pipeline: resolves the unresolved backlog, classifies entry
points and final outcomes, traces every pathway, and validates the result.
When an answer sheet is configured, oracle verdicts feed back into further
passes until the graph is complete or no progress is made.`,
	RunE: runTrace,
}

func init() {
	rootCmd.AddCommand(traceCmd)
}

func runTrace(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	result, err := e.Build(cmd.Context())
	if err != nil {
		return err
	}
	return emit(result, func() {
		fmt.Printf("Build finished in %d pass(es)\n", result.Passes)
		if result.Resolution != nil {
			fmt.Printf("  resolved: %d  dead ends: %d  external: %d  remaining: %d\n",
				result.Resolution.Resolved, result.Resolution.DeadEnds,
				result.Resolution.External, result.Resolution.Remaining)
		}
		if result.Trace != nil {
			fmt.Printf("  entries: %d  pathways: %d  truncated: %d\n",
				result.Trace.Entries, result.Trace.Pathways, result.Trace.Truncated)
		}
		if result.Report != nil {
			if result.Report.Complete {
				fmt.Println("  graph is complete")
			} else {
				fmt.Printf("  graph is incomplete: %d open issue(s), run 'tracer validate'\n",
					result.Report.OpenTotal())
			}
		}
	})
}
