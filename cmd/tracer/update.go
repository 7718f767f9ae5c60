package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	updateIndexFlag string
	updateHintsFlag string
)

var updateCmd = &cobra.Command{
	Use:   "update",
	Short: "Apply a partial re-extraction incrementally",
	Long: `Loads a re-extracted subset of files, diffs the symbols by fingerprint, and
recomputes only the edges, pathways and issues touching changed symbols. An
extraction with no effective changes leaves the stored graph untouched.`,
	RunE: runUpdate,
}

func init() {
	updateCmd.Flags().StringVar(&updateIndexFlag, "index", "", "Path to the re-extracted index (required)")
	updateCmd.Flags().StringVar(&updateHintsFlag, "hints", "", "Path to the re-extracted hints JSONL")
	updateCmd.MarkFlagRequired("index") //nolint:errcheck
	rootCmd.AddCommand(updateCmd)
}

func runUpdate(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	result, err := e.Update(cmd.Context(), updateIndexFlag, updateHintsFlag)
	if err != nil {
		return err
	}
	return emit(result, func() {
		if result.NoOp {
			fmt.Println("No effective changes; graph untouched.")
			return
		}
		if result.Diff != nil {
			fmt.Printf("Symbols: %d added, %d changed, %d removed\n",
				len(result.Diff.Added), len(result.Diff.Changed), len(result.Diff.Removed))
		}
		fmt.Printf("Edges invalidated: %d  entries retraced: %d\n",
			result.EdgesInvalidated, result.EntriesRetraced)
		if result.Report != nil && !result.Report.Complete {
			fmt.Printf("Graph is incomplete: %d open issue(s), run 'tracer validate'\n",
				result.Report.OpenTotal())
		}
	})
}
