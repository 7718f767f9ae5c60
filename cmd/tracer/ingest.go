package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	ingestIndexFlag string
	ingestHintsFlag string
	ingestSCIPFlag  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load a symbol/edge index into the store",
	Long: `Reads an extractor index (JSONL, or SCIP with --scip) plus an optional
connection-hints file, and stores the symbols and the unresolved edge backlog.
Re-ingesting is idempotent: edges the resolver already settled keep their state.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestIndexFlag, "index", "", "Path to the index file (required)")
	ingestCmd.Flags().StringVar(&ingestHintsFlag, "hints", "", "Path to the connection hints JSONL")
	ingestCmd.Flags().BoolVar(&ingestSCIPFlag, "scip", false, "Treat the index as a SCIP protobuf file")
	ingestCmd.MarkFlagRequired("index") //nolint:errcheck
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	if ingestSCIPFlag {
		stats, err := e.IngestSCIP(cmd.Context(), ingestIndexFlag)
		if err != nil {
			return err
		}
		return emit(stats, func() {
			fmt.Printf("Ingested %d symbols and %d edges from SCIP index\n",
				stats.Symbols, stats.Edges)
		})
	}

	stats, err := e.Ingest(cmd.Context(), ingestIndexFlag, ingestHintsFlag)
	if err != nil {
		return err
	}
	return emit(stats, func() {
		fmt.Printf("Ingested %d symbols, %d edges, %d hints (%d records skipped)\n",
			stats.Symbols, stats.Edges, stats.Hints, stats.Skipped)
	})
}
