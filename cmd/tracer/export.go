package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var exportOutFlag string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the graph snapshot to a file",
	Long: `Serialises the whole graph (symbols, edges, classification, pathways,
fan-outs and issues) into one JSON document. An output path ending in .zst
is zstd-compressed.`,
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutFlag, "out", "o", "graph.json",
		"Output path (.zst for compressed)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	if err := e.Export(exportOutFlag); err != nil {
		return err
	}
	fmt.Printf("Snapshot written to %s\n", exportOutFlag)
	return nil
}
