package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show store counts and completeness",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	status, err := e.Status()
	if err != nil {
		return err
	}
	return emit(status, func() {
		fmt.Printf("Symbols:        %d\n", status.Symbols)
		fmt.Printf("Edges:          resolved=%d unresolved=%d dead_end=%d external=%d\n",
			status.Edges["resolved"], status.Edges["unresolved"],
			status.Edges["dead_end"], status.Edges["external"])
		fmt.Printf("Entry points:   %d\n", status.Entries)
		fmt.Printf("Final outcomes: %d\n", status.Outcomes)
		fmt.Printf("Pathways:       %d\n", status.Pathways)
		if len(status.Issues) > 0 {
			fmt.Printf("Open issues:   ")
			for kind, n := range status.Issues {
				fmt.Printf(" %s=%d", kind, n)
			}
			fmt.Println()
		}
		if status.Complete {
			fmt.Println("Graph is complete.")
		} else {
			fmt.Println("Graph is incomplete; run 'tracer validate' for details.")
		}
	})
}
