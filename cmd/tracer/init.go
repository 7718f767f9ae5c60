package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"tracer/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the .tracer store",
	Long:  "Creates a .tracer/ directory with default configuration and an empty store",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false,
		"Force reinitialization (removes the existing .tracer directory)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := filepath.Join(repoRootFlag, ".tracer")
	if _, err := os.Stat(dir); err == nil {
		if !initForce {
			// Idempotent: already initialized is success
			fmt.Println("tracer already initialized.")
			fmt.Printf("Configuration at: %s\n", filepath.Join(dir, "config.json"))
			fmt.Println("\nRun 'tracer init --force' to reinitialize.")
			return nil
		}
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("removing existing .tracer directory: %w", err)
		}
	}

	cfg := config.DefaultConfig()
	if err := cfg.Save(repoRootFlag); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	// Opening the engine creates the database and schema
	e, _, err := openEngine()
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	fmt.Println("tracer initialized.")
	fmt.Printf("Configuration written to: %s\n", filepath.Join(dir, "config.json"))
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Run 'tracer ingest --index <index.jsonl>' to load an extracted index")
	fmt.Println("  2. Run 'tracer trace' to build and trace the graph")
	fmt.Println("  3. Run 'tracer validate' to see what still needs an answer")
	return nil
}
