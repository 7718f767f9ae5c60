package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tracer/internal/config"
	"tracer/internal/engine"
	"tracer/internal/logging"
	"tracer/internal/version"
)

var (
	repoRootFlag string
	jsonFlag     bool
)

var rootCmd = &cobra.Command{
	Use:   "tracer",
	Short: "Code graph construction and pathway tracing engine",
	Long: `tracer builds a connection graph from an extracted symbol index, resolves
indirect connections, classifies entry points and final outcomes, and traces
every pathway from entry to outcome. Validation reports the gaps an automated
analysis cannot close on its own.`,
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("tracer version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoRootFlag, "repo", ".",
		"Repository root containing the .tracer store")
	rootCmd.PersistentFlags().BoolVar(&jsonFlag, "json", false,
		"Emit machine-readable JSON instead of human output")
}

// newLogger builds the CLI logger from the loaded config, honoring --json.
func newLogger(cfg *config.Config) *logging.Logger {
	format := logging.Format(cfg.Logging.Format)
	if jsonFlag {
		format = logging.JSONFormat
	}
	return logging.NewLogger(logging.Config{
		Format: format,
		Level:  logging.LogLevel(cfg.Logging.Level),
	})
}

// openEngine loads config and opens the engine for the selected repository.
func openEngine() (*engine.Engine, *config.Config, error) {
	cfg, err := config.LoadConfig(repoRootFlag)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}

	e, err := openEngineWith(cfg)
	if err != nil {
		return nil, nil, err
	}
	return e, cfg, nil
}

// openEngineWith opens the engine with an already-loaded (possibly amended)
// config.
func openEngineWith(cfg *config.Config) (*engine.Engine, error) {
	return engine.Open(repoRootFlag, cfg, newLogger(cfg))
}

// emit prints a result as indented JSON when --json is set, otherwise via
// the provided human renderer.
func emit(result interface{}, human func()) error {
	if jsonFlag {
		data, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, string(data))
		return nil
	}
	human()
	return nil
}
