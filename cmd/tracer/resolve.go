package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracer/internal/config"
)

var resolveAnswersFlag string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Run connection resolution over the unresolved backlog",
	Long: `Works through every unresolved edge: indirect-connection patterns first,
then symbol lookup, escalating what remains to the oracle. With --answers,
pre-recorded verdicts from a TOML answer sheet act as the oracle.`,
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAnswersFlag, "answers", "",
		"Path to a TOML answer sheet with pre-recorded oracle answers")
	rootCmd.AddCommand(resolveCmd)
}

func runResolve(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(repoRootFlag)
	if err != nil {
		return err
	}
	if resolveAnswersFlag != "" {
		cfg.Resolver.AnswersFile = resolveAnswersFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e, err := openEngineWith(cfg)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	stats, err := e.Resolve(cmd.Context())
	if err != nil {
		return err
	}
	return emit(stats, func() {
		fmt.Printf("Resolved %d edges (%d dead ends, %d external, %d escalated, %d remaining)\n",
			stats.Resolved, stats.DeadEnds, stats.External, stats.Escalated, stats.Remaining)
	})
}
