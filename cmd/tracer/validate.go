package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"tracer/internal/config"
	"tracer/internal/model"
)

var validateAnswersFlag string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "List open validation issues blocking completeness",
	Long: `Recomputes the global invariants and prints every open issue: orphan entry
points, unreachable outcomes, graph gaps and incomplete fan-outs. With
--answers, recorded verdicts are applied before reporting.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVar(&validateAnswersFlag, "answers", "",
		"Path to a TOML answer sheet applied to open issues")
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(repoRootFlag)
	if err != nil {
		return err
	}
	if validateAnswersFlag != "" {
		cfg.Resolver.AnswersFile = validateAnswersFlag
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	e, err := openEngineWith(cfg)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	report, err := e.Validate(cmd.Context(), validateAnswersFlag != "")
	if err != nil {
		return err
	}
	return emit(report, func() {
		if report.Complete {
			fmt.Println("Graph is complete: every entry reaches an outcome, every connection is accounted for.")
			return
		}
		fmt.Printf("Graph is incomplete: %d open issue(s)\n\n", report.OpenTotal())
		for _, issue := range report.Issues {
			if issue.Status != model.IssueOpen {
				continue
			}
			fmt.Printf("  [%s] %s\n", issue.Kind, issue.SubjectID)
			fmt.Printf("      %s\n", issue.Observation)
		}
	})
}
