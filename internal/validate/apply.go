package validate

import (
	"context"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/oracle"
)

// ApplyResult records what the oracle's answers changed, so the engine can
// bound the follow-up work: dead subjects leave validation, external
// boundaries become terminal outcomes, missing links need a resolver and
// tracer pass.
type ApplyResult struct {
	Dead         []string `json:"dead,omitempty"`
	External     []string `json:"external,omitempty"`
	MissingLinks []string `json:"missingLinks,omitempty"`
	Answered     int      `json:"answered"`
	Remaining    int      `json:"remaining"`
}

// ApplyAnswers sends every open issue to the oracle and applies the verdicts.
// A nil or unavailable oracle leaves the issues open; that is not an error.
func (v *Validator) ApplyAnswers(ctx context.Context, o oracle.Oracle, batchSize int) (*ApplyResult, error) {
	open, err := v.issues.OpenIssues()
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{Remaining: len(open)}
	if len(open) == 0 || o == nil {
		return result, nil
	}

	questions := make([]oracle.Question, len(open))
	byID := make(map[string]model.ValidationIssue, len(open))
	for i, issue := range open {
		questions[i] = oracle.Question{
			ID:          issue.ID,
			SubjectID:   issue.SubjectID,
			Observation: issue.Observation,
			Prompt:      issue.Question,
			Options:     issue.Options,
		}
		byID[issue.ID] = issue
	}

	answers, err := oracle.ResolveBatched(ctx, o, questions, batchSize)
	if err != nil {
		v.logger.Warn("oracle unavailable, issues stay open", logging.Fields{
			"open": len(open), "error": err.Error(),
		})
		return result, nil
	}

	for _, a := range answers {
		issue := byID[a.QuestionID]
		if err := v.applyAnswer(issue, a); err != nil {
			return result, err
		}

		switch a.Choice {
		case "dead_code":
			result.Dead = append(result.Dead, issue.SubjectID)
		case "external_boundary":
			result.External = append(result.External, issue.SubjectID)
		case "missing_link":
			result.MissingLinks = append(result.MissingLinks, issue.SubjectID)
		}
		result.Answered++
	}
	result.Remaining = len(open) - result.Answered
	return result, nil
}

// applyAnswer updates the graph for one verdict and closes the issue.
func (v *Validator) applyAnswer(issue model.ValidationIssue, a oracle.Answer) error {
	switch a.Choice {
	case "dead_code":
		// Excluded from future validation; the dead marker survives
		// reclassification
		if err := v.graph.MarkDead(issue.SubjectID); err != nil {
			return err
		}

	case "external_boundary":
		// Treated as a terminal final outcome from now on
		if err := v.graph.AddOutcome(model.FinalOutcome{
			SymbolID: issue.SubjectID,
			Category: model.OutcomeExternalCall,
			Target:   a.Explanation,
		}); err != nil {
			return err
		}

	case "missing_link":
		// The fix arrives through the resolver (a pattern or answer sheet
		// entry); closing the issue records the decision, the engine
		// schedules the retrace
	}

	return v.issues.ResolveIssue(issue.Kind, issue.SubjectID, a.Choice, a.Explanation)
}
