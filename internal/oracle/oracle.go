// Package oracle defines the escalation port for questions the engine cannot
// answer from the index alone: ambiguous edge targets, orphan entry points,
// unreachable outcomes. The engine never blocks on an oracle; an unavailable
// oracle leaves questions open for a later pass.
package oracle

import (
	"context"

	"tracer/internal/errors"
)

// Question is one escalation: an observation about the graph, a prompt, and
// the finite set of acceptable choices.
type Question struct {
	ID          string   `json:"id"`
	SubjectID   string   `json:"subjectId"`
	Observation string   `json:"observation"`
	Prompt      string   `json:"prompt"`
	Options     []string `json:"options"`
}

// Answer is an oracle's verdict on one question. Choice is always one of the
// question's options.
type Answer struct {
	QuestionID  string `json:"questionId"`
	SubjectID   string `json:"subjectId"`
	Choice      string `json:"choice"`
	Explanation string `json:"explanation,omitempty"`
}

// Oracle resolves batches of questions. Implementations may answer a subset;
// unanswered questions simply stay open.
type Oracle interface {
	Resolve(ctx context.Context, questions []Question) ([]Answer, error)
}

// ValidChoice reports whether choice is one of the question's options.
func (q Question) ValidChoice(choice string) bool {
	for _, opt := range q.Options {
		if opt == choice {
			return true
		}
	}
	return false
}

// ResolveBatched sends questions to the oracle in batches of at most
// batchSize, collecting answers across batches. Invalid choices are dropped
// rather than propagated.
func ResolveBatched(ctx context.Context, o Oracle, questions []Question, batchSize int) ([]Answer, error) {
	if o == nil {
		return nil, errors.New(errors.OracleUnavailable, "no oracle configured", nil)
	}
	if batchSize <= 0 {
		batchSize = len(questions)
	}

	byID := make(map[string]Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}

	var out []Answer
	for start := 0; start < len(questions); start += batchSize {
		end := start + batchSize
		if end > len(questions) {
			end = len(questions)
		}
		answers, err := o.Resolve(ctx, questions[start:end])
		if err != nil {
			return out, err
		}
		for _, a := range answers {
			q, ok := byID[a.QuestionID]
			if !ok || !q.ValidChoice(a.Choice) {
				continue
			}
			out = append(out, a)
		}
	}
	return out, nil
}

// Static is an in-memory oracle keyed by subject id. Used in tests and for
// pre-seeded resolutions.
type Static struct {
	Choices      map[string]string
	Explanations map[string]string
}

// Resolve answers every question whose subject has a seeded choice.
func (s *Static) Resolve(_ context.Context, questions []Question) ([]Answer, error) {
	var out []Answer
	for _, q := range questions {
		choice, ok := s.Choices[q.SubjectID]
		if !ok {
			continue
		}
		out = append(out, Answer{
			QuestionID:  q.ID,
			SubjectID:   q.SubjectID,
			Choice:      choice,
			Explanation: s.Explanations[q.SubjectID],
		})
	}
	return out, nil
}
