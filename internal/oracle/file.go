package oracle

import (
	"context"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"tracer/internal/errors"
)

// answersFile is the on-disk answer sheet format. Each [[answer]] block binds
// a subject to a choice, typically written by a reviewer after a validation
// run surfaced open questions.
type answersFile struct {
	Answers []fileAnswer `toml:"answer"`
}

type fileAnswer struct {
	Subject     string `toml:"subject"`
	Choice      string `toml:"choice"`
	Explanation string `toml:"explanation"`
}

// FileOracle answers questions from a reviewer-maintained TOML answer sheet.
// Questions without a matching subject stay open, so the file can be grown
// incrementally between runs.
type FileOracle struct {
	path    string
	answers map[string]fileAnswer
}

// NewFileOracle loads the answer sheet at path. A missing file is an error;
// callers that tolerate absence should check with os.Stat first or fall back
// to a nil oracle.
func NewFileOracle(path string) (*FileOracle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.OracleUnavailable,
			fmt.Sprintf("cannot read answer sheet %s", path), err)
	}

	var parsed answersFile
	if err := toml.Unmarshal(data, &parsed); err != nil {
		return nil, errors.New(errors.OracleUnavailable,
			fmt.Sprintf("malformed answer sheet %s", path), err)
	}

	answers := make(map[string]fileAnswer, len(parsed.Answers))
	for _, a := range parsed.Answers {
		if a.Subject == "" || a.Choice == "" {
			return nil, errors.New(errors.OracleUnavailable,
				fmt.Sprintf("answer sheet %s has an entry without subject or choice", path), nil)
		}
		answers[a.Subject] = a
	}

	return &FileOracle{path: path, answers: answers}, nil
}

// Resolve answers every question whose subject appears in the answer sheet.
func (f *FileOracle) Resolve(_ context.Context, questions []Question) ([]Answer, error) {
	var out []Answer
	for _, q := range questions {
		a, ok := f.answers[q.SubjectID]
		if !ok {
			continue
		}
		out = append(out, Answer{
			QuestionID:  q.ID,
			SubjectID:   q.SubjectID,
			Choice:      a.Choice,
			Explanation: a.Explanation,
		})
	}
	return out, nil
}
