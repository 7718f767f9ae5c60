package validate

import (
	"time"

	"tracer/internal/model"
)

// Report is the validation summary consumed by downstream collaborators and
// the status command. Completeness requires zero open orphan, unreachable
// and gap issues; incomplete fan-outs are reported but do not block.
type Report struct {
	GeneratedAt time.Time               `json:"generatedAt"`
	Open        map[model.IssueKind]int `json:"open"`
	Resolved    map[model.IssueKind]int `json:"resolved"`
	Complete    bool                    `json:"complete"`
	Issues      []model.ValidationIssue `json:"issues,omitempty"`
}

// OpenTotal returns the total count of open issues.
func (r *Report) OpenTotal() int {
	total := 0
	for _, n := range r.Open {
		total += n
	}
	return total
}

// BuildReport assembles a report from the issue store.
func (v *Validator) BuildReport() (*Report, error) {
	all, err := v.issues.AllIssues()
	if err != nil {
		return nil, err
	}

	report := &Report{
		GeneratedAt: time.Now().UTC(),
		Open:        make(map[model.IssueKind]int),
		Resolved:    make(map[model.IssueKind]int),
		Issues:      all,
	}
	for _, issue := range all {
		if issue.Status == model.IssueOpen {
			report.Open[issue.Kind]++
		} else {
			report.Resolved[issue.Kind]++
		}
	}

	report.Complete = report.Open[model.IssueOrphanEntry] == 0 &&
		report.Open[model.IssueUnreachableOutcome] == 0 &&
		report.Open[model.IssueGraphGap] == 0

	return report, nil
}
