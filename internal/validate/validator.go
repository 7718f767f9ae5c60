// Package validate checks the global graph invariants after tracing and
// turns violations into actionable issues: orphan entries, unreachable
// outcomes, graph gaps and incomplete fan-outs. Completeness is an explicit
// gate, never an implicit success of the run.
package validate

import (
	"fmt"

	"github.com/google/uuid"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/storage"
)

// issueOptions is the fixed option set every validation question carries.
var issueOptions = []string{"dead_code", "external_boundary", "missing_link"}

// Validator computes validation issues over the traced graph.
type Validator struct {
	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	graph   *storage.GraphStore
	issues  *storage.IssueStore
	logger  *logging.Logger
}

// New creates a validator over the store.
func New(symbols *storage.SymbolStore, edges *storage.EdgeStore,
	graph *storage.GraphStore, issues *storage.IssueStore, logger *logging.Logger) *Validator {
	return &Validator{symbols: symbols, edges: edges, graph: graph, issues: issues, logger: logger}
}

// Run recomputes every issue kind. Conditions that no longer hold close
// their open issues as superseded; everything else waits for the oracle.
func (v *Validator) Run() (*Report, error) {
	current := make(map[string]model.ValidationIssue)

	if err := v.findOrphanEntries(current); err != nil {
		return nil, err
	}
	if err := v.findUnreachableOutcomes(current); err != nil {
		return nil, err
	}
	if err := v.findGraphGaps(current); err != nil {
		return nil, err
	}
	if err := v.findIncompleteFanOuts(current); err != nil {
		return nil, err
	}

	for _, issue := range current {
		if err := v.issues.UpsertIssue(issue); err != nil {
			return nil, err
		}
	}

	// Open issues whose condition disappeared (a retrace covered the gap)
	// close without an oracle round-trip
	open, err := v.issues.OpenIssues()
	if err != nil {
		return nil, err
	}
	for _, issue := range open {
		if _, still := current[issueKey(issue.Kind, issue.SubjectID)]; !still {
			if err := v.issues.ResolveIssue(issue.Kind, issue.SubjectID,
				"superseded", "condition no longer holds after retracing"); err != nil {
				return nil, err
			}
		}
	}

	report, err := v.BuildReport()
	if err != nil {
		return nil, err
	}
	v.logger.Info("validation complete", logging.Fields{
		"open": report.OpenTotal(), "complete": report.Complete,
	})
	return report, nil
}

func issueKey(kind model.IssueKind, subject string) string {
	return string(kind) + "|" + subject
}

func record(current map[string]model.ValidationIssue, issue model.ValidationIssue) {
	current[issueKey(issue.Kind, issue.SubjectID)] = issue
}

// findOrphanEntries flags entry points that own zero pathways.
func (v *Validator) findOrphanEntries(current map[string]model.ValidationIssue) error {
	entries, err := v.graph.EntryPoints()
	if err != nil {
		return err
	}
	for _, ep := range entries {
		pathways, err := v.graph.PathwaysForEntry(ep.SymbolID)
		if err != nil {
			return err
		}
		if len(pathways) > 0 {
			continue
		}
		record(current, model.ValidationIssue{
			ID:        uuid.NewString(),
			Kind:      model.IssueOrphanEntry,
			SubjectID: ep.SymbolID,
			Observation: fmt.Sprintf("entry point %s (%s) reaches no final outcome",
				ep.SymbolID, ep.Category),
			Question: "Is this entry point dead code, an external boundary, or missing a link to its effects?",
			Options:  issueOptions,
			Status:   model.IssueOpen,
		})
	}
	return nil
}

// findUnreachableOutcomes flags outcomes no pathway terminates at.
func (v *Validator) findUnreachableOutcomes(current map[string]model.ValidationIssue) error {
	outcomes, err := v.graph.FinalOutcomes()
	if err != nil {
		return err
	}
	pathways, err := v.graph.Pathways()
	if err != nil {
		return err
	}

	reached := make(map[string]bool)
	for i := range pathways {
		if pathways[i].OutcomeSymbol != "" {
			reached[pathways[i].OutcomeSymbol] = true
		}
	}

	for _, fo := range outcomes {
		if reached[fo.SymbolID] {
			continue
		}
		record(current, model.ValidationIssue{
			ID:        uuid.NewString(),
			Kind:      model.IssueUnreachableOutcome,
			SubjectID: fo.SymbolID,
			Observation: fmt.Sprintf("final outcome %s (%s) is not reached by any pathway",
				fo.SymbolID, fo.Category),
			Question: "Is this outcome dead code, triggered externally, or missing an inbound link?",
			Options:  issueOptions,
			Status:   model.IssueOpen,
		})
	}
	return nil
}

// findGraphGaps flags called symbols that appear on no pathway and are not
// infrastructure, plus edges that never resolved.
func (v *Validator) findGraphGaps(current map[string]model.ValidationIssue) error {
	covered, err := v.graph.SymbolsOnPathways()
	if err != nil {
		return err
	}
	all, err := v.edges.AllEdges()
	if err != nil {
		return err
	}

	entries, err := v.graph.EntryPoints()
	if err != nil {
		return err
	}
	isEntry := make(map[string]bool, len(entries))
	for _, ep := range entries {
		isEntry[ep.SymbolID] = true
	}

	// Both ends of a resolved edge must be covered: an uncovered target is a
	// gap, and so is an uncovered caller (a whole unreachable cluster must
	// not pass validation just because its members call each other)
	callers := make(map[string]int)
	uncoveredSources := make(map[string]bool)
	for _, e := range all {
		switch e.State {
		case model.StateResolved:
			if e.TargetID != "" && !covered[e.TargetID] {
				callers[e.TargetID]++
			}
			if !covered[e.SourceID] && !isEntry[e.SourceID] {
				uncoveredSources[e.SourceID] = true
			}
		case model.StateUnresolved:
			record(current, model.ValidationIssue{
				ID:        uuid.NewString(),
				Kind:      model.IssueGraphGap,
				SubjectID: e.DedupKey(),
				Observation: fmt.Sprintf("connection from %s to %q at %s never resolved",
					e.SourceID, e.TargetKey, e.Location.String()),
				Question: "Is this connection dead code, an external boundary, or a missing link?",
				Options:  issueOptions,
				Status:   model.IssueOpen,
			})
		}
	}

	for target, n := range callers {
		record(current, model.ValidationIssue{
			ID:        uuid.NewString(),
			Kind:      model.IssueGraphGap,
			SubjectID: target,
			Observation: fmt.Sprintf("%s has %d caller(s) but appears on no pathway and is not infrastructure",
				target, n),
			Question: "Is this symbol dead code, an external boundary, or missing a link from an entry point?",
			Options:  issueOptions,
			Status:   model.IssueOpen,
		})
	}

	for source := range uncoveredSources {
		if _, already := current[issueKey(model.IssueGraphGap, source)]; already {
			continue
		}
		record(current, model.ValidationIssue{
			ID:        uuid.NewString(),
			Kind:      model.IssueGraphGap,
			SubjectID: source,
			Observation: fmt.Sprintf("%s makes calls but is unreachable from every entry point",
				source),
			Question: "Is this symbol dead code, an external boundary, or missing a link from an entry point?",
			Options:  issueOptions,
			Status:   model.IssueOpen,
		})
	}
	return nil
}

// findIncompleteFanOuts flags fan-out points with fewer branch pathways than
// recorded listeners.
func (v *Validator) findIncompleteFanOuts(current map[string]model.ValidationIssue) error {
	points, err := v.graph.FanOutPoints()
	if err != nil {
		return err
	}
	for _, fp := range points {
		branches, err := v.graph.BranchPathways(fp.ID)
		if err != nil {
			return err
		}
		if len(branches) >= fp.BranchCount {
			continue
		}
		record(current, model.ValidationIssue{
			ID:        uuid.NewString(),
			Kind:      model.IssueIncompleteFanOut,
			SubjectID: fp.ID,
			Observation: fmt.Sprintf("fan-out %s at %s has %d recorded listeners but %d traced branches",
				fp.TargetKey, fp.Location.String(), fp.BranchCount, len(branches)),
			Question: "Are the missing branches dead code, external consumers, or missing links?",
			Options:  issueOptions,
			Status:   model.IssueOpen,
		})
	}
	return nil
}
