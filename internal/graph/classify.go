// Package graph builds the validated pathway graph: it classifies symbols
// into the entry-point and final-outcome taxonomies, then traces every
// pathway from each entry point across resolved edges, expanding fan-out
// points into independent branches.
package graph

import (
	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/rules"
	"tracer/internal/storage"
)

// Classifier tags symbols against the two taxonomies. Classification is a
// pure function of the index and the rule set: the same store yields the
// same tags on every run.
type Classifier struct {
	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	graph   *storage.GraphStore
	rules   *rules.RuleSet
	logger  *logging.Logger
}

// NewClassifier creates a classifier over the store.
func NewClassifier(symbols *storage.SymbolStore, edges *storage.EdgeStore,
	graph *storage.GraphStore, rs *rules.RuleSet, logger *logging.Logger) *Classifier {
	if rs == nil {
		rs = rules.Defaults()
	}
	return &Classifier{symbols: symbols, edges: edges, graph: graph, rules: rs, logger: logger}
}

// Run scans every symbol and replaces the stored classification wholesale.
// Symbols the oracle marked dead keep their dead marker across runs.
func (c *Classifier) Run() (int, int, error) {
	symbols, err := c.symbols.AllSymbols()
	if err != nil {
		return 0, 0, err
	}
	allEdges, err := c.edges.AllEdges()
	if err != nil {
		return 0, 0, err
	}

	calleeKeys := make(map[string][]string)
	for _, e := range allEdges {
		calleeKeys[e.SourceID] = append(calleeKeys[e.SourceID], e.TargetKey)
	}

	var entries []model.EntryPoint
	var outcomes []model.FinalOutcome
	for i := range symbols {
		sym := &symbols[i]
		if sym.Kind == model.KindImport {
			continue
		}
		keys := calleeKeys[sym.ID]

		if rule := c.rules.MatchEntry(sym, keys); rule != nil {
			label := rule.Label
			if label == "" {
				label = sym.Name
			}
			entries = append(entries, model.EntryPoint{
				SymbolID: sym.ID,
				Category: rule.Category,
				Label:    label,
			})
		}
		// A symbol may be both: a handler that itself performs the write
		// is an entry point and its own terminal step
		if rule := c.rules.MatchOutcome(sym, keys); rule != nil {
			outcomes = append(outcomes, model.FinalOutcome{
				SymbolID: sym.ID,
				Category: rule.Category,
			})
		}
	}

	if err := c.graph.ReplaceClassification(entries, outcomes); err != nil {
		return 0, 0, err
	}

	c.logger.Info("classification complete", logging.Fields{
		"symbols": len(symbols), "entry_points": len(entries), "final_outcomes": len(outcomes),
	})
	return len(entries), len(outcomes), nil
}
