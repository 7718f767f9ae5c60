package incremental

import (
	"context"

	"tracer/internal/graph"
	"tracer/internal/ingest"
	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/resolver"
	"tracer/internal/storage"
	"tracer/internal/validate"
)

// Updater applies a partial re-extraction to an existing graph. Only the
// entries whose pathways touch a changed symbol are retraced; resolutions,
// pathways and issues elsewhere are untouched.
type Updater struct {
	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	store   *storage.GraphStore

	resolver   *resolver.Resolver
	classifier *graph.Classifier
	tracer     *graph.Tracer
	validator  *validate.Validator
	logger     *logging.Logger
}

// New wires an updater over the already-constructed pipeline stages.
func New(symbols *storage.SymbolStore, edges *storage.EdgeStore, store *storage.GraphStore,
	r *resolver.Resolver, c *graph.Classifier, t *graph.Tracer, v *validate.Validator,
	logger *logging.Logger) *Updater {
	return &Updater{
		symbols: symbols, edges: edges, store: store,
		resolver: r, classifier: c, tracer: t, validator: v, logger: logger,
	}
}

// UpdateResult summarises one incremental pass.
type UpdateResult struct {
	NoOp             bool             `json:"noOp"`
	Diff             *Diff            `json:"diff,omitempty"`
	EdgesInvalidated int              `json:"edgesInvalidated"`
	EdgesDeleted     int              `json:"edgesDeleted"`
	Resolution       *resolver.Stats  `json:"resolution,omitempty"`
	EntriesRetraced  int              `json:"entriesRetraced"`
	Report           *validate.Report `json:"report,omitempty"`
}

// Update applies a fresh extraction of a subset of files. Symbols are diffed
// by fingerprint; when nothing changed the stored graph is left byte for
// byte as it was.
func (u *Updater) Update(ctx context.Context, fresh *ingest.Result) (*UpdateResult, error) {
	for i := range fresh.Symbols {
		if fresh.Symbols[i].Fingerprint == "" {
			fresh.Symbols[i].Fingerprint = Fingerprint(&fresh.Symbols[i])
		}
	}

	files := affectedFiles(fresh)
	var stored []model.Symbol
	for _, file := range files {
		inFile, err := u.symbols.GetSymbolsInFile(file)
		if err != nil {
			return nil, err
		}
		stored = append(stored, inFile...)
	}

	diff := DiffSymbols(stored, fresh.Symbols)
	result := &UpdateResult{Diff: diff}
	if diff.Empty() {
		result.NoOp = true
		u.logger.Info("incremental update is a no-op", logging.Fields{"files": len(files)})
		return result, nil
	}

	// Entries whose pathways touch a changed symbol, collected before the
	// pathways are replaced
	entrySet := make(map[string]bool)
	for _, id := range diff.Touched() {
		owners, err := u.store.EntriesOwningSymbol(id)
		if err != nil {
			return nil, err
		}
		for _, e := range owners {
			entrySet[e] = true
		}
	}

	if err := u.replaceSymbols(files, fresh.Symbols); err != nil {
		return nil, err
	}

	// Old call sites of changed and removed symbols are gone; connections
	// resolved INTO a changed symbol go back through the resolver
	rewritten := append(append([]string{}, diff.Changed...), diff.Removed...)
	deleted, err := u.edges.DeleteEdgesFromSources(rewritten)
	if err != nil {
		return nil, err
	}
	result.EdgesDeleted = deleted

	invalidated, err := u.edges.InvalidateEdgesTouching(diff.Touched())
	if err != nil {
		return nil, err
	}
	result.EdgesInvalidated = invalidated

	if err := u.insertFreshEdges(diff, fresh.Edges); err != nil {
		return nil, err
	}

	stats, err := u.resolver.ResolveAll(ctx)
	if err != nil {
		return nil, err
	}
	result.Resolution = stats

	if _, _, err := u.classifier.Run(); err != nil {
		return nil, err
	}

	// Changed symbols may themselves have become entry points
	entries, err := u.store.EntryPoints()
	if err != nil {
		return nil, err
	}
	touched := make(map[string]bool)
	for _, id := range diff.Touched() {
		touched[id] = true
	}
	for _, ep := range entries {
		if touched[ep.SymbolID] {
			entrySet[ep.SymbolID] = true
		}
	}

	retrace := make([]string, 0, len(entrySet))
	for e := range entrySet {
		retrace = append(retrace, e)
	}
	if _, err := u.tracer.TraceEntries(ctx, retrace); err != nil {
		return nil, err
	}
	result.EntriesRetraced = len(retrace)

	report, err := u.validator.Run()
	if err != nil {
		return nil, err
	}
	result.Report = report

	u.logger.Info("incremental update complete", logging.Fields{
		"added": len(diff.Added), "changed": len(diff.Changed), "removed": len(diff.Removed),
		"edges_invalidated": invalidated, "entries_retraced": len(retrace),
	})
	return result, nil
}

// replaceSymbols swaps the stored symbols for the affected files wholesale.
func (u *Updater) replaceSymbols(files []string, fresh []model.Symbol) error {
	byFile := make(map[string][]model.Symbol)
	for i := range fresh {
		f := fresh[i].Location.File
		byFile[f] = append(byFile[f], fresh[i])
	}
	for _, file := range files {
		if err := u.symbols.DeleteSymbolsInFile(file); err != nil {
			return err
		}
		if len(byFile[file]) == 0 {
			continue
		}
		if err := u.symbols.UpsertSymbols(byFile[file]); err != nil {
			return err
		}
	}
	return nil
}

// insertFreshEdges writes the extraction's edges for sources that are new or
// rewritten. Edges from unchanged sources are already in the store with their
// resolution intact and are skipped rather than demoted.
func (u *Updater) insertFreshEdges(diff *Diff, edges []model.Edge) error {
	accept := make(map[string]bool, len(diff.Added)+len(diff.Changed))
	for _, id := range diff.Added {
		accept[id] = true
	}
	for _, id := range diff.Changed {
		accept[id] = true
	}
	for _, e := range edges {
		if !accept[e.SourceID] {
			continue
		}
		if err := u.edges.UpsertEdge(e); err != nil {
			return err
		}
	}
	return nil
}

// affectedFiles returns the distinct files the extraction covered, in input
// order.
func affectedFiles(fresh *ingest.Result) []string {
	seen := make(map[string]bool)
	var files []string
	for i := range fresh.Symbols {
		f := fresh.Symbols[i].Location.File
		if !seen[f] {
			seen[f] = true
			files = append(files, f)
		}
	}
	return files
}
