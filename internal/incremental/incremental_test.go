package incremental

import (
	"context"
	"reflect"
	"testing"

	"tracer/internal/graph"
	"tracer/internal/ingest"
	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/resolver"
	"tracer/internal/storage"
	"tracer/internal/validate"
)

func TestFingerprintIsStableAndDiscriminating(t *testing.T) {
	sym := model.Symbol{
		ID: "a.js:f", Kind: model.KindFunction, Name: "f", QualifiedName: "f",
		Location:  model.Location{File: "a.js", StartLine: 10, EndLine: 20},
		Signature: &model.Signature{Params: []model.Param{{Name: "x", Type: "number"}}},
	}
	if Fingerprint(&sym) != Fingerprint(&sym) {
		t.Fatal("fingerprint not deterministic")
	}

	moved := sym
	moved.Location.StartLine = 11
	if Fingerprint(&sym) == Fingerprint(&moved) {
		t.Error("moved symbol should fingerprint differently")
	}

	resigned := sym
	resigned.Signature = &model.Signature{Params: []model.Param{{Name: "x", Type: "string"}}}
	if Fingerprint(&sym) == Fingerprint(&resigned) {
		t.Error("changed signature should fingerprint differently")
	}
}

func TestDiffSymbols(t *testing.T) {
	old := []model.Symbol{
		{ID: "a.js:keep", Kind: model.KindFunction, Name: "keep", Location: model.Location{File: "a.js", StartLine: 1}},
		{ID: "a.js:change", Kind: model.KindFunction, Name: "change", Location: model.Location{File: "a.js", StartLine: 10}},
		{ID: "a.js:gone", Kind: model.KindFunction, Name: "gone", Location: model.Location{File: "a.js", StartLine: 20}},
	}
	fresh := []model.Symbol{
		old[0],
		{ID: "a.js:change", Kind: model.KindFunction, Name: "change", Location: model.Location{File: "a.js", StartLine: 12}},
		{ID: "a.js:new", Kind: model.KindFunction, Name: "new", Location: model.Location{File: "a.js", StartLine: 30}},
	}

	diff := DiffSymbols(old, fresh)
	if !reflect.DeepEqual(diff.Added, []string{"a.js:new"}) {
		t.Errorf("added: %v", diff.Added)
	}
	if !reflect.DeepEqual(diff.Changed, []string{"a.js:change"}) {
		t.Errorf("changed: %v", diff.Changed)
	}
	if !reflect.DeepEqual(diff.Removed, []string{"a.js:gone"}) {
		t.Errorf("removed: %v", diff.Removed)
	}
}

type fixture struct {
	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	store   *storage.GraphStore
	updater *Updater
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := storage.Open(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	nop := logging.NewNop()
	symbols := storage.NewSymbolStore(db)
	edges := storage.NewEdgeStore(db)
	store := storage.NewGraphStore(db)
	issues := storage.NewIssueStore(db)

	r := resolver.New(symbols, edges, store, nil, nil, nop, 10)
	c := graph.NewClassifier(symbols, edges, store, nil, nop)
	tr := graph.NewTracer(symbols, edges, store, nop)
	v := validate.New(symbols, edges, store, issues, nop)

	return &fixture{
		symbols: symbols,
		edges:   edges,
		store:   store,
		updater: New(symbols, edges, store, r, c, tr, v, nop),
	}
}

func extraction(symbols []model.Symbol, edges []model.Edge) *ingest.Result {
	return &ingest.Result{Symbols: symbols, Edges: edges}
}

// The initial graph: route handler A calls write, which is a data mutation
// outcome (its name matches the mutation call taxonomy via an insertOne call
// key on A's callee list is not needed; classification is driven by kinds and
// names below).
func seedGraph(t *testing.T, f *fixture) {
	t.Helper()
	symbols := []model.Symbol{
		{ID: "a.js:handleCreate", Kind: model.KindHandler, Name: "handleCreate",
			QualifiedName: "handleCreate", Location: model.Location{File: "a.js", StartLine: 1, EndLine: 10}},
		{ID: "db.js:insertUser", Kind: model.KindProcedure, Name: "insertUser",
			QualifiedName: "insertUser", Location: model.Location{File: "db.js", StartLine: 1, EndLine: 8}},
	}
	edges := []model.Edge{{
		SourceID: "a.js:handleCreate", TargetKey: "insertUser",
		Kind:     model.EdgeDirectCall,
		Location: model.Location{File: "a.js", StartLine: 3},
		State:    model.StateUnresolved,
	}}

	res, err := f.updater.Update(context.Background(), extraction(symbols, edges))
	if err != nil {
		t.Fatalf("seed update: %v", err)
	}
	if res.NoOp {
		t.Fatal("seed update must not be a no-op")
	}

	pathways, err := f.store.PathwaysForEntry("a.js:handleCreate")
	if err != nil {
		t.Fatal(err)
	}
	if len(pathways) != 1 {
		t.Fatalf("expected one seeded pathway, got %d", len(pathways))
	}
}

func TestUpdateWithUnchangedExtractionIsNoOp(t *testing.T) {
	f := newFixture(t)
	seedGraph(t, f)

	before, err := f.store.Pathways()
	if err != nil {
		t.Fatal(err)
	}

	res, err := f.updater.Update(context.Background(), extraction([]model.Symbol{
		{ID: "a.js:handleCreate", Kind: model.KindHandler, Name: "handleCreate",
			QualifiedName: "handleCreate", Location: model.Location{File: "a.js", StartLine: 1, EndLine: 10}},
	}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if !res.NoOp {
		t.Fatalf("unchanged extraction should be a no-op: %+v", res.Diff)
	}

	after, err := f.store.Pathways()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Error("no-op update altered stored pathways")
	}
}

func TestUpdateRetracesOnlyAffectedEntries(t *testing.T) {
	f := newFixture(t)
	seedGraph(t, f)

	// handleCreate moved and now also calls an audit log procedure
	fresh := extraction([]model.Symbol{
		{ID: "a.js:handleCreate", Kind: model.KindHandler, Name: "handleCreate",
			QualifiedName: "handleCreate", Location: model.Location{File: "a.js", StartLine: 1, EndLine: 14}},
		{ID: "audit.js:recordAudit", Kind: model.KindProcedure, Name: "recordAudit",
			QualifiedName: "recordAudit", Location: model.Location{File: "audit.js", StartLine: 1, EndLine: 5}},
	}, []model.Edge{
		{SourceID: "a.js:handleCreate", TargetKey: "insertUser",
			Kind:     model.EdgeDirectCall,
			Location: model.Location{File: "a.js", StartLine: 3},
			State:    model.StateUnresolved},
		{SourceID: "a.js:handleCreate", TargetKey: "recordAudit",
			Kind:     model.EdgeDirectCall,
			Location: model.Location{File: "a.js", StartLine: 12},
			State:    model.StateUnresolved},
	})

	res, err := f.updater.Update(context.Background(), fresh)
	if err != nil {
		t.Fatal(err)
	}
	if res.NoOp {
		t.Fatal("changed handler should not be a no-op")
	}
	if res.EntriesRetraced != 1 {
		t.Errorf("expected exactly the owning entry retraced, got %d", res.EntriesRetraced)
	}

	pathways, err := f.store.PathwaysForEntry("a.js:handleCreate")
	if err != nil {
		t.Fatal(err)
	}
	outcomes := make(map[string]bool)
	for _, p := range pathways {
		outcomes[p.OutcomeSymbol] = true
	}
	if !outcomes["db.js:insertUser"] || !outcomes["audit.js:recordAudit"] {
		t.Errorf("expected pathways to both procedures after update: %v", outcomes)
	}
}

func TestUpdateRemovedSymbolDropsItsEdges(t *testing.T) {
	f := newFixture(t)
	seedGraph(t, f)

	// a.js re-extracted empty: handleCreate deleted
	res, err := f.updater.Update(context.Background(), extraction([]model.Symbol{
		{ID: "a.js:placeholder", Kind: model.KindVariable, Name: "placeholder",
			QualifiedName: "placeholder", Location: model.Location{File: "a.js", StartLine: 1}},
	}, nil))
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Diff.Removed) != 1 {
		t.Fatalf("expected handleCreate removed: %+v", res.Diff)
	}

	remaining, err := f.edges.GetEdgesFrom("a.js:handleCreate")
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 0 {
		t.Errorf("edges from removed symbol survived: %+v", remaining)
	}
}
