package export

import (
	"path/filepath"
	"testing"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/storage"
)

func newExporter(t *testing.T) (*Exporter, *storage.SymbolStore, *storage.GraphStore) {
	t.Helper()
	db, err := storage.Open(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	symbols := storage.NewSymbolStore(db)
	edges := storage.NewEdgeStore(db)
	store := storage.NewGraphStore(db)
	issues := storage.NewIssueStore(db)
	return New(symbols, edges, store, issues, logging.NewNop()), symbols, store
}

func seed(t *testing.T, symbols *storage.SymbolStore, store *storage.GraphStore) {
	t.Helper()
	err := symbols.UpsertSymbols([]model.Symbol{
		{ID: "a.js:A", Kind: model.KindHandler, Name: "A", QualifiedName: "A",
			Location: model.Location{File: "a.js", StartLine: 1}},
		{ID: "w.js:write", Kind: model.KindProcedure, Name: "write", QualifiedName: "write",
			Location: model.Location{File: "w.js", StartLine: 1}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.ReplaceClassification(
		[]model.EntryPoint{{SymbolID: "a.js:A", Category: model.EntryRequestHandler}},
		[]model.FinalOutcome{{SymbolID: "w.js:write", Category: model.OutcomeDataMutation}}); err != nil {
		t.Fatal(err)
	}
	if err := store.ReplacePathwaysForEntry("a.js:A", []model.Pathway{{
		ID: "p1", EntrySymbol: "a.js:A", OutcomeSymbol: "w.js:write",
		Steps: []model.PathwayStep{
			{SymbolID: "a.js:A", Type: model.StepEntry},
			{SymbolID: "w.js:write", Type: model.StepOutcome},
		},
	}}); err != nil {
		t.Fatal(err)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	exporter, symbols, store := newExporter(t)
	seed(t, symbols, store)

	path := filepath.Join(t.TempDir(), "graph.json")
	if err := exporter.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	snap, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(snap.Symbols) != 2 || len(snap.Entries) != 1 || len(snap.Pathways) != 1 {
		t.Fatalf("snapshot incomplete: %d symbols, %d entries, %d pathways",
			len(snap.Symbols), len(snap.Entries), len(snap.Pathways))
	}
	if snap.Pathways[0].OutcomeSymbol != "w.js:write" {
		t.Errorf("pathway outcome lost in round trip: %+v", snap.Pathways[0])
	}
}

func TestSnapshotCompressedRoundTrip(t *testing.T) {
	exporter, symbols, store := newExporter(t)
	seed(t, symbols, store)

	path := filepath.Join(t.TempDir(), "graph.json.zst")
	if err := exporter.WriteFile(path); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	snap, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if len(snap.Symbols) != 2 || len(snap.Pathways) != 1 {
		t.Fatalf("compressed snapshot incomplete: %+v", snap)
	}
}
