package resolver

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/oracle"
	"tracer/internal/storage"
)

func setup(t *testing.T) (*storage.SymbolStore, *storage.EdgeStore, *storage.GraphStore) {
	t.Helper()
	db, err := storage.Open(t.TempDir(), logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewSymbolStore(db), storage.NewEdgeStore(db), storage.NewGraphStore(db)
}

func seedSymbols(t *testing.T, symbols *storage.SymbolStore, syms ...model.Symbol) {
	t.Helper()
	if err := symbols.UpsertSymbols(syms); err != nil {
		t.Fatal(err)
	}
}

func seedEdge(t *testing.T, edges *storage.EdgeStore, e model.Edge) {
	t.Helper()
	e.State = model.StateUnresolved
	if e.Kind == "" {
		e.Kind = model.EdgeDirectCall
	}
	if err := edges.UpsertEdge(e); err != nil {
		t.Fatal(err)
	}
}

func TestResolveUniqueCandidate(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction, Name: "caller",
			Location: model.Location{File: "src/a.js", StartLine: 1}},
		model.Symbol{ID: "src/b.js:sendEmail", Kind: model.KindFunction, Name: "sendEmail",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
	)
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:caller", TargetKey: "sendEmail",
		Location: model.Location{File: "src/a.js", StartLine: 3}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatalf("ResolveAll: %v", err)
	}
	if stats.Resolved != 1 {
		t.Fatalf("expected 1 resolved, got %+v", stats)
	}

	resolved, err := edges.GetResolvedEdgesFrom("src/a.js:caller")
	if err != nil {
		t.Fatal(err)
	}
	if len(resolved) != 1 || resolved[0].TargetID != "src/b.js:sendEmail" {
		t.Errorf("edge not bound: %+v", resolved)
	}
}

func TestResolveMissingTargetIsDeadEnd(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols, model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction,
		Name: "caller", Location: model.Location{File: "src/a.js", StartLine: 1}})
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:caller", TargetKey: "vanished",
		Location: model.Location{File: "src/a.js", StartLine: 5}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.DeadEnds != 1 {
		t.Errorf("expected 1 dead end, got %+v", stats)
	}
}

func TestResolveKnownLibraryIsExternal(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols, model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction,
		Name: "caller", Location: model.Location{File: "src/a.js", StartLine: 1}})
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:caller", TargetKey: "axios.get",
		Location: model.Location{File: "src/a.js", StartLine: 7}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.External != 1 {
		t.Errorf("expected 1 external, got %+v", stats)
	}
}

func TestAmbiguousEdgeEscalatesToOracle(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction, Name: "caller",
			Location: model.Location{File: "src/a.js", StartLine: 1}},
		model.Symbol{ID: "src/b.js:process", Kind: model.KindFunction, Name: "process",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
		model.Symbol{ID: "src/c.js:process", Kind: model.KindFunction, Name: "process",
			Location: model.Location{File: "src/c.js", StartLine: 1}},
	)
	edge := model.Edge{SourceID: "src/a.js:caller", TargetKey: "process",
		Location: model.Location{File: "src/a.js", StartLine: 3}}
	seedEdge(t, edges, edge)

	subject := model.Edge{SourceID: edge.SourceID, TargetKey: edge.TargetKey,
		Kind: model.EdgeDirectCall, Location: edge.Location}.DedupKey()
	o := &oracle.Static{Choices: map[string]string{subject: "src/c.js:process"}}

	r := New(symbols, edges, graph, nil, o, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Resolved != 1 || stats.Escalated != 1 || stats.Remaining != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	resolved, _ := edges.GetResolvedEdgesFrom("src/a.js:caller")
	if len(resolved) != 1 || resolved[0].TargetID != "src/c.js:process" {
		t.Errorf("oracle choice not applied: %+v", resolved)
	}
}

func TestAmbiguousEdgeStaysOpenWithoutOracle(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction, Name: "caller",
			Location: model.Location{File: "src/a.js", StartLine: 1}},
		model.Symbol{ID: "src/b.js:run", Kind: model.KindFunction, Name: "run",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
		model.Symbol{ID: "src/c.js:run", Kind: model.KindFunction, Name: "run",
			Location: model.Location{File: "src/c.js", StartLine: 1}},
	)
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:caller", TargetKey: "run",
		Location: model.Location{File: "src/a.js", StartLine: 3}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Remaining != 1 {
		t.Fatalf("expected ambiguous edge to stay open, got %+v", stats)
	}

	unresolved, _ := edges.GetUnresolvedEdges("")
	if len(unresolved) != 1 {
		t.Errorf("edge should remain unresolved: %+v", unresolved)
	}
}

func TestSameFileCandidateWinsWithoutOracle(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction, Name: "caller",
			Location: model.Location{File: "src/a.js", StartLine: 1}},
		model.Symbol{ID: "src/a.js:helper", Kind: model.KindFunction, Name: "helper",
			Location: model.Location{File: "src/a.js", StartLine: 10}},
		model.Symbol{ID: "src/far.js:helper", Kind: model.KindFunction, Name: "helper",
			Location: model.Location{File: "src/far.js", StartLine: 1}},
	)
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:caller", TargetKey: "helper",
		Location: model.Location{File: "src/a.js", StartLine: 3}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Resolved != 1 {
		t.Fatalf("expected local candidate to win, got %+v", stats)
	}

	resolved, _ := edges.GetResolvedEdgesFrom("src/a.js:caller")
	if resolved[0].TargetID != "src/a.js:helper" {
		t.Errorf("wrong candidate chosen: %+v", resolved[0])
	}
}

func TestResolverIsIdempotent(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/a.js:caller", Kind: model.KindFunction, Name: "caller",
			Location: model.Location{File: "src/a.js", StartLine: 1}},
		model.Symbol{ID: "src/b.js:target", Kind: model.KindFunction, Name: "target",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
	)
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:caller", TargetKey: "target",
		Location: model.Location{File: "src/a.js", StartLine: 3}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	if _, err := r.ResolveAll(context.Background()); err != nil {
		t.Fatal(err)
	}
	before, _ := edges.AllEdges()

	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Resolved != 0 || stats.DeadEnds != 0 || stats.External != 0 {
		t.Errorf("second run should settle nothing: %+v", stats)
	}
	after, _ := edges.AllEdges()
	if len(before) != len(after) {
		t.Errorf("edge count changed across runs: %d -> %d", len(before), len(after))
	}
}

func TestPatternRewrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, PatternsFile)
	content := `
[[pattern]]
match = '^handlers\[\"(\w+)\"\]$'
verdict = "rewrite"
rewrite = "on${1}"
note = "dispatch table in src/bus.js"

[[pattern]]
match = '^legacyBridge\.'
verdict = "dead_end"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	patterns, err := LoadPatterns(path)
	if err != nil {
		t.Fatalf("LoadPatterns: %v", err)
	}

	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/bus.js:dispatch", Kind: model.KindFunction, Name: "dispatch",
			Location: model.Location{File: "src/bus.js", StartLine: 1}},
		model.Symbol{ID: "src/handlers.js:onsignup", Kind: model.KindFunction, Name: "onsignup",
			Location: model.Location{File: "src/handlers.js", StartLine: 1}},
	)
	seedEdge(t, edges, model.Edge{SourceID: "src/bus.js:dispatch", TargetKey: `handlers["signup"]`,
		Location: model.Location{File: "src/bus.js", StartLine: 9}})
	seedEdge(t, edges, model.Edge{SourceID: "src/bus.js:dispatch", TargetKey: "legacyBridge.push",
		Location: model.Location{File: "src/bus.js", StartLine: 11}})

	r := New(symbols, edges, graph, patterns, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Resolved != 1 || stats.DeadEnds != 1 {
		t.Fatalf("unexpected stats: %+v", stats)
	}

	resolved, _ := edges.GetResolvedEdgesFrom("src/bus.js:dispatch")
	if len(resolved) != 1 || resolved[0].TargetID != "src/handlers.js:onsignup" {
		t.Errorf("rewrite did not bind: %+v", resolved)
	}
}

func TestLoadPatternsRejectsUnknownVerdict(t *testing.T) {
	path := filepath.Join(t.TempDir(), PatternsFile)
	if err := os.WriteFile(path, []byte("[[pattern]]\nmatch = \"x\"\nverdict = \"maybe\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPatterns(path); err == nil {
		t.Fatal("expected error for unknown verdict")
	}
}

func TestFanOutResolvesAllListeners(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/b.js:emitCreated", Kind: model.KindFunction, Name: "emitCreated",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
		model.Symbol{ID: "src/c.js:onUserCreated", Kind: model.KindHandler, Name: "onUserCreated",
			Location: model.Location{File: "src/c.js", StartLine: 4}},
		model.Symbol{ID: "src/d.js:onUserCreated", Kind: model.KindHandler, Name: "onUserCreated",
			Location: model.Location{File: "src/d.js", StartLine: 9}},
	)
	seedEdge(t, edges, model.Edge{SourceID: "src/b.js:emitCreated", TargetKey: "onUserCreated",
		Kind: model.EdgeEvent, Location: model.Location{File: "src/b.js", StartLine: 20}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	stats, err := r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Resolved != 2 {
		t.Fatalf("expected both listeners resolved, got %+v", stats)
	}

	resolved, err := edges.GetResolvedEdgesFrom("src/b.js:emitCreated")
	if err != nil {
		t.Fatal(err)
	}
	// Anchor row plus one branch per listener
	var targets []string
	for _, e := range resolved {
		if e.TargetID != "" {
			targets = append(targets, e.TargetID)
		}
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 branch edges, got %+v", resolved)
	}

	points, err := graph.FanOutPoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].BranchCount != 2 {
		t.Fatalf("fan-out point not recorded: %+v", points)
	}

	// A second run settles nothing new
	stats, err = r.ResolveAll(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats.Resolved != 0 {
		t.Errorf("fan-out resolution should be idempotent, got %+v", stats)
	}
}

func TestFanOutViaRegistrationRendezvous(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/b.js:publish", Kind: model.KindFunction, Name: "publish",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
		model.Symbol{ID: "src/c.js:consumer", Kind: model.KindFunction, Name: "consumer",
			Location: model.Location{File: "src/c.js", StartLine: 1}},
	)
	// The listen side registered under the same topic key
	seedEdge(t, edges, model.Edge{SourceID: "src/c.js:consumer", TargetKey: "orders.placed",
		Kind: model.EdgePubSub, Location: model.Location{File: "src/c.js", StartLine: 5}})
	seedEdge(t, edges, model.Edge{SourceID: "src/b.js:publish", TargetKey: "orders.placed",
		Kind: model.EdgePubSub, Location: model.Location{File: "src/b.js", StartLine: 12}})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	if _, err := r.ResolveAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	resolved, err := edges.GetResolvedEdgesFrom("src/b.js:publish")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, e := range resolved {
		if e.TargetID == "src/c.js:consumer" {
			found = true
		}
	}
	if !found {
		t.Errorf("publish edge did not rendezvous with consumer registration: %+v", resolved)
	}
}

func TestFanOutRendezvousIsOrderIndependent(t *testing.T) {
	run := func(t *testing.T, consumerFirst bool) []model.Edge {
		symbols, edges, graph := setup(t)
		seedSymbols(t, symbols,
			model.Symbol{ID: "src/pub.js:publish", Kind: model.KindFunction, Name: "publish",
				Location: model.Location{File: "src/pub.js", StartLine: 1}},
			model.Symbol{ID: "src/sub.js:consumer", Kind: model.KindFunction, Name: "consumer",
				Location: model.Location{File: "src/sub.js", StartLine: 1}},
		)
		pub := model.Edge{SourceID: "src/pub.js:publish", TargetKey: "orders.placed",
			Kind: model.EdgePubSub, Location: model.Location{File: "src/pub.js", StartLine: 12}}
		sub := model.Edge{SourceID: "src/sub.js:consumer", TargetKey: "orders.placed",
			Kind: model.EdgePubSub, Location: model.Location{File: "src/sub.js", StartLine: 5}}
		if consumerFirst {
			seedEdge(t, edges, sub)
			seedEdge(t, edges, pub)
		} else {
			seedEdge(t, edges, pub)
			seedEdge(t, edges, sub)
		}

		r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
		if _, err := r.ResolveAll(context.Background()); err != nil {
			t.Fatal(err)
		}
		all, err := edges.AllEdges()
		if err != nil {
			t.Fatal(err)
		}
		return all
	}

	a := run(t, true)
	b := run(t, false)
	if !reflect.DeepEqual(a, b) {
		t.Errorf("stored edges differ by seeding order:\nconsumer first: %+v\npublisher first: %+v", a, b)
	}
	for _, e := range a {
		if e.SourceID == "src/sub.js:consumer" && e.TargetID == "src/pub.js:publish" {
			t.Errorf("registration bound as an emitter: %+v", e)
		}
	}
	found := false
	for _, e := range a {
		if e.SourceID == "src/pub.js:publish" && e.TargetID == "src/sub.js:consumer" {
			found = true
		}
	}
	if !found {
		t.Errorf("publisher did not bind the consumer as a branch: %+v", a)
	}
}

func TestFanOutEmitterChosenFromExpression(t *testing.T) {
	symbols, edges, graph := setup(t)
	seedSymbols(t, symbols,
		model.Symbol{ID: "src/a.js:alpha", Kind: model.KindFunction, Name: "alpha",
			Location: model.Location{File: "src/a.js", StartLine: 1}},
		model.Symbol{ID: "src/b.js:beta", Kind: model.KindFunction, Name: "beta",
			Location: model.Location{File: "src/b.js", StartLine: 1}},
	)
	// Neither name hints at a side; the expressions decide. The listen side
	// sorts first, so a source-order tie-break would anchor the wrong edge.
	seedEdge(t, edges, model.Edge{SourceID: "src/a.js:alpha", TargetKey: "jobs.run",
		Kind: model.EdgeEvent, Location: model.Location{File: "src/a.js", StartLine: 3},
		RawExpression: `queue.on("jobs.run", run)`})
	seedEdge(t, edges, model.Edge{SourceID: "src/b.js:beta", TargetKey: "jobs.run",
		Kind: model.EdgeEvent, Location: model.Location{File: "src/b.js", StartLine: 8},
		RawExpression: `queue.emit("jobs.run")`})

	r := New(symbols, edges, graph, nil, nil, logging.NewNop(), 10)
	if _, err := r.ResolveAll(context.Background()); err != nil {
		t.Fatal(err)
	}

	all, err := edges.AllEdges()
	if err != nil {
		t.Fatal(err)
	}
	var emitBranch bool
	for _, e := range all {
		if e.SourceID == "src/a.js:alpha" && e.TargetID == "src/b.js:beta" {
			t.Errorf("listen side anchored the fan-out: %+v", e)
		}
		if e.SourceID == "src/b.js:beta" && e.TargetID == "src/a.js:alpha" {
			emitBranch = true
		}
	}
	if !emitBranch {
		t.Errorf("emit side did not bind its listener: %+v", all)
	}

	points, err := graph.FanOutPoints()
	if err != nil {
		t.Fatal(err)
	}
	if len(points) != 1 || points[0].SourceID != "src/b.js:beta" {
		t.Fatalf("fan-out point should anchor at the emit site: %+v", points)
	}
}
