package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"tracer/internal/config"
	"tracer/internal/logging"
)

const sampleIndex = `{"type": "handler", "name": "handleSignup", "qualified_name": "handleSignup", "file": "routes/auth.js", "line_start": 10, "line_end": 30, "calls": [{"name": "createUser", "line": 14}, {"name": "sendWelcome", "line": 20}]}
{"type": "function", "name": "createUser", "qualified_name": "createUser", "file": "services/users.js", "line_start": 5, "line_end": 25, "calls": [{"name": "db.users.insertOne", "line": 12}]}
{"type": "function", "name": "sendWelcome", "qualified_name": "sendWelcome", "file": "services/mail.js", "line_start": 3, "line_end": 18, "calls": [{"name": "sendEmail", "line": 9}]}
{"type": "function", "name": "sendEmail", "qualified_name": "sendEmail", "file": "lib/mailer.js", "line_start": 1, "line_end": 12, "calls": []}
{"type": "summary", "files_processed": 4, "files_failed": 0, "symbols_extracted": 4, "validation_passed": true}
`

func newEngine(t *testing.T) *Engine {
	t.Helper()
	root := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.RepoRoot = root

	e, err := Open(root, cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e
}

func writeIndex(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "index.jsonl")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFullPipeline(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	stats, err := e.Ingest(ctx, writeIndex(t, sampleIndex), "")
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if stats.Symbols != 4 || stats.Edges != 4 {
		t.Fatalf("unexpected ingest stats: %+v", stats)
	}

	result, err := e.Build(ctx)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if result.Resolution.Resolved == 0 {
		t.Fatalf("no edges resolved: %+v", result.Resolution)
	}
	// handleSignup reaches both the user insert and the notification: two
	// pathways from one entry
	if result.Trace.Pathways != 2 {
		t.Fatalf("expected 2 pathways, got %+v", result.Trace)
	}

	status, err := e.Status()
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status.Symbols != 4 || status.Entries != 1 || status.Pathways != 2 {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestBuildIsIdempotent(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	index := writeIndex(t, sampleIndex)

	if _, err := e.Ingest(ctx, index, ""); err != nil {
		t.Fatal(err)
	}
	first, err := e.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}

	// Re-ingest and rebuild: settled edges keep their state, pathway count
	// is unchanged
	if _, err := e.Ingest(ctx, index, ""); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}
	second, err := e.Build(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if second.Trace.Pathways != first.Trace.Pathways {
		t.Errorf("rebuild changed pathway count: %d then %d",
			first.Trace.Pathways, second.Trace.Pathways)
	}
}

func TestExportAfterBuild(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	if _, err := e.Ingest(ctx, writeIndex(t, sampleIndex), ""); err != nil {
		t.Fatal(err)
	}
	if _, err := e.Build(ctx); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "snapshot.json.zst")
	if err := e.Export(path); err != nil {
		t.Fatalf("Export: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("snapshot not written: %v", err)
	}
}
