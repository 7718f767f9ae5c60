// Package export serialises the traced graph into a portable snapshot:
// symbols, edges, classification, pathways, fan-outs and open issues in one
// JSON document, optionally zstd-compressed for large codebases.
package export

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"tracer/internal/logging"
	"tracer/internal/model"
	"tracer/internal/storage"
)

// Snapshot is the complete exported graph.
type Snapshot struct {
	GeneratedAt time.Time               `json:"generatedAt"`
	Symbols     []model.Symbol          `json:"symbols"`
	Edges       []model.Edge            `json:"edges"`
	Entries     []model.EntryPoint      `json:"entryPoints"`
	Outcomes    []model.FinalOutcome    `json:"finalOutcomes"`
	Pathways    []model.Pathway         `json:"pathways"`
	FanOuts     []model.FanOutPoint     `json:"fanOutPoints"`
	Issues      []model.ValidationIssue `json:"issues,omitempty"`
}

// Exporter assembles snapshots from the store.
type Exporter struct {
	symbols *storage.SymbolStore
	edges   *storage.EdgeStore
	store   *storage.GraphStore
	issues  *storage.IssueStore
	logger  *logging.Logger
}

// New creates an exporter.
func New(symbols *storage.SymbolStore, edges *storage.EdgeStore,
	store *storage.GraphStore, issues *storage.IssueStore, logger *logging.Logger) *Exporter {
	return &Exporter{symbols: symbols, edges: edges, store: store, issues: issues, logger: logger}
}

// Build reads the whole graph into a snapshot.
func (e *Exporter) Build() (*Snapshot, error) {
	snap := &Snapshot{GeneratedAt: time.Now().UTC()}

	var err error
	if snap.Symbols, err = e.symbols.AllSymbols(); err != nil {
		return nil, err
	}
	if snap.Edges, err = e.edges.AllEdges(); err != nil {
		return nil, err
	}
	if snap.Entries, err = e.store.EntryPoints(); err != nil {
		return nil, err
	}
	if snap.Outcomes, err = e.store.FinalOutcomes(); err != nil {
		return nil, err
	}
	if snap.Pathways, err = e.store.Pathways(); err != nil {
		return nil, err
	}
	if snap.FanOuts, err = e.store.FanOutPoints(); err != nil {
		return nil, err
	}
	if snap.Issues, err = e.issues.AllIssues(); err != nil {
		return nil, err
	}
	return snap, nil
}

// WriteFile builds and writes a snapshot. A .zst suffix selects zstd
// compression, anything else is plain JSON.
func (e *Exporter) WriteFile(path string) error {
	snap, err := e.Build()
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close() //nolint:errcheck

	if strings.HasSuffix(path, ".zst") {
		err = writeCompressed(f, snap)
	} else {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		err = enc.Encode(snap)
	}
	if err != nil {
		return fmt.Errorf("exporting snapshot to %s: %w", path, err)
	}

	e.logger.Info("snapshot exported", logging.Fields{
		"path": path, "symbols": len(snap.Symbols), "pathways": len(snap.Pathways),
	})
	return f.Close()
}

func writeCompressed(w io.Writer, snap *Snapshot) error {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(zw).Encode(snap); err != nil {
		zw.Close() //nolint:errcheck
		return err
	}
	return zw.Close()
}

// ReadFile loads a snapshot written by WriteFile, transparently handling the
// compressed form.
func ReadFile(path string) (*Snapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close() //nolint:errcheck

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	}

	var snap Snapshot
	if err := json.NewDecoder(r).Decode(&snap); err != nil {
		return nil, fmt.Errorf("reading snapshot %s: %w", path, err)
	}
	return &snap, nil
}
